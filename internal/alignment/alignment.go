// Package alignment implements the C6 alignment extractor: BFS
// reconstruction of the log/model projection graphs from the causal past
// of the finalized event, silent-transition bridging, deviation
// accounting, and the follows/parallel variant-object construction.
package alignment

import (
	"fmt"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/rawblock/alignerd/internal/net"
	"github.com/rawblock/alignerd/internal/occurrence"
	"github.com/rawblock/alignerd/pkg/models"
)

// stdModelLogMoveCost is the unit against which deviations are
// denominated (spec.md section 6.3).
const stdModelLogMoveCost = 1

// Result is the C6 output before it is folded into models.AlignmentOutcome.
type Result struct {
	Deviations    int
	DeviationDeps []models.Dependency
	Alignments    []models.AlignedPair
}

// projection holds one side's partial-order graph plus the event labels
// and sync-move flags the variant builder and deviation accounting need.
type projection struct {
	graph  *simple.DirectedGraph
	labels map[int64]string
	sync   map[int64]bool
	silent map[int64]bool
}

func newProjection() *projection {
	return &projection{
		graph:  simple.NewDirectedGraph(),
		labels: make(map[int64]string),
		sync:   make(map[int64]bool),
		silent: make(map[int64]bool),
	}
}

func (p *projection) addNode(eid int, label string, isSync, isSilent bool) {
	id := int64(eid)
	if p.graph.Node(id) == nil {
		p.graph.AddNode(simple.Node(id))
	}
	p.labels[id] = label
	if isSync {
		p.sync[id] = true
	}
	if isSilent {
		p.silent[id] = true
	}
}

func (p *projection) addEdge(from, to int) {
	f, t := int64(from), int64(to)
	if p.graph.Node(f) == nil {
		p.graph.AddNode(simple.Node(f))
	}
	if p.graph.Node(t) == nil {
		p.graph.AddNode(simple.Node(t))
	}
	if !p.graph.HasEdgeFromTo(f, t) {
		p.graph.SetEdge(simple.Edge{F: simple.Node(f), T: simple.Node(t)})
	}
}

// Extract implements spec.md section 4.6: BFS over the causal past of
// finalEventID (the event mapped to the artificial final transition trID),
// building the log and model projection graphs, bridging out silent
// transitions, and computing deviation counts and variant objects.
func Extract(store *occurrence.Store, n *net.SyncNet, trID string, finalEventID int) (*Result, error) {
	logProj, modelProj := newProjection(), newProjection()

	finalEvent := store.Events[finalEventID]
	start := make([]int, 0, len(finalEvent.Preset))
	for _, cid := range finalEvent.Preset {
		if prod := store.Conditions[cid].Producer; prod >= 0 {
			start = append(start, prod)
		}
	}

	visited := make(map[int]bool)
	queue := append([]int(nil), start...)
	for _, id := range start {
		visited[id] = true
	}

	for len(queue) > 0 {
		eid := queue[0]
		queue = queue[1:]

		e := store.Events[eid]
		if e.Transition == trID {
			continue
		}
		t, ok := n.Transitions[e.Transition]
		if !ok {
			return nil, fmt.Errorf("alignment: event %d maps to unknown transition %q", eid, e.Transition)
		}

		switch t.Kind {
		case models.MoveLog:
			logProj.addNode(eid, t.Label, false, t.Silent)
		case models.MoveModel:
			modelProj.addNode(eid, t.Label, false, t.Silent)
		default:
			logProj.addNode(eid, t.Label, true, t.Silent)
			modelProj.addNode(eid, t.Label, true, t.Silent)
		}

		for _, cid := range e.Preset {
			cond := store.Conditions[cid]
			place, ok := n.Places[cond.Place]
			if !ok {
				return nil, fmt.Errorf("alignment: condition %d maps to unknown place %q", cid, cond.Place)
			}
			prod := cond.Producer
			if prod < 0 {
				continue
			}

			if place.Kind == models.MoveLog || place.Kind == models.MoveSync {
				logProj.addEdge(prod, eid)
			}
			if place.Kind == models.MoveModel || place.Kind == models.MoveSync {
				modelProj.addEdge(prod, eid)
			}

			if !visited[prod] {
				visited[prod] = true
				queue = append(queue, prod)
			}
		}
	}

	costDeviations := store.TotalCost(finalEventID) / stdModelLogMoveCost

	removeSilentNodes(logProj)
	removeSilentNodes(modelProj)

	symmetricDiff, deps := diffEdges(logProj, modelProj)

	alignments := []models.AlignedPair{{
		LogVariant:   buildVariant(logProj),
		ModelVariant: buildVariant(modelProj),
	}}

	return &Result{
		Deviations:    costDeviations + symmetricDiff,
		DeviationDeps: deps,
		Alignments:    alignments,
	}, nil
}

// removeSilentNodes implements remove_silent_nodes_reconnect_edges
// (spec.md section 4.6): every silent node's predecessors are wired
// directly to its successors before the node itself is removed.
func removeSilentNodes(p *projection) {
	for id := range p.silent {
		node := p.graph.Node(id)
		if node == nil {
			continue
		}

		preds := predecessorsOf(p.graph, id)
		succs := successorsOf(p.graph, id)

		for _, pr := range preds {
			for _, sc := range succs {
				if pr == sc {
					continue
				}
				if !p.graph.HasEdgeFromTo(pr, sc) {
					p.graph.SetEdge(simple.Edge{F: simple.Node(pr), T: simple.Node(sc)})
				}
			}
		}

		p.graph.RemoveNode(id)
		delete(p.labels, id)
		delete(p.sync, id)
	}
}

func predecessorsOf(g *simple.DirectedGraph, id int64) []int64 {
	it := g.To(id)
	var out []int64
	for it.Next() {
		out = append(out, it.Node().ID())
	}
	return out
}

func successorsOf(g *simple.DirectedGraph, id int64) []int64 {
	it := g.From(id)
	var out []int64
	for it.Next() {
		out = append(out, it.Node().ID())
	}
	return out
}

type edgeKey struct{ from, to int64 }

func edgeSet(p *projection) map[edgeKey]bool {
	out := make(map[edgeKey]bool)
	nodes := p.graph.Nodes()
	for nodes.Next() {
		id := nodes.Node().ID()
		for _, to := range successorsOf(p.graph, id) {
			out[edgeKey{id, to}] = true
		}
	}
	return out
}

// diffEdges computes the symmetric edge difference between the log and
// model graphs (spec.md section 4.6, deviation accounting step 2) and
// names each differing edge via deviation_deps.
func diffEdges(logProj, modelProj *projection) (int, []models.Dependency) {
	logEdges := edgeSet(logProj)
	modelEdges := edgeSet(modelProj)

	var deps []models.Dependency
	for e := range logEdges {
		if !modelEdges[e] {
			deps = append(deps, dependencyFor(logProj, e, true))
		}
	}
	for e := range modelEdges {
		if !logEdges[e] {
			deps = append(deps, dependencyFor(modelProj, e, false))
		}
	}

	return len(deps), deps
}

func dependencyFor(p *projection, e edgeKey, isFollowed bool) models.Dependency {
	return models.Dependency{
		Source:            p.labels[e.from],
		Target:            p.labels[e.to],
		IsFollowed:        isFollowed,
		ConnectsSyncMoves: p.sync[e.from] && p.sync[e.to],
	}
}
