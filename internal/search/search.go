// Package search implements the C5 search driver: a best-first search
// over local configurations, terminating at the first event mapped to
// the artificial final transition.
package search

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rawblock/alignerd/internal/alignment"
	"github.com/rawblock/alignerd/internal/heuristic"
	"github.com/rawblock/alignerd/internal/net"
	"github.com/rawblock/alignerd/internal/occurrence"
	"github.com/rawblock/alignerd/pkg/models"
)

// ErrUnreachableFinal is returned when the queue empties before the
// artificial final transition fires (spec.md section 7,
// "Unreachable-final").
var ErrUnreachableFinal = errors.New("search: final marking unreachable")

// Request is the Go form of unfold_sync_net (spec.md section 6.1).
type Request struct {
	Net             *net.SyncNet
	InitialMarking  net.Marking
	FinalMarking    net.Marking
	CostFunction    map[string]int // nil => net.DefaultCostFunction
	Improved        bool
	WithHeuristic   bool
	ExtractAlignments bool
}

// Run executes the search driver end to end: net augmentation, initial
// cut, best-first search, and (if requested) alignment extraction. This
// is the Go signature for unfold_sync_net (spec.md section 6).
func Run(ctx context.Context, req Request) (*models.AlignmentOutcome, error) {
	start := time.Now()

	working := req.Net.Clone()
	cost := req.CostFunction
	if cost == nil {
		cost = net.DefaultCostFunction(working)
	} else {
		cost = cloneCostMap(cost)
	}

	trID, _ := net.AddFinalState(working, req.FinalMarking, cost)

	store := occurrence.NewStore(working)

	var oracle *heuristic.Oracle
	if req.WithHeuristic {
		oracle = heuristic.NewOracle(working, req.FinalMarking, cost)
		// LPOracle (rather than the plain Heuristic func) lets Store.H
		// use CheapDerivative for single-producer children whose parent
		// solution already covers the firing transition, instead of
		// re-solving the marking equation on every event (spec.md
		// section 4.4).
		store.LPOracle = oracle
	}

	cutoffs := make(map[int]bool)
	inducedMarkings := make(map[string]int)
	// Supplemented feature (SPEC_FULL item 4): seed the initial marking
	// under a dummy sentinel id so the initial cut can never itself
	// become a fresh cutoff target.
	inducedMarkings[markKey(placesOf(req.InitialMarking))] = -1
	store.IsCutoffProducer = func(eid int) bool { return cutoffs[eid] }

	pq := &eventQueue{store: store}
	heap.Init(pq)

	queuedIDs := make(map[int]bool)
	visited, cutoffCount := 0, 0
	var extensionTime time.Duration

	// pushNew enqueues only events not already seen by this run. Both
	// enumerators skip existing events via EventExists, so the ids they
	// return are new; queuedIDs still guards the queue against a repeated
	// id, and its size is reported as QueuedEvents.
	pushNew := func(ids []int) {
		for _, eid := range ids {
			if queuedIDs[eid] {
				continue
			}
			queuedIDs[eid] = true
			heap.Push(pq, eid)
		}
	}

	// All conditions of the initial cut must be indexed before the naive
	// enumerator's first full rescan: a transition whose preset spans two
	// initial places (e.g. a sync-move's log+model preset) is only
	// discoverable once both conditions exist, and the enumerator builds
	// co-sets only from what is already in the arena.
	initialConditionIDs := make([]int, 0, len(req.InitialMarking))
	for p := range req.InitialMarking {
		c := store.AddCondition(p, -1)
		initialConditionIDs = append(initialConditionIDs, c.ID)
	}

	extStart := time.Now()
	pushNew(extend(store, req.Improved, initialConditionIDs))
	extensionTime += time.Since(extStart)

	finalEventID := -1

loop:
	for pq.Len() > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		eid := heap.Pop(pq).(int)
		visited++
		e := store.Events[eid]

		if e.Transition == trID {
			finalEventID = eid
			break loop
		}

		for _, id := range store.LocalConfiguration(eid) {
			if cutoffs[id] {
				continue loop
			}
		}

		var newConds []int
		for _, p := range working.Postset(e.Transition) {
			c := store.AddCondition(p, eid)
			newConds = append(newConds, c.ID)
		}

		if isCutoff(store, eid, trID, inducedMarkings) {
			cutoffs[eid] = true
			cutoffCount++
			continue
		}

		if len(newConds) > 0 {
			extStart := time.Now()
			pushNew(extend(store, req.Improved, newConds))
			extensionTime += time.Since(extStart)
		}
	}

	if finalEventID < 0 {
		return nil, ErrUnreachableFinal
	}

	outcome := &models.AlignmentOutcome{
		Costs: store.TotalCost(finalEventID),
		Telemetry: models.Telemetry{
			TimeTaken:             time.Since(start),
			QueuedEvents:          len(queuedIDs),
			VisitedEvents:         visited,
			TimeTakenInExtensions: extensionTime,
			Cutoffs:               cutoffCount,
		},
	}

	if req.ExtractAlignments {
		result, err := alignment.Extract(store, working, trID, finalEventID)
		if err != nil {
			return nil, err
		}
		outcome.Deviations = result.Deviations
		outcome.DeviationDeps = result.DeviationDeps
		outcome.Alignments = result.Alignments
	}

	return outcome, nil
}

// extend proposes new events following the addition of conditionIDs.
// The incremental enumerator is keyed off each specific new condition
// (it looks backward through the store's inverse map for co-set
// partners, so it is already correct no matter how conditions were
// batched). The naive enumerator instead rescans the whole arena from
// scratch on every call (see Store.NaiveExtensions), so it is driven
// once per batch rather than once per condition.
func extend(store *occurrence.Store, improved bool, conditionIDs []int) []int {
	if improved {
		var out []int
		for _, cid := range conditionIDs {
			out = append(out, store.IncrementalExtensions(cid)...)
		}
		return out
	}
	var out []int
	store.NaiveExtensions(&out)
	return out
}

func cloneCostMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func placesOf(m net.Marking) map[string]struct{} {
	return map[string]struct{}(m)
}

// isCutoff implements spec.md section 4.5's cutoff test: mark(e) looked
// up in a dictionary of already-seen markings. The artificial final
// transition is never a cutoff.
func isCutoff(store *occurrence.Store, eid int, trID string, induced map[string]int) bool {
	if store.Events[eid].Transition == trID {
		return false
	}
	key := markKey(store.Mark(eid))
	if _, ok := induced[key]; ok {
		return true
	}
	induced[key] = eid
	return false
}

func markKey(mark map[string]struct{}) string {
	places := make([]string, 0, len(mark))
	for p := range mark {
		places = append(places, p)
	}
	sort.Strings(places)
	return strings.Join(places, ",")
}

// eventQueue is a container/heap min-heap ordered by the store's total
// order (spec.md section 4.2).
type eventQueue struct {
	ids   []int
	store *occurrence.Store
}

func (q *eventQueue) Len() int { return len(q.ids) }
func (q *eventQueue) Less(i, j int) bool {
	return q.store.Compare(q.ids[i], q.ids[j]) < 0
}
func (q *eventQueue) Swap(i, j int) { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *eventQueue) Push(x any)    { q.ids = append(q.ids, x.(int)) }
func (q *eventQueue) Pop() any {
	old := q.ids
	n := len(old)
	item := old[n-1]
	q.ids = old[:n-1]
	return item
}
