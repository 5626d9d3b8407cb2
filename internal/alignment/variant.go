package alignment

import (
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/rawblock/alignerd/pkg/models"
)

// buildVariant converts one projection graph into a nested
// sequential/concurrent structure (spec.md section 4.6): the follows
// relation is the graph's transitive closure; its complement (restricted
// to a topological order, so only genuinely unordered pairs count) is
// the parallel relation; parallel-connected components become concurrent
// branches, ordered against each other by topological rank (SPEC_FULL
// item 6 — the original's split_graph dependency wasn't retrieved into
// the pack, so this is a from-scratch replacement for it).
func buildVariant(p *projection) *models.VariantGroup {
	ids := nodeIDs(p.graph)
	if len(ids) == 0 {
		return &models.VariantGroup{Sequential: true}
	}
	if len(ids) == 1 {
		return leafFor(p, ids[0])
	}

	rank := topologicalRank(p.graph, ids)
	follows := reachability(p.graph, ids)

	uf := newUnionFind(ids)
	for i, u := range ids {
		for j := i + 1; j < len(ids); j++ {
			v := ids[j]
			if !follows[edgeKey{u, v}] && !follows[edgeKey{v, u}] {
				uf.union(u, v)
			}
		}
	}

	components := make(map[int64][]int64)
	for _, id := range ids {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	type block struct {
		minRank int
		group   *models.VariantGroup
	}
	blocks := make([]block, 0, len(components))
	for _, members := range components {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		minR := rank[members[0]]
		for _, m := range members {
			if rank[m] < minR {
				minR = rank[m]
			}
		}

		if len(members) == 1 {
			blocks = append(blocks, block{minRank: minR, group: leafFor(p, members[0])})
			continue
		}

		children := make([]*models.VariantGroup, 0, len(members))
		for _, m := range members {
			children = append(children, leafFor(p, m))
		}
		blocks = append(blocks, block{minRank: minR, group: &models.VariantGroup{Sequential: false, Children: children}})
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].minRank < blocks[j].minRank })

	top := &models.VariantGroup{Sequential: true, Children: make([]*models.VariantGroup, 0, len(blocks))}
	for _, b := range blocks {
		top.Children = append(top.Children, b.group)
	}

	return top
}

func leafFor(p *projection, id int64) *models.VariantGroup {
	return &models.VariantGroup{Label: p.labels[id], IsSync: p.sync[id]}
}

func nodeIDs(g *simple.DirectedGraph) []int64 {
	it := g.Nodes()
	var ids []int64
	for it.Next() {
		ids = append(ids, it.Node().ID())
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func topologicalRank(g *simple.DirectedGraph, ids []int64) map[int64]int {
	rank := make(map[int64]int, len(ids))
	order, err := topo.Sort(g)
	if err != nil {
		// Graph has an unorderable (cyclic) component, which should not
		// happen for an occurrence-net projection; fall back to id order
		// rather than failing variant construction.
		for i, id := range ids {
			rank[id] = i
		}
		return rank
	}

	for i, n := range order {
		if n == nil {
			continue
		}
		rank[n.ID()] = i
	}
	return rank
}

// reachability returns the transitive closure of g as an edge-key set:
// edgeKey{u,v} is present iff v is reachable from u.
func reachability(g *simple.DirectedGraph, ids []int64) map[edgeKey]bool {
	closure := make(map[edgeKey]bool)
	for _, src := range ids {
		seen := map[int64]bool{src: true}
		queue := []int64{src}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			it := g.From(cur)
			for it.Next() {
				next := it.Node().ID()
				if seen[next] {
					continue
				}
				seen[next] = true
				closure[edgeKey{src, next}] = true
				queue = append(queue, next)
			}
		}
	}
	return closure
}

type unionFind struct {
	parent map[int64]int64
}

func newUnionFind(ids []int64) *unionFind {
	uf := &unionFind{parent: make(map[int64]int64, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(x int64) int64 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int64) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
