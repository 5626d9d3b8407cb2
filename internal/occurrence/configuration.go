package occurrence

import "sort"

// LocalConfiguration returns [e]: the smallest causally-closed set of
// event ids containing e, i.e. e plus the producing events of every
// condition transitively consumed. Memoized on the event (the prefix is
// append-only, so the result never changes once computed).
func (s *Store) LocalConfiguration(eid int) []int {
	e := s.Events[eid]
	if e.localConfig != nil {
		return e.localConfig
	}

	seen := map[int]struct{}{eid: {}}
	queue := []int{eid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, cid := range s.Events[cur].Preset {
			prod := s.Conditions[cid].Producer
			if prod < 0 {
				continue
			}
			if _, ok := seen[prod]; ok {
				continue
			}
			seen[prod] = struct{}{}
			queue = append(queue, prod)
		}
	}

	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	e.localConfig = out
	return out
}

// TotalCost returns total_cost([e]): the sum of mapped-transition cost
// over every event in e's local configuration.
func (s *Store) TotalCost(eid int) int {
	e := s.Events[eid]
	if e.totalCostSet {
		return e.totalCost
	}
	total := 0
	for _, id := range s.LocalConfiguration(eid) {
		total += s.Events[id].Cost
	}
	e.totalCost = total
	e.totalCostSet = true
	return total
}

// Mark returns mark(e), the marking (as a set of net-place ids) reached
// by firing [e] from the initial marking. Computed via the set-difference
// formula from spec.md section 4.2 / original_source's compute_mark
// (corrected here to actually union in the configuration's produced
// conditions, per SPEC_FULL item 2 — the Python source's conf_post is
// dead code that is never populated, which would make mark(e) ignore
// every condition produced after the initial cut):
//
//	mark(e) = places( (initial_conditions ∪ produced(config)) \ consumed(config) )
func (s *Store) Mark(eid int) map[string]struct{} {
	e := s.Events[eid]
	if e.markCache != nil {
		return e.markCache
	}

	consumed := map[int]struct{}{}
	produced := map[int]struct{}{}
	for _, id := range s.LocalConfiguration(eid) {
		ev := s.Events[id]
		for _, cid := range ev.Preset {
			consumed[cid] = struct{}{}
		}
		for _, cid := range ev.Produced {
			produced[cid] = struct{}{}
		}
	}

	result := make(map[string]struct{})
	for _, cid := range s.initial {
		if _, ok := consumed[cid]; !ok {
			result[s.Conditions[cid].Place] = struct{}{}
		}
	}
	for cid := range produced {
		if _, ok := consumed[cid]; !ok {
			result[s.Conditions[cid].Place] = struct{}{}
		}
	}

	e.markCache = result
	return result
}

// H returns the heuristic estimate h(e) (h ≡ 0 when neither LPOracle nor
// Heuristic is configured). Memoized: the heuristic is pure, so repeated
// calls for the same event would be wasted work.
//
// When LPOracle is set, H first tries the cheap derivative (spec.md
// section 4.4): if e's preset has a single non-initial producer and that
// producer's cached LP solution already covers e's transition, the child
// estimate is derived by decrementing the parent's solution rather than
// re-solving the marking equation. Any co-set combining conditions from
// two or more distinct producers, or whose single producer's solution
// doesn't cover the transition, falls back to a fresh Solve.
func (s *Store) H(eid int) float64 {
	e := s.Events[eid]
	if e.hSet {
		return e.hVal
	}

	h, x := s.solveHeuristic(eid)
	e.hVal = h
	e.xVec = x
	e.hSet = true
	return h
}

func (s *Store) solveHeuristic(eid int) (float64, []float64) {
	e := s.Events[eid]

	if s.LPOracle == nil {
		if s.Heuristic != nil {
			return s.Heuristic(s.Mark(eid)), nil
		}
		return 0, nil
	}

	if parent, ok := s.singleProducer(eid); ok {
		pe := s.Events[parent]
		if pe.hSet && pe.xVec != nil {
			if idx, covers := s.LPOracle.Covers(pe.xVec, e.Transition); covers {
				h, x := s.LPOracle.CheapDerivative(pe.hVal, pe.xVec, idx)
				return h, x
			}
		}
	}

	return s.LPOracle.Solve(s.Mark(eid))
}

// singleProducer returns the unique non-initial producer among eid's
// preset conditions, if there is exactly one, since the cheap derivative
// only has a well-defined single parent solution to work from; a co-set
// joining two or more distinct producers has no single LP solution to
// derive from and must re-solve.
func (s *Store) singleProducer(eid int) (int, bool) {
	producer := -1
	for _, cid := range s.Events[eid].Preset {
		p := s.Conditions[cid].Producer
		if p < 0 {
			continue
		}
		if producer == -1 {
			producer = p
		} else if producer != p {
			return -1, false
		}
	}
	if producer == -1 {
		return -1, false
	}
	return producer, true
}

// F returns f(e) = total_cost([e]) + h(e), the best-first search key.
func (s *Store) F(eid int) float64 {
	return float64(s.TotalCost(eid)) + s.H(eid)
}

// ParikhVector returns the lexicographic Parikh vector of [e]: one entry
// per net transition (sorted by transition id), counting how many events
// of [e] map to it. Used only as the final, fully-stable tiebreaker in
// the total order (section 4.2 quaternary key) — lazily computed and
// cached since most comparisons never reach it.
func (s *Store) ParikhVector(eid int) []int {
	e := s.Events[eid]
	if e.parikh != nil {
		return e.parikh
	}

	counts := make(map[string]int, len(s.transitionOrder))
	for _, id := range s.LocalConfiguration(eid) {
		counts[s.Events[id].Transition]++
	}

	vec := make([]int, len(s.transitionOrder))
	for i, tid := range s.transitionOrder {
		vec[i] = counts[tid]
	}
	e.parikh = vec
	return vec
}

// Compare implements the total order of spec.md section 4.2: smaller f,
// then smaller total_cost, then smaller |[e]|, then lexicographically
// smaller Parikh vector. Returns -1 if a orders before b, 1 if after, 0
// if all four keys tie, which happens for identical local configurations
// and also for distinct ones that map to the same multiset of
// transitions.
func (s *Store) Compare(a, b int) int {
	fa, fb := s.F(a), s.F(b)
	if fa != fb {
		if fa < fb {
			return -1
		}
		return 1
	}

	ca, cb := s.TotalCost(a), s.TotalCost(b)
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}

	la, lb := len(s.LocalConfiguration(a)), len(s.LocalConfiguration(b))
	if la != lb {
		if la < lb {
			return -1
		}
		return 1
	}

	pa, pb := s.ParikhVector(a), s.ParikhVector(b)
	for i := range pa {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}

	return 0
}
