package occurrence

import "github.com/rawblock/alignerd/internal/net"

// NaiveExtensions implements the reference possible-extension enumerator
// of spec.md section 4.3: depth-first, combinatorial, O(2^n) worst case,
// re-scanning every condition known to the store on each call. Ground:
// cortado_core/alignments/unfolding/unfold.py's
// calculate_possible_extensions/early_stop (lines 77-79, 408-411), which
// re-scans the full prefix of conditions from scratch every round rather
// than growing outward from only the newest one. That full rescan is not
// an optimization detail: a co-set combining an older condition with a
// newer one (the common case for any transition with two or more input
// places, e.g. a sync-move's log+model preset) has its youngest member
// somewhere in the middle of the arena, so an enumerator that only
// recurses toward strictly younger conditions from a single starting
// condition can never reach it. Already-known events are silently
// skipped via EventExists, so calling this repeatedly as the arena grows
// is safe and every id appended to out is a newly created event.
func (s *Store) NaiveExtensions(out *[]int) {
	s.naiveExtend(nil, out)
}

func (s *Store) naiveExtend(cset []int, out *[]int) {
	if len(cset) > 0 {
		if s.earlyStop(cset) {
			return
		}

		mappedPlaces := placesOf(s, cset)
		for tid := range s.Net.Transitions {
			if !placesEqualPreset(s.Net, tid, mappedPlaces) {
				continue
			}
			if s.EventExists(tid, cset) {
				continue
			}
			e := s.AddEvent(tid, cset)
			s.H(e.ID)
			*out = append(*out, e.ID)
		}
	}

	start := 0
	if len(cset) > 0 {
		start = cset[len(cset)-1] + 1
	}
	for i := start; i < len(s.Conditions); i++ {
		s.naiveExtend(append(append([]int(nil), cset...), i), out)
	}
}

// earlyStop implements MacMillan's early-stop pruning: stop if no
// transition's preset is even a superset candidate for cset's mapped
// places, or if cset itself is not a co-set.
func (s *Store) earlyStop(cset []int) bool {
	mappedPlaces := placesOf(s, cset)

	found := false
	for tid := range s.Net.Transitions {
		if isSubsetOfPreset(s.Net, tid, mappedPlaces) {
			found = true
			break
		}
	}

	return !found || !s.IsCoSet(cset)
}

func placesOf(s *Store, cset []int) map[string]struct{} {
	m := make(map[string]struct{}, len(cset))
	for _, cid := range cset {
		m[s.Conditions[cid].Place] = struct{}{}
	}
	return m
}

func placesEqualPreset(n *net.SyncNet, tid string, mappedPlaces map[string]struct{}) bool {
	preset := n.Preset(tid)
	if len(preset) != len(mappedPlaces) {
		return false
	}
	for _, p := range preset {
		if _, ok := mappedPlaces[p]; !ok {
			return false
		}
	}
	return true
}

func isSubsetOfPreset(n *net.SyncNet, tid string, mappedPlaces map[string]struct{}) bool {
	preset := make(map[string]struct{}, len(n.Preset(tid)))
	for _, p := range n.Preset(tid) {
		preset[p] = struct{}{}
	}
	for p := range mappedPlaces {
		if _, ok := preset[p]; !ok {
			return false
		}
	}
	return true
}

// IncrementalExtensions implements the incremental per-transition
// enumerator of spec.md section 4.3 (Römer Algorithm 8.8), triggered by
// the single new condition c. Ground: unfold_improved.py's
// calculate_possible_extensions_improved, keyed off each net place's
// inverse_map instead of a full combinatorial scan.
func (s *Store) IncrementalExtensions(c int) []int {
	var out []int
	place := s.Conditions[c].Place

	for _, tid := range s.Net.OutTransitions(place) {
		preset := s.Net.Preset(tid)

		switch len(preset) {
		case 1:
			if s.EventExists(tid, []int{c}) {
				continue
			}
			e := s.AddEvent(tid, []int{c})
			s.H(e.ID)
			out = append(out, e.ID)

		case 2:
			other := otherPlace(preset, place)
			for _, cPrime := range s.inverseMap[other] {
				if !s.IsCoSetPair(c, cPrime) {
					continue
				}
				if s.producerIsCutoff(cPrime) {
					continue
				}
				cset := []int{c, cPrime}
				if s.EventExists(tid, cset) {
					continue
				}
				e := s.AddEvent(tid, cset)
				s.H(e.ID)
				out = append(out, e.ID)
			}

		default:
			others := make([]string, 0, len(preset)-1)
			for _, p := range preset {
				if p != place {
					others = append(others, p)
				}
			}

			for _, combo := range s.cartesianInverseMaps(others) {
				ok := true
				for _, cPrime := range combo {
					if !s.IsCoSetPair(c, cPrime) || s.producerIsCutoff(cPrime) {
						ok = false
						break
					}
				}
				if !ok {
					continue
				}

				full := append([]int{c}, combo...)
				if !s.pairwiseCoSet(full) {
					continue
				}
				if s.EventExists(tid, full) {
					continue
				}
				e := s.AddEvent(tid, full)
				s.H(e.ID)
				out = append(out, e.ID)
			}
		}
	}

	return out
}

func (s *Store) producerIsCutoff(cid int) bool {
	if s.IsCutoffProducer == nil {
		return false
	}
	prod := s.Conditions[cid].Producer
	return prod >= 0 && s.IsCutoffProducer(prod)
}

func otherPlace(preset []string, exclude string) string {
	for _, p := range preset {
		if p != exclude {
			return p
		}
	}
	return ""
}

// pairwiseCoSet checks that every pair within cset is concurrent, using
// the memoized pairwise test.
func (s *Store) pairwiseCoSet(cset []int) bool {
	for i := 0; i < len(cset); i++ {
		for j := i + 1; j < len(cset); j++ {
			if !s.IsCoSetPair(cset[i], cset[j]) {
				return false
			}
		}
	}
	return true
}

// cartesianInverseMaps enumerates the Cartesian product of inverse_map(p)
// for each place in places, used for transitions with 3+ input places.
func (s *Store) cartesianInverseMaps(places []string) [][]int {
	result := [][]int{{}}
	for _, p := range places {
		conds := s.inverseMap[p]
		next := make([][]int, 0, len(result)*len(conds))
		for _, prefix := range result {
			for _, cid := range conds {
				entry := append(append([]int(nil), prefix...), cid)
				next = append(next, entry)
			}
		}
		result = next
	}
	return result
}
