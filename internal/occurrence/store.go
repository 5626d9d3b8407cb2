// Package occurrence implements the occurrence-net store (C1), local
// configuration bookkeeping (C2), and the possible-extension enumerators
// (C3) of the unfolding engine. The store is an append-only arena:
// conditions and events are referenced by dense integer ids, never
// deleted, so every cache keyed by id stays valid for the arena's
// lifetime.
package occurrence

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rawblock/alignerd/internal/net"
)

// Condition is a node of the occurrence net: a single instantiation of a
// net place, produced by at most one event.
type Condition struct {
	ID       int
	Place    string
	Producer int // event id, or -1 if this condition is in the initial cut
	Consumers []int // event ids that consume this condition (have it in their preset)

	visited int
}

// Event is a node of the occurrence net: a single firing of a net
// transition from a fixed co-set of input conditions.
type Event struct {
	ID         int
	Transition string
	Preset     []int // condition ids consumed
	Produced   []int // condition ids produced
	Cost       int

	visited int

	localConfig  []int
	totalCostSet bool
	totalCost    int
	markCache    map[string]struct{}
	hSet         bool
	hVal         float64
	xVec         []float64 // LP solution backing hVal, when solved via LPOracle
	parikh       []int
}

// Store owns the occurrence net's arena plus the indices the
// enumerators and the cutoff test depend on.
type Store struct {
	Net *net.SyncNet

	Conditions []*Condition
	Events     []*Event

	// Heuristic estimates the remaining cost from a marking (a set of
	// place ids) to the final marking. Nil means h ≡ 0 (uninformed search).
	// Superseded by LPOracle when both are set.
	Heuristic func(marking map[string]struct{}) float64

	// LPOracle, when set, lets H derive a child event's heuristic from a
	// covering parent's LP solution (spec.md section 4.4's cheap
	// derivative) instead of always re-solving.
	LPOracle interface {
		Solve(marking map[string]struct{}) (float64, []float64)
		CheapDerivative(h float64, x []float64, transitionIdx int) (float64, []float64)
		Covers(x []float64, transitionID string) (int, bool)
	}

	// IsCutoffProducer reports whether the event that produced a
	// condition has already been classified as a cutoff by the search
	// driver. Nil means no event has been classified yet.
	IsCutoffProducer func(eventID int) bool

	globalVisited int
	coSetCache    map[pairKey]bool
	dedupe        map[string]int
	inverseMap    map[string][]int
	initial       []int // condition ids with Producer == -1

	transitionOrder []string // sorted transition ids, for the Parikh vector
}

// NewStore returns an empty store over the given synchronous product net.
func NewStore(n *net.SyncNet) *Store {
	order := make([]string, 0, len(n.Transitions))
	for id := range n.Transitions {
		order = append(order, id)
	}
	sort.Strings(order)

	return &Store{
		Net:             n,
		coSetCache:      make(map[pairKey]bool),
		dedupe:          make(map[string]int),
		inverseMap:      make(map[string][]int),
		transitionOrder: order,
	}
}

// AddCondition appends a new condition instantiating place, produced by
// producer (or -1 for the initial cut). Invariant 2 of spec.md section 3
// (at most one incoming arc per condition) holds structurally: Producer
// is a single field, not a collection.
func (s *Store) AddCondition(place string, producer int) *Condition {
	c := &Condition{ID: len(s.Conditions), Place: place, Producer: producer, visited: -1}
	s.Conditions = append(s.Conditions, c)
	s.inverseMap[place] = append(s.inverseMap[place], c.ID)

	if producer < 0 {
		s.initial = append(s.initial, c.ID)
	} else {
		s.Events[producer].Produced = append(s.Events[producer].Produced, c.ID)
	}

	return c
}

// InverseMap returns the condition ids currently mapped to place, in
// creation order.
func (s *Store) InverseMap(place string) []int {
	return s.inverseMap[place]
}

func dedupeKey(transition string, sortedPreset []int) string {
	var b strings.Builder
	b.WriteString(transition)
	b.WriteByte('|')
	for i, cid := range sortedPreset {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", cid)
	}
	return b.String()
}

// EventExists reports whether an event for transition with exactly this
// preset (order-independent) already exists, without creating one.
func (s *Store) EventExists(transition string, preset []int) bool {
	sorted := append([]int(nil), preset...)
	sort.Ints(sorted)
	_, ok := s.dedupe[dedupeKey(transition, sorted)]
	return ok
}

// AddEvent inserts an event firing transition from preset, enforcing
// invariant 4 (preset is a co-set) and invariant 7 (no duplicate
// (transition, preset) pair) of spec.md section 3. A duplicate insertion
// is idempotent, returning the existing event. A non-co-set preset is a
// structural bug in the caller (the enumerators only ever propose
// co-sets), so it panics rather than returning an error, matching the
// "Invalid-occurrence-net" policy of spec.md section 7.
func (s *Store) AddEvent(transition string, preset []int) *Event {
	sorted := append([]int(nil), preset...)
	sort.Ints(sorted)
	key := dedupeKey(transition, sorted)
	if eid, ok := s.dedupe[key]; ok {
		return s.Events[eid]
	}

	if !s.IsCoSet(preset) {
		panic(fmt.Sprintf("occurrence: preset %v for transition %q is not a co-set", preset, transition))
	}

	t, ok := s.Net.Transitions[transition]
	if !ok {
		panic(fmt.Sprintf("occurrence: unknown transition %q", transition))
	}

	e := &Event{
		ID:         len(s.Events),
		Transition: transition,
		Preset:     append([]int(nil), preset...),
		Cost:       t.Cost,
		visited:    -1,
	}
	s.Events = append(s.Events, e)
	s.dedupe[key] = e.ID

	for _, cid := range preset {
		s.Conditions[cid].Consumers = append(s.Conditions[cid].Consumers, e.ID)
	}

	return e
}

type pairKey struct{ a, b int }

func makePairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

func (s *Store) incVisit() {
	s.globalVisited++
}

func (s *Store) markConditionVisited(cid int) {
	s.Conditions[cid].visited = s.globalVisited
}

func (s *Store) conditionVisited(cid int) bool {
	return s.Conditions[cid].visited == s.globalVisited
}

func (s *Store) markEventVisited(eid int) {
	s.Events[eid].visited = s.globalVisited
}

func (s *Store) eventVisited(eid int) bool {
	return s.Events[eid].visited == s.globalVisited
}

// IsCoSet decides whether cset is pairwise concurrent: not causally
// related and not in conflict. Implements the DFS-over-causal-pasts
// algorithm of spec.md section 4.1, grounded on
// cortado_core/alignments/unfolding/unfold.py's is_co_set: mark every
// condition in cset and the chain of producing events/their preset
// conditions reachable from them; any condition touched twice indicates
// a shared causal ancestor, which this test treats as disqualifying.
func (s *Store) IsCoSet(cset []int) bool {
	if len(cset) < 2 {
		return true
	}

	s.incVisit()
	var stack []int // event ids

	for _, cid := range cset {
		s.markConditionVisited(cid)
		prod := s.Conditions[cid].Producer
		if prod >= 0 && !s.eventVisited(prod) {
			s.markEventVisited(prod)
			stack = append(stack, prod)
		}
	}

	for len(stack) > 0 {
		eid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, cid := range s.Events[eid].Preset {
			if s.conditionVisited(cid) {
				return false
			}
			s.markConditionVisited(cid)

			prod := s.Conditions[cid].Producer
			if prod >= 0 && !s.eventVisited(prod) {
				s.markEventVisited(prod)
				stack = append(stack, prod)
			}
		}
	}

	return true
}

// IsCoSetPair is the memoized pairwise form of IsCoSet used by the
// incremental enumerator, which issues many repeated pairwise checks
// against a slowly-growing inverse map.
func (s *Store) IsCoSetPair(a, b int) bool {
	if a == b {
		return true
	}
	key := makePairKey(a, b)
	if v, ok := s.coSetCache[key]; ok {
		return v
	}
	v := s.IsCoSet([]int{a, b})
	s.coSetCache[key] = v
	return v
}
