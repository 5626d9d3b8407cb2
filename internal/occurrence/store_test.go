package occurrence

import (
	"testing"

	"github.com/rawblock/alignerd/internal/net"
)

// buildChainNet builds p0 --a--> p1 --b--> p2, both transitions sync-moves
// at cost 0, mirroring a trivial fitting-trace net.
func buildChainNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("p0", "p0", "p0")
	n.AddPlace("p1", "p1", "p1")
	n.AddPlace("p2", "p2", "p2")
	n.AddTransition("a", "a", "a", 0)
	n.AddTransition("b", "b", "b", 0)
	_ = n.AddArc("p0", "a")
	_ = n.AddArc("a", "p1")
	_ = n.AddArc("p1", "b")
	_ = n.AddArc("b", "p2")
	return n
}

func TestAddConditionAndEvent(t *testing.T) {
	s := NewStore(buildChainNet())

	c0 := s.AddCondition("p0", -1)
	if c0.ID != 0 || c0.Producer != -1 {
		t.Fatalf("unexpected initial condition: %+v", c0)
	}

	ea := s.AddEvent("a", []int{c0.ID})
	c1 := s.AddCondition("p1", ea.ID)

	if len(c1.Place) == 0 || c1.Producer != ea.ID {
		t.Fatalf("condition p1 not wired to producer: %+v", c1)
	}
	if len(s.Conditions[c0.ID].Consumers) != 1 || s.Conditions[c0.ID].Consumers[0] != ea.ID {
		t.Fatalf("p0 condition missing consumer: %+v", s.Conditions[c0.ID])
	}

	// Invariant 7: re-adding the same (transition, preset) is idempotent.
	again := s.AddEvent("a", []int{c0.ID})
	if again.ID != ea.ID {
		t.Fatalf("AddEvent duplicate did not dedupe: got id %d, want %d", again.ID, ea.ID)
	}
}

func TestIsCoSetSingletonAndPair(t *testing.T) {
	s := NewStore(buildChainNet())
	c0 := s.AddCondition("p0", -1)
	c0b := s.AddCondition("p0", -1) // second, independent initial condition (different net instance, for the test)

	if !s.IsCoSet([]int{c0.ID}) {
		t.Fatalf("singleton set must be trivially a co-set")
	}
	if !s.IsCoSet([]int{c0.ID, c0b.ID}) {
		t.Fatalf("two independent initial conditions must be concurrent")
	}
}

func TestIsCoSetRejectsCausalChain(t *testing.T) {
	s := NewStore(buildChainNet())
	c0 := s.AddCondition("p0", -1)
	ea := s.AddEvent("a", []int{c0.ID})
	c1 := s.AddCondition("p1", ea.ID)

	// c0 is a causal ancestor of c1 (through ea); they share history and
	// must not be treated as a co-set.
	if s.IsCoSet([]int{c0.ID, c1.ID}) {
		t.Fatalf("causally related conditions must not be a co-set")
	}
}

func TestLocalConfigurationTotalCostAndMark(t *testing.T) {
	n := buildChainNet()
	s := NewStore(n)

	c0 := s.AddCondition("p0", -1)
	ea := s.AddEvent("a", []int{c0.ID})
	c1 := s.AddCondition("p1", ea.ID)
	eb := s.AddEvent("b", []int{c1.ID})
	c2 := s.AddCondition("p2", eb.ID)
	_ = c2

	config := s.LocalConfiguration(eb.ID)
	if len(config) != 2 {
		t.Fatalf("expected [eb] = {ea, eb}, got %v", config)
	}

	if got := s.TotalCost(eb.ID); got != 0 {
		t.Fatalf("total_cost = %d, want 0 (sync moves cost 0)", got)
	}

	mark := s.Mark(eb.ID)
	if _, ok := mark["p2"]; !ok || len(mark) != 1 {
		t.Fatalf("mark([eb]) = %v, want {p2}", mark)
	}
}

func TestCompareOrdersByFThenCostThenSizeThenParikh(t *testing.T) {
	s := NewStore(buildChainNet())
	c0 := s.AddCondition("p0", -1)
	ea := s.AddEvent("a", []int{c0.ID})
	c1 := s.AddCondition("p1", ea.ID)
	eb := s.AddEvent("b", []int{c1.ID})

	if s.Compare(ea.ID, eb.ID) >= 0 {
		t.Fatalf("expected ea to order before eb (equal f and total_cost, smaller |[e]|)")
	}
	if s.Compare(eb.ID, ea.ID) <= 0 {
		t.Fatalf("Compare must be antisymmetric")
	}
	if s.Compare(ea.ID, ea.ID) != 0 {
		t.Fatalf("Compare must be reflexive")
	}
}
