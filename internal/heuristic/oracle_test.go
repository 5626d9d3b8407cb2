package heuristic

import (
	"math"
	"testing"

	"github.com/rawblock/alignerd/internal/net"
)

func buildSingleTransitionNet() (*net.SyncNet, net.Marking, net.Marking, map[string]int) {
	n := net.NewSyncNet()
	n.AddPlace("p0", "p0", "p0")
	n.AddPlace("p1", "p1", "p1")
	n.AddTransition("a", "a", "a", 1)
	_ = n.AddArc("p0", "a")
	_ = n.AddArc("a", "p1")

	initial := net.NewMarking("p0")
	final := net.NewMarking("p1")
	cost := net.DefaultCostFunction(n)
	cost["a"] = 1
	return n, initial, final, cost
}

func TestOracleEstimateAtFinalMarkingIsZero(t *testing.T) {
	n, _, final, cost := buildSingleTransitionNet()
	o := NewOracle(n, final, cost)

	h := o.Estimate(map[string]struct{}{"p1": {}})
	if h != 0 {
		t.Fatalf("h at final marking = %v, want 0", h)
	}
}

func TestOracleEstimateFromInitialIsAdmissibleLowerBound(t *testing.T) {
	n, initial, final, cost := buildSingleTransitionNet()
	o := NewOracle(n, final, cost)

	h := o.Estimate(map[string]struct{}(initial))
	if math.Abs(h-1) > 1e-6 {
		t.Fatalf("h from initial marking = %v, want 1 (one transition of cost 1 remains)", h)
	}
}

func TestOracleIsPure(t *testing.T) {
	n, initial, final, cost := buildSingleTransitionNet()
	o := NewOracle(n, final, cost)

	m := map[string]struct{}(initial)
	h1 := o.Estimate(m)
	h2 := o.Estimate(m)
	if h1 != h2 {
		t.Fatalf("oracle not pure: %v != %v", h1, h2)
	}
}

func TestCheapDerivativeMatchesFreshSolveWhenCovered(t *testing.T) {
	n, initial, final, cost := buildSingleTransitionNet()
	o := NewOracle(n, final, cost)

	h, x := o.Solve(map[string]struct{}(initial))
	idx, covers := o.Covers(x, "a")
	if !covers {
		t.Fatalf("parent solution should cover transition 'a': x=%v", x)
	}

	childH, _ := o.CheapDerivative(h, x, idx)
	freshH := o.Estimate(map[string]struct{}{"p1": {}})
	if math.Abs(childH-freshH) > 1e-6 {
		t.Fatalf("cheap derivative h=%v, fresh solve h=%v", childH, freshH)
	}
}
