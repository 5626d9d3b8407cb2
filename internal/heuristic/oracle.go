// Package heuristic implements the C4 heuristic oracle: a marking-equation
// LP relaxation used as an admissible heuristic for the best-first search,
// plus the cheap child derivative used to avoid re-solving on every
// expansion.
package heuristic

import (
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rawblock/alignerd/internal/net"
)

var posInf = math.Inf(1)

// maxLPVariables guardrails the simplex solver against pathologically
// large synchronous products, mirroring the teacher's
// internal/heuristics/cpsat_solver.go "refuse large unconstrained
// instances" idiom: past this size the solver degrades to the
// infeasible/uninformed result rather than spending unbounded time.
const maxLPVariables = 4096

// Oracle solves the marking equation A·x = fin − M, x ≥ 0 minimizing
// cᵀx for a fixed synchronous product net, final marking, and cost
// function (spec.md section 4.4). It is stateless with respect to the
// marking passed to Estimate/Solve: the same marking always yields the
// same result.
type Oracle struct {
	places      []string // row order
	transitions []string // column order
	incidence   *mat.Dense
	cost        []float64
	finVec      []float64
}

// NewOracle builds the oracle's fixed incidence matrix and cost vector
// from n and costFn. finalMarking fixes the right-hand side's target.
func NewOracle(n *net.SyncNet, finalMarking net.Marking, costFn map[string]int) *Oracle {
	places := make([]string, 0, len(n.Places))
	for id := range n.Places {
		places = append(places, id)
	}
	sort.Strings(places)

	transitions := make([]string, 0, len(n.Transitions))
	for id := range n.Transitions {
		transitions = append(transitions, id)
	}
	sort.Strings(transitions)

	placeIndex := make(map[string]int, len(places))
	for i, p := range places {
		placeIndex[p] = i
	}

	incidence := mat.NewDense(len(places), len(transitions), nil)
	for j, t := range transitions {
		for _, p := range n.Preset(t) {
			incidence.Set(placeIndex[p], j, incidence.At(placeIndex[p], j)-1)
		}
		for _, p := range n.Postset(t) {
			incidence.Set(placeIndex[p], j, incidence.At(placeIndex[p], j)+1)
		}
	}

	cost := make([]float64, len(transitions))
	for j, t := range transitions {
		cost[j] = float64(costFn[t])
	}

	finVec := make([]float64, len(places))
	for p := range finalMarking {
		if i, ok := placeIndex[p]; ok {
			finVec[i] = 1
		}
	}

	return &Oracle{places: places, transitions: transitions, incidence: incidence, cost: cost, finVec: finVec}
}

// Estimate returns h*(M), the LP-relaxation lower bound on the remaining
// cost from marking to the final marking (spec.md section 4.4). +Inf on
// infeasibility or solver failure.
func (o *Oracle) Estimate(marking map[string]struct{}) float64 {
	h, _ := o.Solve(marking)
	return h
}

// Solve returns (h, x) with h = cᵀx and x ≥ 0 componentwise (tolerance
// −1e-3). On infeasibility, solver failure, or a guardrail trip it
// returns (+Inf, a zero point), degrading the search to uninformed on
// that branch while preserving admissibility (spec.md section 7,
// LP-failure / Solver-numerical policies).
func (o *Oracle) Solve(marking map[string]struct{}) (float64, []float64) {
	zero := make([]float64, len(o.transitions))

	if len(o.transitions)*len(o.places) > maxLPVariables {
		log.Printf("[heuristic] instance too large (%d places x %d transitions); refusing LP, falling back to uninformed", len(o.places), len(o.transitions))
		return posInf, zero
	}

	b := make([]float64, len(o.places))
	for i, p := range o.places {
		enc := 0.0
		if _, ok := marking[p]; ok {
			enc = 1
		}
		b[i] = o.finVec[i] - enc
	}

	rows, cols := o.incidence.Dims()
	a := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		a[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			a[i][j] = o.incidence.At(i, j)
		}
	}

	x, obj, ok := solveEqualityLP(a, b, o.cost)
	if !ok {
		return posInf, zero
	}

	for _, xi := range x {
		if xi < -1e-3 {
			return posInf, zero
		}
	}

	return obj, x
}

// CheapDerivative implements the optional child update of spec.md section
// 4.4: given a parent solution (h, x) and a fired transition index,
// h' = max(0, h - cost(t)), x' = x with x[t] decremented. It is only
// valid when the parent solution already covers the step (x[t] >= 1);
// callers must check that themselves (Covers) and fall back to Solve
// otherwise — this mirrors the teacher's dual-lane guardrail-or-fallback
// idiom (internal/heuristics/dp_solver.go's size bail-out) applied to
// solution coverage instead of instance size.
func (o *Oracle) CheapDerivative(h float64, x []float64, transitionIdx int) (float64, []float64) {
	childX := append([]float64(nil), x...)
	childX[transitionIdx] -= 1

	childH := h - o.cost[transitionIdx]
	if childH < 0 {
		childH = 0
	}
	return childH, childX
}

// Covers reports whether the parent solution's mass for transition id
// is at least 1, the precondition for CheapDerivative's soundness.
func (o *Oracle) Covers(x []float64, transitionID string) (int, bool) {
	idx := o.TransitionIndex(transitionID)
	if idx < 0 {
		return -1, false
	}
	return idx, x[idx] >= 1-1e-9
}

// TransitionIndex returns the LP column index of transitionID, or -1.
func (o *Oracle) TransitionIndex(transitionID string) int {
	i := sort.SearchStrings(o.transitions, transitionID)
	if i < len(o.transitions) && o.transitions[i] == transitionID {
		return i
	}
	return -1
}
