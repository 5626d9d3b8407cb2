package heuristic

import "math"

const simplexEpsilon = 1e-9

// tableau is a standard simplex tableau: row 0 is the (reduced) objective
// row, rows 1..m are the constraint rows, the last column is the RHS.
// basis[i] names the basic variable of constraint row i+1.
type tableau struct {
	rows  [][]float64
	basis []int
	m, n  int // m constraints, n structural+slack/artificial variables
}

// pivot performs a Gauss-Jordan elimination making column col the basic
// variable of row (1-indexed into t.rows).
func (t *tableau) pivot(row, col int) {
	pv := t.rows[row][col]
	for j := range t.rows[row] {
		t.rows[row][j] /= pv
	}
	for r := range t.rows {
		if r == row {
			continue
		}
		factor := t.rows[r][col]
		if factor == 0 {
			continue
		}
		for j := range t.rows[r] {
			t.rows[r][j] -= factor * t.rows[row][j]
		}
	}
	t.basis[row-1] = col
}

// run drives the tableau to optimality using Bland's rule (always pick
// the lowest-indexed eligible entering/leaving variable), which
// guarantees termination on degenerate problems at the cost of some
// extra pivots — acceptable here since the LPs solved are small
// (one row per net place, one column per transition).
func (t *tableau) run() {
	for {
		entering := -1
		for j := 0; j < t.n; j++ {
			if t.rows[0][j] < -simplexEpsilon {
				entering = j
				break
			}
		}
		if entering == -1 {
			return // optimal
		}

		leaving := -1
		best := math.Inf(1)
		for r := 1; r <= t.m; r++ {
			coef := t.rows[r][entering]
			if coef <= simplexEpsilon {
				continue
			}
			ratio := t.rows[r][t.n] / coef
			if ratio < best-simplexEpsilon || (ratio < best+simplexEpsilon && (leaving == -1 || t.basis[r-1] < t.basis[leaving-1])) {
				best = ratio
				leaving = r
			}
		}
		if leaving == -1 {
			return // unbounded; stops at the current basis without reporting it
		}

		t.pivot(leaving, entering)
	}
}

func (t *tableau) objective() float64 {
	return -t.rows[0][t.n]
}

func (t *tableau) solution(numStructural int) []float64 {
	x := make([]float64, numStructural)
	for r, col := range t.basis {
		if col < numStructural {
			x[col] = t.rows[r+1][t.n]
		}
	}
	return x
}

// solveEqualityLP solves minimize c^T x subject to A x = b, x >= 0 via
// two-phase simplex (spec.md section 4.4's pluggable LinearSolver
// contract: (c, A, b) -> (obj, x) | infeasible). Returns ok=false on
// infeasibility. Unboundedness is not detected (run stops at the last
// basis reached); it cannot arise when every cost in c is nonnegative.
func solveEqualityLP(a [][]float64, b []float64, c []float64) ([]float64, float64, bool) {
	m := len(a)
	if m == 0 {
		return make([]float64, len(c)), 0, true
	}
	n := len(c)

	// Normalize b >= 0.
	rows := make([][]float64, m)
	rhs := make([]float64, m)
	for i := 0; i < m; i++ {
		rows[i] = append([]float64(nil), a[i]...)
		rhs[i] = b[i]
		if rhs[i] < 0 {
			rhs[i] = -rhs[i]
			for j := range rows[i] {
				rows[i][j] = -rows[i][j]
			}
		}
	}

	// Phase 1: minimize sum of artificial variables.
	totalCols := n + m + 1 // structural + artificial + RHS
	t := &tableau{m: m, n: n + m, basis: make([]int, m)}
	t.rows = make([][]float64, m+1)
	for i := 0; i <= m; i++ {
		t.rows[i] = make([]float64, totalCols)
	}

	for i := 0; i < m; i++ {
		copy(t.rows[i+1], rows[i])
		t.rows[i+1][n+i] = 1 // artificial variable i
		t.rows[i+1][totalCols-1] = rhs[i]
		t.basis[i] = n + i
	}

	// Phase-1 objective: minimize sum(artificials) => reduced costs start
	// at -sum of each constraint row (since artificials are basic); the
	// basic artificial columns themselves keep reduced cost 0.
	for j := 0; j < n; j++ {
		sum := 0.0
		for i := 0; i < m; i++ {
			sum += t.rows[i+1][j]
		}
		t.rows[0][j] = -sum
	}
	sumRHS := 0.0
	for i := 0; i < m; i++ {
		sumRHS += rhs[i]
	}
	t.rows[0][totalCols-1] = -sumRHS

	t.run()

	if t.objective() > 1e-6 {
		return nil, 0, false // infeasible: artificial mass remains
	}

	// Drive any remaining (degenerate, zero-value) artificial variables
	// out of the basis where a structural pivot is available; rows where
	// none exists are redundant constraints and are left alone.
	for i, col := range t.basis {
		if col < n {
			continue
		}
		for j := 0; j < n; j++ {
			if math.Abs(t.rows[i+1][j]) > simplexEpsilon {
				t.pivot(i+1, j)
				break
			}
		}
	}

	// Zero the columns of non-basic artificial variables so that phase 2
	// can never bring one back into the basis.
	basic := make(map[int]bool, m)
	for _, col := range t.basis {
		basic[col] = true
	}
	for j := n; j < n+m; j++ {
		if basic[j] {
			continue
		}
		for r := range t.rows {
			t.rows[r][j] = 0
		}
	}

	// Phase 2: restore the real objective over structural variables only,
	// artificial columns get cost 0 and are never reentered (already
	// driven to zero/out of basis above).
	for j := 0; j < n+m; j++ {
		if j < n {
			t.rows[0][j] = c[j]
		} else {
			t.rows[0][j] = 0
		}
	}
	t.rows[0][totalCols-1] = 0
	for i, col := range t.basis {
		coef := t.rows[0][col]
		if coef == 0 {
			continue
		}
		for j := range t.rows[0] {
			t.rows[0][j] -= coef * t.rows[i+1][j]
		}
	}

	t.run()

	x := t.solution(n)
	obj := 0.0
	for j := 0; j < n; j++ {
		obj += c[j] * x[j]
	}
	return x, obj, true
}
