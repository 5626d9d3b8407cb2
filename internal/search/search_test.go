package search

import (
	"context"
	"testing"

	"github.com/rawblock/alignerd/internal/net"
	"github.com/rawblock/alignerd/pkg/models"
)

// buildChoiceNet builds p0 -> {logA, modelA, syncA} -> p1, the synchronous
// product for spec.md section 8 scenario 1 (fitting trace): a log-move, a
// model-move, and a sync-move all compete from the same initial place.
func buildChoiceNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("p0", "p0", "p0")
	n.AddPlace("p1", "p1", "p1")
	n.AddTransition("logA", "a", net.SKIP, 1)
	n.AddTransition("modelA", net.SKIP, "a", 1)
	n.AddTransition("syncA", "a", "a", 0)
	for _, t := range []string{"logA", "modelA", "syncA"} {
		_ = n.AddArc("p0", t)
		_ = n.AddArc(t, "p1")
	}
	return n
}

func TestFittingTraceScenario(t *testing.T) {
	req := Request{
		Net:               buildChoiceNet(),
		InitialMarking:    net.NewMarking("p0"),
		FinalMarking:      net.NewMarking("p1"),
		ExtractAlignments: true,
	}

	out, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 0 {
		t.Fatalf("costs = %d, want 0 (sync-move path)", out.Costs)
	}
	if out.Deviations != 0 {
		t.Fatalf("deviations = %d, want 0", out.Deviations)
	}
	if len(out.Alignments) != 1 {
		t.Fatalf("expected exactly one alignment, got %d", len(out.Alignments))
	}
	align := out.Alignments[0]
	if align.LogVariant == nil || align.LogVariant.Label != "a" || !align.LogVariant.IsSync {
		t.Fatalf("log variant = %+v, want a single sync leaf 'a'", align.LogVariant)
	}
	if align.ModelVariant == nil || align.ModelVariant.Label != "a" || !align.ModelVariant.IsSync {
		t.Fatalf("model variant = %+v, want a single sync leaf 'a'", align.ModelVariant)
	}
}

func TestFittingTraceScenarioWithHeuristicMatchesUninformed(t *testing.T) {
	uninformed, err := Run(context.Background(), Request{
		Net:            buildChoiceNet(),
		InitialMarking: net.NewMarking("p0"),
		FinalMarking:   net.NewMarking("p1"),
	})
	if err != nil {
		t.Fatalf("uninformed Run: %v", err)
	}

	withHeuristic, err := Run(context.Background(), Request{
		Net:            buildChoiceNet(),
		InitialMarking: net.NewMarking("p0"),
		FinalMarking:   net.NewMarking("p1"),
		WithHeuristic:  true,
	})
	if err != nil {
		t.Fatalf("heuristic Run: %v", err)
	}

	// Property O2 (spec.md section 8): toggling with_heuristic never
	// changes costs.
	if uninformed.Costs != withHeuristic.Costs {
		t.Fatalf("costs differ between uninformed (%d) and heuristic (%d) runs", uninformed.Costs, withHeuristic.Costs)
	}
}

func TestUnreachableFinalMarking(t *testing.T) {
	n := net.NewSyncNet()
	n.AddPlace("p0", "p0", "p0")
	n.AddPlace("pDead", "pDead", "pDead")
	n.AddPlace("pUnreachable", "pUnreachable", "pUnreachable")
	n.AddTransition("a", "a", "a", 0)
	_ = n.AddArc("p0", "a")
	_ = n.AddArc("a", "pDead")

	_, err := Run(context.Background(), Request{
		Net:            n,
		InitialMarking: net.NewMarking("p0"),
		FinalMarking:   net.NewMarking("pUnreachable"),
	})
	if err != ErrUnreachableFinal {
		t.Fatalf("err = %v, want ErrUnreachableFinal", err)
	}
}

// buildSyncProductJoinNet builds pL0, pM0 --s--> pEnd: a genuine
// synchronous-product sync-move with two separate input places (a log
// lane and a model lane), the shape that exposed the naive enumerator's
// old older+newer co-set blind spot (spec.md section 7's
// Unreachable-final example).
func buildSyncProductJoinNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pL0", "pL0", net.SKIP)
	n.AddPlace("pM0", net.SKIP, "pM0")
	n.AddPlace("pEnd", "pEnd", "pEnd")
	n.AddTransition("s", "a", "a", 0)
	_ = n.AddArc("pL0", "s")
	_ = n.AddArc("pM0", "s")
	_ = n.AddArc("s", "pEnd")
	return n
}

// TestNaiveSearchFindsTwoInputSyncMove is the regression test for the
// naive enumerator's co-set completeness bug: with Improved left at its
// default (false), a sync-move whose preset spans two independently
// seeded initial places must still be found.
func TestNaiveSearchFindsTwoInputSyncMove(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:            buildSyncProductJoinNet(),
		InitialMarking: net.NewMarking("pL0", "pM0"),
		FinalMarking:   net.NewMarking("pEnd"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 0 {
		t.Fatalf("costs = %d, want 0 (sync-move path)", out.Costs)
	}
}

// TestImprovedSearchFindsTwoInputSyncMove is the same scenario through
// the incremental enumerator, which was never affected by the bug; kept
// alongside the naive case so a future change to one path is checked
// against the other.
func TestImprovedSearchFindsTwoInputSyncMove(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:            buildSyncProductJoinNet(),
		InitialMarking: net.NewMarking("pL0", "pM0"),
		FinalMarking:   net.NewMarking("pEnd"),
		Improved:       true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 0 {
		t.Fatalf("costs = %d, want 0 (sync-move path)", out.Costs)
	}
}

// buildSingleLogDeviationNet is spec.md section 8 scenario 2: model fires
// a then b; log is a, x, b with x absent from the model.
func buildSingleLogDeviationNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pL0", "pL0", net.SKIP)
	n.AddPlace("pM0", net.SKIP, "pM0")
	n.AddPlace("pL1", "pL1", net.SKIP)
	n.AddPlace("pM1", net.SKIP, "pM1")
	n.AddPlace("pL2", "pL2", net.SKIP)
	n.AddPlace("pEnd", "pEnd", "pEnd")

	n.AddTransition("syncA", "a", "a", 0)
	n.AddTransition("logX", "x", net.SKIP, 1)
	n.AddTransition("syncB", "b", "b", 0)

	_ = n.AddArc("pL0", "syncA")
	_ = n.AddArc("pM0", "syncA")
	_ = n.AddArc("syncA", "pL1")
	_ = n.AddArc("syncA", "pM1")

	_ = n.AddArc("pL1", "logX")
	_ = n.AddArc("logX", "pL2")

	_ = n.AddArc("pL2", "syncB")
	_ = n.AddArc("pM1", "syncB")
	_ = n.AddArc("syncB", "pEnd")

	return n
}

func TestSingleLogDeviationScenario(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:               buildSingleLogDeviationNet(),
		InitialMarking:    net.NewMarking("pL0", "pM0"),
		FinalMarking:      net.NewMarking("pEnd"),
		ExtractAlignments: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 1 {
		t.Fatalf("costs = %d, want 1 (one unit-cost log-move)", out.Costs)
	}

	wantA2X := models.Dependency{Source: "a", Target: "x", IsFollowed: true}
	wantX2B := models.Dependency{Source: "x", Target: "b", IsFollowed: true}
	if !containsDependency(out.DeviationDeps, wantA2X) {
		t.Fatalf("deviation_deps = %+v, want it to contain %+v", out.DeviationDeps, wantA2X)
	}
	if !containsDependency(out.DeviationDeps, wantX2B) {
		t.Fatalf("deviation_deps = %+v, want it to contain %+v", out.DeviationDeps, wantX2B)
	}
}

// buildSwapNet is spec.md section 8 scenario 3: model a -> b; log b, a.
func buildSwapNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pL0", "pL0", net.SKIP)
	n.AddPlace("pM0", net.SKIP, "pM0")
	n.AddPlace("pL1", "pL1", net.SKIP)
	n.AddPlace("pM1", net.SKIP, "pM1")
	n.AddPlace("pL2", "pL2", net.SKIP)
	n.AddPlace("pM2", net.SKIP, "pM2")

	n.AddTransition("logB", "b", net.SKIP, 1)
	n.AddTransition("syncA", "a", "a", 0)
	n.AddTransition("modelB", net.SKIP, "b", 1)

	_ = n.AddArc("pL0", "logB")
	_ = n.AddArc("logB", "pL1")

	_ = n.AddArc("pL1", "syncA")
	_ = n.AddArc("pM0", "syncA")
	_ = n.AddArc("syncA", "pL2")
	_ = n.AddArc("syncA", "pM1")

	_ = n.AddArc("pM1", "modelB")
	_ = n.AddArc("modelB", "pM2")

	return n
}

func TestSwapScenario(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:               buildSwapNet(),
		InitialMarking:    net.NewMarking("pL0", "pM0"),
		FinalMarking:      net.NewMarking("pL2", "pM2"),
		ExtractAlignments: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 2 {
		t.Fatalf("costs = %d, want 2 (one log-move, one model-move)", out.Costs)
	}
	if out.Deviations < 2 {
		t.Fatalf("deviations = %d, want at least 2", out.Deviations)
	}
}

// buildParallelModelSequentialLogNet is spec.md section 8 scenario 4:
// model a and b in parallel (independent places, no precedence between
// them); log a then b (sequential).
func buildParallelModelSequentialLogNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pL0", "pL0", net.SKIP)
	n.AddPlace("pMa0", net.SKIP, "pMa0")
	n.AddPlace("pMb0", net.SKIP, "pMb0")
	n.AddPlace("pL1", "pL1", net.SKIP)
	n.AddPlace("pL2", "pL2", net.SKIP)
	n.AddPlace("pMa1", net.SKIP, "pMa1")
	n.AddPlace("pMb1", net.SKIP, "pMb1")

	n.AddTransition("syncA", "a", "a", 0)
	n.AddTransition("syncB", "b", "b", 0)

	_ = n.AddArc("pL0", "syncA")
	_ = n.AddArc("pMa0", "syncA")
	_ = n.AddArc("syncA", "pL1")
	_ = n.AddArc("syncA", "pMa1")

	_ = n.AddArc("pL1", "syncB")
	_ = n.AddArc("pMb0", "syncB")
	_ = n.AddArc("syncB", "pMb1")
	_ = n.AddArc("syncB", "pL2")

	return n
}

func TestParallelModelSequentialLogScenario(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:               buildParallelModelSequentialLogNet(),
		InitialMarking:    net.NewMarking("pL0", "pMa0", "pMb0"),
		FinalMarking:      net.NewMarking("pL2", "pMa1", "pMb1"),
		ExtractAlignments: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 0 {
		t.Fatalf("costs = %d, want 0 (model's parallelism tolerates the log's order)", out.Costs)
	}
	if out.Deviations < 1 {
		t.Fatalf("deviations = %d, want at least 1 (log-graph edge absent from model-graph)", out.Deviations)
	}

	want := models.Dependency{Source: "a", Target: "b", IsFollowed: true, ConnectsSyncMoves: true}
	if !containsDependency(out.DeviationDeps, want) {
		t.Fatalf("deviation_deps = %+v, want it to contain %+v", out.DeviationDeps, want)
	}
}

// buildSilentBridgingNet is spec.md section 8 scenario 5: model fires tau
// between a and b; log is a, b.
func buildSilentBridgingNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pL0", "pL0", net.SKIP)
	n.AddPlace("pM0", net.SKIP, "pM0")
	n.AddPlace("pL1", "pL1", net.SKIP)
	n.AddPlace("pM1", net.SKIP, "pM1")
	n.AddPlace("pM2", net.SKIP, "pM2")
	n.AddPlace("pL2", "pL2", net.SKIP)
	n.AddPlace("pM3", net.SKIP, "pM3")

	n.AddTransition("syncA", "a", "a", 0)
	n.AddTransition("silentTau", net.SKIP, net.SilentTransition, 0)
	n.AddTransition("syncB", "b", "b", 0)

	_ = n.AddArc("pL0", "syncA")
	_ = n.AddArc("pM0", "syncA")
	_ = n.AddArc("syncA", "pL1")
	_ = n.AddArc("syncA", "pM1")

	_ = n.AddArc("pM1", "silentTau")
	_ = n.AddArc("silentTau", "pM2")

	_ = n.AddArc("pL1", "syncB")
	_ = n.AddArc("pM2", "syncB")
	_ = n.AddArc("syncB", "pL2")
	_ = n.AddArc("syncB", "pM3")

	return n
}

func TestSilentTransitionBridgingScenario(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:               buildSilentBridgingNet(),
		InitialMarking:    net.NewMarking("pL0", "pM0"),
		FinalMarking:      net.NewMarking("pL2", "pM3"),
		ExtractAlignments: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Costs != 0 {
		t.Fatalf("costs = %d, want 0", out.Costs)
	}
	if out.Deviations != 0 {
		t.Fatalf("deviations = %d, want 0 (silent bridging makes the model graph match the log graph)", out.Deviations)
	}
}

// buildCutoffLoopNet is spec.md section 8 scenario 6: a model loop
// (a, tau)* of length 4 synchronized against a log of four a's, plus a
// zero-cost, non-synchronizing model-only detour around the same loop, so
// that a repeated marking (the initial one, via modelOnlyA then tau) is
// reached before the zero-cost sync path completes and needs pruning.
func buildCutoffLoopNet() *net.SyncNet {
	n := net.NewSyncNet()
	n.AddPlace("pM0", net.SKIP, "pM0")
	n.AddPlace("pM1", net.SKIP, "pM1")
	for i := 0; i <= 4; i++ {
		n.AddPlace(logPlaceName(i), logPlaceName(i), net.SKIP)
	}

	n.AddTransition("modelOnlyA", net.SKIP, "a", 0)
	n.AddTransition("tau", net.SKIP, net.SilentTransition, 0)
	_ = n.AddArc("pM0", "modelOnlyA")
	_ = n.AddArc("modelOnlyA", "pM1")
	_ = n.AddArc("pM1", "tau")
	_ = n.AddArc("tau", "pM0")

	for i := 0; i < 4; i++ {
		tid := "syncA" + logPlaceName(i)
		n.AddTransition(tid, "a", "a", 0)
		_ = n.AddArc(logPlaceName(i), tid)
		_ = n.AddArc("pM0", tid)
		_ = n.AddArc(tid, logPlaceName(i+1))
		_ = n.AddArc(tid, "pM1")
	}

	return n
}

func logPlaceName(i int) string {
	return "pL" + string(rune('0'+i))
}

func TestCutoffEffectivenessScenario(t *testing.T) {
	out, err := Run(context.Background(), Request{
		Net:            buildCutoffLoopNet(),
		InitialMarking: net.NewMarking("pL0", "pM0"),
		FinalMarking:   net.NewMarking("pL4", "pM1"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Telemetry.Cutoffs == 0 {
		t.Fatalf("expected at least one cutoff event; the model-only loop detour returns to the initial marking")
	}
	// A bound loose enough to tolerate implementation variance but tight
	// enough to fail if cutoffs stopped pruning the loop altogether
	// (which would otherwise grow unboundedly).
	const visitedBound = 500
	if out.Telemetry.VisitedEvents >= visitedBound {
		t.Fatalf("visited events = %d, want it bounded (cutoffs should prevent the loop from being explored unboundedly)", out.Telemetry.VisitedEvents)
	}
}

func containsDependency(deps []models.Dependency, want models.Dependency) bool {
	for _, d := range deps {
		if d == want {
			return true
		}
	}
	return false
}

func TestRepeatedRunsAreDeterministic(t *testing.T) {
	req := Request{
		Net:               buildChoiceNet(),
		InitialMarking:    net.NewMarking("p0"),
		FinalMarking:      net.NewMarking("p1"),
		ExtractAlignments: true,
	}

	first, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if first.Costs != second.Costs || first.Deviations != second.Deviations {
		t.Fatalf("nondeterministic result: %+v vs %+v", first, second)
	}
}
