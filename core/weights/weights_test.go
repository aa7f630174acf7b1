package weights

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestBetaConjugacy(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("mean and alpha+beta match closed form after s successes, f failures", prop.ForAll(
		func(s, f int) bool {
			e := New(tunables.Default().Weights)
			for i := 0; i < s; i++ {
				e.RecordToolOutcome("t", true, 100)
			}
			for i := 0; i < f; i++ {
				e.RecordToolOutcome("t", false, 100)
			}
			snap := e.ToolSnapshotFor("t")
			wantMean := (1 + float64(s)) / (2 + float64(s) + float64(f))
			wantSum := 2 + float64(s) + float64(f)
			gotSum := snap.Beta.Alpha + snap.Beta.Beta
			return closeEnough(snap.Beta.Mean(), wantMean, 1e-9) && closeEnough(gotSum, wantSum, 1e-9)
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	props.TestingRun(t)
}

func closeEnough(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestUpdateClampsBehavioralRange(t *testing.T) {
	e := New(tunables.Default().Weights)
	for i := 0; i < 1000; i++ {
		e.Update(CategoryBehavioral, "aggression", 1, "test", "push high")
	}
	v := e.Value(CategoryBehavioral, "aggression")
	require.LessOrEqual(t, v, 1.0)
	require.GreaterOrEqual(t, v, -1.0)
}

func TestApplyUpdateBatchAtomic(t *testing.T) {
	e := New(tunables.Default().Weights)
	_, err := e.ApplyUpdateBatch([]BatchUpdate{
		{Category: CategoryBehavioral, Key: "a", Delta: 0.1, Source: "s", Reason: "r"},
		{Category: CategoryBehavioral, Key: "", Delta: 0.1, Source: "s", Reason: "r"},
	})
	require.Error(t, err)
}

func TestBestToolThompsonPrefersHigherSuccessRate(t *testing.T) {
	e := New(tunables.Default().Weights)
	for i := 0; i < 20; i++ {
		e.RecordToolOutcome("good", true, 50)
		e.RecordToolOutcome("bad", false, 50)
	}
	counts := map[string]int{}
	for i := 0; i < 200; i++ {
		chosen, ok := e.BestToolThompson([]Candidate{{Name: "good"}, {Name: "bad"}}, 0, nil)
		require.True(t, ok)
		counts[chosen]++
	}
	require.Greater(t, counts["good"], counts["bad"])
}
