package weights

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestAggregatorBlendsAcrossSessions(t *testing.T) {
	agg := NewAggregator()

	e1 := New(tunables.Default().Weights)
	e1.Update(CategoryBehavioral, "be_concise", 0.4, "user_feedback", "brevity")
	r1 := NewReporter("sess-1", agg)
	r1.Report(e1)

	e2 := New(tunables.Default().Weights)
	e2.Update(CategoryBehavioral, "be_concise", -0.2, "user_feedback", "brevity")
	r2 := NewReporter("sess-2", agg)
	r2.Report(e2)

	nudge, ok := agg.GlobalNudge(CategoryBehavioral, "be_concise")
	require.True(t, ok)
	require.InDelta(t, 0.005, nudge, 1e-9) // running mean of the two sessions' net deltas (0.05*0.4 and 0.05*-0.2)

	_, ok = agg.GlobalNudge(CategoryBehavioral, "never_reported")
	require.False(t, ok)
}

func TestReporterOnlyReportsNetMovement(t *testing.T) {
	agg := NewAggregator()
	e := New(tunables.Default().Weights)
	r := NewReporter("sess-1", agg)

	e.Update(CategoryToolPreference, "search", 0.1, "src", "r")
	r.Report(e)
	first, _ := agg.GlobalNudge(CategoryToolPreference, "search")
	require.NotZero(t, first)

	// A second Report with no intervening Update has no net movement to
	// report, so it sends no diff and leaves the running mean unchanged.
	r.Report(e)
	second, _ := agg.GlobalNudge(CategoryToolPreference, "search")
	require.InDelta(t, first, second, 1e-9)
}
