package reputation

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestClampDominance(t *testing.T) {
	o := NewOverlay(SafetyStandard, nil)
	now := time.Now()

	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)
	props.Property("clamp always wins regardless of other modulations", prop.ForAll(
		func(clampValue float64, nOthers int) bool {
			o2 := NewOverlay(SafetyStandard, nil)
			o2.Add(Modulation{ID: "clamp1", Type: ModClamp, Target: "k", Strength: clampValue, CreatedAt: now})
			for i := 0; i < nOthers; i++ {
				o2.Add(Modulation{ID: "other" + string(rune('a'+i)), Type: ModAmplify, Target: "k", Strength: 2, Priority: 1000, CreatedAt: now.Add(time.Duration(i) * time.Second)})
			}
			out := o2.Apply(map[string]float64{"k": 0.5}, nil, nil)
			return out["k"] == clampValue
		},
		gen.Float64Range(0, 1),
		gen.IntRange(0, 5),
	))
	props.TestingRun(t)
	_ = o
}

func TestScenarioCQuarantine(t *testing.T) {
	e := New(tunables.Default().Reputation)
	now := time.Now()
	e.RecordOutcome("flaky_search", false, now)
	e.RecordOutcome("flaky_search", false, now)
	rec := e.RecordOutcome("flaky_search", false, now)

	require.Equal(t, 0.0, rec.Trust)
	require.True(t, e.Quarantined("flaky_search", now))
	require.True(t, rec.QuarantineUntil.After(now.Add(60*time.Second)))

	available := e.AvailableTools([]string{"flaky_search", "other"}, now)
	require.Equal(t, []string{"other"}, available)
}

func TestForgiveClearsQuarantine(t *testing.T) {
	e := New(tunables.Default().Reputation)
	now := time.Now()
	for i := 0; i < 3; i++ {
		e.RecordOutcome("t", false, now)
	}
	require.True(t, e.Quarantined("t", now))
	e.Forgive("t")
	require.False(t, e.Quarantined("t", now))
	require.Equal(t, 0.3, e.Snapshot("t").Trust)
}

func TestEnterpriseGlobPolicyPriority(t *testing.T) {
	o := NewOverlay(SafetyStandard, nil)
	o.Add(Modulation{ID: "user1", Type: ModAmplify, Target: "tool_preference.search", Strength: 1.5, Priority: 10, CreatedAt: time.Now()})
	policies := []EnterprisePolicy{
		{ID: "ent1", Pattern: "tool_preference.*", Type: ModSilence, Priority: 100, Source: "enterprise"},
	}
	out := o.Apply(map[string]float64{"tool_preference.search": 0.8}, nil, policies)
	require.Equal(t, 0.0, out["tool_preference.search"])
}
