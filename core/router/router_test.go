package router

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestEscalationMonotonicity(t *testing.T) {
	cfg := tunables.Default().Router
	r := New(cfg)

	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	props.Property("raising surprise past threshold never reverts System-2 to System-1", prop.ForAll(
		func(base float64) bool {
			low := Signals{SurpriseMagnitude: cfg.SurpriseThreshold - 0.1}
			high := Signals{SurpriseMagnitude: cfg.SurpriseThreshold + 0.1 + base*0.1}
			lowDecision := r.Route(low)
			highDecision := r.Route(high)
			if lowDecision.Role == RoleOrchestrator && highDecision.Role == RoleWorker {
				return false
			}
			return highDecision.Role == RoleOrchestrator
		},
		gen.Float64Range(0, 1),
	))

	props.TestingRun(t)
}

func TestScenarioASystem1Routing(t *testing.T) {
	r := New(tunables.Default().Router)
	d := r.Route(Signals{
		SurpriseMagnitude:   0,
		PopulationAgreement: 1,
		TaskNovelty:         0.1,
		EnterpriseSafety:    0,
		ExplicitRequest:     false,
		PreviousStepErrored: false,
		GoalDrift:           0,
	})
	require.Equal(t, RoleWorker, d.Role)
	require.Empty(t, d.Triggers)
}

func TestScenarioBEscalationOnError(t *testing.T) {
	r := New(tunables.Default().Router)
	d := r.Route(Signals{PreviousStepErrored: true})
	require.Equal(t, RoleOrchestrator, d.Role)
	require.Contains(t, d.Triggers, TriggerPrevError)
}

func TestDetectExplicitRequest(t *testing.T) {
	require.True(t, DetectExplicitRequest("Please think carefully about this."))
	require.False(t, DetectExplicitRequest("what's the weather"))
}
