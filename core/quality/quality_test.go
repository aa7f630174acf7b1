package quality

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestAggregateConsensusAndAgreement(t *testing.T) {
	p := Aggregate(tunables.Default().Quality, []Evaluation{
		{Name: "a", Value: 0.8, Confidence: 0.9},
		{Name: "b", Value: 0.82, Confidence: 0.9},
		{Name: "c", Value: 0.79, Confidence: 0.9},
	})
	require.InDelta(t, 0.8, p.Consensus, 0.05)
	require.Greater(t, p.Agreement, 0.8)
}

func TestAggregateOutlierLowersAgreement(t *testing.T) {
	p := Aggregate(tunables.Default().Quality, []Evaluation{
		{Name: "a", Value: 0.8, Confidence: 0.9},
		{Name: "b", Value: 0.8, Confidence: 0.9},
		{Name: "c", Value: 0.1, Confidence: 0.9},
	})
	require.Less(t, p.Agreement, 1.0)
}

func TestRecommendEscalatesOnLowConfidence(t *testing.T) {
	cfg := tunables.Default().Quality
	require.Equal(t, ActionEscalateHuman, Recommend(cfg, 0.1, 0.9))
	require.Equal(t, ActionProceedConfident, Recommend(cfg, 0.95, 0.95))
}

func TestRefusalEvaluatorDetectsRefusal(t *testing.T) {
	e := RefusalEvaluator("I cannot help with that request.")
	require.Less(t, e.Value, 0.5)
}
