package goal

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

func TestDNASymmetryAndIdentity(t *testing.T) {
	params := gopter.DefaultTestParameters()
	props := gopter.NewProperties(params)

	words := gen.OneConstOf("implement jwt login", "summarize recent weather", "refactor the parser", "quantum physics discussion")

	props.Property("similarity is symmetric and similarity(x,x) == 1", prop.ForAll(
		func(goalText, actionText string) bool {
			g := NewDNA(goalText)
			a := NewDNA(actionText)
			if g.Similarity(a) != a.Similarity(g) {
				return false
			}
			return closeEnough(g.Similarity(g), 1, 1e-9)
		},
		words, words,
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

// Scenario E (spec §8): a run that stays on a topic wholly unrelated to the
// goal (zero Goal-DNA similarity, full topic divergence) settles into the
// High band and recommends SUMMARIZE_REPLAN.
func TestScenarioEDriftReplan(t *testing.T) {
	cfg := tunables.Default().Goal
	g := NewDNA("Implement JWT login endpoint")
	d := New(cfg)

	var last Result
	for i := 0; i < 5; i++ {
		action := "quantum physics discussion"
		relevance := g.SimilarityToText(action)
		last = d.Evaluate(StepSignals{
			GoalRelevance:   relevance,
			TopicDivergence: 1,
		})
	}
	require.Equal(t, SeverityHigh, last.Severity)
	require.Equal(t, ActionSummarizeReplan, last.Action)
}

// A run that combines zero relevance/full divergence with climbing
// budget pressure and accumulated surprise eventually fuses to a score in
// the Emergency band; ActionAskUser fires exactly once per low-relevance
// streak, then further Emergency-severity steps fall back to
// CheckpointReset until the streak resets (spec scenario E property: the
// emergency ask fires once, not on every subsequent step).
func TestDriftZeroSimilarityReachesEmergency(t *testing.T) {
	cfg := tunables.Default().Goal
	d := New(cfg)
	var askedCount int
	for i := 0; i < 10; i++ {
		ratio := float64(i) / 9
		r := d.Evaluate(StepSignals{
			GoalRelevance:       0,
			TopicDivergence:     1,
			BudgetRatio:         ratio,
			AccumulatedSurprise: ratio,
		})
		if r.Action == ActionAskUser {
			askedCount++
		}
	}
	require.Equal(t, 1, askedCount)
}

func TestQuarantineLikeLoopDetectorExactRepeat(t *testing.T) {
	cfg := tunables.Default().Goal
	det := NewDetector(cfg)
	var last LoopResult
	for i := 0; i < 3; i++ {
		last = det.Observe(Step{Description: "search web", Output: "no results"})
	}
	require.GreaterOrEqual(t, last.ActiveCount, 1)
}
