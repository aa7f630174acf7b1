package context

import (
	"math"
	"strings"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// ImportanceInputs bundles the six raw factors Importance blends.
type ImportanceInputs struct {
	RecencySteps       int     // steps since insertion
	GoalKeywordOverlap float64 // keyword overlap with current goal, in [0,1]
	Causal             bool    // decision/error flag
	ReferenceCount     int
	SuccessCorrelation float64 // in [0,1]
	DomainProfileMatch float64 // in [0,1], how well the item matches learned domain patterns
}

// Importance blends the six factors with cfg.ImportanceWeights
// (recency/goal/causal/reference/success/domain, default
// 0.25/0.25/0.20/0.10/0.10/0.10).
func Importance(cfg tunables.ContextConfig, in ImportanceInputs) float64 {
	w := cfg.ImportanceWeights
	if w == ([6]float64{}) {
		w = [6]float64{0.25, 0.25, 0.20, 0.10, 0.10, 0.10}
	}
	halfLife := cfg.RecencyHalfLifeSteps
	if halfLife <= 0 {
		halfLife = 30
	}
	recency := math.Exp(-math.Ln2 * float64(in.RecencySteps) / halfLife)

	causal := 0.0
	if in.Causal {
		causal = 1.0
	}
	referenceScore := clamp01(float64(in.ReferenceCount) / 5.0)

	score := w[0]*recency + w[1]*clamp01(in.GoalKeywordOverlap) + w[2]*causal +
		w[3]*referenceScore + w[4]*clamp01(in.SuccessCorrelation) + w[5]*clamp01(in.DomainProfileMatch)
	return clamp01(score)
}

// GoalKeywordOverlap computes the fraction of goalKeywords that appear in
// text, a cheap proxy for the importance scorer's goal-relevance factor
// that does not require the full Goal-DNA apparatus.
func GoalKeywordOverlap(text string, goalKeywords []string) float64 {
	if len(goalKeywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, kw := range goalKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	return float64(hits) / float64(len(goalKeywords))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
