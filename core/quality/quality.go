// Package quality implements the Population Quality Estimator (spec §4.7):
// aggregation of many lightweight evaluators into a consensus value,
// agreement score, and overall confidence, further blended with goal
// quality, surprise, and calibration signals into a single composite
// confidence that drives a recommended action.
package quality

import (
	"math"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// Evaluation is one lightweight evaluator's output.
type Evaluation struct {
	Name       string
	Value      float64
	Confidence float64
}

// Population is the fused result of many Evaluations.
type Population struct {
	Consensus  float64
	Agreement  float64
	Confidence float64
}

// Aggregate folds evals into a Population per spec §4.7 steps 1-4: outlier
// confidence dampening, weighted consensus, agreement from weighted
// variance, and overall confidence as mean(confidence)*agreement.
func Aggregate(cfg tunables.QualityConfig, evals []Evaluation) Population {
	if len(evals) == 0 {
		return Population{}
	}
	adjusted := make([]Evaluation, len(evals))
	copy(adjusted, evals)

	mu, sigma := meanStd(values(adjusted))
	zThreshold := cfg.OutlierZScore
	if zThreshold == 0 {
		zThreshold = 2.0
	}
	mul := cfg.OutlierConfidenceMul
	if mul == 0 {
		mul = 0.2
	}
	if sigma > 0 {
		for i := range adjusted {
			z := (adjusted[i].Value - mu) / sigma
			if math.Abs(z) > zThreshold {
				adjusted[i].Confidence *= mul
			}
		}
	}

	sumC, sumCV := 0.0, 0.0
	for _, e := range adjusted {
		sumC += e.Confidence
		sumCV += e.Confidence * e.Value
	}
	consensus := 0.0
	if sumC > 0 {
		consensus = sumCV / sumC
	}

	var sumCD2 float64
	for _, e := range adjusted {
		d := e.Value - consensus
		sumCD2 += e.Confidence * d * d
	}
	agreement := 1.0
	if sumC > 0 {
		agreement = 1 - 2*math.Sqrt(sumCD2/sumC)
	}
	agreement = clamp01(agreement)

	meanConfidence := 0.0
	for _, e := range adjusted {
		meanConfidence += e.Confidence
	}
	meanConfidence /= float64(len(adjusted))

	return Population{
		Consensus:  consensus,
		Agreement:  agreement,
		Confidence: meanConfidence * agreement,
	}
}

// Action is the recommended response given a composite confidence.
type Action string

const (
	ActionEscalateHuman    Action = "escalate_to_human"
	ActionEscalateSystem2  Action = "escalate_to_system2"
	ActionRetryStronger    Action = "retry_stronger_model"
	ActionVerifyOutput     Action = "verify_output"
	ActionProceedConfident Action = "proceed_confident"
	ActionProceed          Action = "proceed"
)

// Signals bundles the four inputs weighted into the composite confidence.
type Signals struct {
	LLMSelfReport float64
	Population    float64
	Calibration   float64
	Surprise      float64
}

// Composite blends s's four signals into a single confidence value using
// cfg's weights, auto-normalized so the weights need not sum to 1.
func Composite(cfg tunables.QualityConfig, s Signals) float64 {
	wl, wp, wc, ws := cfg.WeightLLMSelfReport, cfg.WeightPopulation, cfg.WeightCalibration, cfg.WeightSurprise
	if wl == 0 && wp == 0 && wc == 0 && ws == 0 {
		wl, wp, wc, ws = 0.30, 0.30, 0.25, 0.15
	}
	total := wl + wp + wc + ws
	if total == 0 {
		return 0
	}
	// Surprise is an error signal: higher surprise should lower confidence,
	// so it contributes (1-surprise) to the weighted mean.
	return (wl*s.LLMSelfReport + wp*s.Population + wc*s.Calibration + ws*(1-s.Surprise)) / total
}

// Recommend maps a composite confidence and the population agreement to the
// recommended Action per spec §4.7's decision table, evaluated in
// escalate-first priority order.
func Recommend(cfg tunables.QualityConfig, confidence, agreement float64) Action {
	humanUrgency := cfg.EscalateHumanUrgency
	if humanUrgency == 0 {
		humanUrgency = 0.7
	}
	sys2 := cfg.EscalateSystem2
	if sys2 == 0 {
		sys2 = 0.5
	}
	retryMax := cfg.RetryStrongerMax
	if retryMax == 0 {
		retryMax = 0.3
	}
	verifyMax := cfg.VerifyAgreementMax
	if verifyMax == 0 {
		verifyMax = 0.4
	}
	proceedMin := cfg.ProceedConfidentMin
	if proceedMin == 0 {
		proceedMin = 0.8
	}
	proceedAgr := cfg.ProceedConfidentAgr
	if proceedAgr == 0 {
		proceedAgr = 0.7
	}

	urgency := 1 - confidence
	switch {
	case urgency >= humanUrgency:
		return ActionEscalateHuman
	case urgency >= sys2:
		return ActionEscalateSystem2
	case confidence < retryMax:
		return ActionRetryStronger
	case agreement < verifyMax:
		return ActionVerifyOutput
	case confidence >= proceedMin && agreement >= proceedAgr:
		return ActionProceedConfident
	default:
		return ActionProceed
	}
}

func values(evals []Evaluation) []float64 {
	out := make([]float64, len(evals))
	for i, e := range evals {
		out[i] = e.Value
	}
	return out
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(xs)))
	return mean, std
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
