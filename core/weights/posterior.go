package weights

import "fmt"

// BetaPosterior models binary success/failure of a tool or model on a task
// type. Invariant: Alpha, Beta >= epsilon.
type BetaPosterior struct {
	Alpha float64
	Beta  float64
}

const posteriorEpsilon = 1e-6

// NewBetaPosterior returns a flat Beta(1,1) prior representing complete
// uncertainty.
func NewBetaPosterior() BetaPosterior {
	return BetaPosterior{Alpha: 1, Beta: 1}
}

// NewAnchoredBetaPosterior seeds a Beta posterior from an anchor prior in
// [0,1] with a confidence in [0,1] mapped to an effective pseudo-count
// between 2 and maxPseudocount. High-confidence anchors therefore resist
// early evidence.
func NewAnchoredBetaPosterior(anchor, confidence, maxPseudocount float64) BetaPosterior {
	confidence = clamp(confidence, 0, 1)
	pseudocount := 2 + confidence*(maxPseudocount-2)
	return BetaPosterior{
		Alpha: clampMin(anchor*pseudocount, posteriorEpsilon),
		Beta:  clampMin((1-anchor)*pseudocount, posteriorEpsilon),
	}
}

func clampMin(v, min float64) float64 {
	if v < min {
		return min
	}
	return v
}

// Mean returns alpha / (alpha + beta).
func (b BetaPosterior) Mean() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// Update applies a conjugate update: success increments Alpha, failure
// increments Beta.
func (b BetaPosterior) Update(success bool) BetaPosterior {
	if success {
		b.Alpha++
	} else {
		b.Beta++
	}
	return b
}

// Decay multiplies both parameters by rate (default 0.99) to model
// non-stationarity, never dropping below epsilon.
func (b BetaPosterior) Decay(rate float64) BetaPosterior {
	return BetaPosterior{
		Alpha: clampMin(b.Alpha*rate, posteriorEpsilon),
		Beta:  clampMin(b.Beta*rate, posteriorEpsilon),
	}
}

// Validate reports an invariant violation if either parameter has gone
// non-positive, which the orchestrator treats as a fatal session error.
func (b BetaPosterior) Validate() error {
	if b.Alpha <= 0 || b.Beta <= 0 {
		return fmt.Errorf("weights: invalid beta posterior alpha=%v beta=%v", b.Alpha, b.Beta)
	}
	return nil
}

// GammaPosterior models a tool's latency distribution.
type GammaPosterior struct {
	Shape float64
	Rate  float64
}

// NewGammaPosterior returns a weak Gamma(1, 1) prior.
func NewGammaPosterior() GammaPosterior {
	return GammaPosterior{Shape: 1, Rate: 1}
}

// Observe folds a latency observation (milliseconds) into the posterior,
// measured in seconds to keep the rate parameter at a human-legible scale.
func (g GammaPosterior) Observe(latencyMs float64) GammaPosterior {
	g.Shape++
	g.Rate += latencyMs / 1000
	return g
}

// Mean returns shape/rate, the expected latency in seconds.
func (g GammaPosterior) Mean() float64 {
	if g.Rate == 0 {
		return 0
	}
	return g.Shape / g.Rate
}
