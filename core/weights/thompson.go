package weights

import (
	"math"
	"math/rand"
)

// Candidate is one tool eligible for selection by BestToolThompson.
type Candidate struct {
	Name string
}

// BestToolThompson draws one sample from each candidate's Beta posterior and
// returns the argmax. With a non-zero speed weight the score blends the
// quality sample against an exponentially mapped latency term: score =
// (1-speedWeight)*qualitySample + speedWeight*exp(-meanLatencyMs/1000).
func (e *Engine) BestToolThompson(candidates []Candidate, speedWeight float64, src *rand.Rand) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	if src == nil {
		e.randMu.Lock()
		defer e.randMu.Unlock()
		src = e.rand
	}
	speedWeight = clamp(speedWeight, 0, 1)

	best := ""
	bestScore := math.Inf(-1)
	for _, c := range candidates {
		ts := e.toolStateFor(c.Name)
		ts.mu.Lock()
		beta := ts.Beta
		gammaMean := ts.Gamma.Mean()
		ts.mu.Unlock()

		qualitySample := sampleBeta(beta.Alpha, beta.Beta, src)
		score := qualitySample
		if speedWeight > 0 {
			latencySample := math.Exp(-gammaMean * 1000 / 1000)
			score = (1-speedWeight)*qualitySample + speedWeight*latencySample
		}
		if score > bestScore {
			bestScore = score
			best = c.Name
		}
	}
	return best, best != ""
}

// sampleBeta draws from Beta(alpha, beta) using the standard
// Gamma(alpha)/(Gamma(alpha)+Gamma(beta)) construction.
func sampleBeta(alpha, beta float64, src *rand.Rand) float64 {
	x := sampleGamma(alpha, src)
	y := sampleGamma(beta, src)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using Marsaglia-Tsang for shape>=1
// and a boosting transform for shape<1.
func sampleGamma(shape float64, src *rand.Rand) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := src.Float64()
		return sampleGamma(shape+1, src) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = src.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := src.Float64()
		if u < 1-0.0331*(x*x*x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
