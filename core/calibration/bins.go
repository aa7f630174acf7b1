package calibration

import "math"

const numBins = 10

func newBins(width float64) []bin {
	if width <= 0 {
		width = 0.1
	}
	n := int(math.Round(1 / width))
	if n <= 0 {
		n = numBins
	}
	bins := make([]bin, n)
	for i := range bins {
		bins[i] = bin{lo: float64(i) * width, hi: float64(i+1) * width}
	}
	return bins
}

func (d *domainState) binFor(p float64) *bin {
	for i := range d.bins {
		if p < d.bins[i].hi || i == len(d.bins)-1 {
			return &d.bins[i]
		}
	}
	return &d.bins[len(d.bins)-1]
}

// Trusted reports whether a bin has at least the configured minimum
// observation count (default 5).
func (b bin) Trusted(minObs int) bool {
	return len(b.outcomes) >= minObs
}

func (b bin) empiricalFrequency() float64 {
	if len(b.outcomes) == 0 {
		return 0
	}
	n := 0
	for _, ok := range b.outcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(b.outcomes))
}

func (b bin) meanPredicted() float64 {
	if len(b.outcomes) == 0 {
		return 0
	}
	return b.sumPredicted / float64(len(b.outcomes))
}

// domainFor returns (creating if needed) the domainState for name.
func (e *Engine) domainFor(name string) *domainState {
	d, ok := e.domains[name]
	if !ok {
		d = &domainState{bins: newBins(e.cfg.BinWidth)}
		e.domains[name] = d
	}
	return d
}

// RecordBin folds one (predicted probability, observed boolean outcome)
// observation into the domain's bins and, every CalibrationInterval
// observations, runs a calibration cycle.
func (e *Engine) RecordBin(domain string, predictedP float64, observed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.domainFor(domain)
	b := d.binFor(clamp01(predictedP))
	b.sumPredicted += predictedP
	b.outcomes = append(b.outcomes, observed)

	d.observations++
	d.sinceLastCal++
	interval := e.cfg.CalibrationInterval
	if interval <= 0 {
		interval = 20
	}
	if d.sinceLastCal >= interval {
		d.sinceLastCal = 0
		e.runCalibrationCycleLocked(domain, d)
	}
}

// ECE computes Σ_b (n_b/N)·|mean_predicted_b − empirical_freq_b| for domain.
func (e *Engine) ECE(domain string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.domains[domain]
	if !ok {
		return 0
	}
	return eceOf(d)
}

func eceOf(d *domainState) float64 {
	total := 0
	for _, b := range d.bins {
		total += len(b.outcomes)
	}
	if total == 0 {
		return 0
	}
	ece := 0.0
	for _, b := range d.bins {
		if len(b.outcomes) == 0 {
			continue
		}
		weight := float64(len(b.outcomes)) / float64(total)
		ece += weight * absF(b.meanPredicted()-b.empiricalFrequency())
	}
	return ece
}

// runCalibrationCycleLocked recomputes ECE, fits Platt parameters by
// gradient descent over the bin summaries, and appends to the ECE history.
// Caller must hold e.mu.
func (e *Engine) runCalibrationCycleLocked(domain string, d *domainState) {
	ece := eceOf(d)
	d.eceHistory = append(d.eceHistory, ece)
	const eceHistoryCap = 200
	if over := len(d.eceHistory) - eceHistoryCap; over > 0 {
		d.eceHistory = d.eceHistory[over:]
	}
	iterations := e.cfg.PlattIterations
	if iterations <= 0 {
		iterations = 20
	}
	lr := e.cfg.PlattLearningRate
	if lr <= 0 {
		lr = 0.1
	}
	d.platt = fitPlattParams(d.bins, iterations, lr)
}

// ECEAlarm reports whether domain's latest ECE exceeds the alarm threshold
// (default 0.15).
func (e *Engine) ECEAlarm(domain string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.domains[domain]
	if !ok || len(d.eceHistory) == 0 {
		return false
	}
	threshold := e.cfg.ECEAlarmThreshold
	if threshold == 0 {
		threshold = 0.15
	}
	return d.eceHistory[len(d.eceHistory)-1] > threshold
}

// Platt returns the last-fit Platt parameters for domain.
func (e *Engine) Platt(domain string) PlattParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.domains[domain]
	if !ok {
		return PlattParams{A: 1, B: 0}
	}
	return d.platt
}

// Adjust applies Platt rescaling: sigmoid(a*rawP + b), bounded strictly into
// (epsilon, 1-epsilon) per spec property 9.
func (e *Engine) Adjust(domain string, rawP float64) float64 {
	p := e.Platt(domain)
	eps := e.cfg.PlattEpsilon
	if eps <= 0 {
		eps = 1e-4
	}
	adjusted := sigmoid(p.A*rawP + p.B)
	if adjusted <= eps {
		adjusted = eps
	}
	if adjusted >= 1-eps {
		adjusted = 1 - eps
	}
	return adjusted
}

// fitPlattParams fits (a,b) by gradient descent minimizing MSE between
// sigmoid(a*meanPredicted_b + b) and empiricalFrequency_b across bins,
// weighted by each bin's observation count.
func fitPlattParams(bins []bin, iterations int, lr float64) PlattParams {
	a, b := 1.0, 0.0
	type sample struct {
		x, y   float64
		weight float64
	}
	var samples []sample
	for _, bn := range bins {
		if len(bn.outcomes) == 0 {
			continue
		}
		samples = append(samples, sample{x: bn.meanPredicted(), y: bn.empiricalFrequency(), weight: float64(len(bn.outcomes))})
	}
	if len(samples) == 0 {
		return PlattParams{A: 1, B: 0}
	}
	totalWeight := 0.0
	for _, s := range samples {
		totalWeight += s.weight
	}
	for iter := 0; iter < iterations; iter++ {
		var gradA, gradB float64
		for _, s := range samples {
			pred := sigmoid(a*s.x + b)
			err := pred - s.y
			deriv := pred * (1 - pred)
			gradA += 2 * err * deriv * s.x * s.weight / totalWeight
			gradB += 2 * err * deriv * s.weight / totalWeight
		}
		a -= lr * gradA
		b -= lr * gradB
	}
	return PlattParams{A: a, B: b}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
