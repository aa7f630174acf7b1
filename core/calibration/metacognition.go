package calibration

// AlertKind classifies a meta-cognition alert (spec §4.5).
type AlertKind string

const (
	AlertOscillation AlertKind = "oscillation"
	AlertStagnation  AlertKind = "stagnation"
	AlertDegradation AlertKind = "degradation"
)

// Alert carries a recommended learning-rate factor (for oscillation and
// stagnation) or is a bare warning (for degradation).
type Alert struct {
	Kind               AlertKind
	LearningRateFactor float64
}

// DetectOscillation scans a window of weight deltas (oldest first) for sign
// flips; more than 60% flips recommends halving the learning rate.
func (e *Engine) DetectOscillation(deltas []float64) (Alert, bool) {
	if len(deltas) < 2 {
		return Alert{}, false
	}
	flips := 0
	for i := 1; i < len(deltas); i++ {
		if sign(deltas[i]) != sign(deltas[i-1]) && deltas[i] != 0 && deltas[i-1] != 0 {
			flips++
		}
	}
	flipPct := float64(flips) / float64(len(deltas)-1)
	threshold := e.cfg.OscillationFlipPct
	if threshold == 0 {
		threshold = 0.6
	}
	if flipPct > threshold {
		return Alert{Kind: AlertOscillation, LearningRateFactor: 0.5}, true
	}
	return Alert{}, false
}

// DetectStagnation reports whether every delta in the window has magnitude
// below the configured threshold (default 0.02), recommending a doubled
// learning rate.
func (e *Engine) DetectStagnation(deltas []float64) (Alert, bool) {
	if len(deltas) == 0 {
		return Alert{}, false
	}
	threshold := e.cfg.StagnationThreshold
	if threshold == 0 {
		threshold = 0.02
	}
	for _, d := range deltas {
		if absF(d) >= threshold {
			return Alert{}, false
		}
	}
	return Alert{Kind: AlertStagnation, LearningRateFactor: 2.0}, true
}

// DetectDegradation fits a simple linear regression slope over domain's ECE
// history and warns when the trend is increasing (getting worse).
func (e *Engine) DetectDegradation(domain string) (Alert, bool) {
	e.mu.Lock()
	d, ok := e.domains[domain]
	var history []float64
	if ok {
		history = append(history, d.eceHistory...)
	}
	e.mu.Unlock()
	if !ok || len(history) < 2 {
		return Alert{}, false
	}
	slope := linearSlope(history)
	if slope > 0 {
		return Alert{Kind: AlertDegradation}, true
	}
	return Alert{}, false
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// linearSlope computes the OLS slope of y over equally spaced x = 0..n-1.
func linearSlope(y []float64) float64 {
	n := float64(len(y))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
