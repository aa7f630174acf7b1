// Package calibration implements the prediction/calibration feedback loop
// (spec §4.5): Prediction records matched against Outcomes to produce
// Surprise signals, ten calibration bins per domain, Expected Calibration
// Error, and Platt rescaling fit by gradient descent, plus meta-cognition
// alerts over the weight-update and ECE history.
package calibration

import (
	"sync"

	"github.com/google/uuid"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// OutcomeRank mirrors spec §9 open question (iii): a fixed rank table used
// to compute Δrank, normalized to [0,1] by dividing by 4.
type OutcomeRank int

const (
	RankFailure   OutcomeRank = 0
	RankTimeout   OutcomeRank = 1
	RankUnexpected OutcomeRank = 2
	RankPartial   OutcomeRank = 3
	RankSuccess   OutcomeRank = 4
)

const maxRank = 4

// Prediction is an opaque prediction record bound to an expected outcome.
type Prediction struct {
	ID               string
	ExpectedRank     OutcomeRank
	Confidence       float64
	PredictedLatency float64 // ms
	PredictedQuality float64
	Tool             string
	Model            string
	Domain           string
	matched          bool
}

// Outcome is the actual result matched against a Prediction.
type Outcome struct {
	ActualRank    OutcomeRank
	ActualLatency float64 // ms
	ActualQuality float64
}

// Surprise is the prediction-error signal produced by matching a Prediction
// with an Outcome.
type Surprise struct {
	Magnitude      float64
	Direction      float64
	LearningSignal float64
}

// Engine owns in-flight predictions, per-domain calibration bins, and the
// meta-cognition history.
type Engine struct {
	cfg tunables.CalibrationConfig

	mu          sync.Mutex
	predictions map[string]*Prediction
	domains     map[string]*domainState

	surpriseWindow []float64 // most recent surprise magnitudes, for the router's signal (a)
}

type domainState struct {
	bins          []bin
	observations  int
	sinceLastCal  int
	eceHistory    []float64
	platt         PlattParams
}

type bin struct {
	lo, hi           float64
	sumPredicted     float64
	outcomes         []bool // true = success-class outcome
}

// PlattParams is the (a,b) pair in adjusted_p = sigmoid(a*raw_p + b).
type PlattParams struct {
	A float64
	B float64
}

// New returns an Engine configured with cfg. Use tunables.Default().Calibration
// for the spec defaults.
func New(cfg tunables.CalibrationConfig) *Engine {
	return &Engine{
		cfg:         cfg,
		predictions: make(map[string]*Prediction),
		domains:     make(map[string]*domainState),
	}
}

// Predict emits a new Prediction record, returning its opaque id.
func (e *Engine) Predict(domain string, expected OutcomeRank, confidence, predictedLatency, predictedQuality float64, tool, model string) *Prediction {
	p := &Prediction{
		ID:               uuid.NewString(),
		ExpectedRank:     expected,
		Confidence:       clamp01(confidence),
		PredictedLatency: predictedLatency,
		PredictedQuality: clamp01(predictedQuality),
		Tool:             tool,
		Model:            model,
		Domain:           domain,
	}
	e.mu.Lock()
	e.predictions[p.ID] = p
	e.mu.Unlock()
	return p
}

// Compare matches a Prediction with its Outcome, producing a Surprise and
// retiring the prediction. A Prediction already matched is a no-op
// returning (Surprise{}, false), never corrupting state (spec property 8).
func (e *Engine) Compare(predictionID string, outcome Outcome) (Surprise, bool) {
	e.mu.Lock()
	p, ok := e.predictions[predictionID]
	if !ok || p.matched {
		e.mu.Unlock()
		return Surprise{}, false
	}
	p.matched = true
	delete(e.predictions, predictionID)
	e.mu.Unlock()

	s := computeSurprise(p, outcome)

	const surpriseWindowSize = 10
	e.mu.Lock()
	e.surpriseWindow = append(e.surpriseWindow, s.Magnitude)
	if over := len(e.surpriseWindow) - surpriseWindowSize; over > 0 {
		e.surpriseWindow = e.surpriseWindow[over:]
	}
	e.mu.Unlock()

	e.RecordBin(p.Domain, p.Confidence, outcome.ActualRank == RankSuccess || outcome.ActualRank == RankPartial)
	return s, true
}

func computeSurprise(p *Prediction, o Outcome) Surprise {
	deltaRank := absF(float64(o.ActualRank-p.ExpectedRank)) / maxRank
	deltaLatency := deltaLogLatency(p.PredictedLatency, o.ActualLatency)
	deltaQuality := absF(o.ActualQuality - p.PredictedQuality)

	magnitude := 0.5*deltaRank + 0.2*deltaLatency + 0.3*deltaQuality
	magnitude = clamp01(magnitude)

	direction := 1.0
	if float64(o.ActualRank) < float64(p.ExpectedRank) || o.ActualQuality < p.PredictedQuality {
		direction = -1.0
	}
	if float64(o.ActualRank) == float64(p.ExpectedRank) && o.ActualQuality == p.PredictedQuality {
		direction = 0
	}

	learningSignal := tanh(magnitude * p.Confidence * 2)

	return Surprise{Magnitude: magnitude, Direction: direction, LearningSignal: learningSignal}
}

func deltaLogLatency(predicted, actual float64) float64 {
	if predicted <= 0 {
		predicted = 1
	}
	if actual <= 0 {
		actual = 1
	}
	d := logF(actual) - logF(predicted)
	return clamp01(absF(d) / 5) // normalize: a 5-nat swing saturates the signal
}

// AverageSurprise returns the mean of the surprise-magnitude window, feeding
// the router's signal (a).
func (e *Engine) AverageSurprise() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return mean(e.surpriseWindow)
}
