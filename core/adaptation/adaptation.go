// Package adaptation implements stage 1 of the turn pipeline (spec §4.1):
// implicit-feedback signal detection over the incoming user message, and the
// rapid/sustained habituation filters that turn a detected signal into a
// weight-update strength.
package adaptation

import (
	"strings"
	"time"
)

// SignalKind classifies a detected implicit-feedback signal.
type SignalKind string

const (
	SignalCorrection      SignalKind = "correction"
	SignalFrustration     SignalKind = "frustration"
	SignalSatisfaction    SignalKind = "satisfaction"
	SignalBrevityPref     SignalKind = "brevity_preference"
	SignalDetailPref      SignalKind = "detail_preference"
	SignalSpeedPref       SignalKind = "speed_preference"
)

// Signal is one implicit-feedback detection.
type Signal struct {
	Kind       SignalKind
	Value      string // the specific value detected, e.g. a preference level
	Confidence float64
}

// patternRule matches a message substring to a signal kind, with a base
// confidence that context-aware weighting adjusts.
type patternRule struct {
	kind       SignalKind
	value      string
	phrases    []string
	confidence float64
}

var rules = []patternRule{
	{SignalCorrection, "correction", []string{"no, i meant", "that's not right", "not what i asked", "actually i wanted", "incorrect"}, 0.85},
	{SignalFrustration, "frustration", []string{"this isn't working", "still wrong", "you already", "i already told you", "frustrat"}, 0.8},
	{SignalSatisfaction, "satisfaction", []string{"perfect", "exactly what i needed", "great, thanks", "that works", "well done"}, 0.75},
	{SignalBrevityPref, "brief", []string{"keep it short", "briefly", "tl;dr", "too long", "shorter"}, 0.8},
	{SignalDetailPref, "detailed", []string{"more detail", "explain further", "elaborate", "go deeper"}, 0.75},
	{SignalSpeedPref, "fast", []string{"quickly", "asap", "just give me", "don't overthink"}, 0.7},
}

// confidenceThreshold is the minimum confidence a rule match needs to
// produce a Signal (spec §4.1 stage 1).
const confidenceThreshold = 0.7

// Detect scans message for implicit-feedback patterns with context-aware
// weighting: a rule's confidence is boosted slightly when the message is
// short (a terse follow-up reads as a stronger signal than a long one).
func Detect(message string) []Signal {
	lower := strings.ToLower(message)
	shortMessageBonus := 0.0
	if len(strings.Fields(message)) <= 6 {
		shortMessageBonus = 0.05
	}

	var out []Signal
	for _, r := range rules {
		for _, phrase := range r.phrases {
			if strings.Contains(lower, phrase) {
				conf := r.confidence + shortMessageBonus
				if conf > 1 {
					conf = 1
				}
				if conf >= confidenceThreshold {
					out = append(out, Signal{Kind: r.kind, Value: r.value, Confidence: conf})
				}
				break
			}
		}
	}
	return out
}

// FilteredSignal is a Signal after both adaptation filters have been
// applied, carrying the conservative (minimum) weight the orchestrator
// should use for the downstream weight update.
type FilteredSignal struct {
	Signal
	Weight float64
}

// Filters bundles the rapid and sustained habituation filters the
// orchestrator runs in parallel per detected signal (spec §4.1 stage 1).
type Filters struct {
	rapid     map[SignalKind]*rapidState
	sustained map[SignalKind]*sustainedState
}

// NewFilters returns an empty Filters set, one rapid/sustained pair per
// signal kind allocated lazily on first observation.
func NewFilters() *Filters {
	return &Filters{
		rapid:     make(map[SignalKind]*rapidState),
		sustained: make(map[SignalKind]*sustainedState),
	}
}

// Apply runs both filters over signal and returns the conservative
// (minimum) of the two weights, per spec §4.1 stage 1.
func (f *Filters) Apply(signal Signal, now time.Time) FilteredSignal {
	rapidWeight := f.rapidWeight(signal, now)
	sustainedWeight := f.sustainedWeight(signal, now)
	weight := rapidWeight
	if sustainedWeight < weight {
		weight = sustainedWeight
	}
	return FilteredSignal{Signal: signal, Weight: weight}
}

// rapidState implements the rapid filter: a 2x novelty bonus on first
// sight of a value, geometric decay at rate 0.5 per repeat of the same
// value, reset when the value changes.
type rapidState struct {
	lastValue string
	weight    float64
	seen      bool
}

func (f *Filters) rapidWeight(s Signal, now time.Time) float64 {
	_ = now
	rs, ok := f.rapid[s.Kind]
	if !ok {
		rs = &rapidState{}
		f.rapid[s.Kind] = rs
	}
	if !rs.seen || rs.lastValue != s.Value {
		rs.seen = true
		rs.lastValue = s.Value
		rs.weight = clamp01(s.Confidence * 2)
		return rs.weight
	}
	rs.weight *= 0.5
	return rs.weight
}

// sustainedState implements the sustained filter: linear decay to 0.2
// over 8 identical repetitions, then full habituation (weight 0) until
// either the value changes or a 300s recovery interval elapses.
type sustainedState struct {
	lastValue    string
	repeatCount  int
	lastObserved time.Time
	habituated   bool
}

const (
	sustainedRepeatsToFloor = 8
	sustainedFloor          = 0.2
	recoveryInterval        = 300 * time.Second
)

func (f *Filters) sustainedWeight(s Signal, now time.Time) float64 {
	ss, ok := f.sustained[s.Kind]
	if !ok {
		ss = &sustainedState{}
		f.sustained[s.Kind] = ss
	}

	if ss.habituated {
		recovered := !ss.lastObserved.IsZero() && now.Sub(ss.lastObserved) >= recoveryInterval
		if ss.lastValue != s.Value || recovered {
			ss.habituated = false
			ss.repeatCount = 0
		} else {
			ss.lastObserved = now
			return 0
		}
	}

	if ss.lastValue != s.Value {
		ss.lastValue = s.Value
		ss.repeatCount = 0
	}
	ss.repeatCount++
	ss.lastObserved = now

	if ss.repeatCount >= sustainedRepeatsToFloor {
		ss.habituated = true
		return sustainedFloor
	}

	// Linear decay from confidence down to the floor over 8 repeats.
	frac := float64(ss.repeatCount-1) / float64(sustainedRepeatsToFloor-1)
	return clamp01(s.Confidence - frac*(s.Confidence-sustainedFloor))
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
