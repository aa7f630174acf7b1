package weights

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// WeightUpdate records one applied update for the ring buffer and for
// decision replay.
type WeightUpdate struct {
	Category     Category
	Key          string
	Delta        float64
	AppliedDelta float64
	Source       string
	Reason       string
	At           time.Time
}

type keyState struct {
	mu       sync.Mutex
	value    float64
	momentum float64
}

// ToolState bundles the per-tool learning state: the Beta posterior over
// success/failure, the Gamma posterior over latency, and the EMA preference
// plus consecutive streak counters the availability filter and Thompson
// sampler use.
type ToolState struct {
	mu                sync.Mutex
	Beta              BetaPosterior
	Gamma             GammaPosterior
	EMAPreference     float64
	ConsecutiveOK      int
	ConsecutiveFail    int
	RecentOutcomes    []bool // ring of recent outcomes, most recent last
	LongWindowSuccess float64
	LongWindowTotal   float64
}

const recentOutcomesWindow = 20

// Engine holds every weight category map plus per-tool posteriors for one
// session (or, for the opt-in global aggregator, the process). Locking is
// fine-grained: acquiring a key's own mutex never requires holding another
// key's mutex, and the engine-level map mutex (mu) is always acquired before
// a key mutex, never after (engine-major, key-minor).
type Engine struct {
	mu    sync.RWMutex
	cfg   tunables.WeightsConfig
	state map[Category]map[string]*keyState
	tools map[string]*ToolState

	ringMu sync.Mutex
	ring   []WeightUpdate

	randMu sync.Mutex
	rand   *rand.Rand
}

// New returns an Engine configured with cfg. Use tunables.Default().Weights
// for the spec defaults.
func New(cfg tunables.WeightsConfig) *Engine {
	e := &Engine{
		cfg:   cfg,
		state: make(map[Category]map[string]*keyState),
		tools: make(map[string]*ToolState),
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, c := range []Category{
		CategoryBehavioral, CategoryToolPreference, CategoryModelSelection,
		CategoryGoalAlignment, CategoryUserInsight, CategoryEnterprise, CategoryGlobal,
	} {
		e.state[c] = make(map[string]*keyState)
	}
	if e.cfg.RingBufferSize <= 0 {
		e.cfg.RingBufferSize = 2048
	}
	return e
}

func (e *Engine) keyStateFor(category Category, key string) *keyState {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.state[category]
	if !ok {
		m = make(map[string]*keyState)
		e.state[category] = m
	}
	ks, ok := m[key]
	if !ok {
		ks = &keyState{value: 0.5 * signOffset(category)}
		m[key] = ks
	}
	return ks
}

// signOffset gives behavioral weights a neutral zero start and every other
// category a neutral 0.5 start, matching each category's clamp range.
func signOffset(c Category) float64 {
	if c == CategoryBehavioral {
		return 0
	}
	return 1
}

// Update applies lr*delta with momentum (0.7 of the last applied delta) then
// a homeostatic pull toward zero, clamps to the category's range, and
// records a WeightUpdate event. Returns the delta actually applied.
func (e *Engine) Update(category Category, key string, delta float64, source, reason string) float64 {
	lr := e.cfg.LearningRates[string(category)]
	if lr == 0 {
		lr = 0.05
	}
	ks := e.keyStateFor(category, key)

	ks.mu.Lock()
	raw := lr*delta + e.cfg.MomentumFactor*ks.momentum
	next := ks.value + raw
	next -= e.cfg.HomeostaticPull * ks.value
	lo, hi := category.bounds()
	next = clamp(next, lo, hi)
	applied := next - ks.value
	ks.value = next
	ks.momentum = applied
	ks.mu.Unlock()

	e.record(WeightUpdate{Category: category, Key: key, Delta: delta, AppliedDelta: applied, Source: source, Reason: reason})
	return applied
}

// Value returns the current effective value for a key, without the
// modulator overlay (applied separately by core/reputation's Modulator).
func (e *Engine) Value(category Category, key string) float64 {
	ks := e.keyStateFor(category, key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.value
}

// Seed sets the initial value for a key from an anchor prior, used the
// first time a key is seen (spec §4.2 anchor initialization). It does not
// go through Update's momentum/homeostatic path since it is not a delta.
func (e *Engine) Seed(category Category, key string, anchor float64) {
	lo, hi := category.bounds()
	ks := e.keyStateFor(category, key)
	ks.mu.Lock()
	ks.value = clamp(anchor, lo, hi)
	ks.mu.Unlock()
}

// BatchUpdate is a named (category,key,delta,source,reason) tuple for
// ApplyUpdateBatch.
type BatchUpdate struct {
	Category Category
	Key      string
	Delta    float64
	Source   string
	Reason   string
}

// ApplyUpdateBatch applies every update atomically: validated upfront, then
// applied in one pass per engine so a partial failure cannot leave some
// updates applied and others not.
func (e *Engine) ApplyUpdateBatch(updates []BatchUpdate) (map[string]float64, error) {
	for _, u := range updates {
		if u.Key == "" {
			return nil, fmt.Errorf("weights: batch update missing key for category %s", u.Category)
		}
	}
	applied := make(map[string]float64, len(updates))
	for _, u := range updates {
		applied[string(u.Category)+"."+u.Key] = e.Update(u.Category, u.Key, u.Delta, u.Source, u.Reason)
	}
	return applied, nil
}

func (e *Engine) record(ev WeightUpdate) {
	ev.At = time.Now()
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	e.ring = append(e.ring, ev)
	if over := len(e.ring) - e.cfg.RingBufferSize; over > 0 {
		e.ring = e.ring[over:]
	}
}

// RecentUpdates returns a copy of the ring buffer, oldest first.
func (e *Engine) RecentUpdates() []WeightUpdate {
	e.ringMu.Lock()
	defer e.ringMu.Unlock()
	out := make([]WeightUpdate, len(e.ring))
	copy(out, e.ring)
	return out
}

func (e *Engine) toolStateFor(tool string) *ToolState {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.tools[tool]
	if !ok {
		ts = &ToolState{Beta: NewBetaPosterior(), Gamma: NewGammaPosterior()}
		e.tools[tool] = ts
	}
	return ts
}

// RecordToolOutcome updates the Beta posterior (conjugate), the Gamma
// latency posterior, the EMA preference (with loss-averse depression on
// failure), and the consecutive streak counters for tool.
func (e *Engine) RecordToolOutcome(tool string, success bool, latencyMs float64) {
	ts := e.toolStateFor(tool)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.Beta = ts.Beta.Update(success)
	ts.Gamma = ts.Gamma.Observe(latencyMs)

	ts.RecentOutcomes = append(ts.RecentOutcomes, success)
	if over := len(ts.RecentOutcomes) - recentOutcomesWindow; over > 0 {
		ts.RecentOutcomes = ts.RecentOutcomes[over:]
	}
	ts.LongWindowTotal++
	if success {
		ts.LongWindowSuccess++
		ts.ConsecutiveOK++
		ts.ConsecutiveFail = 0
		ts.EMAPreference += 0.1 * (1 - ts.EMAPreference)
	} else {
		ts.ConsecutiveFail++
		ts.ConsecutiveOK = 0
		// Loss-averse depression: prospect theory penalizes losses by the
		// loss-aversion factor relative to an equivalent gain.
		penalty := 0.1 * e.cfg.LossAversionFactor
		ts.EMAPreference -= penalty * ts.EMAPreference
	}
	ts.EMAPreference = clamp(ts.EMAPreference, 0, 1)
}

// ToolSnapshot is the read-only view of a tool's learning state.
type ToolSnapshot struct {
	Beta              BetaPosterior
	Gamma             GammaPosterior
	EMAPreference     float64
	ConsecutiveOK     int
	ConsecutiveFail   int
	Anomalous         bool
}

// ToolSnapshotFor returns a snapshot including the availability filter's
// anomaly flag: recent-window success rate deviating from the long-window
// rate by more than the configured threshold.
func (e *Engine) ToolSnapshotFor(tool string) ToolSnapshot {
	ts := e.toolStateFor(tool)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	recentRate := windowRate(ts.RecentOutcomes)
	longRate := 0.0
	if ts.LongWindowTotal > 0 {
		longRate = ts.LongWindowSuccess / ts.LongWindowTotal
	}
	threshold := e.cfg.AvailabilityDeviationThreshold
	if threshold == 0 {
		threshold = 0.3
	}
	anomalous := len(ts.RecentOutcomes) > 0 && absF(recentRate-longRate) > threshold

	return ToolSnapshot{
		Beta:            ts.Beta,
		Gamma:           ts.Gamma,
		EMAPreference:   ts.EMAPreference,
		ConsecutiveOK:   ts.ConsecutiveOK,
		ConsecutiveFail: ts.ConsecutiveFail,
		Anomalous:       anomalous,
	}
}

func windowRate(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	n := 0
	for _, ok := range outcomes {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(outcomes))
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// EngineSnapshot is the deterministic serialization of an Engine, used by
// the session-level Snapshot/Restore contract (spec §6).
type EngineSnapshot struct {
	Weights map[Category]map[string]struct {
		Value    float64 `json:"value"`
		Momentum float64 `json:"momentum"`
	} `json:"weights"`
	Tools map[string]ToolSnapshot `json:"tools"`
}

// Snapshot returns a deterministic, deep-copied view of the engine's state.
func (e *Engine) Snapshot() EngineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := EngineSnapshot{Weights: make(map[Category]map[string]struct {
		Value    float64 `json:"value"`
		Momentum float64 `json:"momentum"`
	}), Tools: make(map[string]ToolSnapshot)}

	for cat, keys := range e.state {
		m := make(map[string]struct {
			Value    float64 `json:"value"`
			Momentum float64 `json:"momentum"`
		}, len(keys))
		for k, ks := range keys {
			ks.mu.Lock()
			m[k] = struct {
				Value    float64 `json:"value"`
				Momentum float64 `json:"momentum"`
			}{Value: ks.value, Momentum: ks.momentum}
			ks.mu.Unlock()
		}
		snap.Weights[cat] = m
	}
	for name, ts := range e.tools {
		ts.mu.Lock()
		snap.Tools[name] = ToolSnapshot{Beta: ts.Beta, Gamma: ts.Gamma, EMAPreference: ts.EMAPreference,
			ConsecutiveOK: ts.ConsecutiveOK, ConsecutiveFail: ts.ConsecutiveFail}
		ts.mu.Unlock()
	}
	return snap
}

// Restore replaces the engine's state with snap's. It is the caller's
// responsibility to ensure no concurrent writer is active.
func (e *Engine) Restore(snap EngineSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = make(map[Category]map[string]*keyState)
	for cat, keys := range snap.Weights {
		m := make(map[string]*keyState, len(keys))
		for k, v := range keys {
			m[k] = &keyState{value: v.Value, momentum: v.Momentum}
		}
		e.state[cat] = m
	}
	e.tools = make(map[string]*ToolState)
	for name, ts := range snap.Tools {
		e.tools[name] = &ToolState{Beta: ts.Beta, Gamma: ts.Gamma, EMAPreference: ts.EMAPreference,
			ConsecutiveOK: ts.ConsecutiveOK, ConsecutiveFail: ts.ConsecutiveFail}
	}
}
