// Package reputation implements tool-reputation trust dynamics with
// quarantine (spec §4.6) and the modulator overlay that composes typed
// weight-key overrides (Activate/Silence/Amplify/Dampen/Clamp) with
// enterprise glob policies into an effective weight set.
package reputation

import (
	"sync"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// Record is one tool's reputation state.
type Record struct {
	Trust             float64
	Consistency       float64
	ConsecutiveFail   int
	QuarantineUntil   time.Time
	recentOutcomes    []float64 // 1.0 success, 0.0 failure, ring of last N
}

// Engine tracks per-tool Records with per-record locking.
type Engine struct {
	cfg tunables.ReputationConfig

	mu      sync.RWMutex
	records map[string]*recordState
}

type recordState struct {
	mu  sync.Mutex
	rec Record
}

// New returns an Engine configured with cfg.
func New(cfg tunables.ReputationConfig) *Engine {
	return &Engine{cfg: cfg, records: make(map[string]*recordState)}
}

func (e *Engine) stateFor(tool string) *recordState {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.records[tool]
	if !ok {
		rs = &recordState{rec: Record{Trust: 0.5, Consistency: 1}}
		e.records[tool] = rs
	}
	return rs
}

// RecordOutcome folds a success/failure outcome into tool's trust and
// consistency, and applies quarantine once the consecutive-failure count
// reaches the threshold.
func (e *Engine) RecordOutcome(tool string, success bool, now time.Time) Record {
	rs := e.stateFor(tool)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	// Post-quarantine reset happens lazily on the first outcome observed
	// after expiry, per spec: "after expiry, trust resets to max(0.2,
	// trust*0.5)".
	if !rs.rec.QuarantineUntil.IsZero() && !now.Before(rs.rec.QuarantineUntil) {
		rs.rec.Trust = maxF(e.cfg.PostQuarantineFloor, rs.rec.Trust*0.5)
		rs.rec.QuarantineUntil = time.Time{}
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	rs.rec.recentOutcomes = append(rs.rec.recentOutcomes, outcome)
	window := e.cfg.ConsistencyWindow
	if window <= 0 {
		window = 20
	}
	if over := len(rs.rec.recentOutcomes) - window; over > 0 {
		rs.rec.recentOutcomes = rs.rec.recentOutcomes[over:]
	}
	rs.rec.Consistency = clamp01(1 - 4*variance(rs.rec.recentOutcomes))

	if e.inQuarantineLocked(rs, now) {
		rs.rec.Trust = 0
	} else {
		alpha := e.cfg.TrustAlpha
		if alpha == 0 {
			alpha = 0.1
		}
		beta := e.cfg.ConsistencyBeta
		if beta == 0 {
			beta = 0.05
		}
		rs.rec.Trust += alpha*(outcome-rs.rec.Trust) + beta*(rs.rec.Consistency-0.5)
		rs.rec.Trust = clamp01(rs.rec.Trust)
	}

	if success {
		rs.rec.ConsecutiveFail = 0
	} else {
		rs.rec.ConsecutiveFail++
		threshold := e.cfg.QuarantineThreshold
		if threshold <= 0 {
			threshold = 3
		}
		if rs.rec.ConsecutiveFail >= threshold {
			k := rs.rec.ConsecutiveFail
			base := e.cfg.BaseQuarantineSecs
			if base <= 0 {
				base = 60
			}
			seconds := base * pow2(k-threshold)
			until := now.Add(time.Duration(seconds * float64(time.Second)))
			if until.After(rs.rec.QuarantineUntil) {
				rs.rec.QuarantineUntil = until
			}
			rs.rec.Trust = 0
		}
	}

	return rs.rec
}

// Quarantined reports whether tool is currently quarantined at time now.
func (e *Engine) Quarantined(tool string, now time.Time) bool {
	rs := e.stateFor(tool)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return e.inQuarantineLocked(rs, now)
}

func (e *Engine) inQuarantineLocked(rs *recordState, now time.Time) bool {
	return !rs.rec.QuarantineUntil.IsZero() && now.Before(rs.rec.QuarantineUntil)
}

// Forgive resets trust to the configured forgive value and clears
// quarantine immediately, bypassing the lazy expiry reset.
func (e *Engine) Forgive(tool string) {
	rs := e.stateFor(tool)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	forgive := e.cfg.ForgiveTrust
	if forgive == 0 {
		forgive = 0.3
	}
	rs.rec.Trust = forgive
	rs.rec.QuarantineUntil = time.Time{}
	rs.rec.ConsecutiveFail = 0
}

// Snapshot returns a copy of tool's current Record.
func (e *Engine) Snapshot(tool string) Record {
	rs := e.stateFor(tool)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.rec
}

// AvailableTools filters candidates, removing any tool currently
// quarantined at time now (spec scenario C).
func (e *Engine) AvailableTools(candidates []string, now time.Time) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !e.Quarantined(c, now) {
			out = append(out, c)
		}
	}
	return out
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
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

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
