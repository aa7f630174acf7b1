package weights

import (
	"sync"
	"time"
)

// WeightDiff is one session's periodic contribution to the opt-in
// process-wide global-weight aggregator (spec §5 "Shared resources" (b)): a
// snapshot of how much a key moved since the session's last report, not the
// absolute value, so the aggregator can blend many sessions without any one
// session's starting point dominating.
type WeightDiff struct {
	SessionID string
	Category  Category
	Key       string
	Delta     float64
	At        time.Time
}

// Aggregator is a named service, not an ambient singleton (spec §9): callers
// obtain it explicitly and every session that opts in holds the same
// pointer. It never reads a key while a session is mid-write to that key,
// because the only mutation path is ApplyDiffs itself, which takes the
// aggregator's own lock around the whole batch.
type Aggregator struct {
	mu    sync.RWMutex
	state map[Category]map[string]*aggregateEntry
}

type aggregateEntry struct {
	value   float64
	samples int
}

// NewAggregator returns an empty, opt-in global-weight aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{state: make(map[Category]map[string]*aggregateEntry)}
}

// ApplyDiffs folds a batch of WeightDiffs into the aggregate in one pass,
// so concurrent reporters never observe a partially-applied batch.
func (a *Aggregator) ApplyDiffs(diffs []WeightDiff) {
	if len(diffs) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range diffs {
		m, ok := a.state[d.Category]
		if !ok {
			m = make(map[string]*aggregateEntry)
			a.state[d.Category] = m
		}
		e, ok := m[d.Key]
		if !ok {
			e = &aggregateEntry{}
			m[d.Key] = e
		}
		// Running mean over every reported delta: each WeightDiff counts as
		// one sample, so a session that reports more often contributes more
		// samples to the mean.
		e.samples++
		e.value += (d.Delta - e.value) / float64(e.samples)
	}
}

// GlobalNudge returns the aggregate's current recommended nudge for
// (category, key) and whether any session has ever reported one. A session
// blends this into its own Update as an additional, separately-weighted
// delta source; the aggregator never writes directly into a session's
// Engine.
func (a *Aggregator) GlobalNudge(category Category, key string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.state[category]
	if !ok {
		return 0, false
	}
	e, ok := m[key]
	if !ok {
		return 0, false
	}
	return e.value, true
}

// Reporter batches one session's Update calls into periodic WeightDiffs
// against a baseline, so the session only reports net movement rather than
// every intermediate Update.
type Reporter struct {
	sessionID string
	agg       *Aggregator

	mu       sync.Mutex
	baseline map[Category]map[string]float64
}

// NewReporter returns a Reporter that will publish sessionID's diffs to agg.
func NewReporter(sessionID string, agg *Aggregator) *Reporter {
	return &Reporter{sessionID: sessionID, agg: agg, baseline: make(map[Category]map[string]float64)}
}

// Report reads every current value out of e and publishes a WeightDiff for
// each key that moved since the last Report (or, for a key not reported
// before, since its neutral starting value), then resets the baseline.
func (r *Reporter) Report(e *Engine) {
	if r.agg == nil {
		return
	}
	snap := e.Snapshot()
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var diffs []WeightDiff
	for cat, keys := range snap.Weights {
		base, ok := r.baseline[cat]
		if !ok {
			base = make(map[string]float64)
			r.baseline[cat] = base
		}
		for k, v := range keys {
			prev, seen := base[k]
			if !seen {
				prev = 0.5 * signOffset(cat)
			}
			if v.Value != prev {
				diffs = append(diffs, WeightDiff{SessionID: r.sessionID, Category: cat, Key: k, Delta: v.Value - prev, At: now})
				base[k] = v.Value
			}
		}
	}
	r.agg.ApplyDiffs(diffs)
}
