package cortex

// Envelope is the resource allocation granted to one turn: a token budget
// split between prompt construction and tool/retrieval headroom, plus a
// wall-clock deadline hint in milliseconds.
type Envelope struct {
	PromptTokens int
	RetrievalTokens int
	DeadlineMs   int
}

// ResourceMap ("homunculus") maps attention priority and dual-process role
// to a resource Envelope, and tracks a per-column running average of actual
// spend so future envelopes for the same column can be tightened or
// loosened.
type ResourceMap struct {
	base     Envelope
	observed map[string]float64 // column name -> EMA of tokens actually spent
}

// NewResourceMap returns a ResourceMap with the given base envelope applied
// before priority/role scaling.
func NewResourceMap(base Envelope) *ResourceMap {
	return &ResourceMap{base: base, observed: make(map[string]float64)}
}

// Allocate returns the envelope for one turn: high/critical priority and
// the orchestrator (System-2) role scale the base envelope up; low priority
// and the worker (System-1) role scale it down.
func (r *ResourceMap) Allocate(priority Priority, isSystem2 bool, column string) Envelope {
	scale := 1.0
	switch priority {
	case PriorityCritical:
		scale = 1.5
	case PriorityHigh:
		scale = 1.2
	case PriorityLow:
		scale = 0.6
	}
	if isSystem2 {
		scale *= 1.3
	} else {
		scale *= 0.8
	}
	if ema, ok := r.observed[column]; ok && ema > 0 {
		// Blend the priority-driven scale with the column's observed-spend
		// trend: a column that consistently spends less than allocated gets
		// a lighter envelope over time.
		observedScale := ema / float64(r.base.PromptTokens+1)
		scale = 0.7*scale + 0.3*observedScale
	}
	return Envelope{
		PromptTokens:    int(float64(r.base.PromptTokens) * scale),
		RetrievalTokens: int(float64(r.base.RetrievalTokens) * scale),
		DeadlineMs:      r.base.DeadlineMs,
	}
}

// RecordSpend folds the actual tokens spent by column into its running EMA
// (alpha=0.2).
func (r *ResourceMap) RecordSpend(column string, tokensSpent int) {
	prev, ok := r.observed[column]
	if !ok {
		r.observed[column] = float64(tokensSpent)
		return
	}
	r.observed[column] = prev + 0.2*(float64(tokensSpent)-prev)
}
