package cortex

import "sync"

// Column bundles the preferred tools, model tier, and weight overrides for
// one task family ("coding", "research", ...).
type Column struct {
	Name          string
	PreferredTools []string
	ModelTier     string
	WeightOverrides map[string]float64
	competence    float64 // EMA of recent outcomes routed to this column
}

// Manager selects the best-fit column for an incoming message and tracks
// each column's competence (an EMA of outcomes), so future selections
// favor columns that have performed well.
type Manager struct {
	mu      sync.Mutex
	columns map[string]*Column
}

// NewManager returns a Manager seeded with the given columns.
func NewManager(columns []Column) *Manager {
	m := &Manager{columns: make(map[string]*Column, len(columns))}
	for i := range columns {
		c := columns[i]
		c.competence = 0.5
		m.columns[c.Name] = &c
	}
	return m
}

// Select scores every registered column against message's keyword overlap
// with the column's preferred-tool vocabulary, weighted by competence, and
// returns the best match. Returns (nil, false) when no columns are
// registered.
func (m *Manager) Select(message string, keywordOverlap func(column *Column) float64) (*Column, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.columns) == 0 {
		return nil, false
	}
	var best *Column
	bestScore := -1.0
	for _, c := range m.columns {
		score := keywordOverlap(c)*0.7 + c.competence*0.3
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best, best != nil
}

// RecordOutcome folds a 0/1 outcome into the named column's competence EMA
// (alpha=0.1, matching the reputation engine's trust EMA).
func (m *Manager) RecordOutcome(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[name]
	if !ok {
		return
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	c.competence += 0.1 * (outcome - c.competence)
}

// Get returns a copy of the named column.
func (m *Manager) Get(name string) (Column, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.columns[name]
	if !ok {
		return Column{}, false
	}
	return *c, true
}
