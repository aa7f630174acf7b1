package goal

import "github.com/goa-ai-labs/synapsecore/core/tunables"

// State bundles the goal-tracking engines a Session owns for one goal's
// lifetime: the DNA fingerprint, the drift engine, the loop detector, and
// the adaptive budget.
type State struct {
	Text   string
	DNA    DNA
	Drift  *Engine
	Loop   *Detector
	Budget *Budget
}

// NewState extracts the Goal-DNA from goalText and allocates the
// drift/loop/budget engines (spec §4.1 stage 2, first-turn-only goal
// initialization).
func NewState(cfg tunables.GoalConfig, goalText string, initialSteps, initialTokens int) *State {
	return &State{
		Text:   goalText,
		DNA:    NewDNA(goalText),
		Drift:  New(cfg),
		Loop:   NewDetector(cfg),
		Budget: NewBudget(cfg, initialSteps, initialTokens),
	}
}

// Reinitialize replaces the goal text/DNA and resets the drift streak when
// the goal changes mid-session (e.g. after a checkpoint-and-reset action),
// while preserving the budget and loop-detector history.
func (s *State) Reinitialize(goalText string) {
	s.Text = goalText
	s.DNA = NewDNA(goalText)
	s.Drift.Reset()
}

// Snapshot is the serializable form of a State, used by the session-level
// Snapshot/Restore contract (spec §6). DNA is already a value type of two
// plain sets and needs no separate snapshot type.
type Snapshot struct {
	Text   string
	DNA    DNA
	Drift  EngineSnapshot
	Loop   DetectorSnapshot
	Budget BudgetSnapshot
}

// Snapshot returns a deep copy of s's state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Text:   s.Text,
		DNA:    s.DNA,
		Drift:  s.Drift.Snapshot(),
		Loop:   s.Loop.Snapshot(),
		Budget: s.Budget.Snapshot(),
	}
}

// Restore overwrites s's state from snap. s must already own live
// Drift/Loop/Budget engines (e.g. constructed via NewState); Restore
// replaces their internal windows/counters in place rather than
// reallocating the engines.
func (s *State) Restore(snap Snapshot) {
	s.Text = snap.Text
	s.DNA = snap.DNA
	s.Drift.Restore(snap.Drift)
	s.Loop.Restore(snap.Loop)
	s.Budget.Restore(snap.Budget)
}
