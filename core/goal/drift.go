package goal

import (
	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// Severity classifies a drift score per the spec's table.
type Severity string

const (
	SeverityNone      Severity = "none"
	SeverityLow       Severity = "low"
	SeverityModerate  Severity = "moderate"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// Action is the recommended drift response.
type Action string

const (
	ActionContinue         Action = "continue"
	ActionInjectReminder    Action = "inject_goal_reminder"
	ActionSummarizeReplan   Action = "summarize_replan"
	ActionCheckpointReset   Action = "checkpoint_and_reset"
	ActionAskUser           Action = "ask_user"
)

// StepSignals are the five per-step inputs the drift engine fuses.
type StepSignals struct {
	// GoalRelevance is the Goal-DNA similarity of the latest action to the
	// goal, in [0,1].
	GoalRelevance float64
	// BudgetRatio is consumed/total token budget, in [0,1].
	BudgetRatio float64
	// TopicDivergence is the fraction of entities in the latest action not
	// present in the goal, in [0,1].
	TopicDivergence float64
	// QualityTrend is the slope of quality over the last N steps, expected
	// roughly in [-1,1]; positive is improving.
	QualityTrend float64
	// AccumulatedSurprise is the running prediction-surprise accumulator, in
	// [0,1].
	AccumulatedSurprise float64
}

// Result is one drift evaluation.
type Result struct {
	Score    float64
	Severity Severity
	Action   Action
}

// Engine fuses StepSignals into a drift score and tracks the consecutive
// low-relevance streak for the consecutive-drift bonus.
type Engine struct {
	cfg               tunables.GoalConfig
	lowRelevanceRun   int
	askedUserOnce     bool
}

// New returns a drift Engine configured with cfg.
func New(cfg tunables.GoalConfig) *Engine {
	return &Engine{cfg: cfg}
}

// lowRelevanceThreshold below which a step counts toward the consecutive
// drift bonus streak; the spec leaves this implicit — a step is "low
// similarity" when its relevance signal itself falls below the drift
// engine's default "moderate" severity ceiling (0.5).
const lowRelevanceThreshold = 0.5

// Evaluate fuses s into a score, maps it to severity/action, and updates the
// consecutive-drift streak. When the recommended action is ActionAskUser it
// is only reported once per streak (spec scenario E expects the emergency
// action "exactly once"); subsequent emergency-level steps continue to
// report the emergency severity but recommend ActionCheckpointReset until
// the streak resets.
func (e *Engine) Evaluate(s StepSignals) Result {
	score := e.cfg.RelevanceWeight*(1-s.GoalRelevance) +
		e.cfg.BudgetRatioWeight*s.BudgetRatio +
		e.cfg.TopicDivergenceWeight*s.TopicDivergence +
		e.cfg.QualityTrendWeight*negTrend(s.QualityTrend) +
		e.cfg.SurpriseWeight*s.AccumulatedSurprise

	if s.GoalRelevance < lowRelevanceThreshold {
		e.lowRelevanceRun++
	} else {
		e.lowRelevanceRun = 0
		e.askedUserOnce = false
	}

	window := e.cfg.ConsecutiveDriftWindow
	if window <= 0 {
		window = 3
	}
	if e.lowRelevanceRun >= window {
		score += e.cfg.ConsecutiveDriftBonus
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	sev, action := e.classify(score)
	if action == ActionAskUser {
		if e.askedUserOnce {
			action = ActionCheckpointReset
		} else {
			e.askedUserOnce = true
		}
	}
	return Result{Score: score, Severity: sev, Action: action}
}

// negTrend maps a quality trend slope to a drift contribution: a flat or
// declining trend (slope <= 0) contributes its magnitude; an improving
// trend contributes nothing.
func negTrend(slope float64) float64 {
	if slope >= 0 {
		return 0
	}
	if slope < -1 {
		return 1
	}
	return -slope
}

// classify maps a fused score to a severity/action band. Each *Max
// threshold is the inclusive upper edge of its band: a score landing
// exactly on a boundary stays in the lower band rather than spilling into
// the next, so e.g. a score that fuses to exactly HighDriftMax still reads
// as High, not Critical. A tolerance of boundaryEpsilon absorbs float64
// rounding in the weighted sum (0.35+0.20+0.15 sums to 0.7000000000000001).
func (e *Engine) classify(score float64) (Severity, Action) {
	const boundaryEpsilon = 1e-9
	switch {
	case score < 0.1:
		return SeverityNone, ActionContinue
	case score <= e.cfg.LowDriftMax+boundaryEpsilon:
		return SeverityLow, ActionContinue
	case score <= e.cfg.ModerateDriftMax+boundaryEpsilon:
		return SeverityModerate, ActionInjectReminder
	case score <= e.cfg.HighDriftMax+boundaryEpsilon:
		return SeverityHigh, ActionSummarizeReplan
	case score <= e.cfg.CriticalDriftMax+boundaryEpsilon:
		return SeverityCritical, ActionCheckpointReset
	default:
		return SeverityEmergency, ActionAskUser
	}
}

// Reset clears the consecutive-drift streak, used when the goal changes.
func (e *Engine) Reset() {
	e.lowRelevanceRun = 0
	e.askedUserOnce = false
}

// EngineSnapshot is the serializable state of a drift Engine, used by the
// session-level Snapshot/Restore contract (spec §6).
type EngineSnapshot struct {
	LowRelevanceRun int
	AskedUserOnce   bool
}

// Snapshot returns a copy of e's mutable state.
func (e *Engine) Snapshot() EngineSnapshot {
	return EngineSnapshot{LowRelevanceRun: e.lowRelevanceRun, AskedUserOnce: e.askedUserOnce}
}

// Restore overwrites e's mutable state from snap. Callers must ensure no
// concurrent writer.
func (e *Engine) Restore(snap EngineSnapshot) {
	e.lowRelevanceRun = snap.LowRelevanceRun
	e.askedUserOnce = snap.AskedUserOnce
}
