// Package router implements the dual-process escalation classifier (spec
// §4.3): seven signals of the incoming turn are evaluated against fixed
// thresholds, and a single triggering signal escalates the turn from the
// fast System-1 path to the deliberate System-2 path. Every decision is
// recorded with its triggering signals so it can be replayed.
package router

import (
	"strings"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/tunables"
)

// Role is the dual-process path chosen for a turn.
type Role string

const (
	// RoleWorker is System-1: the worker model tier with a pruned prompt.
	RoleWorker Role = "worker"
	// RoleOrchestrator is System-2: the orchestrator model tier with
	// tool/memory retrieval budgets enabled.
	RoleOrchestrator Role = "orchestrator"
)

// Signals bundles the seven inputs the router evaluates for one turn.
type Signals struct {
	// SurpriseMagnitude is the average surprise magnitude over the last 10
	// predictions.
	SurpriseMagnitude float64
	// PopulationAgreement is the population-quality agreement on the
	// previous turn.
	PopulationAgreement float64
	// TaskNovelty is the distance from the trajectory model's predicted next
	// task.
	TaskNovelty float64
	// EnterpriseSafety is the current enterprise safety level.
	EnterpriseSafety float64
	// ExplicitRequest is true when the user pattern-matched a request to
	// "think carefully".
	ExplicitRequest bool
	// PreviousStepErrored is true when the previous pipeline stage failed.
	PreviousStepErrored bool
	// GoalDrift is the current goal drift score.
	GoalDrift float64
}

// Trigger names one of the seven escalation rules, for decision replay.
type Trigger string

const (
	TriggerSurprise    Trigger = "surprise_magnitude"
	TriggerAgreement   Trigger = "population_agreement"
	TriggerNovelty     Trigger = "task_novelty"
	TriggerEnterprise  Trigger = "enterprise_safety"
	TriggerExplicit    Trigger = "explicit_request"
	TriggerPrevError   Trigger = "error_in_last_step"
	TriggerGoalDrift   Trigger = "goal_drift"
)

// Decision is the router's output, with enough detail to replay it offline.
type Decision struct {
	Role       Role
	Triggers   []Trigger
	Signals    Signals
	DecidedAt  time.Time
}

// Router evaluates Signals against configured thresholds.
type Router struct {
	cfg tunables.RouterConfig
}

// New returns a Router configured with cfg. Use tunables.Default().Router
// for the spec defaults.
func New(cfg tunables.RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// Route evaluates s against every threshold and returns the escalation
// decision. Any single trigger escalates to System-2; escalation is
// monotonic in each signal (spec property 5): raising any one signal past
// its threshold never flips a System-2 decision back to System-1.
func (r *Router) Route(s Signals) Decision {
	var triggers []Trigger

	if s.SurpriseMagnitude > r.cfg.SurpriseThreshold {
		triggers = append(triggers, TriggerSurprise)
	}
	if s.PopulationAgreement < r.cfg.AgreementThreshold {
		triggers = append(triggers, TriggerAgreement)
	}
	if s.TaskNovelty > r.cfg.NoveltyThreshold {
		triggers = append(triggers, TriggerNovelty)
	}
	if s.EnterpriseSafety > r.cfg.EnterpriseThreshold {
		triggers = append(triggers, TriggerEnterprise)
	}
	if s.ExplicitRequest {
		triggers = append(triggers, TriggerExplicit)
	}
	if s.PreviousStepErrored {
		triggers = append(triggers, TriggerPrevError)
	}
	if s.GoalDrift > r.cfg.DriftThreshold {
		triggers = append(triggers, TriggerGoalDrift)
	}

	role := RoleWorker
	if len(triggers) > 0 {
		role = RoleOrchestrator
	}
	return Decision{Role: role, Triggers: triggers, Signals: s, DecidedAt: time.Now()}
}

// ExplicitThinkPatterns are the default phrases that set Signals.ExplicitRequest.
// Matching is case-insensitive substring search, consistent with the
// teacher's implicit-feedback pattern rules (core/adaptation).
var ExplicitThinkPatterns = []string{
	"think carefully", "think it through", "take your time",
	"be thorough", "double check", "step by step",
}

// DetectExplicitRequest reports whether text contains any ExplicitThinkPatterns.
func DetectExplicitRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range ExplicitThinkPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
