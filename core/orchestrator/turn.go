package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/calibration"
	gocontext "github.com/goa-ai-labs/synapsecore/core/context"
	"github.com/goa-ai-labs/synapsecore/core/goal"
	"github.com/goa-ai-labs/synapsecore/core/observability"
	"github.com/goa-ai-labs/synapsecore/core/quality"
	"github.com/goa-ai-labs/synapsecore/core/router"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/model"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/reminder"
)

// errPredictionAlreadyMatched records that stage 4's prediction had already
// been retired by the time stage 11 tried to compare it against an outcome;
// Engine.Compare is at-most-once by design, so this is recorded as a
// best-effort stage error rather than aborting the turn.
var errPredictionAlreadyMatched = errors.New("orchestrator: prediction already matched")

// TurnInput is the caller-supplied input for one RunTurn invocation.
type TurnInput struct {
	// Message is the incoming user message for this turn.
	Message string
	// GoalText sets or re-anchors the active goal. Required on the first
	// turn of a session; optional thereafter.
	GoalText string
	// Domain scopes the calibration engine's per-domain bins.
	Domain string
	// ToolHint and ModelHint seed stage 4's prediction when the caller
	// already knows which tool/model tier is likely to be used.
	ToolHint  string
	ModelHint string
	// Progress is the caller's estimate of how much closer this turn moved
	// the goal, in [0,1], fed to the adaptive budget at stage 10.
	Progress float64
}

// StageError records a non-aborting stage failure for observability; it
// never changes what RunTurn returns as its primary error.
type StageError struct {
	Stage int
	Err   error
}

// TurnResult is everything RunTurn produced across the fourteen stages. A
// turn that aborted early still returns a partially populated TurnResult
// alongside the aborting error.
type TurnResult struct {
	Response            string
	Role                router.Role
	ToolCalls           []ToolCallOutcome
	Population          quality.Population
	CompositeConfidence float64
	RecommendedAction   quality.Action
	BudgetDecision      goal.BudgetDecision
	DriftResult         goal.Result
	LoopResult          goal.LoopResult
	AvailableTools      []toolcontract.ToolDescriptor
	StageErrors         []StageError
}

// RunTurn drives the fourteen-stage pipeline for one turn. Stages are
// grouped into three failure policies:
//
//   - abort-on-failure (1, 2, 4, 5, 6, 9, 13): an error here stops the turn
//     immediately and is returned as RunTurn's error.
//   - best-effort (3, 11, 12, 14): an error is recorded in
//     TurnResult.StageErrors but never stops the turn.
//   - fail-turn-but-continue (7, 8): an error here skips stage 9 (there is
//     nothing to assemble) but stages 10-14 still run against a zero-value
//     response and usage, so budget/quality/drift tracking see the failed
//     attempt.
func (s *Session) RunTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	ctx, span := s.Tracer.Start(ctx, "orchestrator.RunTurn")
	defer span.End()
	s.Logger.Debug(ctx, "turn started", "session", s.ID, "step", s.step)

	result := &TurnResult{}

	abort := func(stage string, err error) (*TurnResult, error) {
		s.Logger.Error(ctx, "turn aborted", "session", s.ID, "stage", stage, "err", err)
		s.Metrics.IncCounter("turn.aborted", 1, "stage:"+stage)
		span.RecordError(err)
		return result, err
	}

	if _, err := s.stage1Adaptation(in.Message); err != nil {
		return abort("adaptation", err)
	}

	if err := s.stage2GoalInit(in.GoalText); err != nil {
		return abort("goal_init", err)
	}

	isSystem2 := s.lastRole == router.RoleOrchestrator
	ctxResult := s.stage3ContextIntegration(in.Message, isSystem2)

	prediction, err := s.stage4Prediction(in.Domain, in.ToolHint, in.ModelHint)
	if err != nil {
		return abort("prediction", err)
	}

	decision, err := s.stage5Routing(ctx, in.Message, s.lastDriftScore)
	if err != nil {
		return abort("routing", err)
	}
	result.Role = decision.Role
	s.lastRole = decision.Role
	_ = observability.PublishDecision(ctx, s.Bus, s.ID, s.step, 5, "routing", decision)
	s.Metrics.IncCounter("turn.routed", 1, "role:"+string(decision.Role))

	goalID := ""
	if s.Goal != nil {
		goalID = s.Goal.Text
	}
	descriptors, err := s.stage6ToolFilter(ctx, goalID, s.lastDriftScore)
	if err != nil {
		return abort("tool_filter", err)
	}
	result.AvailableTools = descriptors

	req := s.buildRequest(ctxResult, descriptors, decision.Role)
	resp, llmErr := s.stage7LLMCall(ctx, req)
	if llmErr != nil {
		s.Logger.Warn(ctx, "llm call failed", "session", s.ID, "err", llmErr)
		span.RecordError(llmErr)
	}

	var toolOutcomes []ToolCallOutcome
	var assembled string
	if llmErr == nil {
		toolOutcomes, llmErr = s.stage8ToolExecutionLoop(ctx, resp.ToolCalls)
	}
	result.ToolCalls = toolOutcomes

	if llmErr == nil {
		assembled, err = s.stage9ResponseAssembly(resp)
		if err != nil {
			return abort("response_assembly", err)
		}
	}
	result.Response = assembled
	s.prevStepErrored = llmErr != nil

	usage := model.TokenUsage{}
	if resp != nil {
		usage = resp.Usage
	}
	result.BudgetDecision = s.stage10TokenAccounting(usage, in.Progress)
	_ = observability.PublishDecision(ctx, s.Bus, s.ID, s.step, 10, "budget", result.BudgetDecision)
	_ = observability.PublishGauge(ctx, s.Bus, "turn.tokens_total", float64(usage.TotalTokens), "session:"+s.ID)

	surprise := s.Calibration.AverageSurprise()
	calibrationScore := 1 - surprise
	llmSelfReport := 0.5
	if llmErr == nil {
		llmSelfReport = 0.7
	}
	pop, composite, action := func() (p quality.Population, c float64, a quality.Action) {
		defer func() {
			if r := recover(); r != nil {
				result.StageErrors = append(result.StageErrors, StageError{Stage: 11, Err: corePanic(r)})
			}
		}()
		return s.stage11QualityEstimation(assembled, surprise, calibrationScore, llmSelfReport)
	}()
	result.Population, result.CompositeConfidence, result.RecommendedAction = pop, composite, action

	s.stage12PlasticityUpdates(decision.Role, composite, surprise)

	outcomeRank := calibrationRankFromConfidence(composite)
	if _, ok := s.Calibration.Compare(prediction.ID, calibrationOutcome(outcomeRank, usage, composite)); !ok {
		result.StageErrors = append(result.StageErrors, StageError{Stage: 11, Err: errPredictionAlreadyMatched})
	}
	if alert, ok := s.Calibration.DetectDegradation(prediction.Domain); ok {
		_ = observability.PublishAudit(ctx, s.Bus, s.Audit, s.ID, "calibration_degradation_alert", alert)
	}

	qualityTrend := s.qualityTrend(composite)
	driftResult, loopResult, err := s.stage13GoalAlignment(in.Message, assembled, stepErrString(llmErr), qualityTrend)
	if err != nil {
		return abort("goal_alignment", err)
	}
	result.DriftResult = driftResult
	result.LoopResult = loopResult
	s.lastDriftScore = driftResult.Score
	_ = observability.PublishDecision(ctx, s.Bus, s.ID, s.step, 13, "drift", driftResult)
	if driftResult.Action != goal.ActionContinue {
		_ = observability.PublishAudit(ctx, s.Bus, s.Audit, s.ID, "goal_drift_action", driftResult)
		s.Logger.Warn(ctx, "goal drift action taken", "session", s.ID, "action", driftResult.Action, "score", driftResult.Score)
	}

	s.stage14Consolidation(assembled)
	if s.Trajectory != nil {
		if err := s.Trajectory.ObserveTask(ctx, in.Message); err != nil {
			s.Logger.Warn(ctx, "trajectory observe task failed", "session", s.ID, "err", err)
		}
	}

	s.Metrics.RecordTimer("turn.duration", time.Since(start), "role:"+string(decision.Role))
	s.Metrics.IncCounter("turn.completed", 1, "role:"+string(decision.Role))
	s.Logger.Debug(ctx, "turn completed", "session", s.ID, "step", s.step, "composite_confidence", result.CompositeConfidence)

	return result, nil
}

// buildRequest assembles a model.Request from the packed context window and
// filtered tool set. The model tier is chosen from the routing decision:
// System-1 turns use the worker class, System-2 turns the orchestrator
// class.
func (s *Session) buildRequest(ctxResult contextIntegration, descriptors []toolcontract.ToolDescriptor, role router.Role) *model.Request {
	class := model.ModelClassWorker
	if role == router.RoleOrchestrator {
		class = model.ModelClassOrchestrator
	}

	messages := make([]*model.Message, 0, len(ctxResult.Packed.Items)+1)
	messages = append(messages, &model.Message{
		Role:  model.ConversationRoleSystem,
		Parts: []model.Part{model.TextPart{Text: ctxResult.Packed.SystemPrompt}},
	})
	for _, it := range ctxResult.Packed.Items {
		msgRole := model.ConversationRoleUser
		if it.Type == gocontext.ItemAssistant {
			msgRole = model.ConversationRoleAssistant
		}
		messages = append(messages, &model.Message{
			Role:  msgRole,
			Parts: []model.Part{model.TextPart{Text: it.CurrentText}},
		})
	}

	defs := make([]*model.ToolDefinition, 0, len(descriptors))
	for _, d := range descriptors {
		defs = append(defs, &model.ToolDefinition{Name: string(d.Name), Description: d.Description})
	}

	messages = reminder.InjectMessages(messages, s.Reminders.Snapshot(s.ID))

	return &model.Request{
		ModelClass:  class,
		Messages:    messages,
		Tools:       defs,
		MaxTokens:   ctxResult.Envelope.PromptTokens,
		Temperature: 0.7,
	}
}

// calibrationOutcome packages the turn's final rank/latency/quality signals
// into the Outcome shape Engine.Compare expects.
func calibrationOutcome(rank calibration.OutcomeRank, usage model.TokenUsage, composite float64) calibration.Outcome {
	return calibration.Outcome{
		ActualRank:    rank,
		ActualLatency: float64(usage.OutputTokens),
		ActualQuality: composite,
	}
}

func (s *Session) qualityTrend(latest float64) float64 {
	s.qualityHistory = append(s.qualityHistory, latest)
	const window = 5
	if over := len(s.qualityHistory) - window; over > 0 {
		s.qualityHistory = s.qualityHistory[over:]
	}
	if len(s.qualityHistory) < 2 {
		return 0
	}
	first := s.qualityHistory[0]
	last := s.qualityHistory[len(s.qualityHistory)-1]
	return last - first
}

func stepErrString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func corePanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return jsonError(r)
}

func jsonError(v any) error {
	b, _ := json.Marshal(v)
	return &panicError{msg: string(b)}
}

type panicError struct{ msg string }

func (p *panicError) Error() string { return "orchestrator: recovered panic: " + p.msg }
