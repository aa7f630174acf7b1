package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goa-ai-labs/synapsecore/core/adaptation"
	"github.com/goa-ai-labs/synapsecore/core/calibration"
	gocontext "github.com/goa-ai-labs/synapsecore/core/context"
	"github.com/goa-ai-labs/synapsecore/core/corerr"
	"github.com/goa-ai-labs/synapsecore/core/cortex"
	"github.com/goa-ai-labs/synapsecore/core/goal"
	"github.com/goa-ai-labs/synapsecore/core/observability"
	"github.com/goa-ai-labs/synapsecore/core/quality"
	"github.com/goa-ai-labs/synapsecore/core/reputation"
	"github.com/goa-ai-labs/synapsecore/core/router"
	"github.com/goa-ai-labs/synapsecore/core/streaming"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	"github.com/goa-ai-labs/synapsecore/core/weights"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/model"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/reminder"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/tools"
)

// adaptationApplied pairs one filtered implicit-feedback signal with the
// weight delta actually applied for it.
type adaptationApplied struct {
	Signal       adaptation.FilteredSignal
	AppliedDelta float64
}

// stage1Adaptation detects implicit feedback in the incoming message, runs
// it through the rapid/sustained habituation filters, and applies the
// resulting weight updates. Abort-on-failure: a message that cannot even be
// scanned indicates a caller contract violation.
func (s *Session) stage1Adaptation(msg string) ([]adaptationApplied, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, corerr.Invariant("orchestrator.stage1", "empty user message")
	}
	detected := adaptation.Detect(msg)
	now := time.Now()
	applied := make([]adaptationApplied, 0, len(detected))
	for _, sig := range detected {
		filtered := s.Adaptation.Apply(sig, now)
		category, key, sign := signalTarget(sig.Kind)
		delta := sign * filtered.Weight
		actual := s.Weights.Update(category, key, delta, "adaptation", string(sig.Kind))
		applied = append(applied, adaptationApplied{Signal: filtered, AppliedDelta: actual})
	}
	return applied, nil
}

// signalTarget maps a detected implicit-feedback kind to the weight
// category/key it nudges and the sign of the nudge: corrections and
// frustration push the behavioral keys negative, satisfaction and explicit
// preferences push them positive.
func signalTarget(kind adaptation.SignalKind) (weights.Category, string, float64) {
	switch kind {
	case adaptation.SignalCorrection:
		return weights.CategoryBehavioral, "correction_rate", -1
	case adaptation.SignalFrustration:
		return weights.CategoryBehavioral, "user_frustration", -1
	case adaptation.SignalSatisfaction:
		return weights.CategoryBehavioral, "user_frustration", 1
	case adaptation.SignalBrevityPref:
		return weights.CategoryBehavioral, "verbosity_preference", -1
	case adaptation.SignalDetailPref:
		return weights.CategoryBehavioral, "verbosity_preference", 1
	case adaptation.SignalSpeedPref:
		return weights.CategoryBehavioral, "pace_preference", 1
	default:
		return weights.CategoryBehavioral, "unclassified", 0
	}
}

// stage2GoalInit establishes or re-anchors the goal state for the turn.
// Abort-on-failure: every later stage assumes an initialized goal.
func (s *Session) stage2GoalInit(goalText string) error {
	if s.Goal == nil {
		if strings.TrimSpace(goalText) == "" {
			return corerr.Invariant("orchestrator.stage2", "first turn requires a goal")
		}
		s.Goal = goal.NewState(s.cfg.Tunables.Goal, goalText, s.cfg.InitialBudgetSteps, s.cfg.InitialBudgetTokens)
		s.rememberGoalVocabulary()
		return nil
	}
	if strings.TrimSpace(goalText) != "" && goalText != s.Goal.Text {
		s.Goal.Reinitialize(goalText)
		s.rememberGoalVocabulary()
	}
	return nil
}

// rememberGoalVocabulary seeds the concept graph with the active goal's
// tokens so stage 5's task-novelty signal measures distance from the goal
// itself, not from a permanently empty graph.
func (s *Session) rememberGoalVocabulary() {
	for _, tok := range goalKeywordsFor(s.Goal) {
		s.Concepts.Remember(tok)
	}
}

// contextIntegration bundles stage 3's enrichment output.
type contextIntegration struct {
	Priority   cortex.Priority
	Column     string
	Activation map[string]float64
	Envelope   cortex.Envelope
	Packed     gocontext.PackResult
}

// stage3ContextIntegration is best-effort: attention classification, column
// selection, concept-graph activation, and context-window packing.
func (s *Session) stage3ContextIntegration(msg string, isSystem2 bool) contextIntegration {
	priority := cortex.ClassifyAttention(msg)

	columnName := "general"
	if col, ok := s.Columns.Select(msg, func(c *cortex.Column) float64 {
		return keywordOverlap(msg, c.PreferredTools)
	}); ok {
		columnName = col.Name
	}

	activation := s.Concepts.Activate(msg)
	envelope := s.Resources.Allocate(priority, isSystem2, columnName)

	itemID := fmt.Sprintf("%s-u%d", s.ID, s.step)
	s.ContextStore.Append(itemID, gocontext.ItemUser, msg, s.step)

	goalKeywords := goalKeywordsFor(s.Goal)
	s.ContextStore.Advance(s.step, func(string) string { return "" })
	for _, it := range s.ContextStore.Items() {
		it.Importance = gocontext.Importance(s.cfg.Tunables.Context, gocontext.ImportanceInputs{
			RecencySteps:       it.AgeSteps(s.step),
			GoalKeywordOverlap: gocontext.GoalKeywordOverlap(it.CurrentText, goalKeywords),
			Causal:             it.Type == gocontext.ItemDecision,
			ReferenceCount:     it.ReferenceCount,
			SuccessCorrelation: s.prevAgreement,
			DomainProfileMatch: 0.5,
		})
	}

	packed := gocontext.Pack(s.cfg.Tunables.Context, s.cfg.SystemPrompt, s.Goal.Text,
		s.cfg.ModelContextWindow, s.cfg.OutputReservation, s.cfg.SystemPromptBudget, s.ContextStore.Items())

	s.ContextStore.Checkpoint(s.step, s.Goal.Text)

	return contextIntegration{Priority: priority, Column: columnName, Activation: activation, Envelope: envelope, Packed: packed}
}

// predictionHandle is the orchestrator-visible reference to a calibration
// Prediction: the Compare call later in the turn only needs the id and the
// domain it was filed under.
type predictionHandle struct {
	ID     string
	Domain string
}

// stage4Prediction emits a Prediction bound to the upcoming LLM call.
// Abort-on-failure: a prediction is required for the downstream surprise
// calculation the router and drift engine both depend on.
func (s *Session) stage4Prediction(domain, toolHint, modelHint string) (predictionHandle, error) {
	snap := s.Weights.ToolSnapshotFor(toolHint)
	expected := calibrationRankFromConfidence(snap.Beta.Mean())
	confidence := snap.EMAPreference
	if confidence == 0 {
		confidence = 0.5
	}
	p := s.Calibration.Predict(domain, expected, confidence, snap.Gamma.Mean(), confidence, toolHint, modelHint)
	if p == nil {
		return predictionHandle{}, corerr.Invariant("orchestrator.stage4", "prediction engine returned nil")
	}
	return predictionHandle{ID: p.ID, Domain: domain}, nil
}

// calibrationRankFromConfidence maps a [0,1] success-probability estimate to
// the nearest OutcomeRank, the same rank scale the calibration engine
// expects as its "expected" rank for a Prediction.
func calibrationRankFromConfidence(p float64) calibration.OutcomeRank {
	switch {
	case p >= 0.8:
		return calibration.RankSuccess
	case p >= 0.6:
		return calibration.RankPartial
	case p >= 0.4:
		return calibration.RankUnexpected
	case p >= 0.2:
		return calibration.RankTimeout
	default:
		return calibration.RankFailure
	}
}

// stage5Routing evaluates the dual-process signals and returns the chosen
// role. Abort-on-failure: routing must always produce a role, since every
// later stage (resource envelope, model selection, prompt size) depends on
// it.
func (s *Session) stage5Routing(ctx context.Context, msg string, driftScore float64) (router.Decision, error) {
	if s.Health != nil {
		if s.Health.Degraded() {
			s.enterpriseSafety = 1.0
		} else {
			s.enterpriseSafety = 0.0
		}
	}
	signals := router.Signals{
		SurpriseMagnitude:   s.Calibration.AverageSurprise(),
		PopulationAgreement: s.prevAgreement,
		TaskNovelty:         s.taskNoveltySignal(ctx, msg),
		EnterpriseSafety:    s.enterpriseSafety,
		ExplicitRequest:     router.DetectExplicitRequest(msg),
		PreviousStepErrored: s.prevStepErrored,
		GoalDrift:           driftScore,
	}
	decision := s.Router.Route(signals)
	if decision.Role == "" {
		return decision, corerr.Invariant("orchestrator.stage5", "router produced no role")
	}
	return decision, nil
}

// stage6ToolFilter lists available tools, strips quarantined ones, and
// applies the modulator overlay to the tool-preference weights before
// handing the model a final candidate list. Abort-on-failure: the model
// cannot be called without a resolved tool set.
func (s *Session) stage6ToolFilter(ctx context.Context, goalID string, driftScore float64) ([]toolcontract.ToolDescriptor, error) {
	all, err := s.Tools.List(ctx)
	if err != nil {
		return nil, corerr.Wrap(corerr.KindTool, "orchestrator.stage6", err)
	}
	names := make([]string, 0, len(all))
	byName := make(map[string]toolcontract.ToolDescriptor, len(all))
	for _, d := range all {
		names = append(names, string(d.Name))
		byName[string(d.Name)] = d
	}
	now := time.Now()
	available := s.Reputation.AvailableTools(names, now)
	if len(available) < len(names) {
		quarantined := make([]string, 0, len(names)-len(available))
		availableSet := make(map[string]struct{}, len(available))
		for _, a := range available {
			availableSet[a] = struct{}{}
		}
		for _, n := range names {
			if _, ok := availableSet[n]; !ok {
				quarantined = append(quarantined, n)
			}
		}
		_ = observability.PublishAudit(ctx, s.Bus, s.Audit, s.ID, "tools_quarantined", quarantined)
		s.Logger.Warn(ctx, "tools quarantined", "session", s.ID, "tools", quarantined)
		s.Metrics.IncCounter("tools.quarantined", float64(len(quarantined)))
	}

	weightsByKey := make(map[string]float64, len(available))
	for _, name := range available {
		weightsByKey[name] = s.Weights.Value(weights.CategoryToolPreference, name)
	}
	s.Overlay.Tick(goalID, now)
	resolved := s.Overlay.Apply(weightsByKey, reputation.Context{
		"enterprise_safety": s.enterpriseSafety,
		"goal_drift":        driftScore,
	}, s.cfg.EnterprisePolicies)

	out := make([]toolcontract.ToolDescriptor, 0, len(resolved))
	for name, w := range resolved {
		if w <= 0 {
			continue
		}
		out = append(out, byName[name])
	}
	return out, nil
}

// stage7LLMCall invokes the model. On failure the turn does not abort
// outright: stages 10-14 still run so token accounting, quality
// estimation, and consolidation observe the failed attempt, but stages 8-9
// (tool execution, response assembly) are skipped.
//
// When s.StreamOut is set (spec §6 `stream_turn`), the call goes through
// Stream instead of Complete: each Chunk is republished to StreamOut as it
// arrives, and the chunks are folded back into a *model.Response so stages
// 8-14 see the same shape they would from a non-streaming turn.
func (s *Session) stage7LLMCall(ctx context.Context, req *model.Request) (*model.Response, error) {
	if s.StreamOut == nil {
		return s.LLM.Complete(ctx, req)
	}
	return s.streamLLMCall(ctx, req)
}

// streamLLMCall drains a Streamer into a *model.Response while republishing
// every Chunk to s.StreamOut, so a stream_turn subscriber sees tokens as the
// provider emits them instead of waiting for the full turn to finish.
func (s *Session) streamLLMCall(ctx context.Context, req *model.Request) (*model.Response, error) {
	stream, err := s.LLM.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var text strings.Builder
	resp := &model.Response{}
	for {
		chunk, recvErr := stream.Recv()
		if recvErr != nil {
			if recvErr == io.EOF {
				break
			}
			return nil, recvErr
		}

		var delta string
		switch chunk.Type {
		case model.ChunkTypeText:
			delta = chunkText(chunk.Message)
			text.WriteString(delta)
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.UsageDelta != nil {
				resp.Usage = *chunk.UsageDelta
			}
		case model.ChunkTypeStop:
			resp.StopReason = chunk.StopReason
		}

		out := streaming.Chunk{
			Content: delta,
			IsFinal: chunk.Type == model.ChunkTypeStop,
			ModelID: req.Model,
			Emitted: time.Now(),
		}
		if err := s.StreamOut.Publish(ctx, s.ID, out); err != nil {
			return nil, err
		}
	}

	resp.Content = []model.Message{{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.TextPart{Text: text.String()}},
	}}
	return resp, nil
}

// chunkText extracts the text parts of a streamed message delta, if any.
func chunkText(msg *model.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range msg.Parts {
		if tp, ok := p.(model.TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// ToolCallOutcome records one executed tool call for the turn result.
type ToolCallOutcome struct {
	Name     tools.Ident
	Outcome  toolcontract.Outcome
	Latency  time.Duration
	ErrorMsg string
}

// stage8ToolExecutionLoop runs every tool call the model requested. Like
// stage 7, an executor-level failure (not a tool-level failure, which is
// carried in ExecuteResult.Error) skips stage 9 but still lets 10-14 run.
func (s *Session) stage8ToolExecutionLoop(ctx context.Context, calls []model.ToolCall) ([]ToolCallOutcome, error) {
	out := make([]ToolCallOutcome, 0, len(calls))
	for _, call := range calls {
		res, err := s.Tools.Execute(ctx, call.Name, call.Payload)
		if err != nil {
			return out, corerr.Wrap(corerr.KindTool, "orchestrator.stage8", err)
		}
		outcome := toolcontract.Classify(res, nil)
		s.Weights.RecordToolOutcome(string(call.Name), outcome == toolcontract.OutcomeSuccess, float64(res.Latency.Milliseconds()))
		s.Reputation.RecordOutcome(string(call.Name), outcome == toolcontract.OutcomeSuccess, time.Now())
		out = append(out, ToolCallOutcome{Name: call.Name, Outcome: outcome, Latency: res.Latency, ErrorMsg: res.Error})
	}
	return out, nil
}

// stage9ResponseAssembly concatenates the assistant text content into the
// final turn response. Abort-on-failure: a successful LLM call that yields
// no assembleable content is an invariant violation in the response
// contract.
func (s *Session) stage9ResponseAssembly(resp *model.Response) (string, error) {
	if resp == nil {
		return "", corerr.Invariant("orchestrator.stage9", "nil response reached assembly")
	}
	var b strings.Builder
	for _, msg := range resp.Content {
		for _, part := range msg.Parts {
			if tp, ok := part.(model.TextPart); ok {
				b.WriteString(tp.Text)
			}
		}
	}
	return b.String(), nil
}

// stage10TokenAccounting folds usage into the goal budget. Always
// best-effort: a missing usage report degrades to zero spend rather than
// failing the turn.
func (s *Session) stage10TokenAccounting(usage model.TokenUsage, progress float64) goal.BudgetDecision {
	return s.Goal.Budget.Observe(progress, usage.TotalTokens)
}

// stage11QualityEstimation aggregates evaluator output into a composite
// confidence and recommended action. Best-effort: evaluator failures
// degrade to a neutral population estimate.
func (s *Session) stage11QualityEstimation(responseText string, surprise, calibrationScore, llmSelfReport float64) (quality.Population, float64, quality.Action) {
	evals := []quality.Evaluation{
		quality.LengthClassEvaluator(responseText, 40, 4000),
		quality.CompletenessEvaluator(responseText),
		quality.RefusalEvaluator(responseText),
	}
	pop := quality.Aggregate(s.Quality, evals)
	composite := quality.Composite(s.Quality, quality.Signals{
		LLMSelfReport: llmSelfReport,
		Population:    pop.Consensus,
		Calibration:   calibrationScore,
		Surprise:      surprise,
	})
	action := quality.Recommend(s.Quality, composite, pop.Agreement)
	s.prevAgreement = pop.Agreement
	return pop, composite, action
}

// stage12PlasticityUpdates folds the turn's surprise/quality signal into the
// behavioral and model-selection weight categories. Best-effort: a skipped
// update here only slows learning, it never corrupts state.
//
// When s.Aggregator is set, the model-selection update is first nudged by
// the aggregator's cross-session GlobalNudge for this role, and this
// session's resulting deltas are reported back to it, per spec §5(b)'s
// "a session blends this into its own Update as an additional,
// separately-weighted delta source".
//
// Before applying each update, a metaplastic pass (spec §4 item 12) checks
// the key's last 20 deltas for oscillation or stagnation and scales this
// update's delta by the recommended learning-rate factor.
func (s *Session) stage12PlasticityUpdates(role router.Role, compositeConfidence, surprise float64) {
	delta := compositeConfidence - 0.5
	if s.Aggregator != nil {
		if nudge, ok := s.Aggregator.GlobalNudge(weights.CategoryModelSelection, string(role)); ok {
			delta += nudge
		}
	}
	delta *= s.metaplasticFactor(weights.CategoryModelSelection, string(role))
	s.Weights.Update(weights.CategoryModelSelection, string(role), delta, "plasticity", "composite_confidence")

	surpriseDelta := (surprise - 0.5) * s.metaplasticFactor(weights.CategoryGlobal, "surprise_ema")
	s.Weights.Update(weights.CategoryGlobal, "surprise_ema", surpriseDelta, "plasticity", "surprise")

	if s.Aggregator != nil {
		if s.weightReporter == nil {
			s.weightReporter = weights.NewReporter(s.ID, s.Aggregator)
		}
		s.weightReporter.Report(s.Weights)
	}
}

// metaplasticFactor returns the learning-rate multiplier a meta-cognition
// alert recommends for (category, key)'s last 20 applied deltas: 0.5 under
// oscillation, 2.0 under stagnation, 1.0 (no adjustment) otherwise. It never
// fires on fewer than 2 prior deltas, so a key's first updates are
// unaffected.
func (s *Session) metaplasticFactor(category weights.Category, key string) float64 {
	const window = 20
	var deltas []float64
	for _, u := range s.Weights.RecentUpdates() {
		if u.Category == category && u.Key == key {
			deltas = append(deltas, u.AppliedDelta)
		}
	}
	if over := len(deltas) - window; over > 0 {
		deltas = deltas[over:]
	}
	if len(deltas) < 2 {
		return 1.0
	}
	if alert, ok := s.Calibration.DetectOscillation(deltas); ok {
		return alert.LearningRateFactor
	}
	if alert, ok := s.Calibration.DetectStagnation(deltas); ok {
		return alert.LearningRateFactor
	}
	return 1.0
}

// stage13GoalAlignment evaluates drift and the loop detector against the
// completed step. Abort-on-failure: without a goal state, drift cannot be
// computed and the session's adaptive budget would silently stall.
func (s *Session) stage13GoalAlignment(stepDesc, stepOutput, stepErr string, qualityTrend float64) (goal.Result, goal.LoopResult, error) {
	if s.Goal == nil {
		return goal.Result{}, goal.LoopResult{}, corerr.Invariant("orchestrator.stage13", "no goal state")
	}
	relevance := s.Goal.DNA.SimilarityToText(stepDesc)
	_, remainingTokens := s.Goal.Budget.Remaining()
	budgetRatio := 0.0
	if s.cfg.InitialBudgetTokens > 0 {
		budgetRatio = 1 - float64(remainingTokens)/float64(s.cfg.InitialBudgetTokens)
	}
	divergence := 1 - relevance

	driftResult := s.Goal.Drift.Evaluate(goal.StepSignals{
		GoalRelevance:       relevance,
		BudgetRatio:         clamp01(budgetRatio),
		TopicDivergence:     clamp01(divergence),
		QualityTrend:        qualityTrend,
		AccumulatedSurprise: s.Calibration.AverageSurprise(),
	})
	loopResult := s.Goal.Loop.Observe(goal.Step{Description: stepDesc, Output: stepOutput, Error: stepErr})

	if driftResult.Action == goal.ActionInjectReminder {
		s.Reminders.AddReminder(s.ID, reminder.Reminder{
			ID:              "goal_drift_reminder",
			Text:            "Stay focused on the active goal: " + s.Goal.Text,
			Priority:        reminder.TierGuidance,
			Attachment:      reminder.Attachment{Kind: reminder.AttachmentUserTurn},
			MinTurnsBetween: 1,
		})
	} else {
		s.Reminders.RemoveReminder(s.ID, "goal_drift_reminder")
	}

	return driftResult, loopResult, nil
}

// stage14Consolidation advances context compression/tiers, decays concept
// activation, and advances the step counter. Best-effort: a failure here
// only delays memory maintenance to the next turn.
func (s *Session) stage14Consolidation(responseText string) {
	itemID := fmt.Sprintf("%s-a%d", s.ID, s.step)
	s.ContextStore.Append(itemID, gocontext.ItemAssistant, responseText, s.step)
	s.Concepts.Decay(0.9)
	s.step++
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

func keywordOverlap(msg string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	return gocontext.GoalKeywordOverlap(msg, keywords)
}

func goalKeywordsFor(g *goal.State) []string {
	if g == nil {
		return nil
	}
	out := make([]string, 0, len(g.DNA.Tokens))
	for tok := range g.DNA.Tokens {
		out = append(out, tok)
	}
	return out
}

// taskNoveltySignal prefers the trajectory model's prediction (the user's
// most recent observed task, spec §4.3 signal (c)) when s.Trajectory is set; a lookup
// failure falls back to the concept-graph activation heuristic rather than
// failing stage 5 outright, since novelty is one input among several.
func (s *Session) taskNoveltySignal(ctx context.Context, msg string) float64 {
	if s.Trajectory != nil {
		if novelty, err := s.Trajectory.Novelty(ctx, msg); err == nil {
			return novelty
		}
	}
	return taskNovelty(s.Concepts.Activate(msg))
}

func taskNovelty(activation map[string]float64) float64 {
	if len(activation) == 0 {
		return 1
	}
	sum := 0.0
	for _, v := range activation {
		sum += v
	}
	mean := sum / float64(len(activation))
	return clamp01(1 - mean)
}
