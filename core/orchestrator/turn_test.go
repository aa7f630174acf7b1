package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/llmcontract"
	"github.com/goa-ai-labs/synapsecore/core/router"
	"github.com/goa-ai-labs/synapsecore/core/streaming"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	"github.com/goa-ai-labs/synapsecore/core/trajectory"
	"github.com/goa-ai-labs/synapsecore/core/weights"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/model"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/tools"
)

// alwaysDown is a HealthChecker that always reports unhealthy.
type alwaysDown struct{}

func (alwaysDown) HealthCheck(context.Context) bool { return false }

// fakeModelClient is a scripted model.Client: each call pops the next
// response off the queue, recording every request it was handed so tests can
// assert on what the orchestrator actually sent.
type fakeModelClient struct {
	responses    []*model.Response
	errs         []error
	requests     []*model.Request
	streamChunks []model.Chunk
}

func (f *fakeModelClient) Complete(_ context.Context, req *model.Request) (*model.Response, error) {
	f.requests = append(f.requests, req)
	i := len(f.requests) - 1
	var resp *model.Response
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func (f *fakeModelClient) Stream(_ context.Context, _ *model.Request) (model.Streamer, error) {
	return &fakeStreamer{chunks: f.streamChunks}, nil
}

// fakeStreamer is a scripted model.Streamer that replays a fixed chunk
// sequence, then reports io.EOF.
type fakeStreamer struct {
	chunks []model.Chunk
	i      int
}

func (f *fakeStreamer) Recv() (model.Chunk, error) {
	if f.i >= len(f.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func (f *fakeStreamer) Close() error { return nil }

func (f *fakeStreamer) Metadata() map[string]any { return nil }

func textResponse(text string) *model.Response {
	return &model.Response{
		Content: []model.Message{
			{
				Role:  model.ConversationRoleAssistant,
				Parts: []model.Part{model.TextPart{Text: text}},
			},
		},
		Usage:      model.TokenUsage{TotalTokens: 120, OutputTokens: 40},
		StopReason: "end_turn",
	}
}

// fakeExecutor is a toolcontract.Executor over a fixed tool list that always
// succeeds.
type fakeExecutor struct {
	descriptors []toolcontract.ToolDescriptor
	executed    []tools.Ident
}

func (f *fakeExecutor) List(_ context.Context) ([]toolcontract.ToolDescriptor, error) {
	return f.descriptors, nil
}

func (f *fakeExecutor) Execute(_ context.Context, name tools.Ident, _ json.RawMessage) (toolcontract.ExecuteResult, error) {
	f.executed = append(f.executed, name)
	return toolcontract.ExecuteResult{Result: "ok"}, nil
}

func newTestSession(t *testing.T, mc *fakeModelClient, exec *fakeExecutor) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SystemPrompt = "You are a helpful assistant."
	return New("sess-"+t.Name(), cfg, llmcontract.New(mc), exec)
}

// Scenario A (spec §8): a plain, low-novelty, low-drift turn routes to
// System-1 (the worker role) and needs no escalation.
func TestRunTurn_ScenarioA_System1Routing(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{
		textResponse("Berlin is mild and partly cloudy today."),
	}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	result, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What is the weather in Berlin in one sentence?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
		Progress: 0.5,
	})

	require.NoError(t, err)
	require.Equal(t, router.RoleWorker, result.Role)
	require.Empty(t, result.ToolCalls)
	require.Equal(t, "Berlin is mild and partly cloudy today.", result.Response)
	require.Len(t, fc.requests, 1)
	require.Equal(t, model.ModelClassWorker, fc.requests[0].ModelClass)
}

// Scenario B (spec §8): a stage-7 failure still runs stages 10-14 against a
// zero-value response, and the next turn's signals (PreviousStepErrored)
// push routing toward System-2.
func TestRunTurn_ScenarioB_System2EscalationOnError(t *testing.T) {
	fc := &fakeModelClient{
		responses: []*model.Response{nil, textResponse("Retrying with more care.")},
		errs:      []error{context.DeadlineExceeded, nil},
	}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	first, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "Summarize the quarterly report.",
		GoalText: "Produce a quarterly report summary",
		Domain:   "reports",
	})
	require.NoError(t, err)
	require.Empty(t, first.Response)
	require.True(t, s.prevStepErrored)

	second, err := s.RunTurn(context.Background(), TurnInput{
		Message: "Try again please.",
		Domain:  "reports",
	})
	require.NoError(t, err)
	require.Equal(t, router.RoleOrchestrator, second.Role)
	require.Equal(t, model.ModelClassOrchestrator, fc.requests[1].ModelClass)
}

// A turn that requests a tool call runs it through the executor and records
// a success outcome.
func TestRunTurn_ExecutesRequestedToolCalls(t *testing.T) {
	toolName := tools.Ident("lookup_forecast")
	resp := textResponse("Here is the forecast.")
	resp.ToolCalls = []model.ToolCall{{Name: toolName, Payload: json.RawMessage(`{}`)}}

	fc := &fakeModelClient{responses: []*model.Response{resp}}
	fx := &fakeExecutor{descriptors: []toolcontract.ToolDescriptor{
		{Name: toolName, Description: "looks up a forecast"},
	}}
	s := newTestSession(t, fc, fx)

	result, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What's the forecast for tomorrow?",
		GoalText: "Answer forecast questions",
		Domain:   "weather",
	})

	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	require.Equal(t, toolName, result.ToolCalls[0].Name)
	require.Equal(t, toolcontract.OutcomeSuccess, result.ToolCalls[0].Outcome)
	require.Equal(t, []tools.Ident{toolName}, fx.executed)
}

// Goal re-anchoring mid-session (stage 2) resets drift tracking against the
// new goal text rather than accumulating against the old one.
func TestRunTurn_GoalReanchorResetsDrift(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{
		textResponse("Here is the weather."),
		textResponse("Here is the recipe."),
	}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	_, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What's the weather like?",
		GoalText: "Summarize the weather",
		Domain:   "weather",
	})
	require.NoError(t, err)

	_, err = s.RunTurn(context.Background(), TurnInput{
		Message:  "Give me a pasta recipe instead.",
		GoalText: "Find a pasta recipe",
		Domain:   "cooking",
	})
	require.NoError(t, err)
	require.Equal(t, "Find a pasta recipe", s.Goal.Text)
}

// A degraded provider (HealthMonitor.Degraded() == true) biases routing to
// System-2 via the enterprise-safety signal, per spec §9's health-check
// supplement.
func TestRunTurn_DegradedProviderEscalates(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{textResponse("ok")}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	monitor := llmcontract.NewHealthMonitor(5 * time.Millisecond)
	monitor.Register("primary", alwaysDown{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()
	require.Eventually(t, monitor.Degraded, time.Second, 5*time.Millisecond)

	s.Health = monitor

	result, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What's the weather in Berlin?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
	})

	require.NoError(t, err)
	require.Equal(t, router.RoleOrchestrator, result.Role)
}

// RunTurn publishes each stage's decision to the session's DecisionLog, so
// a caller can replay routing/drift/budget decisions after the fact (spec
// §4.3, §10 decision replay).
func TestRunTurn_PublishesReplayableDecisions(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{textResponse("Berlin is sunny.")}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	_, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What is the weather in Berlin?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
	})
	require.NoError(t, err)

	records := s.Decisions.Replay(s.ID)
	require.NotEmpty(t, records)
	var kinds []string
	for _, r := range records {
		kinds = append(kinds, r.Kind)
	}
	require.Contains(t, kinds, "routing")
	require.Contains(t, kinds, "budget")
	require.Contains(t, kinds, "drift")
}

// A tool stripped from the candidate set by quarantine is recorded to the
// chain-hashed audit log.
func TestRunTurn_QuarantinedToolIsAudited(t *testing.T) {
	toolName := tools.Ident("flaky_tool")
	fc := &fakeModelClient{responses: []*model.Response{textResponse("done")}}
	fx := &fakeExecutor{descriptors: []toolcontract.ToolDescriptor{
		{Name: toolName, Description: "a tool that fails a lot"},
	}}
	s := newTestSession(t, fc, fx)

	now := time.Now()
	for i := 0; i < 20; i++ {
		s.Reputation.RecordOutcome(string(toolName), false, now)
	}
	require.True(t, s.Reputation.Quarantined(string(toolName), now))

	_, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "Use the flaky tool please.",
		GoalText: "Exercise the flaky tool",
		Domain:   "tools",
	})
	require.NoError(t, err)

	chain := s.Audit.Chain(s.ID)
	require.NotEmpty(t, chain)
	found := false
	for _, e := range chain {
		if e.Action == "tools_quarantined" {
			found = true
		}
	}
	require.True(t, found)
	ok, err := s.Audit.Verify(s.ID)
	require.NoError(t, err)
	require.True(t, ok)
}

// When Session.StreamOut is set, RunTurn goes through the Stream path (spec
// §6 stream_turn) and republishes each chunk to a subscriber as it arrives,
// while still folding the chunks back into the ordinary TurnResult.
func TestRunTurn_StreamTurnPublishesChunks(t *testing.T) {
	fc := &fakeModelClient{streamChunks: []model.Chunk{
		{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{Text: "Berlin "}}}},
		{Type: model.ChunkTypeText, Message: &model.Message{Parts: []model.Part{model.TextPart{Text: "is sunny."}}}},
		{Type: model.ChunkTypeStop, StopReason: "end_turn"},
	}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	broker := streaming.NewMemoryBroker()
	sub, err := broker.Subscribe(context.Background(), s.ID)
	require.NoError(t, err)
	s.StreamOut = broker

	result, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What is the weather in Berlin?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
	})
	require.NoError(t, err)
	require.Equal(t, "Berlin is sunny.", result.Response)

	var got []streaming.Chunk
	for i := 0; i < 3; i++ {
		got = append(got, <-sub.Chunks())
	}
	require.Equal(t, "Berlin ", got[0].Content)
	require.Equal(t, "is sunny.", got[1].Content)
	require.True(t, got[2].IsFinal)
}

// A session that opts into a weights.Aggregator reports its model-selection
// deltas back to it after stage 12, so another session reading
// GlobalNudge for the same role sees a nonzero cross-session signal (spec
// §5(b)).
func TestRunTurn_ReportsToWeightAggregator(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{textResponse("Berlin is sunny.")}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	agg := weights.NewAggregator()
	s.Aggregator = agg

	_, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What is the weather in Berlin?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
	})
	require.NoError(t, err)

	_, ok := agg.GlobalNudge(weights.CategoryModelSelection, string(router.RoleWorker))
	require.True(t, ok)
}

// metaplasticFactor halves the learning rate once a key's recent deltas
// oscillate, and doubles it once they stagnate (spec §4 item 12, §4.5).
func TestMetaplasticFactor(t *testing.T) {
	fc := &fakeModelClient{}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	for i, d := range []float64{0.3, -0.3, 0.3, -0.3, 0.3, -0.3} {
		s.Weights.Update(weights.CategoryBehavioral, "osc", d, "test", fmt.Sprintf("case-%d", i))
	}
	require.Equal(t, 0.5, s.metaplasticFactor(weights.CategoryBehavioral, "osc"))

	for i := 0; i < 5; i++ {
		s.Weights.Update(weights.CategoryBehavioral, "flat", 0.001, "test", fmt.Sprintf("case-%d", i))
	}
	require.Equal(t, 2.0, s.metaplasticFactor(weights.CategoryBehavioral, "flat"))

	require.Equal(t, 1.0, s.metaplasticFactor(weights.CategoryBehavioral, "never-touched"))
}

// capturingMetrics is a Metrics stub that just counts calls per name, so
// tests can assert the ambient instrumentation actually fired without
// standing up a real OTEL pipeline.
type capturingMetrics struct {
	counters map[string]int
	timers   map[string]int
}

func newCapturingMetrics() *capturingMetrics {
	return &capturingMetrics{counters: map[string]int{}, timers: map[string]int{}}
}

func (m *capturingMetrics) IncCounter(name string, _ float64, _ ...string)        { m.counters[name]++ }
func (m *capturingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) { m.timers[name]++ }
func (m *capturingMetrics) RecordGauge(string, float64, ...string)                {}

// capturingLogger records the message of every Warn/Error call.
type capturingLogger struct {
	warnings []string
	errors   []string
}

func (l *capturingLogger) Debug(context.Context, string, ...any) {}
func (l *capturingLogger) Info(context.Context, string, ...any)  {}
func (l *capturingLogger) Warn(_ context.Context, msg string, _ ...any) {
	l.warnings = append(l.warnings, msg)
}
func (l *capturingLogger) Error(_ context.Context, msg string, _ ...any) {
	l.errors = append(l.errors, msg)
}

// RunTurn routes its ambient logging/metrics through the Session's
// Logger/Metrics/Tracer fields (spec's ambient observability stack), not just
// through the replayable decision bus: a plain completed turn records a
// completion counter and timer, and an aborting stage logs an Error and
// increments an abort counter tagged with the failing stage.
func TestRunTurn_RecordsAmbientMetricsAndLogs(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{textResponse("Berlin is sunny.")}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	metrics := newCapturingMetrics()
	s.Metrics = metrics

	_, err := s.RunTurn(context.Background(), TurnInput{
		Message:  "What is the weather in Berlin?",
		GoalText: "Summarize recent weather for Berlin",
		Domain:   "weather",
	})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.counters["turn.completed"])
	require.Equal(t, 1, metrics.timers["turn.duration"])
	require.Zero(t, metrics.counters["turn.aborted"])
}

func TestRunTurn_LogsErrorOnAbort(t *testing.T) {
	fc := &fakeModelClient{}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	logger := &capturingLogger{}
	s.Logger = logger

	_, err := s.RunTurn(context.Background(), TurnInput{Message: ""})
	require.Error(t, err)
	require.NotEmpty(t, logger.errors)
}

// When a session holds a trajectory.Handle, stage 5's novelty signal comes
// from the trajectory model's prediction, and each turn's message feeds
// back into it so a repeated task reads as less novel on the next turn
// (spec §4.3 signal (c), §5(a)).
func TestRunTurn_UsesAndUpdatesTrajectoryNovelty(t *testing.T) {
	fc := &fakeModelClient{responses: []*model.Response{
		textResponse("ok"), textResponse("ok"),
	}}
	fx := &fakeExecutor{}
	s := newTestSession(t, fc, fx)

	handle, err := trajectory.NewService(nil).Init(context.Background(), "user-1")
	require.NoError(t, err)
	s.Trajectory = handle

	const msg = "Summarize the quarterly report"
	_, err = s.RunTurn(context.Background(), TurnInput{
		Message:  msg,
		GoalText: "Summarize the quarterly report",
		Domain:   "reports",
	})
	require.NoError(t, err)

	novelty, err := handle.Novelty(context.Background(), msg)
	require.NoError(t, err)
	require.Less(t, novelty, 1.0)
}
