package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/llmcontract"
	"github.com/goa-ai-labs/synapsecore/core/orchestrator"
	"github.com/goa-ai-labs/synapsecore/core/toolcontract"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/model"
	"github.com/goa-ai-labs/synapsecore/runtime/agent/tools"
)

type fakeModelClient struct {
	response *model.Response
}

func (f *fakeModelClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	return f.response, nil
}

func (f *fakeModelClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

type fakeExecutor struct{}

func (fakeExecutor) List(context.Context) ([]toolcontract.ToolDescriptor, error) {
	return nil, nil
}

func (fakeExecutor) Execute(context.Context, tools.Ident, json.RawMessage) (toolcontract.ExecuteResult, error) {
	return toolcontract.ExecuteResult{Result: "ok"}, nil
}

func newTestCollaborators() (*llmcontract.Client, toolcontract.Executor) {
	client := &fakeModelClient{response: &model.Response{
		Content: []model.Message{{Role: model.ConversationRoleAssistant, Parts: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	return llmcontract.New(client), fakeExecutor{}
}

func TestManagerCreateSessionIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil)
	llm, tools := newTestCollaborators()
	ctx := context.Background()

	s1, err := m.CreateSession(ctx, "sess-1", orchestrator.DefaultConfig(), llm, tools)
	require.NoError(t, err)

	s2, err := m.CreateSession(ctx, "sess-1", orchestrator.DefaultConfig(), llm, tools)
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestManagerRunTurnUnknownSession(t *testing.T) {
	m := NewManager(nil, nil)
	_, err := m.RunTurn(context.Background(), "missing", orchestrator.TurnInput{})
	require.Error(t, err)
}

func TestManagerSnapshotRestoreRoundTrip(t *testing.T) {
	m := NewManager(nil, nil)
	llm, tools := newTestCollaborators()
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "sess-1", orchestrator.DefaultConfig(), llm, tools)
	require.NoError(t, err)

	_, err = m.RunTurn(ctx, "sess-1", orchestrator.TurnInput{
		Message:  "look into the failing build",
		GoalText: "fix the failing build",
		Domain:   "ci",
		Progress: 0.2,
	})
	require.NoError(t, err)

	snap, err := m.Snapshot("sess-1")
	require.NoError(t, err)
	require.Equal(t, SnapshotVersion, snap.Version)
	require.Equal(t, "sess-1", snap.SessionID)
	require.NotNil(t, snap.Engines.Goal)
	require.Equal(t, "fix the failing build", snap.Engines.Goal.Text)

	closedSnap, err := m.CloseSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, snap.Engines.Step, closedSnap.Engines.Step)

	_, err = m.RunTurn(ctx, "sess-1", orchestrator.TurnInput{})
	require.Error(t, err)

	restored, err := m.Restore(ctx, closedSnap, orchestrator.DefaultConfig(), llm, tools)
	require.NoError(t, err)
	require.Equal(t, closedSnap.Engines.Step, restored.StepCount())
}

func TestManagerRestoreRejectsUnknownVersion(t *testing.T) {
	m := NewManager(nil, nil)
	llm, tools := newTestCollaborators()

	_, err := m.Restore(context.Background(), RootSnapshot{Version: 999, SessionID: "sess-1"}, orchestrator.DefaultConfig(), llm, tools)
	require.Error(t, err)
}
