package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecisionLogReplay(t *testing.T) {
	bus := NewBus()
	log := NewDecisionLog()
	_, err := bus.Register(log)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, PublishDecision(ctx, bus, "sess1", 0, 5, "router.Decision", "worker"))
	require.NoError(t, PublishDecision(ctx, bus, "sess1", 1, 5, "router.Decision", "orchestrator"))
	require.NoError(t, PublishDecision(ctx, bus, "sess2", 0, 5, "router.Decision", "worker"))

	replay := log.Replay("sess1")
	require.Len(t, replay, 2)
	require.Equal(t, "worker", replay[0].Payload)
	require.Equal(t, "orchestrator", replay[1].Payload)
	require.Equal(t, 5, replay[0].Stage)

	require.Len(t, log.Replay("sess2"), 1)
	require.Empty(t, log.Replay("unknown"))
}

func TestPublishDecisionNilBus(t *testing.T) {
	require.NoError(t, PublishDecision(context.Background(), nil, "sess1", 0, 5, "k", nil))
}
