package snapshotstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/synapsecore/core/goal"
	"github.com/goa-ai-labs/synapsecore/core/orchestrator"
	"github.com/goa-ai-labs/synapsecore/core/session"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	snap := session.RootSnapshot{
		Version:   session.SnapshotVersion,
		SessionID: "sess-1",
		Engines: orchestrator.SessionSnapshot{
			Goal: &goal.Snapshot{Text: "fix the bug"},
			Step: 5,
		},
	}
	require.NoError(t, store.Save(ctx, snap))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, snap, loaded)
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, "never-saved"))

	require.NoError(t, store.Save(ctx, session.RootSnapshot{SessionID: "sess-1"}))
	require.NoError(t, store.Delete(ctx, "sess-1"))
	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err := store.Load(ctx, "sess-1")
	require.ErrorIs(t, err, ErrNotFound)
}
