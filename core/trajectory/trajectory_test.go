package trajectory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandleObserveAndPredict(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)
	h, err := svc.Init(ctx, "user-1")
	require.NoError(t, err)

	_, ok, err := h.PredictedNextTask(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	novelty, err := h.Novelty(ctx, "write a JWT login endpoint")
	require.NoError(t, err)
	require.Equal(t, 1.0, novelty) // maximally novel with no prior observation

	require.NoError(t, h.ObserveTask(ctx, "write a JWT login endpoint"))
	predicted, ok, err := h.PredictedNextTask(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1.0, predicted.SimilarityToText("write a JWT login endpoint"))

	novelty, err = h.Novelty(ctx, "write a JWT login endpoint")
	require.NoError(t, err)
	require.InDelta(t, 0, novelty, 1e-9)
}

func TestHandleInsightsRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)
	h, err := svc.Init(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, h.RecordInsight(ctx, "tone", "prefers terse answers", 0.8))
	insights, err := h.Insights(ctx)
	require.NoError(t, err)
	require.Equal(t, "prefers terse answers", insights["tone"].Value)
}

func TestHandleRejectsAfterShutdown(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)
	h, err := svc.Init(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Shutdown(ctx))
	err = h.ObserveTask(ctx, "anything")
	require.ErrorIs(t, err, errServiceClosed)
}

func TestRecentTaskWindowEviction(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)
	h, err := svc.Init(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < recentTaskWindow+5; i++ {
		require.NoError(t, h.ObserveTask(ctx, "task"))
	}
	recent, _, ok, err := svc.store.Load(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, recent, recentTaskWindow)
}
