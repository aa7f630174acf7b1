package streaming

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBrokerFanOut(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub1, err := broker.Subscribe(ctx, "sess-1")
	require.NoError(t, err)
	sub2, err := broker.Subscribe(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "sess-1", Chunk{Content: "hello"}))

	for _, sub := range []Subscription{sub1, sub2} {
		select {
		case c := <-sub.Chunks():
			require.Equal(t, "hello", c.Content)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for chunk")
		}
	}
}

func TestMemoryBrokerIsolatesSessions(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "sess-2", Chunk{Content: "other session"}))

	select {
	case c := <-sub.Chunks():
		t.Fatalf("unexpected chunk for unrelated session: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerCloseStopsDelivery(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	sub, err := broker.Subscribe(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, stillOpen := <-sub.Chunks()
	require.False(t, stillOpen)
}

func TestMemoryBrokerPublishAfterBrokerClose(t *testing.T) {
	broker := NewMemoryBroker()
	ctx := context.Background()

	_, err := broker.Subscribe(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, broker.Close(ctx))

	err = broker.Publish(ctx, "sess-1", Chunk{Content: "too late"})
	require.ErrorIs(t, err, ErrPublisherClosed)
}
