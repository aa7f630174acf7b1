package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errStop = errors.New("subscriber stop")

func TestBusPublishFanOut(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(context.Context, Event) error {
		count++
		return nil
	})
	_, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, PublishCounter(ctx, bus, "weights.update", 1))
	require.NoError(t, PublishDecision(ctx, bus, "sess1", 0, 5, "router.Decision", nil))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	bus := NewBus()
	_, err := bus.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(context.Context, Event) error {
		count++
		return nil
	})
	subscription, err := bus.Register(sub)
	require.NoError(t, err)

	require.NoError(t, PublishCounter(ctx, bus, "x", 1))
	require.NoError(t, subscription.Close())
	require.NoError(t, PublishCounter(ctx, bus, "x", 1))
	require.Equal(t, 1, count)
}

func TestBusPropagatesSubscriberError(t *testing.T) {
	bus := NewBus()
	ctx := context.Background()

	_, err := bus.Register(SubscriberFunc(func(context.Context, Event) error {
		return errStop
	}))
	require.NoError(t, err)

	err = PublishCounter(ctx, bus, "x", 1)
	require.ErrorIs(t, err, errStop)
}
