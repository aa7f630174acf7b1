package llmcontract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChecker struct{ healthy bool }

func (f *fakeChecker) HealthCheck(context.Context) bool { return f.healthy }

func TestHealthMonitor_RegisteredProviderStartsHealthy(t *testing.T) {
	m := NewHealthMonitor(time.Hour)
	m.Register("primary", &fakeChecker{healthy: false})
	require.True(t, m.Healthy("primary"))
	require.False(t, m.Degraded())
}

func TestHealthMonitor_UnknownProviderReportsHealthy(t *testing.T) {
	m := NewHealthMonitor(time.Hour)
	require.True(t, m.Healthy("never-registered"))
}

func TestHealthMonitor_PollDetectsDegradation(t *testing.T) {
	checker := &fakeChecker{healthy: true}
	m := NewHealthMonitor(5 * time.Millisecond)
	m.Register("primary", checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	checker.healthy = false
	require.Eventually(t, m.Degraded, time.Second, 5*time.Millisecond)
	require.False(t, m.Healthy("primary"))
}

func TestHealthMonitor_RecoversAfterPoll(t *testing.T) {
	checker := &fakeChecker{healthy: false}
	m := NewHealthMonitor(5 * time.Millisecond)
	m.Register("primary", checker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	require.Eventually(t, m.Degraded, time.Second, 5*time.Millisecond)

	checker.healthy = true
	require.Eventually(t, func() bool { return !m.Degraded() }, time.Second, 5*time.Millisecond)
}
