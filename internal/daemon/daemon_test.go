package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/instantiate/pkg/resource"
)

type mockRefresher struct {
	ProviderStatusesFunc func(ctx context.Context) []resource.ProviderStatus
	calls                atomic.Int32
}

func (m *mockRefresher) ProviderStatuses(ctx context.Context) []resource.ProviderStatus {
	m.calls.Add(1)
	if m.ProviderStatusesFunc != nil {
		return m.ProviderStatusesFunc(ctx)
	}
	return nil
}

func statuses(s ...resource.ProviderStatus) func(context.Context) []resource.ProviderStatus {
	return func(context.Context) []resource.ProviderStatus { return s }
}

func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(&mockRefresher{}, Config{Interval: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d.interval)

	_, err = NewDaemon(nil, Config{Interval: time.Minute})
	assert.Error(t, err)

	_, err = NewDaemon(&mockRefresher{}, Config{})
	assert.EqualError(t, err, "daemon interval must be positive")
}

func TestDaemon_GracefulShutdown(t *testing.T) {
	d, err := NewDaemon(&mockRefresher{}, Config{Interval: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}

func TestDaemon_WarmsRepeatedly(t *testing.T) {
	r := &mockRefresher{ProviderStatusesFunc: statuses(
		resource.ProviderStatus{Provider: "aws", Status: resource.StatusConnected, ResourceCount: 2},
		resource.ProviderStatus{Provider: "linode", Status: resource.StatusConnected, ResourceCount: 1},
	)}
	d, err := NewDaemon(r, Config{Interval: 50 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.WarmCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	h := d.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 3, h.Resources)
	assert.Empty(t, h.Failing)
	assert.NotNil(t, h.LastWarm)
}

func TestDaemon_HealthDegradedWhenProviderFails(t *testing.T) {
	r := &mockRefresher{ProviderStatusesFunc: statuses(
		resource.ProviderStatus{Provider: "aws", Status: resource.StatusConnected, ResourceCount: 4},
		resource.ProviderStatus{Provider: "azure", Status: resource.StatusError, ResourceCount: 1, Error: "azure: GET /resources: HTTP 500"},
		resource.ProviderStatus{Provider: "ibm", Status: resource.StatusNotConfigured, Error: "IBM credentials not configured"},
	)}
	d, err := NewDaemon(r, Config{Interval: time.Hour})
	require.NoError(t, err)

	d.warm(context.Background())

	h := d.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, []string{"azure"}, h.Failing)
	assert.Equal(t, 5, h.Resources)
	assert.Equal(t, "1 of 3 providers failed to refresh: azure: azure: GET /resources: HTTP 500", h.Error)
	assert.Equal(t, int64(1), d.WarmCount())
}

func TestDaemon_RecoversAfterFailure(t *testing.T) {
	failing := true
	r := &mockRefresher{ProviderStatusesFunc: func(context.Context) []resource.ProviderStatus {
		if failing {
			return []resource.ProviderStatus{{Provider: "aws", Status: resource.StatusError, Error: "throttled"}}
		}
		return []resource.ProviderStatus{{Provider: "aws", Status: resource.StatusConnected}}
	}}
	d, err := NewDaemon(r, Config{Interval: time.Hour})
	require.NoError(t, err)

	d.warm(context.Background())
	require.Equal(t, "degraded", d.Health().Status)

	failing = false
	d.warm(context.Background())

	h := d.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Empty(t, h.Error)
	assert.Empty(t, h.Failing)
}

func TestDaemon_HealthBeforeFirstWarm(t *testing.T) {
	d, err := NewDaemon(&mockRefresher{}, Config{Interval: time.Hour})
	require.NoError(t, err)

	h := d.Health()

	assert.Equal(t, "healthy", h.Status)
	assert.GreaterOrEqual(t, h.Uptime, int64(0))
	assert.Nil(t, h.LastWarm)
}

func TestDaemon_CancelledWarmIsNotCounted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &mockRefresher{ProviderStatusesFunc: func(context.Context) []resource.ProviderStatus {
		cancel()
		return []resource.ProviderStatus{{Provider: "aws", Status: resource.StatusError, Error: "context canceled"}}
	}}
	d, err := NewDaemon(r, Config{Interval: time.Hour})
	require.NoError(t, err)

	d.warm(ctx)

	assert.Equal(t, int64(0), d.WarmCount())
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, "healthy", d.Health().Status)
}
