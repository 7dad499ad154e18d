package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordedByManager(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(mp.Meter("instantiate.manager"))
	require.NoError(t, err)

	aws := &mockAdapter{
		kind:     provider.AWS,
		ListFunc: listOf(resource.Resource{ID: "fn-1"}),
		DeployFunc: func(context.Context, resource.DeployRequest) (*resource.Deployment, error) {
			return nil, errors.New("aws: denied")
		},
	}
	m := New(provider.NewRegistry(aws), Config{}, WithMetrics(metrics))
	ctx := context.Background()

	_, err = m.AllResources(ctx, true)
	require.NoError(t, err)
	_, _ = m.Deploy(ctx, validRequest())

	got := collectMetrics(t, reader)

	refreshes, ok := got["instantiate.provider.refreshes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, refreshes.DataPoints, 1)
	assert.Equal(t, int64(1), refreshes.DataPoints[0].Value)
	outcome, _ := refreshes.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, "success", outcome.AsString())

	deploys, ok := got["instantiate.deploys"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, deploys.DataPoints, 1)
	outcome, _ = deploys.DataPoints[0].Attributes.Value("outcome")
	assert.Equal(t, "error", outcome.AsString())

	cached, ok := got["instantiate.resources.cached"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, cached.DataPoints, 1)
	assert.Equal(t, int64(1), cached.DataPoints[0].Value)

	_, ok = got["instantiate.provider.refresh.duration"]
	assert.True(t, ok)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordRefresh(context.Background(), provider.AWS, 0, nil)
		m.recordDeploy(context.Background(), provider.AWS, nil)
		m.recordCached(context.Background(), 3)
	})
}
