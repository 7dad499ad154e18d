package manager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/instantiate/internal/provider"
)

// Metrics holds manager instruments. A nil *Metrics records nothing.
type Metrics struct {
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
	deploys         metric.Int64Counter
	cachedResources metric.Int64Gauge
}

// NewMetrics creates the manager instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	refreshes, err := meter.Int64Counter(
		"instantiate.provider.refreshes",
		metric.WithDescription("Number of provider listing refreshes"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}

	refreshDuration, err := meter.Float64Histogram(
		"instantiate.provider.refresh.duration",
		metric.WithDescription("Duration of provider listing refreshes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	deploys, err := meter.Int64Counter(
		"instantiate.deploys",
		metric.WithDescription("Number of deploy requests"),
		metric.WithUnit("{deploy}"),
	)
	if err != nil {
		return nil, err
	}

	cachedResources, err := meter.Int64Gauge(
		"instantiate.resources.cached",
		metric.WithDescription("Number of resources held in the cache"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		refreshes:       refreshes,
		refreshDuration: refreshDuration,
		deploys:         deploys,
		cachedResources: cachedResources,
	}, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) recordRefresh(ctx context.Context, p provider.Kind, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("cloud.provider", string(p)),
		attribute.String("outcome", outcome(err)),
	)
	m.refreshes.Add(ctx, 1, attrs)
	m.refreshDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordDeploy(ctx context.Context, p provider.Kind, err error) {
	if m == nil {
		return
	}
	m.deploys.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cloud.provider", string(p)),
		attribute.String("outcome", outcome(err)),
	))
}

func (m *Metrics) recordCached(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.cachedResources.Record(ctx, int64(n))
}
