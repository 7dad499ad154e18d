package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DaemonMetrics holds cache warmer metrics. A nil *DaemonMetrics records
// nothing.
type DaemonMetrics struct {
	warms        metric.Int64Counter
	warmDuration metric.Float64Histogram
}

// NewDaemonMetrics creates daemon metrics on the global meter provider.
func NewDaemonMetrics() (*DaemonMetrics, error) {
	return newDaemonMetrics(otel.Meter("instantiate.daemon"))
}

func newDaemonMetrics(meter metric.Meter) (*DaemonMetrics, error) {
	warms, err := meter.Int64Counter(
		"instantiate.daemon.warms",
		metric.WithDescription("Number of cache warm runs"),
		metric.WithUnit("{warm}"),
	)
	if err != nil {
		return nil, err
	}

	warmDuration, err := meter.Float64Histogram(
		"instantiate.daemon.warm.duration",
		metric.WithDescription("Duration of cache warm runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DaemonMetrics{
		warms:        warms,
		warmDuration: warmDuration,
	}, nil
}

// RecordWarm records one warm run with its status.
func (m *DaemonMetrics) RecordWarm(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.warms.Add(ctx, 1, attrs)
	m.warmDuration.Record(ctx, durationSeconds, attrs)
}
