// Package daemon keeps the resource cache warm between API requests.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yairfalse/instantiate/internal/telemetry"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Refresher is the manager surface the warmer drives. ProviderStatuses
// refreshes every stale provider and reports how each refresh went.
type Refresher interface {
	ProviderStatuses(ctx context.Context) []resource.ProviderStatus
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	Metrics  *DaemonMetrics
}

// Daemon periodically refreshes stale provider entries.
type Daemon struct {
	refresher Refresher
	interval  time.Duration
	metrics   *DaemonMetrics
	logger    *telemetry.Logger
	startTime time.Time
	warmCount atomic.Int64

	mu        sync.RWMutex
	lastWarm  time.Time
	lastCount int
	failing   []string
	lastErr   error
}

// NewDaemon creates a new daemon instance
func NewDaemon(r Refresher, config Config) (*Daemon, error) {
	if r == nil {
		return nil, errors.New("daemon requires a refresher")
	}
	if config.Interval <= 0 {
		return nil, errors.New("daemon interval must be positive")
	}
	return &Daemon{
		refresher: r,
		interval:  config.Interval,
		metrics:   config.Metrics,
		logger:    telemetry.NewLogger("daemon"),
		startTime: time.Now(),
	}, nil
}

// Start warms the cache once, then on every tick until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	d.logger.Info().Dur("interval", d.interval).Msg("cache warmer started")

	d.warm(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Int64("warms", d.WarmCount()).Msg("cache warmer stopped")
			return nil
		case <-ticker.C:
			d.warm(ctx)
		}
	}
}

func (d *Daemon) warm(ctx context.Context) {
	start := time.Now()
	statuses := d.refresher.ProviderStatuses(ctx)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return
	}
	d.warmCount.Add(1)

	count := 0
	var failing, reasons []string
	for _, st := range statuses {
		count += st.ResourceCount
		if st.Status == resource.StatusError {
			failing = append(failing, st.Provider)
			reasons = append(reasons, st.Provider+": "+st.Error)
		}
	}
	var err error
	if len(failing) > 0 {
		err = fmt.Errorf("%d of %d providers failed to refresh: %s", len(failing), len(statuses), strings.Join(reasons, "; "))
	}

	d.mu.Lock()
	d.lastWarm = start
	d.lastCount = count
	d.failing = failing
	d.lastErr = err
	d.mu.Unlock()

	status := "success"
	if err != nil {
		status = "error"
		d.logger.WithContext(ctx).Warn().Err(err).Strs("providers", failing).Msg("cache warm incomplete")
	} else {
		d.logger.WithContext(ctx).Debug().
			Int("resources", count).
			Dur("duration", elapsed).
			Msg("cache warmed")
	}
	d.metrics.RecordWarm(ctx, status, elapsed.Seconds())
}

// Health reports the outcome of the last warm. It is degraded while any
// provider's refresh is failing; unconfigured providers do not count.
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := HealthStatus{
		Status:    "healthy",
		Uptime:    int64(time.Since(d.startTime).Seconds()),
		Resources: d.lastCount,
		Failing:   append([]string(nil), d.failing...),
	}
	if !d.lastWarm.IsZero() {
		last := d.lastWarm
		h.LastWarm = &last
	}
	if d.lastErr != nil {
		h.Status = "degraded"
		h.Error = d.lastErr.Error()
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string     `json:"status"`
	Uptime    int64      `json:"uptime"`
	Resources int        `json:"resources"`
	Failing   []string   `json:"failing,omitempty"`
	LastWarm  *time.Time `json:"lastWarm,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// WarmCount returns total warm runs
func (d *Daemon) WarmCount() int64 {
	return d.warmCount.Load()
}
