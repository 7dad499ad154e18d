// Package manager dispatches deployments to provider adapters and serves
// the merged, cached view of every provider's resources.
package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yairfalse/instantiate/internal/cache"
	"github.com/yairfalse/instantiate/internal/journal"
	"github.com/yairfalse/instantiate/internal/policy"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/telemetry"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultProviderTimeout      = 30 * time.Second
	DefaultMaxConcurrentDeploys = 8
)

// Journal records deploy and delete events.
type Journal interface {
	Append(t journal.EntryType, p provider.Kind, resourceID string, data any) error
	AppendError(t journal.EntryType, p provider.Kind, resourceID string, data any, cause error) error
}

// Policy decides whether a deploy may proceed.
type Policy interface {
	Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// Config holds manager settings.
type Config struct {
	CacheTTL             time.Duration
	ProviderTimeout      time.Duration
	MaxConcurrentDeploys int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy enables deploy admission checks.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithJournal records deploys and deletions.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics records refresh and deploy metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock replaces time.Now for the manager and its cache.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the multi-cloud dispatcher.
type Manager struct {
	registry *provider.Registry
	cache    *cache.Cache
	policy   Policy
	journal  Journal
	metrics  *Metrics
	validate *validator.Validate
	deploys  *semaphore.Weighted
	timeout  time.Duration
	now      func() time.Time
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// New creates a manager over the adapters in registry. The manager owns
// its resource cache.
func New(registry *provider.Registry, cfg Config, opts ...Option) *Manager {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MaxConcurrentDeploys <= 0 {
		cfg.MaxConcurrentDeploys = DefaultMaxConcurrentDeploys
	}

	m := &Manager{
		registry: registry,
		validate: newValidator(),
		deploys:  semaphore.NewWeighted(int64(cfg.MaxConcurrentDeploys)),
		timeout:  cfg.ProviderTimeout,
		now:      time.Now,
		logger:   telemetry.NewLogger("manager"),
		tracer:   otel.Tracer("instantiate/manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = cache.New(cfg.CacheTTL, cache.WithClock(m.now), cache.WithChangeHook(m.logChanges))
	return m
}

// Cache returns the manager's resource cache.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	kinds := m.registry.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return names
}

// Deploy validates req, checks policy and hands it to the provider's
// adapter. A successful deployment is added to the cache.
func (m *Manager) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	adapter, err := m.registry.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}
	kind := adapter.Kind()

	ctx, span := m.tracer.Start(ctx, "manager.deploy", trace.WithAttributes(
		attribute.String("cloud.provider", string(kind)),
		attribute.String("deploy.service", req.Service),
	))
	defer span.End()

	if err := m.validate.Struct(req); err != nil {
		return nil, validationError(kind, err)
	}
	if err := m.admit(ctx, kind, req); err != nil {
		return nil, err
	}

	if err := m.deploys.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for deploy slot: %w", err)
	}
	defer m.deploys.Release(1)

	m.record(journal.DeployStarted, kind, "", summary(req), nil)
	start := m.now()

	dep, err := adapter.Deploy(ctx, req)
	m.metrics.recordDeploy(ctx, kind, err)
	if err != nil {
		m.record(journal.DeployFailed, kind, "", summary(req), err)
		m.logger.WithContext(ctx).Error().Err(err).
			Str("provider", string(kind)).
			Str("service", req.Service).
			Msg("deployment failed")
		return nil, deployError(kind, err)
	}

	dep.Provider = string(kind)
	dep.DeploymentType = resource.DeploymentTypeUnified
	m.cache.Put(kind, dep.Resource())
	m.record(journal.DeploySucceeded, kind, dep.ID, dep, nil)

	m.logger.WithContext(ctx).Info().
		Str("provider", string(kind)).
		Str("resource_id", dep.ID).
		Str("type", dep.Type).
		Dur("duration", m.now().Sub(start)).
		Msg("deployment created")
	return dep, nil
}

func (m *Manager) admit(ctx context.Context, kind provider.Kind, req resource.DeployRequest) error {
	if m.policy == nil {
		return nil
	}
	decision, err := m.policy.Evaluate(ctx, policy.Input{Request: req, Provider: string(kind)})
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	if decision.Allowed {
		return nil
	}
	return &provider.Error{
		Kind:     provider.PolicyDenied,
		Provider: kind,
		Op:       "deploy",
		Err:      fmt.Errorf("deployment denied by policy: %s", strings.Join(decision.Reasons, "; ")),
	}
}

func deployError(kind provider.Kind, err error) error {
	k := provider.KindOf(err)
	if k == "" {
		k = provider.VendorError
	}
	return provider.Wrap(k, kind, "deploy", fmt.Errorf("%s deployment failed: %w", kind, err))
}

// AllResources refreshes every provider, skipping fresh entries unless
// forceRefresh is set, and returns the merged cache newest first. Failing
// providers are logged and keep their previous entry.
func (m *Manager) AllResources(ctx context.Context, forceRefresh bool) ([]resource.Resource, error) {
	m.refreshAll(ctx, forceRefresh)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.cache.All(), nil
}

// refreshAll refreshes every provider concurrently and returns the error
// of each one, nil on success or when the entry was fresh.
func (m *Manager) refreshAll(ctx context.Context, force bool) map[provider.Kind]error {
	kinds := m.registry.Kinds()
	errs := make([]error, len(kinds))

	var g errgroup.Group
	for i, k := range kinds {
		g.Go(func() error {
			errs[i] = m.refresh(ctx, k, force)
			return nil
		})
	}
	_ = g.Wait()

	m.metrics.recordCached(ctx, m.cache.Len())

	out := make(map[provider.Kind]error, len(kinds))
	for i, k := range kinds {
		out[k] = errs[i]
	}
	return out
}

func (m *Manager) refresh(ctx context.Context, k provider.Kind, force bool) error {
	adapter, ok := m.registry.Get(k)
	if !ok {
		return provider.Errorf(provider.Unsupported, k, "no adapter registered")
	}
	if !force && m.cache.Fresh(k, m.now()) {
		return nil
	}

	start := m.now()
	err := m.cache.Refresh(ctx, k, force, func(ctx context.Context) ([]resource.Resource, error) {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		return adapter.ListResources(ctx)
	})
	m.metrics.recordRefresh(ctx, k, m.now().Sub(start), err)

	if err != nil {
		event := m.logger.WithContext(ctx).Warn()
		if provider.IsNotConfigured(err) {
			event = m.logger.WithContext(ctx).Debug()
		}
		event.Err(err).Str("provider", string(k)).Msg("failed to refresh provider resources")
	}
	return err
}

// ProviderStatuses refreshes stale providers and reports each one's health.
func (m *Manager) ProviderStatuses(ctx context.Context) []resource.ProviderStatus {
	errs := m.refreshAll(ctx, false)

	kinds := m.registry.Kinds()
	statuses := make([]resource.ProviderStatus, 0, len(kinds))
	for _, k := range kinds {
		statuses = append(statuses, m.status(k, errs[k]))
	}
	return statuses
}

func (m *Manager) status(k provider.Kind, err error) resource.ProviderStatus {
	resources := m.cache.Resources(k)
	s := resource.ProviderStatus{
		Provider:      string(k),
		Status:        resource.StatusConnected,
		ResourceCount: len(resources),
		TotalCost:     sumCost(resources),
	}
	if last, ok := m.cache.LastSync(k); ok {
		s.LastSync = &last
	}
	if err != nil {
		s.Error = err.Error()
		s.Status = resource.StatusError
		if provider.IsNotConfigured(err) {
			s.Status = resource.StatusNotConfigured
		}
	}
	return s
}

// DeploymentStats folds every cached resource into histograms.
func (m *Manager) DeploymentStats(ctx context.Context) (resource.DeploymentStats, error) {
	all, err := m.AllResources(ctx, false)
	if err != nil {
		return resource.DeploymentStats{}, err
	}

	stats := resource.DeploymentStats{
		TotalResources: len(all),
		ByProvider:     make(map[string]int),
		ByStatus:       make(map[string]int),
		ByRegion:       make(map[string]int),
	}
	for _, r := range all {
		stats.ByProvider[r.Provider]++
		stats.ByStatus[r.Status]++
		stats.ByRegion[r.Region]++
		if r.Cost != nil {
			stats.TotalCost += *r.Cost
		}
	}
	return stats, nil
}

// ResourceStatus asks the provider for the live status of one resource.
func (m *Manager) ResourceStatus(ctx context.Context, providerName, id, typ string) (string, error) {
	adapter, err := m.registry.Lookup(providerName)
	if err != nil {
		return "", err
	}
	return adapter.ResourceStatus(ctx, id, typ)
}

// DeleteResource deletes one resource and drops it from the cache.
func (m *Manager) DeleteResource(ctx context.Context, providerName, id, typ string) error {
	adapter, err := m.registry.Lookup(providerName)
	if err != nil {
		return err
	}
	kind := adapter.Kind()

	if err := adapter.DeleteResource(ctx, id, typ); err != nil {
		return err
	}
	m.cache.Remove(kind, id)
	m.record(journal.ResourceDeleted, kind, id, map[string]string{"type": typ}, nil)

	m.logger.WithContext(ctx).Info().
		Str("provider", string(kind)).
		Str("resource_id", id).
		Str("type", typ).
		Msg("resource deleted")
	return nil
}

func (m *Manager) record(t journal.EntryType, k provider.Kind, id string, data any, cause error) {
	if m.journal == nil {
		return
	}
	var err error
	if cause != nil {
		err = m.journal.AppendError(t, k, id, data, cause)
	} else {
		err = m.journal.Append(t, k, id, data)
	}
	if err != nil {
		m.logger.Warn().Err(err).Str("provider", string(k)).Str("event", string(t)).Msg("failed to write journal entry")
	}
}

func (m *Manager) logChanges(k provider.Kind, changes []resource.ResourceChange) {
	for _, c := range changes {
		event := m.logger.Info().
			Str("provider", string(k)).
			Str("resource_id", c.Resource.ID).
			Str("change", string(c.Kind))
		for _, name := range c.FieldNames() {
			f := c.Fields[name]
			event = event.Str(name, f.From+" -> "+f.To)
		}
		event.Msg("resource changed")
	}
}

// summary is the journal payload for a deploy request. Code and
// environment values are left out.
func summary(req resource.DeployRequest) map[string]string {
	return map[string]string{
		"name":     req.Name,
		"codeType": req.CodeType,
		"region":   req.Region,
		"service":  req.Service,
	}
}

func sumCost(resources []resource.Resource) *float64 {
	var total float64
	found := false
	for _, r := range resources {
		if r.Cost != nil {
			total += *r.Cost
			found = true
		}
	}
	if !found {
		return nil
	}
	return &total
}
