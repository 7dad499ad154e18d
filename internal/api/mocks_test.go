package api

import (
	"context"
	"errors"

	"github.com/yairfalse/instantiate/internal/assistant"
	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/daemon"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

var errNotMocked = errors.New("not mocked")

type mockManager struct {
	DeployFunc           func(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error)
	AllResourcesFunc     func(ctx context.Context, force bool) ([]resource.Resource, error)
	ProviderStatusesFunc func(ctx context.Context) []resource.ProviderStatus
	DeploymentStatsFunc  func(ctx context.Context) (resource.DeploymentStats, error)
	ResourceStatusFunc   func(ctx context.Context, p, id, typ string) (string, error)
	DeleteResourceFunc   func(ctx context.Context, p, id, typ string) error
	ProvidersFunc        func() []string
}

func (m *mockManager) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockManager) AllResources(ctx context.Context, force bool) ([]resource.Resource, error) {
	if m.AllResourcesFunc != nil {
		return m.AllResourcesFunc(ctx, force)
	}
	return nil, nil
}

func (m *mockManager) ProviderStatuses(ctx context.Context) []resource.ProviderStatus {
	if m.ProviderStatusesFunc != nil {
		return m.ProviderStatusesFunc(ctx)
	}
	return nil
}

func (m *mockManager) DeploymentStats(ctx context.Context) (resource.DeploymentStats, error) {
	if m.DeploymentStatsFunc != nil {
		return m.DeploymentStatsFunc(ctx)
	}
	return resource.DeploymentStats{}, errNotMocked
}

func (m *mockManager) ResourceStatus(ctx context.Context, p, id, typ string) (string, error) {
	if m.ResourceStatusFunc != nil {
		return m.ResourceStatusFunc(ctx, p, id, typ)
	}
	return "", errNotMocked
}

func (m *mockManager) DeleteResource(ctx context.Context, p, id, typ string) error {
	if m.DeleteResourceFunc != nil {
		return m.DeleteResourceFunc(ctx, p, id, typ)
	}
	return errNotMocked
}

func (m *mockManager) Providers() []string {
	if m.ProvidersFunc != nil {
		return m.ProvidersFunc()
	}
	return nil
}

type mockCredentials struct {
	SetFunc       func(p provider.Kind, c credentials.Credentials) error
	RemoveFunc    func(p provider.Kind) error
	ProvidersFunc func() []provider.Kind
}

func (m *mockCredentials) Set(p provider.Kind, c credentials.Credentials) error {
	return m.SetFunc(p, c)
}

func (m *mockCredentials) Remove(p provider.Kind) error {
	return m.RemoveFunc(p)
}

func (m *mockCredentials) Providers() []provider.Kind {
	if m.ProvidersFunc != nil {
		return m.ProvidersFunc()
	}
	return nil
}

type mockAssistant struct {
	ChatFunc func(ctx context.Context, message string) (*assistant.Reply, error)
}

func (m *mockAssistant) Chat(ctx context.Context, message string) (*assistant.Reply, error) {
	return m.ChatFunc(ctx, message)
}

type mockWarmer struct {
	health daemon.HealthStatus
}

func (m *mockWarmer) Health() daemon.HealthStatus {
	return m.health
}
