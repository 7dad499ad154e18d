package manager

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/yairfalse/instantiate/internal/journal"
	"github.com/yairfalse/instantiate/internal/policy"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

var errNotMocked = errors.New("not mocked")

type mockAdapter struct {
	kind       provider.Kind
	DeployFunc func(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error)
	ListFunc   func(ctx context.Context) ([]resource.Resource, error)
	StatusFunc func(ctx context.Context, id, typ string) (string, error)
	DeleteFunc func(ctx context.Context, id, typ string) error

	deployCalls atomic.Int32
	listCalls   atomic.Int32
}

func (m *mockAdapter) Kind() provider.Kind { return m.kind }

func (m *mockAdapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	m.deployCalls.Add(1)
	if m.DeployFunc != nil {
		return m.DeployFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockAdapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	m.listCalls.Add(1)
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return nil, nil
}

func (m *mockAdapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, id, typ)
	}
	return "", errNotMocked
}

func (m *mockAdapter) DeleteResource(ctx context.Context, id, typ string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id, typ)
	}
	return errNotMocked
}

type mockPolicy struct {
	EvaluateFunc func(ctx context.Context, in policy.Input) (policy.Decision, error)
}

func (m *mockPolicy) Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error) {
	return m.EvaluateFunc(ctx, in)
}

type journalEntry struct {
	Type       journal.EntryType
	Provider   provider.Kind
	ResourceID string
	Err        string
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

func (f *fakeJournal) Append(t journal.EntryType, p provider.Kind, id string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, journalEntry{Type: t, Provider: p, ResourceID: id})
	return nil
}

func (f *fakeJournal) AppendError(t journal.EntryType, p provider.Kind, id string, _ any, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, journalEntry{Type: t, Provider: p, ResourceID: id, Err: cause.Error()})
	return nil
}

func (f *fakeJournal) types() []journal.EntryType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]journal.EntryType, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Type
	}
	return out
}
