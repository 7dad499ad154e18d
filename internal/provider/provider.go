// Package provider defines the adapter interface every cloud vendor
// implements and the registry the manager dispatches through.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yairfalse/instantiate/pkg/resource"
)

// Kind identifies a cloud vendor.
type Kind string

// Supported vendors.
const (
	AWS          Kind = "aws"
	Azure        Kind = "azure"
	GCP          Kind = "gcp"
	Alibaba      Kind = "alibaba"
	IBM          Kind = "ibm"
	Oracle       Kind = "oracle"
	DigitalOcean Kind = "digitalocean"
	Linode       Kind = "linode"
	Huawei       Kind = "huawei"
	Tencent      Kind = "tencent"
	Netlify      Kind = "netlify"
)

// Kinds lists every vendor in a stable order.
var Kinds = []Kind{AWS, Azure, GCP, Alibaba, IBM, Oracle, DigitalOcean, Linode, Huawei, Tencent, Netlify}

var aliases = map[string]Kind{
	"google":      GCP,
	"aliyun":      Alibaba,
	"huaweicloud": Huawei,
	"do":          DigitalOcean,
	"oci":         Oracle,
}

// ParseKind resolves a provider string, including common aliases.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	k, ok := aliases[s]
	return k, ok
}

func (k Kind) String() string {
	return string(k)
}

// Adapter is the interface all cloud vendor adapters implement.
type Adapter interface {
	// Kind returns the vendor this adapter talks to.
	Kind() Kind

	// Deploy creates the resource described by req. Adapters route on
	// req.Service and reject services they do not know.
	Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error)

	// ListResources returns every resource carrying the Instantiate marker.
	// Partial failures are logged and skipped.
	ListResources(ctx context.Context) ([]resource.Resource, error)

	// ResourceStatus returns the current status of a single resource.
	ResourceStatus(ctx context.Context, id, typ string) (string, error)

	// DeleteResource removes a single resource.
	DeleteResource(ctx context.Context, id, typ string) error
}

// Registry holds the adapters configured at startup.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter
}

// NewRegistry creates a registry with the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[Kind]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds an adapter, replacing any adapter of the same kind.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Kind()] = a
}

// Get returns the adapter for a kind.
func (r *Registry) Get(k Kind) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[k]
	return a, ok
}

// Lookup resolves a provider string to its adapter.
func (r *Registry) Lookup(name string) (Adapter, error) {
	k, ok := ParseKind(name)
	if ok {
		if a, found := r.Get(k); found {
			return a, nil
		}
	}
	return nil, &Error{
		Kind:     Unsupported,
		Provider: Kind(name),
		Err:      fmt.Errorf("Unsupported cloud provider: %s", name),
	}
}

// Kinds returns the registered kinds sorted by name.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
