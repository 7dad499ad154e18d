// Package oracle implements the Oracle Cloud provider adapter. Request
// signing for OCI is not wired yet, so every operation fails once
// credentials are present.
package oracle

import (
	"context"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// Adapter implements provider.Adapter for Oracle Cloud.
type Adapter struct {
	creds credentials.Reader
}

// New creates a new Oracle adapter.
func New(creds credentials.Reader) *Adapter {
	return &Adapter{creds: creds}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Oracle
}

// TODO: sign requests with the OCI HTTP signature scheme (draft-cavage) using
// the tenancy/user OCIDs, fingerprint and private key so these can call the
// Container Instances API.
func (a *Adapter) unavailable(op string) error {
	if _, err := credentials.Resolve(a.creds, provider.Oracle); err != nil {
		return err
	}
	e := provider.Errorf(provider.VendorError, provider.Oracle, "Oracle Cloud deployment requires proper authentication setup")
	e.Op = op
	return e
}

// Deploy always fails until OCI signing is available.
func (a *Adapter) Deploy(_ context.Context, _ resource.DeployRequest) (*resource.Deployment, error) {
	return nil, a.unavailable("deploy")
}

// ListResources always fails until OCI signing is available.
func (a *Adapter) ListResources(_ context.Context) ([]resource.Resource, error) {
	return nil, a.unavailable("list")
}

// ResourceStatus always fails until OCI signing is available.
func (a *Adapter) ResourceStatus(_ context.Context, _, _ string) (string, error) {
	return "", a.unavailable("status")
}

// DeleteResource always fails until OCI signing is available.
func (a *Adapter) DeleteResource(_ context.Context, _, _ string) error {
	return a.unavailable("delete")
}
