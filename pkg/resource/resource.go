// Package resource defines the unified resource model for Instantiate.
package resource

import (
	"strings"
	"time"
)

// Marker is the label key and name fragment that identifies resources
// created by Instantiate.
const Marker = "instantiate"

// Resource represents a deployed cloud resource in unified format.
// Identity is (Provider, ID).
type Resource struct {
	ID          string            `json:"id"`               // Vendor identifier (e.g., "i-abc123", ARM id)
	Name        string            `json:"name"`             // Human-readable name
	Type        string            `json:"type"`             // Resource type (e.g., "lambda", "container")
	Provider    string            `json:"provider"`         // Cloud provider (e.g., "aws", "azure")
	Region      string            `json:"region"`           // Region or location
	Status      string            `json:"status"`           // Normalized status (e.g., "running")
	Cost        *float64          `json:"cost,omitempty"`   // Monthly cost estimate, when the vendor reports one
	URL         string            `json:"url,omitempty"`    // Public endpoint, if any
	Labels      map[string]string `json:"labels,omitempty"` // Vendor tags/labels
	CreatedAt   time.Time         `json:"createdAt"`        // Vendor creation time
	LastChecked time.Time         `json:"lastChecked"`      // When this record was last synced
}

// Key returns the identity of a resource across refreshes.
func Key(r Resource) string {
	return r.Provider + "|" + r.ID
}

// Status values reported by ProviderStatus.
const (
	StatusConnected     = "connected"
	StatusError         = "error"
	StatusNotConfigured = "not-configured"
)

// ProviderStatus describes the health of one provider as seen by the last
// refresh attempt. It is derived, never stored.
type ProviderStatus struct {
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	ResourceCount int        `json:"resourceCount"`
	TotalCost     *float64   `json:"totalCost,omitempty"`
	LastSync      *time.Time `json:"lastSync,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// DeploymentStats aggregates all cached resources.
type DeploymentStats struct {
	TotalResources int            `json:"totalResources"`
	TotalCost      float64        `json:"totalCost"`
	ByProvider     map[string]int `json:"byProvider"`
	ByStatus       map[string]int `json:"byStatus"`
	ByRegion       map[string]int `json:"byRegion"`
}

// Code types accepted by DeployRequest.
const (
	CodeJavaScript = "javascript"
	CodePython     = "python"
	CodeHTML       = "html"
	CodeContainer  = "container"
)

// DeployRequest is the provider-agnostic deployment request.
type DeployRequest struct {
	Name                 string            `json:"name" yaml:"name" validate:"required,max=63"`
	Code                 string            `json:"code" yaml:"code" validate:"required"`
	CodeType             string            `json:"codeType" yaml:"codeType" validate:"required,oneof=javascript python html container"`
	Provider             string            `json:"provider" yaml:"provider" validate:"required"`
	Region               string            `json:"region" yaml:"region" validate:"required"`
	Service              string            `json:"service" yaml:"service" validate:"required"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty" yaml:"environmentVariables,omitempty" validate:"omitempty,max=64"`
}

// DeploymentTypeUnified marks deployments dispatched through the manager.
const DeploymentTypeUnified = "unified"

// Deployment is the normalized result of a deploy.
type Deployment struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	Region         string    `json:"region"`
	Status         string    `json:"status"`
	URL            string    `json:"url,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Logs           []string  `json:"logs,omitempty"`
	Provider       string    `json:"provider"`
	DeploymentType string    `json:"deploymentType,omitempty"`
}

// Resource converts a deployment into the cached resource shape.
func (d Deployment) Resource() Resource {
	return Resource{
		ID:          d.ID,
		Name:        d.Name,
		Type:        d.Type,
		Provider:    d.Provider,
		Region:      d.Region,
		Status:      d.Status,
		URL:         d.URL,
		Labels:      map[string]string{Marker: "true"},
		CreatedAt:   d.CreatedAt,
		LastChecked: d.CreatedAt,
	}
}

// IsMarked reports whether the resource was created by Instantiate, either
// through the marker label or through its name.
func (r Resource) IsMarked() bool {
	if _, ok := r.Labels[Marker]; ok {
		return true
	}
	return strings.Contains(strings.ToLower(r.Name), Marker)
}
