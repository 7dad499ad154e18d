// Package netlify implements the Netlify provider adapter.
package netlify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

// DefaultBaseURL is the Netlify REST API root.
const DefaultBaseURL = "https://api.netlify.com/api/v1"

// scriptPage wraps JavaScript sources so the site has an entry page.
const scriptPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body><script src="index.js"></script></body></html>
`

// Config holds Netlify adapter configuration.
type Config struct {
	BaseURL string
}

// Adapter implements provider.Adapter for Netlify sites.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time
}

// New creates a new Netlify adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Netlify
}

func (a *Adapter) client() (*restapi.Client, error) {
	c, err := credentials.Resolve(a.creds, provider.Netlify)
	if err != nil {
		return nil, err
	}
	if c.Token == "" {
		return nil, provider.MissingCredentials(provider.Netlify)
	}
	return restapi.New(provider.Netlify, a.cfg.BaseURL, restapi.WithBearer(c.Token)), nil
}

type site struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	SSLURL    string    `json:"ssl_url"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

type deploy struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func siteFiles(req resource.DeployRequest) (map[string]string, error) {
	switch req.CodeType {
	case resource.CodeHTML:
		return map[string]string{"index.html": req.Code}, nil
	case resource.CodeJavaScript:
		return map[string]string{
			"index.html": fmt.Sprintf(scriptPage, req.Name),
			"index.js":   req.Code,
		}, nil
	default:
		return nil, provider.Errorf(provider.Unsupported, provider.Netlify, "sites cannot serve %s code", req.CodeType)
	}
}

// Deploy creates a site and uploads the code as a zip deploy.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "site" {
		return nil, provider.UnsupportedService(provider.Netlify, req.Service)
	}
	files, err := siteFiles(req)
	if err != nil {
		return nil, err
	}
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	var s site
	if err := cl.Post(ctx, "/sites", map[string]string{"name": provider.MarkedName(req.Name)}, &s); err != nil {
		return nil, err
	}

	archive, err := provider.Zip(files)
	if err != nil {
		return nil, fmt.Errorf("package site: %w", err)
	}
	var d deploy
	path := "/sites/" + url.PathEscape(s.ID) + "/deploys"
	if err := cl.DoRaw(ctx, http.MethodPost, path, nil, "application/zip", archive, &d); err != nil {
		return nil, err
	}

	siteURL := s.SSLURL
	if siteURL == "" {
		siteURL = s.URL
	}
	return &resource.Deployment{
		ID:        s.ID,
		Name:      s.Name,
		Type:      "site",
		Region:    "global",
		Status:    d.State,
		URL:       siteURL,
		CreatedAt: a.now(),
		Logs: []string{
			"Created site " + s.Name,
			fmt.Sprintf("Uploaded deploy %s (%d files, %d bytes)", d.ID, len(files), len(archive)),
		},
	}, nil
}

// ListResources lists sites whose name carries the marker.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	var sites []site
	if err := cl.Get(ctx, "/sites", url.Values{"filter": {"all"}}, &sites); err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for _, s := range sites {
		r := a.convertSite(s)
		if r.IsMarked() {
			resources = append(resources, r)
		}
	}
	return resources, nil
}

func (a *Adapter) convertSite(s site) resource.Resource {
	u := s.SSLURL
	if u == "" {
		u = s.URL
	}
	return resource.Resource{
		ID:          s.ID,
		Name:        s.Name,
		Type:        "site",
		Provider:    string(provider.Netlify),
		Region:      "global",
		Status:      s.State,
		URL:         u,
		CreatedAt:   s.CreatedAt,
		LastChecked: a.now(),
	}
}

// ResourceStatus returns the site state.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "site" {
		return "", provider.UnsupportedType(provider.Netlify, typ)
	}
	cl, err := a.client()
	if err != nil {
		return "", err
	}
	var s site
	if err := cl.Get(ctx, "/sites/"+url.PathEscape(id), nil, &s); err != nil {
		return "", err
	}
	return s.State, nil
}

// DeleteResource deletes a site.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "site" {
		return provider.UnsupportedType(provider.Netlify, typ)
	}
	cl, err := a.client()
	if err != nil {
		return err
	}
	return cl.Delete(ctx, "/sites/"+url.PathEscape(id), nil)
}
