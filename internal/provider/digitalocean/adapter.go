// Package digitalocean implements the DigitalOcean provider adapter.
package digitalocean

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultBaseURL = "https://api.digitalocean.com/v2"
	DefaultRegion  = "nyc3"
	DefaultSize    = "s-1vcpu-1gb"
	DefaultImage   = "ubuntu-22-04-x64"

	pageSize = 200
)

// Config holds DigitalOcean adapter configuration.
type Config struct {
	BaseURL string
	Size    string
	Image   string
}

// Adapter implements provider.Adapter for DigitalOcean droplets.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time
}

// New creates a new DigitalOcean adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Size == "" {
		cfg.Size = DefaultSize
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.DigitalOcean
}

func (a *Adapter) client() (*restapi.Client, error) {
	c, err := credentials.Resolve(a.creds, provider.DigitalOcean)
	if err != nil {
		return nil, err
	}
	if c.Token == "" {
		return nil, provider.MissingCredentials(provider.DigitalOcean)
	}
	return restapi.New(provider.DigitalOcean, a.cfg.BaseURL, restapi.WithBearer(c.Token)), nil
}

type droplet struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags"`
	Region    struct {
		Slug string `json:"slug"`
	} `json:"region"`
	Networks struct {
		V4 []struct {
			IPAddress string `json:"ip_address"`
			Type      string `json:"type"`
		} `json:"v4"`
	} `json:"networks"`
}

type dropletEnvelope struct {
	Droplet droplet `json:"droplet"`
}

type createDropletRequest struct {
	Name     string   `json:"name"`
	Region   string   `json:"region"`
	Size     string   `json:"size"`
	Image    string   `json:"image"`
	UserData string   `json:"user_data"`
	Tags     []string `json:"tags"`
}

// Deploy creates a droplet that boots the requested code.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "droplet" {
		return nil, provider.UnsupportedService(provider.DigitalOcean, req.Service)
	}
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	region := req.Region
	if region == "" {
		region = DefaultRegion
	}

	var out dropletEnvelope
	err = cl.Post(ctx, "/droplets", createDropletRequest{
		Name:     req.Name,
		Region:   region,
		Size:     a.cfg.Size,
		Image:    a.cfg.Image,
		UserData: provider.BootScript(req),
		Tags:     []string{resource.Marker},
	}, &out)
	if err != nil {
		return nil, err
	}

	return &resource.Deployment{
		ID:        strconv.FormatInt(out.Droplet.ID, 10),
		Name:      out.Droplet.Name,
		Type:      "droplet",
		Region:    region,
		Status:    out.Droplet.Status,
		URL:       publicURL(out.Droplet),
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Created droplet %d (%s, %s)", out.Droplet.ID, a.cfg.Size, a.cfg.Image),
			"Boot script installs and starts the " + req.CodeType + " workload",
		},
	}, nil
}

// ListResources lists droplets carrying the marker tag.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for page := 1; ; page++ {
		var out struct {
			Droplets []droplet `json:"droplets"`
		}
		query := url.Values{
			"tag_name": {resource.Marker},
			"per_page": {strconv.Itoa(pageSize)},
			"page":     {strconv.Itoa(page)},
		}
		if err := cl.Get(ctx, "/droplets", query, &out); err != nil {
			return nil, err
		}
		for _, d := range out.Droplets {
			resources = append(resources, a.convertDroplet(d))
		}
		if len(out.Droplets) < pageSize {
			break
		}
	}
	return resources, nil
}

func (a *Adapter) convertDroplet(d droplet) resource.Resource {
	labels := make(map[string]string, len(d.Tags))
	for _, tag := range d.Tags {
		labels[tag] = "true"
	}
	return resource.Resource{
		ID:          strconv.FormatInt(d.ID, 10),
		Name:        d.Name,
		Type:        "droplet",
		Provider:    string(provider.DigitalOcean),
		Region:      d.Region.Slug,
		Status:      d.Status,
		URL:         publicURL(d),
		Labels:      labels,
		CreatedAt:   d.CreatedAt,
		LastChecked: a.now(),
	}
}

// ResourceStatus returns the droplet status.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "droplet" {
		return "", provider.UnsupportedType(provider.DigitalOcean, typ)
	}
	cl, err := a.client()
	if err != nil {
		return "", err
	}
	var out dropletEnvelope
	if err := cl.Get(ctx, "/droplets/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return out.Droplet.Status, nil
}

// DeleteResource destroys a droplet.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "droplet" {
		return provider.UnsupportedType(provider.DigitalOcean, typ)
	}
	cl, err := a.client()
	if err != nil {
		return err
	}
	return cl.Delete(ctx, "/droplets/"+url.PathEscape(id), nil)
}

func publicURL(d droplet) string {
	for _, n := range d.Networks.V4 {
		if n.Type == "public" && n.IPAddress != "" {
			return "http://" + n.IPAddress
		}
	}
	return ""
}
