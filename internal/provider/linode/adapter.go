// Package linode implements the Linode (Akamai) provider adapter.
package linode

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultBaseURL = "https://api.linode.com/v4"
	DefaultRegion  = "us-east"
	DefaultType    = "g6-nanode-1"
	DefaultImage   = "linode/ubuntu22.04"

	// timeLayout is how Linode reports timestamps (UTC, no zone suffix).
	timeLayout = "2006-01-02T15:04:05"
)

// Config holds Linode adapter configuration.
type Config struct {
	BaseURL string
	Type    string
	Image   string
}

// Adapter implements provider.Adapter for Linode instances.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time
}

// New creates a new Linode adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Type == "" {
		cfg.Type = DefaultType
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Linode
}

func (a *Adapter) client() (*restapi.Client, error) {
	c, err := credentials.Resolve(a.creds, provider.Linode)
	if err != nil {
		return nil, err
	}
	if c.Token == "" {
		return nil, provider.MissingCredentials(provider.Linode)
	}
	return restapi.New(provider.Linode, a.cfg.BaseURL, restapi.WithBearer(c.Token)), nil
}

type instance struct {
	ID      int64    `json:"id"`
	Label   string   `json:"label"`
	Status  string   `json:"status"`
	Region  string   `json:"region"`
	Created string   `json:"created"`
	IPv4    []string `json:"ipv4"`
	Tags    []string `json:"tags"`
}

type createInstanceRequest struct {
	Label    string   `json:"label"`
	Region   string   `json:"region"`
	Type     string   `json:"type"`
	Image    string   `json:"image"`
	RootPass string   `json:"root_pass"`
	Tags     []string `json:"tags"`
	Metadata struct {
		UserData string `json:"user_data"`
	} `json:"metadata"`
}

// Deploy creates an instance whose metadata user data boots the code.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "instance" {
		return nil, provider.UnsupportedService(provider.Linode, req.Service)
	}
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	region := req.Region
	if region == "" {
		region = DefaultRegion
	}

	body := createInstanceRequest{
		Label:  req.Name,
		Region: region,
		Type:   a.cfg.Type,
		Image:  a.cfg.Image,
		// Root login is never used; the password only satisfies the API.
		RootPass: uuid.NewString() + "Aa1!",
		Tags:     []string{resource.Marker},
	}
	body.Metadata.UserData = base64.StdEncoding.EncodeToString([]byte(provider.BootScript(req)))

	var out instance
	if err := cl.Post(ctx, "/linode/instances", body, &out); err != nil {
		return nil, err
	}

	return &resource.Deployment{
		ID:        strconv.FormatInt(out.ID, 10),
		Name:      out.Label,
		Type:      "instance",
		Region:    region,
		Status:    out.Status,
		URL:       publicURL(out),
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Created instance %d (%s, %s)", out.ID, a.cfg.Type, a.cfg.Image),
		},
	}, nil
}

// ListResources lists instances carrying the marker tag.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	cl, err := a.client()
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for page := 1; ; page++ {
		var out struct {
			Data  []instance `json:"data"`
			Page  int        `json:"page"`
			Pages int        `json:"pages"`
		}
		if err := cl.Get(ctx, "/linode/instances", url.Values{"page": {strconv.Itoa(page)}}, &out); err != nil {
			return nil, err
		}
		for _, inst := range out.Data {
			if slices.Contains(inst.Tags, resource.Marker) {
				resources = append(resources, a.convertInstance(inst))
			}
		}
		if page >= out.Pages {
			break
		}
	}
	return resources, nil
}

func (a *Adapter) convertInstance(inst instance) resource.Resource {
	r := resource.Resource{
		ID:          strconv.FormatInt(inst.ID, 10),
		Name:        inst.Label,
		Type:        "instance",
		Provider:    string(provider.Linode),
		Region:      inst.Region,
		Status:      inst.Status,
		URL:         publicURL(inst),
		Labels:      make(map[string]string, len(inst.Tags)),
		LastChecked: a.now(),
	}
	for _, tag := range inst.Tags {
		r.Labels[tag] = "true"
	}
	if t, err := time.Parse(timeLayout, inst.Created); err == nil {
		r.CreatedAt = t
	}
	return r
}

// ResourceStatus returns the instance status.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "instance" {
		return "", provider.UnsupportedType(provider.Linode, typ)
	}
	cl, err := a.client()
	if err != nil {
		return "", err
	}
	var out instance
	if err := cl.Get(ctx, "/linode/instances/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// DeleteResource deletes an instance.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "instance" {
		return provider.UnsupportedType(provider.Linode, typ)
	}
	cl, err := a.client()
	if err != nil {
		return err
	}
	return cl.Delete(ctx, "/linode/instances/"+url.PathEscape(id), nil)
}

func publicURL(inst instance) string {
	if len(inst.IPv4) == 0 {
		return ""
	}
	return "http://" + inst.IPv4[0]
}
