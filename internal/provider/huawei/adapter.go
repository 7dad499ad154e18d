// Package huawei implements the Huawei Cloud ECS provider adapter.
package huawei

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultRegion    = "ap-southeast-1"
	DefaultFlavorRef = "s6.small.1"

	pageLimit = 100
)

// Config holds Huawei adapter configuration. BaseURL overrides the
// regional ECS endpoint.
type Config struct {
	BaseURL   string
	ImageRef  string
	FlavorRef string
	VpcID     string
	SubnetID  string
}

// Adapter implements provider.Adapter for Huawei Cloud ECS servers.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time
}

// New creates a new Huawei adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.FlavorRef == "" {
		cfg.FlavorRef = DefaultFlavorRef
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Huawei
}

type session struct {
	api     *restapi.Client
	project string
	region  string
}

func (a *Adapter) connect(region string) (*session, error) {
	c, err := credentials.Resolve(a.creds, provider.Huawei)
	if err != nil {
		return nil, err
	}
	if c.AccessKey == "" || c.SecretKey == "" || c.ProjectID == "" {
		return nil, provider.MissingCredentials(provider.Huawei)
	}
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = DefaultRegion
	}
	base := a.cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://ecs.%s.myhuaweicloud.com", region)
	}
	signer := &akskSigner{accessKey: c.AccessKey, secret: c.SecretKey, now: a.now}
	return &session{
		api:     restapi.New(provider.Huawei, base, restapi.WithSigner(signer.sign)),
		project: c.ProjectID,
		region:  region,
	}, nil
}

func (s *session) serversPath() string {
	return "/v1/" + url.PathEscape(s.project) + "/cloudservers"
}

type serverTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type createServerRequest struct {
	Server struct {
		Name       string      `json:"name"`
		ImageRef   string      `json:"imageRef"`
		FlavorRef  string      `json:"flavorRef"`
		VpcID      string      `json:"vpcid,omitempty"`
		Nics       []nic       `json:"nics,omitempty"`
		RootVolume rootVolume  `json:"root_volume"`
		UserData   string      `json:"user_data"`
		ServerTags []serverTag `json:"server_tags"`
	} `json:"server"`
}

type nic struct {
	SubnetID string `json:"subnet_id"`
}

type rootVolume struct {
	VolumeType string `json:"volumetype"`
}

type server struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Created   string   `json:"created"`
	Tags      []string `json:"tags"`
	Addresses map[string][]struct {
		Addr string `json:"addr"`
		Type string `json:"OS-EXT-IPS:type"`
	} `json:"addresses"`
}

// Deploy creates a server whose user data boots the code.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "ecs" {
		return nil, provider.UnsupportedService(provider.Huawei, req.Service)
	}
	s, err := a.connect(req.Region)
	if err != nil {
		return nil, err
	}

	var body createServerRequest
	body.Server.Name = req.Name
	body.Server.ImageRef = a.cfg.ImageRef
	body.Server.FlavorRef = a.cfg.FlavorRef
	body.Server.VpcID = a.cfg.VpcID
	if a.cfg.SubnetID != "" {
		body.Server.Nics = []nic{{SubnetID: a.cfg.SubnetID}}
	}
	body.Server.RootVolume = rootVolume{VolumeType: "SSD"}
	body.Server.UserData = base64.StdEncoding.EncodeToString([]byte(provider.BootScript(req)))
	body.Server.ServerTags = []serverTag{{Key: resource.Marker, Value: "true"}}

	var out struct {
		JobID     string   `json:"job_id"`
		ServerIDs []string `json:"serverIds"`
	}
	if err := s.api.Post(ctx, s.serversPath(), body, &out); err != nil {
		return nil, err
	}
	if len(out.ServerIDs) == 0 {
		return nil, provider.Errorf(provider.VendorError, provider.Huawei, "create server returned no id (job %s)", out.JobID)
	}

	return &resource.Deployment{
		ID:        out.ServerIDs[0],
		Name:      req.Name,
		Type:      "ecs",
		Region:    s.region,
		Status:    "building",
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Submitted server %s (%s)", req.Name, a.cfg.FlavorRef),
			"Job " + out.JobID,
		},
	}, nil
}

// ListResources lists servers tagged with the marker.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	s, err := a.connect("")
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for page := 1; ; page++ {
		var out struct {
			Count   int      `json:"count"`
			Servers []server `json:"servers"`
		}
		query := url.Values{
			"tags":   {resource.Marker},
			"limit":  {strconv.Itoa(pageLimit)},
			"offset": {strconv.Itoa(page)},
		}
		if err := s.api.Get(ctx, s.serversPath()+"/detail", query, &out); err != nil {
			return nil, err
		}
		for _, srv := range out.Servers {
			r := a.convertServer(s.region, srv)
			if r.IsMarked() {
				resources = append(resources, r)
			}
		}
		if len(out.Servers) < pageLimit {
			break
		}
	}
	return resources, nil
}

func (a *Adapter) convertServer(region string, srv server) resource.Resource {
	r := resource.Resource{
		ID:          srv.ID,
		Name:        srv.Name,
		Type:        "ecs",
		Provider:    string(provider.Huawei),
		Region:      region,
		Status:      strings.ToLower(srv.Status),
		Labels:      make(map[string]string, len(srv.Tags)),
		LastChecked: a.now(),
	}
	// Tags come back as "key=value" strings.
	for _, tag := range srv.Tags {
		k, v, _ := strings.Cut(tag, "=")
		r.Labels[k] = v
	}
	for _, addrs := range srv.Addresses {
		for _, addr := range addrs {
			if addr.Type == "floating" {
				r.URL = "http://" + addr.Addr
			}
		}
	}
	if t, err := time.Parse(time.RFC3339, srv.Created); err == nil {
		r.CreatedAt = t
	}
	return r
}

// ResourceStatus returns the server status.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "ecs" {
		return "", provider.UnsupportedType(provider.Huawei, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return "", err
	}
	var out struct {
		Server server `json:"server"`
	}
	if err := s.api.Get(ctx, s.serversPath()+"/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return strings.ToLower(out.Server.Status), nil
}

// DeleteResource deletes a server together with its public IP and volumes.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "ecs" {
		return provider.UnsupportedType(provider.Huawei, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return err
	}
	body := map[string]any{
		"servers":         []map[string]string{{"id": id}},
		"delete_publicip": true,
		"delete_volume":   true,
	}
	return s.api.Post(ctx, s.serversPath()+"/delete", body, nil)
}
