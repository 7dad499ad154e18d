// Package ibm implements the IBM Cloud Code Engine provider adapter.
package ibm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultIAMURL = "https://iam.cloud.ibm.com"
	DefaultRegion = "us-south"

	apiKeyGrant = "urn:ibm:params:oauth:grant-type:apikey"
	pageLimit   = 100
)

// Config holds IBM adapter configuration. BaseURL overrides the regional
// Code Engine endpoint.
type Config struct {
	IAMURL  string
	BaseURL string
}

// Adapter implements provider.Adapter for Code Engine applications.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time

	mu      sync.Mutex
	apiKey  string
	token   string
	expires time.Time
}

// New creates a new IBM adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.IAMURL == "" {
		cfg.IAMURL = DefaultIAMURL
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.IBM
}

// iamToken exchanges the API key for a bearer token, caching it until a
// minute before expiry.
func (a *Adapter) iamToken(ctx context.Context, apiKey string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if a.apiKey == apiKey && a.token != "" && now.Before(a.expires) {
		return a.token, nil
	}

	form := url.Values{"grant_type": {apiKeyGrant}, "apikey": {apiKey}}
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	iam := restapi.New(provider.IBM, a.cfg.IAMURL)
	if err := iam.DoRaw(ctx, http.MethodPost, "/identity/token", nil, "application/x-www-form-urlencoded", []byte(form.Encode()), &out); err != nil {
		if code := restapi.StatusCode(err); code >= 400 && code < 500 {
			return "", provider.Wrap(provider.AuthenticationFailed, provider.IBM, "iam token", err)
		}
		return "", err
	}

	a.apiKey = apiKey
	a.token = out.AccessToken
	a.expires = now.Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return a.token, nil
}

type session struct {
	api     *restapi.Client
	project string
	region  string
}

func (a *Adapter) connect(ctx context.Context, region string) (*session, error) {
	c, err := credentials.Resolve(a.creds, provider.IBM)
	if err != nil {
		return nil, err
	}
	if c.Token == "" || c.ProjectID == "" {
		return nil, provider.MissingCredentials(provider.IBM)
	}
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = DefaultRegion
	}
	token, err := a.iamToken(ctx, c.Token)
	if err != nil {
		return nil, err
	}
	base := a.cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://api.%s.codeengine.cloud.ibm.com/v2", region)
	}
	return &session{
		api:     restapi.New(provider.IBM, base, restapi.WithBearer(token)),
		project: c.ProjectID,
		region:  region,
	}, nil
}

func (s *session) appsPath() string {
	return "/projects/" + url.PathEscape(s.project) + "/apps"
}

type envVar struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type createAppRequest struct {
	Name            string   `json:"name"`
	ImageReference  string   `json:"image_reference"`
	ImagePort       int      `json:"image_port"`
	RunCommands     []string `json:"run_commands,omitempty"`
	RunEnvVariables []envVar `json:"run_env_variables,omitempty"`
}

type app struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Endpoint  string    `json:"endpoint"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

// Deploy creates a Code Engine application.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "codeengine" {
		return nil, provider.UnsupportedService(provider.IBM, req.Service)
	}
	image, command, ok := provider.InlineCommand(req)
	if !ok {
		return nil, provider.Errorf(provider.Unsupported, provider.IBM, "code engine cannot run %s code", req.CodeType)
	}
	s, err := a.connect(ctx, req.Region)
	if err != nil {
		return nil, err
	}

	body := createAppRequest{
		Name:           provider.MarkedName(req.Name),
		ImageReference: image,
		ImagePort:      8080,
		RunCommands:    command,
	}
	for k, v := range req.EnvironmentVariables {
		body.RunEnvVariables = append(body.RunEnvVariables, envVar{Type: "literal", Name: k, Value: v})
	}

	var out app
	if err := s.api.Post(ctx, s.appsPath(), body, &out); err != nil {
		return nil, err
	}

	return &resource.Deployment{
		ID:        out.Name,
		Name:      req.Name,
		Type:      "codeengine",
		Region:    s.region,
		Status:    out.Status,
		URL:       out.Endpoint,
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Created Code Engine app %s in project %s", out.Name, s.project),
			"Image " + image,
		},
	}, nil
}

// ListResources lists project applications whose name carries the marker.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	s, err := a.connect(ctx, "")
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	query := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	for {
		var out struct {
			Apps []app `json:"apps"`
			Next *struct {
				Start string `json:"start"`
			} `json:"next"`
		}
		if err := s.api.Get(ctx, s.appsPath(), query, &out); err != nil {
			return nil, err
		}
		for _, ap := range out.Apps {
			r := a.convertApp(s.region, ap)
			if r.IsMarked() {
				resources = append(resources, r)
			}
		}
		if out.Next == nil || out.Next.Start == "" {
			break
		}
		query.Set("start", out.Next.Start)
	}
	return resources, nil
}

func (a *Adapter) convertApp(region string, ap app) resource.Resource {
	if ap.Region != "" {
		region = ap.Region
	}
	return resource.Resource{
		ID:          ap.Name,
		Name:        ap.Name,
		Type:        "codeengine",
		Provider:    string(provider.IBM),
		Region:      region,
		Status:      ap.Status,
		URL:         ap.Endpoint,
		CreatedAt:   ap.CreatedAt,
		LastChecked: a.now(),
	}
}

// ResourceStatus returns the application status.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "codeengine" {
		return "", provider.UnsupportedType(provider.IBM, typ)
	}
	s, err := a.connect(ctx, "")
	if err != nil {
		return "", err
	}
	var out app
	if err := s.api.Get(ctx, s.appsPath()+"/"+url.PathEscape(id), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// DeleteResource deletes an application.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "codeengine" {
		return provider.UnsupportedType(provider.IBM, typ)
	}
	s, err := a.connect(ctx, "")
	if err != nil {
		return err
	}
	return s.api.Delete(ctx, s.appsPath()+"/"+url.PathEscape(id), nil)
}
