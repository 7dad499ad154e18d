// Package azure implements the Azure provider adapter on top of the ARM
// REST API.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultManagementURL = "https://management.azure.com"
	DefaultLoginURL      = "https://login.microsoftonline.com"
	DefaultResourceGroup = "instantiate-rg"
	DefaultLocation      = "eastus"

	containerAPIVersion = "2023-05-01"
	resourcesAPIVersion = "2021-04-01"
	containerGroupType  = "Microsoft.ContainerInstance/containerGroups"
)

// Config holds Azure adapter configuration.
type Config struct {
	ManagementURL string
	LoginURL      string
	ResourceGroup string
}

// Adapter implements provider.Adapter for Azure Container Instances.
type Adapter struct {
	cfg    Config
	creds  credentials.Reader
	now    func() time.Time
	tokens tokenCache
}

// New creates a new Azure adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.ManagementURL == "" {
		cfg.ManagementURL = DefaultManagementURL
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = DefaultLoginURL
	}
	if cfg.ResourceGroup == "" {
		cfg.ResourceGroup = DefaultResourceGroup
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Azure
}

// session is an authenticated ARM client bound to one subscription.
type session struct {
	arm          *restapi.Client
	subscription string
	location     string
}

func (a *Adapter) connect(ctx context.Context) (*session, error) {
	c, err := credentials.Resolve(a.creds, provider.Azure)
	if err != nil {
		return nil, err
	}
	if c.AccessKey == "" || c.SecretKey == "" || c.TenantID == "" || c.ProjectID == "" {
		return nil, provider.MissingCredentials(provider.Azure)
	}
	token, err := a.token(ctx, c)
	if err != nil {
		return nil, err
	}
	location := c.Region
	if location == "" {
		location = DefaultLocation
	}
	return &session{
		arm:          restapi.New(provider.Azure, a.cfg.ManagementURL, restapi.WithBearer(token)),
		subscription: c.ProjectID,
		location:     location,
	}, nil
}

type envVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type port struct {
	Protocol string `json:"protocol,omitempty"`
	Port     int    `json:"port"`
}

type container struct {
	Name       string `json:"name"`
	Properties struct {
		Image                string   `json:"image"`
		Command              []string `json:"command,omitempty"`
		Ports                []port   `json:"ports"`
		EnvironmentVariables []envVar `json:"environmentVariables,omitempty"`
		Resources            struct {
			Requests struct {
				CPU        float64 `json:"cpu"`
				MemoryInGB float64 `json:"memoryInGB"`
			} `json:"requests"`
		} `json:"resources"`
	} `json:"properties"`
}

type ipAddress struct {
	Type         string `json:"type"`
	Ports        []port `json:"ports"`
	DNSNameLabel string `json:"dnsNameLabel,omitempty"`
	FQDN         string `json:"fqdn,omitempty"`
	IP           string `json:"ip,omitempty"`
}

type containerGroup struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Location   string            `json:"location"`
	Tags       map[string]string `json:"tags"`
	Properties struct {
		ProvisioningState string      `json:"provisioningState,omitempty"`
		Containers        []container `json:"containers"`
		OSType            string      `json:"osType"`
		RestartPolicy     string      `json:"restartPolicy"`
		IPAddress         *ipAddress  `json:"ipAddress,omitempty"`
	} `json:"properties"`
}

func (s *session) groupPath(rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/%s/%s",
		url.PathEscape(s.subscription), url.PathEscape(rg), containerGroupType, url.PathEscape(name))
}

func (a *Adapter) containerGroupFor(req resource.DeployRequest, location string) (containerGroup, error) {
	image, command, ok := provider.InlineCommand(req)
	if !ok {
		return containerGroup{}, provider.Errorf(provider.Unsupported, provider.Azure, "container instances cannot run %s code", req.CodeType)
	}

	var c container
	c.Name = req.Name
	c.Properties.Image = image
	c.Properties.Command = command
	c.Properties.Ports = []port{{Port: 80}}
	c.Properties.Resources.Requests.CPU = 1
	c.Properties.Resources.Requests.MemoryInGB = 1.5
	for k, v := range req.EnvironmentVariables {
		c.Properties.EnvironmentVariables = append(c.Properties.EnvironmentVariables, envVar{Name: k, Value: v})
	}

	var g containerGroup
	g.Location = location
	g.Tags = map[string]string{resource.Marker: "true"}
	g.Properties.Containers = []container{c}
	g.Properties.OSType = "Linux"
	g.Properties.RestartPolicy = "Always"
	g.Properties.IPAddress = &ipAddress{
		Type:         "Public",
		Ports:        []port{{Protocol: "TCP", Port: 80}},
		DNSNameLabel: strings.ToLower(req.Name),
	}
	return g, nil
}

// Deploy creates or updates a container group.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "container" {
		return nil, provider.UnsupportedService(provider.Azure, req.Service)
	}
	s, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	location := req.Region
	if location == "" {
		location = s.location
	}
	body, err := a.containerGroupFor(req, location)
	if err != nil {
		return nil, err
	}

	var out containerGroup
	path := s.groupPath(a.cfg.ResourceGroup, req.Name)
	if err := s.arm.Do(ctx, http.MethodPut, path, url.Values{"api-version": {containerAPIVersion}}, body, &out); err != nil {
		return nil, err
	}

	return &resource.Deployment{
		ID:        out.ID,
		Name:      req.Name,
		Type:      "container",
		Region:    location,
		Status:    strings.ToLower(out.Properties.ProvisioningState),
		URL:       groupURL(out),
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Submitted container group %s in %s", req.Name, a.cfg.ResourceGroup),
			"Image " + body.Properties.Containers[0].Properties.Image,
		},
	}, nil
}

type genericResource struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	Location    string            `json:"location"`
	Tags        map[string]string `json:"tags"`
	CreatedTime time.Time         `json:"createdTime"`
}

// ListResources lists subscription resources carrying the marker tag.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	s, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	path := "/subscriptions/" + url.PathEscape(s.subscription) + "/resources"
	query := url.Values{
		"$filter":     {fmt.Sprintf("tagName eq '%s'", resource.Marker)},
		"$expand":     {"createdTime"},
		"api-version": {resourcesAPIVersion},
	}
	for {
		var out struct {
			Value    []genericResource `json:"value"`
			NextLink string            `json:"nextLink"`
		}
		if err := s.arm.Get(ctx, path, query, &out); err != nil {
			return nil, err
		}
		for _, r := range out.Value {
			resources = append(resources, a.convertResource(r))
		}
		if out.NextLink == "" {
			break
		}
		next, err := url.Parse(out.NextLink)
		if err != nil {
			return nil, fmt.Errorf("azure: parse next link: %w", err)
		}
		path, query = next.Path, next.Query()
	}
	return resources, nil
}

func (a *Adapter) convertResource(r genericResource) resource.Resource {
	typ := r.Type
	if strings.EqualFold(r.Type, containerGroupType) {
		typ = "container"
	}
	return resource.Resource{
		ID:          r.ID,
		Name:        r.Name,
		Type:        typ,
		Provider:    string(provider.Azure),
		Region:      r.Location,
		Status:      "unknown",
		Labels:      r.Tags,
		CreatedAt:   r.CreatedTime,
		LastChecked: a.now(),
	}
}

// ResourceStatus returns the provisioning state of a container group.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "container" {
		return "", provider.UnsupportedType(provider.Azure, typ)
	}
	s, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	var out containerGroup
	if err := s.arm.Get(ctx, id, url.Values{"api-version": {containerAPIVersion}}, &out); err != nil {
		return "", err
	}
	return strings.ToLower(out.Properties.ProvisioningState), nil
}

// DeleteResource deletes a container group by ARM id.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "container" {
		return provider.UnsupportedType(provider.Azure, typ)
	}
	s, err := a.connect(ctx)
	if err != nil {
		return err
	}
	return s.arm.Delete(ctx, id, url.Values{"api-version": {containerAPIVersion}})
}

func groupURL(g containerGroup) string {
	if g.Properties.IPAddress == nil {
		return ""
	}
	if g.Properties.IPAddress.FQDN != "" {
		return "http://" + g.Properties.IPAddress.FQDN
	}
	if g.Properties.IPAddress.IP != "" {
		return "http://" + g.Properties.IPAddress.IP
	}
	return ""
}
