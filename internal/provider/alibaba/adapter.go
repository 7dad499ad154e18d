// Package alibaba implements the Alibaba Cloud ECS provider adapter.
package alibaba

import (
	"context"
	"encoding/base64"
	"encoding/json"
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
	DefaultRegion       = "cn-hangzhou"
	DefaultImageID      = "ubuntu_22_04_x64_20G_alibase_20240130.vhd"
	DefaultInstanceType = "ecs.t6-c1m1.large"

	apiVersion = "2014-05-26"
	pageSize   = 100
	timeLayout = "2006-01-02T15:04Z"
)

// Config holds Alibaba adapter configuration. BaseURL overrides the
// regional ECS endpoint.
type Config struct {
	BaseURL         string
	ImageID         string
	InstanceType    string
	SecurityGroupID string
	VSwitchID       string
}

// Adapter implements provider.Adapter for Alibaba ECS instances.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time

	// signerFor builds the request signer; replaced in tests.
	signerFor func(accessKey, secret string) *rpcSigner
}

// New creates a new Alibaba adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.ImageID == "" {
		cfg.ImageID = DefaultImageID
	}
	if cfg.InstanceType == "" {
		cfg.InstanceType = DefaultInstanceType
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now, signerFor: newSigner}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Alibaba
}

type session struct {
	api    *restapi.Client
	region string
}

func (a *Adapter) connect(region string) (*session, error) {
	c, err := credentials.Resolve(a.creds, provider.Alibaba)
	if err != nil {
		return nil, err
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, provider.MissingCredentials(provider.Alibaba)
	}
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = DefaultRegion
	}
	base := a.cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://ecs.%s.aliyuncs.com", region)
	}
	signer := a.signerFor(c.AccessKey, c.SecretKey)
	return &session{
		api:    restapi.New(provider.Alibaba, base, restapi.WithSigner(signer.sign)),
		region: region,
	}, nil
}

// call invokes an RPC action. Some failures come back as HTTP 200 with an
// error code in the body, so the code is checked after decoding.
func (s *session) call(ctx context.Context, action string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("Action", action)
	params.Set("Version", apiVersion)
	params.Set("RegionId", s.region)

	var raw json.RawMessage
	if err := s.api.Get(ctx, "/", params, &raw); err != nil {
		return err
	}
	var apiErr struct {
		Code    string `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Code != "" {
		return provider.Errorf(provider.VendorError, provider.Alibaba, "%s: %s - %s", action, apiErr.Code, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("alibaba: decode %s response: %w", action, err)
	}
	return nil
}

type instance struct {
	InstanceID      string `json:"InstanceId"`
	InstanceName    string `json:"InstanceName"`
	Status          string `json:"Status"`
	RegionID        string `json:"RegionId"`
	CreationTime    string `json:"CreationTime"`
	PublicIPAddress struct {
		IPAddress []string `json:"IpAddress"`
	} `json:"PublicIpAddress"`
	Tags struct {
		Tag []struct {
			TagKey   string `json:"TagKey"`
			TagValue string `json:"TagValue"`
		} `json:"Tag"`
	} `json:"Tags"`
}

type describeInstancesResponse struct {
	TotalCount int `json:"TotalCount"`
	Instances  struct {
		Instance []instance `json:"Instance"`
	} `json:"Instances"`
}

// Deploy launches an ECS instance whose user data boots the code.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "ecs" {
		return nil, provider.UnsupportedService(provider.Alibaba, req.Service)
	}
	s, err := a.connect(req.Region)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"ImageId":                 {a.cfg.ImageID},
		"InstanceType":            {a.cfg.InstanceType},
		"InstanceName":            {req.Name},
		"UserData":                {base64.StdEncoding.EncodeToString([]byte(provider.BootScript(req)))},
		"Amount":                  {"1"},
		"InternetMaxBandwidthOut": {"5"},
		"Tag.1.Key":               {resource.Marker},
		"Tag.1.Value":             {"true"},
	}
	if a.cfg.SecurityGroupID != "" {
		params.Set("SecurityGroupId", a.cfg.SecurityGroupID)
	}
	if a.cfg.VSwitchID != "" {
		params.Set("VSwitchId", a.cfg.VSwitchID)
	}

	var out struct {
		RequestID      string `json:"RequestId"`
		InstanceIDSets struct {
			InstanceIDSet []string `json:"InstanceIdSet"`
		} `json:"InstanceIdSets"`
	}
	if err := s.call(ctx, "RunInstances", params, &out); err != nil {
		return nil, err
	}
	if len(out.InstanceIDSets.InstanceIDSet) == 0 {
		return nil, provider.Errorf(provider.VendorError, provider.Alibaba, "RunInstances returned no instance (request %s)", out.RequestID)
	}
	id := out.InstanceIDSets.InstanceIDSet[0]

	return &resource.Deployment{
		ID:        id,
		Name:      req.Name,
		Type:      "ecs",
		Region:    s.region,
		Status:    "pending",
		CreatedAt: a.now(),
		Logs: []string{
			fmt.Sprintf("Launched instance %s (%s, %s)", id, a.cfg.InstanceType, a.cfg.ImageID),
			"Request " + out.RequestID,
		},
	}, nil
}

// ListResources lists instances tagged with the marker.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	s, err := a.connect("")
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for page := 1; ; page++ {
		var out describeInstancesResponse
		params := url.Values{
			"Tag.1.Key":  {resource.Marker},
			"PageSize":   {strconv.Itoa(pageSize)},
			"PageNumber": {strconv.Itoa(page)},
		}
		if err := s.call(ctx, "DescribeInstances", params, &out); err != nil {
			return nil, err
		}
		for _, inst := range out.Instances.Instance {
			resources = append(resources, a.convertInstance(inst))
		}
		if len(out.Instances.Instance) < pageSize || len(resources) >= out.TotalCount {
			break
		}
	}
	return resources, nil
}

func (a *Adapter) convertInstance(inst instance) resource.Resource {
	r := resource.Resource{
		ID:          inst.InstanceID,
		Name:        inst.InstanceName,
		Type:        "ecs",
		Provider:    string(provider.Alibaba),
		Region:      inst.RegionID,
		Status:      normalize(inst.Status),
		Labels:      make(map[string]string, len(inst.Tags.Tag)),
		LastChecked: a.now(),
	}
	for _, tag := range inst.Tags.Tag {
		r.Labels[tag.TagKey] = tag.TagValue
	}
	if len(inst.PublicIPAddress.IPAddress) > 0 {
		r.URL = "http://" + inst.PublicIPAddress.IPAddress[0]
	}
	if t, err := time.Parse(timeLayout, inst.CreationTime); err == nil {
		r.CreatedAt = t
	}
	return r
}

// ResourceStatus returns the instance status.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "ecs" {
		return "", provider.UnsupportedType(provider.Alibaba, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return "", err
	}

	ids, _ := json.Marshal([]string{id})
	var out describeInstancesResponse
	if err := s.call(ctx, "DescribeInstances", url.Values{"InstanceIds": {string(ids)}}, &out); err != nil {
		return "", err
	}
	if len(out.Instances.Instance) == 0 {
		return "", provider.Errorf(provider.VendorError, provider.Alibaba, "instance %s not found", id)
	}
	return normalize(out.Instances.Instance[0].Status), nil
}

// DeleteResource force-deletes an instance.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "ecs" {
		return provider.UnsupportedType(provider.Alibaba, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return err
	}
	return s.call(ctx, "DeleteInstance", url.Values{"InstanceId": {id}, "Force": {"true"}}, nil)
}

func normalize(status string) string {
	switch status {
	case "":
		return "unknown"
	case "Running":
		return "running"
	case "Stopped":
		return "stopped"
	case "Starting":
		return "starting"
	case "Stopping":
		return "stopping"
	case "Pending":
		return "pending"
	default:
		return status
	}
}
