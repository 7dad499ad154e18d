// Package tencent implements the Tencent Cloud CVM provider adapter.
package tencent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
	"github.com/yairfalse/instantiate/pkg/resource"
)

const (
	DefaultRegion       = "ap-guangzhou"
	DefaultImageID      = "img-487zeit5"
	DefaultInstanceType = "S5.SMALL1"
	DefaultEndpoint     = "https://cvm.tencentcloudapi.com"

	apiVersion = "2017-03-12"
	pageLimit  = 100
)

// Config holds Tencent adapter configuration.
type Config struct {
	BaseURL      string
	ImageID      string
	InstanceType string
	Zone         string
}

// Adapter implements provider.Adapter for Tencent CVM instances.
type Adapter struct {
	cfg   Config
	creds credentials.Reader
	now   func() time.Time
}

// New creates a new Tencent adapter.
func New(cfg Config, creds credentials.Reader) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEndpoint
	}
	if cfg.ImageID == "" {
		cfg.ImageID = DefaultImageID
	}
	if cfg.InstanceType == "" {
		cfg.InstanceType = DefaultInstanceType
	}
	return &Adapter{cfg: cfg, creds: creds, now: time.Now}
}

// Kind returns the provider identifier.
func (a *Adapter) Kind() provider.Kind {
	return provider.Tencent
}

type session struct {
	baseURL string
	region  string
	signer  *tc3Signer
}

func (a *Adapter) connect(region string) (*session, error) {
	c, err := credentials.Resolve(a.creds, provider.Tencent)
	if err != nil {
		return nil, err
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return nil, provider.MissingCredentials(provider.Tencent)
	}
	if region == "" {
		region = c.Region
	}
	if region == "" {
		region = DefaultRegion
	}
	return &session{
		baseURL: a.cfg.BaseURL,
		region:  region,
		signer:  &tc3Signer{secretID: c.AccessKey, secretKey: c.SecretKey, service: "cvm", now: a.now},
	}, nil
}

// call posts one API action. Failures arrive as HTTP 200 with
// Response.Error set.
func (s *session) call(ctx context.Context, action string, in, out any) error {
	api := restapi.New(provider.Tencent, s.baseURL,
		restapi.WithHeader("X-TC-Action", action),
		restapi.WithHeader("X-TC-Version", apiVersion),
		restapi.WithHeader("X-TC-Region", s.region),
		restapi.WithSigner(s.signer.sign),
	)

	var envelope struct {
		Response json.RawMessage `json:"Response"`
	}
	if err := api.Post(ctx, "/", in, &envelope); err != nil {
		return err
	}
	var apiErr struct {
		Error *struct {
			Code    string `json:"Code"`
			Message string `json:"Message"`
		} `json:"Error"`
	}
	if err := json.Unmarshal(envelope.Response, &apiErr); err == nil && apiErr.Error != nil {
		kind := provider.VendorError
		if strings.HasPrefix(apiErr.Error.Code, "AuthFailure") {
			kind = provider.AuthenticationFailed
		}
		return provider.Errorf(kind, provider.Tencent, "%s: %s - %s", action, apiErr.Error.Code, apiErr.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("tencent: decode %s response: %w", action, err)
	}
	return nil
}

type tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

type instance struct {
	InstanceID        string   `json:"InstanceId"`
	InstanceName      string   `json:"InstanceName"`
	InstanceState     string   `json:"InstanceState"`
	CreatedTime       string   `json:"CreatedTime"`
	PublicIPAddresses []string `json:"PublicIpAddresses"`
	Tags              []tag    `json:"Tags"`
	Placement         struct {
		Zone string `json:"Zone"`
	} `json:"Placement"`
}

type describeResponse struct {
	TotalCount  int        `json:"TotalCount"`
	InstanceSet []instance `json:"InstanceSet"`
}

// Deploy launches a CVM instance whose user data boots the code.
func (a *Adapter) Deploy(ctx context.Context, req resource.DeployRequest) (*resource.Deployment, error) {
	if req.Service != "cvm" {
		return nil, provider.UnsupportedService(provider.Tencent, req.Service)
	}
	s, err := a.connect(req.Region)
	if err != nil {
		return nil, err
	}

	zone := a.cfg.Zone
	if zone == "" {
		zone = s.region + "-3"
	}
	body := map[string]any{
		"InstanceChargeType": "POSTPAID_BY_HOUR",
		"Placement":          map[string]string{"Zone": zone},
		"ImageId":            a.cfg.ImageID,
		"InstanceType":       a.cfg.InstanceType,
		"InstanceName":       req.Name,
		"InstanceCount":      1,
		"UserData":           base64.StdEncoding.EncodeToString([]byte(provider.BootScript(req))),
		"InternetAccessible": map[string]any{"PublicIpAssigned": true, "InternetMaxBandwidthOut": 1},
		"TagSpecification": []map[string]any{{
			"ResourceType": "instance",
			"Tags":         []tag{{Key: resource.Marker, Value: "true"}},
		}},
	}

	var out struct {
		InstanceIDSet []string `json:"InstanceIdSet"`
	}
	if err := s.call(ctx, "RunInstances", body, &out); err != nil {
		return nil, err
	}
	if len(out.InstanceIDSet) == 0 {
		return nil, provider.Errorf(provider.VendorError, provider.Tencent, "RunInstances returned no instance id")
	}

	return &resource.Deployment{
		ID:        out.InstanceIDSet[0],
		Name:      req.Name,
		Type:      "cvm",
		Region:    s.region,
		Status:    "pending",
		CreatedAt: a.now(),
		Logs:      []string{fmt.Sprintf("Launched %s in %s", a.cfg.InstanceType, zone)},
	}, nil
}

// ListResources lists instances carrying the marker tag key.
func (a *Adapter) ListResources(ctx context.Context) ([]resource.Resource, error) {
	s, err := a.connect("")
	if err != nil {
		return nil, err
	}

	var resources []resource.Resource
	for offset := 0; ; offset += pageLimit {
		body := map[string]any{
			"Filters": []map[string]any{{"Name": "tag-key", "Values": []string{resource.Marker}}},
			"Offset":  offset,
			"Limit":   pageLimit,
		}
		var out describeResponse
		if err := s.call(ctx, "DescribeInstances", body, &out); err != nil {
			return nil, err
		}
		for _, inst := range out.InstanceSet {
			resources = append(resources, a.convertInstance(s.region, inst))
		}
		if len(out.InstanceSet) < pageLimit || offset+pageLimit >= out.TotalCount {
			break
		}
	}
	return resources, nil
}

func (a *Adapter) convertInstance(region string, inst instance) resource.Resource {
	r := resource.Resource{
		ID:          inst.InstanceID,
		Name:        inst.InstanceName,
		Type:        "cvm",
		Provider:    string(provider.Tencent),
		Region:      region,
		Status:      strings.ToLower(inst.InstanceState),
		Labels:      make(map[string]string, len(inst.Tags)),
		LastChecked: a.now(),
	}
	for _, t := range inst.Tags {
		r.Labels[t.Key] = t.Value
	}
	if len(inst.PublicIPAddresses) > 0 {
		r.URL = "http://" + inst.PublicIPAddresses[0]
	}
	if t, err := time.Parse(time.RFC3339, inst.CreatedTime); err == nil {
		r.CreatedAt = t
	}
	return r
}

// ResourceStatus returns the instance state.
func (a *Adapter) ResourceStatus(ctx context.Context, id, typ string) (string, error) {
	if typ != "cvm" {
		return "", provider.UnsupportedType(provider.Tencent, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return "", err
	}
	var out describeResponse
	if err := s.call(ctx, "DescribeInstances", map[string]any{"InstanceIds": []string{id}}, &out); err != nil {
		return "", err
	}
	if len(out.InstanceSet) == 0 {
		return "", provider.Errorf(provider.VendorError, provider.Tencent, "instance %s not found", id)
	}
	return strings.ToLower(out.InstanceSet[0].InstanceState), nil
}

// DeleteResource terminates an instance.
func (a *Adapter) DeleteResource(ctx context.Context, id, typ string) error {
	if typ != "cvm" {
		return provider.UnsupportedType(provider.Tencent, typ)
	}
	s, err := a.connect("")
	if err != nil {
		return err
	}
	return s.call(ctx, "TerminateInstances", map[string]any{"InstanceIds": []string{id}}, nil)
}
