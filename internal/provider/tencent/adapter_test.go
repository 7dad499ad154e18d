package tencent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSigner_KnownVector(t *testing.T) {
	s := &tc3Signer{secretID: "SID", secretKey: "SK", service: "cvm", now: func() time.Time { return testNow }}
	body := []byte(`{"Limit":1}`)
	req, err := http.NewRequest(http.MethodPost, "https://cvm.tencentcloudapi.com/", strings.NewReader(string(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	require.NoError(t, s.sign(req, body))

	assert.Equal(t, "1714564800", req.Header.Get("X-TC-Timestamp"))
	assert.Equal(t,
		"TC3-HMAC-SHA256 Credential=SID/2024-05-01/cvm/tc3_request, SignedHeaders=content-type;host, Signature=b42c0a8a18d72cd5a7ec016c726b7bbecf79ea48230d6b84af191ce032c1c24a",
		req.Header.Get("Authorization"))
}

// newTestAdapter routes every action to handlers keyed by X-TC-Action.
func newTestAdapter(t *testing.T, handlers map[string]func(body map[string]any) string) *Adapter {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, apiVersion, r.Header.Get("X-TC-Version"))
		assert.Equal(t, "ap-shanghai", r.Header.Get("X-TC-Region"))
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "TC3-HMAC-SHA256 Credential=tc-id/"))

		action := r.Header.Get("X-TC-Action")
		h, ok := handlers[action]
		if !ok {
			t.Errorf("unexpected action %s", action)
			return
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"Response":` + h(body) + `}`))
	}))
	t.Cleanup(ts.Close)

	a := New(Config{BaseURL: ts.URL},
		credentials.Static{provider.Tencent: {AccessKey: "tc-id", SecretKey: "tc-key", Region: "ap-shanghai"}})
	a.now = func() time.Time { return testNow }
	return a
}

func TestDeploy(t *testing.T) {
	a := newTestAdapter(t, map[string]func(map[string]any) string{
		"RunInstances": func(body map[string]any) string {
			assert.Equal(t, "web", body["InstanceName"])
			assert.Equal(t, map[string]any{"Zone": "ap-shanghai-3"}, body["Placement"])
			assert.NotEmpty(t, body["UserData"])
			return `{"InstanceIdSet":["ins-1"],"RequestId":"r1"}`
		},
	})

	d, err := a.Deploy(context.Background(), resource.DeployRequest{
		Name: "web", Code: "<h1>hi</h1>", CodeType: resource.CodeHTML, Service: "cvm",
	})

	require.NoError(t, err)
	assert.Equal(t, "ins-1", d.ID)
	assert.Equal(t, "cvm", d.Type)
	assert.Equal(t, "ap-shanghai", d.Region)
}

func TestDeploy_ErrorInBody(t *testing.T) {
	a := newTestAdapter(t, map[string]func(map[string]any) string{
		"RunInstances": func(map[string]any) string {
			return `{"Error":{"Code":"AuthFailure.SignatureFailure","Message":"bad signature"},"RequestId":"r1"}`
		},
	})

	_, err := a.Deploy(context.Background(), resource.DeployRequest{Name: "web", Service: "cvm"})

	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.AuthenticationFailed))
	assert.Contains(t, err.Error(), "AuthFailure.SignatureFailure - bad signature")
}

func TestDeploy_UnsupportedService(t *testing.T) {
	_, err := New(Config{}, nil).Deploy(context.Background(), resource.DeployRequest{Service: "scf"})

	assert.True(t, provider.IsKind(err, provider.Unsupported))
}

func TestListResources(t *testing.T) {
	a := newTestAdapter(t, map[string]func(map[string]any) string{
		"DescribeInstances": func(body map[string]any) string {
			assert.Equal(t, []any{map[string]any{"Name": "tag-key", "Values": []any{"instantiate"}}}, body["Filters"])
			return `{"TotalCount":1,"InstanceSet":[{"InstanceId":"ins-1","InstanceName":"web","InstanceState":"RUNNING",
				"CreatedTime":"2024-04-01T10:00:00Z","PublicIpAddresses":["1.2.3.4"],"Tags":[{"Key":"instantiate","Value":"true"}]}]}`
		},
	})

	resources, err := a.ListResources(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "running", resources[0].Status)
	assert.Equal(t, "http://1.2.3.4", resources[0].URL)
	assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), resources[0].CreatedAt)
}

func TestListResources_NoCredentials(t *testing.T) {
	_, err := New(Config{}, credentials.Static{}).ListResources(context.Background())

	assert.Equal(t, "Tencent credentials not configured", err.Error())
}

func TestResourceStatusAndDelete(t *testing.T) {
	var terminated []any
	a := newTestAdapter(t, map[string]func(map[string]any) string{
		"DescribeInstances": func(map[string]any) string {
			return `{"TotalCount":1,"InstanceSet":[{"InstanceId":"ins-1","InstanceState":"STOPPED"}]}`
		},
		"TerminateInstances": func(body map[string]any) string {
			terminated = body["InstanceIds"].([]any)
			return `{"RequestId":"r2"}`
		},
	})

	status, err := a.ResourceStatus(context.Background(), "ins-1", "cvm")
	require.NoError(t, err)
	assert.Equal(t, "stopped", status)

	require.NoError(t, a.DeleteResource(context.Background(), "ins-1", "cvm"))
	assert.Equal(t, []any{"ins-1"}, terminated)

	_, err = a.ResourceStatus(context.Background(), "ins-1", "lambda")
	assert.True(t, provider.IsKind(err, provider.Unsupported))
}
