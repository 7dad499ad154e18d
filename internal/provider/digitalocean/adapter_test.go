package digitalocean

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	a := New(Config{BaseURL: ts.URL}, credentials.Static{provider.DigitalOcean: {Token: "do-token"}})
	a.now = func() time.Time { return testNow }
	return a
}

func TestDeploy_CreatesTaggedDroplet(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/droplets", r.URL.Path)
		assert.Equal(t, "Bearer do-token", r.Header.Get("Authorization"))

		var body createDropletRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "web", body.Name)
		assert.Equal(t, "ams3", body.Region)
		assert.Equal(t, DefaultSize, body.Size)
		assert.Equal(t, []string{"instantiate"}, body.Tags)
		assert.Contains(t, body.UserData, "docker run")

		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"droplet":{"id":3164444,"name":"web","status":"new"}}`))
	})

	d, err := a.Deploy(context.Background(), resource.DeployRequest{
		Name: "web", Code: "nginx", CodeType: resource.CodeContainer, Region: "ams3", Service: "droplet",
	})

	require.NoError(t, err)
	assert.Equal(t, "3164444", d.ID)
	assert.Equal(t, "droplet", d.Type)
	assert.Equal(t, "new", d.Status)
	assert.Equal(t, "ams3", d.Region)
	assert.Equal(t, testNow, d.CreatedAt)
}

func TestDeploy_UnsupportedService(t *testing.T) {
	a := New(Config{}, credentials.Static{})

	_, err := a.Deploy(context.Background(), resource.DeployRequest{Service: "app-platform"})

	assert.True(t, provider.IsKind(err, provider.Unsupported))
	assert.Equal(t, "unsupported digitalocean service: app-platform", err.Error())
}

func TestListResources(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "instantiate", r.URL.Query().Get("tag_name"))
		w.Write([]byte(`{"droplets":[{"id":1,"name":"web","status":"active","created_at":"2024-04-01T10:00:00Z",
			"tags":["instantiate"],"region":{"slug":"nyc3"},
			"networks":{"v4":[{"ip_address":"10.0.0.2","type":"private"},{"ip_address":"203.0.113.5","type":"public"}]}}]}`))
	})

	resources, err := a.ListResources(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 1)
	r := resources[0]
	assert.Equal(t, "1", r.ID)
	assert.Equal(t, "digitalocean", r.Provider)
	assert.Equal(t, "nyc3", r.Region)
	assert.Equal(t, "http://203.0.113.5", r.URL)
	assert.True(t, r.IsMarked())
	assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), r.CreatedAt)
}

func TestListResources_MissingToken(t *testing.T) {
	a := New(Config{}, credentials.Static{})

	_, err := a.ListResources(context.Background())

	assert.True(t, provider.IsKind(err, provider.CredentialsMissing))
	assert.Equal(t, "DigitalOcean credentials not configured", err.Error())
}

func TestListResources_VendorError(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"id":"unauthorized"}`))
	})

	_, err := a.ListResources(context.Background())

	assert.True(t, provider.IsKind(err, provider.AuthenticationFailed))
}

func TestResourceStatusAndDelete(t *testing.T) {
	var deleted bool
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/droplets/42", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"droplet":{"id":42,"status":"off"}}`))
		case http.MethodDelete:
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		}
	})

	status, err := a.ResourceStatus(context.Background(), "42", "droplet")
	require.NoError(t, err)
	assert.Equal(t, "off", status)

	require.NoError(t, a.DeleteResource(context.Background(), "42", "droplet"))
	assert.True(t, deleted)

	_, err = a.ResourceStatus(context.Background(), "42", "volume")
	assert.True(t, provider.IsKind(err, provider.Unsupported))
}
