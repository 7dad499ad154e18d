package linode

import (
	"context"
	"encoding/base64"
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

	a := New(Config{BaseURL: ts.URL}, credentials.Static{provider.Linode: {Token: "lin-token"}})
	a.now = func() time.Time { return testNow }
	return a
}

func TestDeploy(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/linode/instances", r.URL.Path)
		assert.Equal(t, "Bearer lin-token", r.Header.Get("Authorization"))

		var body createInstanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "api", body.Label)
		assert.Equal(t, DefaultRegion, body.Region)
		assert.Equal(t, []string{"instantiate"}, body.Tags)
		assert.NotEmpty(t, body.RootPass)

		script, err := base64.StdEncoding.DecodeString(body.Metadata.UserData)
		require.NoError(t, err)
		assert.Contains(t, string(script), "print('hi')")

		w.Write([]byte(`{"id":123,"label":"api","status":"provisioning","region":"us-east","ipv4":["198.51.100.7"]}`))
	})

	d, err := a.Deploy(context.Background(), resource.DeployRequest{
		Name: "api", Code: "print('hi')", CodeType: resource.CodePython, Service: "instance",
	})

	require.NoError(t, err)
	assert.Equal(t, "123", d.ID)
	assert.Equal(t, "provisioning", d.Status)
	assert.Equal(t, "http://198.51.100.7", d.URL)
}

func TestDeploy_UnsupportedService(t *testing.T) {
	a := New(Config{}, credentials.Static{})

	_, err := a.Deploy(context.Background(), resource.DeployRequest{Service: "lke"})

	assert.True(t, provider.IsKind(err, provider.Unsupported))
}

func TestListResources_FiltersByTagAndPages(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "1":
			w.Write([]byte(`{"data":[{"id":1,"label":"a","status":"running","tags":["instantiate"],"created":"2024-04-01T10:00:00"},
				{"id":2,"label":"b","status":"running","tags":["prod"]}],"page":1,"pages":2}`))
		case "2":
			w.Write([]byte(`{"data":[{"id":3,"label":"c","status":"offline","tags":["instantiate"]}],"page":2,"pages":2}`))
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	resources, err := a.ListResources(context.Background())

	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "1", resources[0].ID)
	assert.Equal(t, time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC), resources[0].CreatedAt)
	assert.Equal(t, "3", resources[1].ID)
	assert.Equal(t, "offline", resources[1].Status)
}

func TestListResources_MissingCredentials(t *testing.T) {
	a := New(Config{}, credentials.Static{})

	_, err := a.ListResources(context.Background())

	assert.True(t, provider.IsNotConfigured(err))
}

func TestResourceStatusAndDelete(t *testing.T) {
	var methods []string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/linode/instances/9", r.URL.Path)
		methods = append(methods, r.Method)
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"id":9,"status":"running"}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	status, err := a.ResourceStatus(context.Background(), "9", "instance")
	require.NoError(t, err)
	assert.Equal(t, "running", status)

	require.NoError(t, a.DeleteResource(context.Background(), "9", "instance"))
	assert.Equal(t, []string{http.MethodGet, http.MethodDelete}, methods)
}
