package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
[server]
addr = "127.0.0.1:8080"

[cache]
ttl = "2m"
warm_interval = "1m"

[manager]
provider_timeout = "10s"
max_concurrent_deploys = 2

[credentials]
file = "/etc/instantiate/credentials.ini"
store_path = "/var/lib/instantiate/creds.db"

[journal]
dir = "/var/lib/instantiate/journal"

[policy]
files = ["/etc/instantiate/policies"]

[otel]
endpoint = "localhost:4317"
insecure = true

[otel.traces]
enabled = true
sample_rate = 0.5

[log]
level = "debug"

[assistant]
provider = "openai"
model = "gpt-4o-mini"

[aws]
lambda_role_arn = "arn:aws:iam::123456789012:role/lambda"
subnets = ["subnet-1", "subnet-2"]

[azure]
resource_group = "rg-prod"

[huawei]
flavor_ref = "s6.medium.2"
`
	cfg, err := Load(writeTempConfig(t, content))

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, time.Minute, cfg.Cache.Warm)
	assert.Equal(t, 10*time.Second, cfg.Manager.ProviderTimeout)
	assert.Equal(t, 2, cfg.Manager.MaxConcurrentDeploys)
	assert.Equal(t, "/var/lib/instantiate/creds.db", cfg.Credentials.StorePath)
	assert.Equal(t, []string{"/etc/instantiate/policies"}, cfg.Policy.Files)
	assert.True(t, cfg.OTEL.Traces.Enabled)
	assert.Equal(t, 0.5, cfg.OTEL.Traces.SampleRate)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "openai", cfg.Assistant.Provider)
	assert.Equal(t, []string{"subnet-1", "subnet-2"}, cfg.AWS.Subnets)
	assert.Equal(t, "rg-prod", cfg.Azure.ResourceGroup)
	assert.Equal(t, "s6.medium.2", cfg.Huawei.FlavorRef)
	assert.NoError(t, cfg.Validate())
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":3001", cfg.Server.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Warm)
	assert.Equal(t, 30*time.Second, cfg.Manager.ProviderTimeout)
	assert.Equal(t, 8, cfg.Manager.MaxConcurrentDeploys)
	assert.Equal(t, "journal", cfg.Journal.Dir)
	assert.Equal(t, 30, cfg.Journal.RetentionDays)
	assert.Equal(t, "instantiate", cfg.OTEL.ServiceName)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "groq", cfg.Assistant.Provider)
	assert.Equal(t, "instantiate-rg", cfg.Azure.ResourceGroup)
	assert.Equal(t, "default", cfg.AWS.ECSCluster)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_WarmIntervalFollowsTTL(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, "[cache]\nttl = \"90s\"\n"))

	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Cache.Warm)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTempConfig(t, "[manager]\nprovider_timeout = \"soon\"\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), `parse manager.provider_timeout "soon"`)
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeTempConfig(t, "[server\naddr = 1"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "cache: ttl must be positive"},
		{"zero timeout", func(c *Config) { c.Manager.ProviderTimeout = 0 }, "manager: provider_timeout must be positive"},
		{"no deploy slots", func(c *Config) { c.Manager.MaxConcurrentDeploys = -1 }, "manager: max_concurrent_deploys must be at least 1"},
		{"sample rate", func(c *Config) { c.OTEL.Traces.SampleRate = 1.5 }, "otel: traces.sample_rate must be between 0.0 and 1.0"},
		{"assistant", func(c *Config) { c.Assistant.Provider = "bard" }, `assistant: provider must be groq or openai (got "bard")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instantiate.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
