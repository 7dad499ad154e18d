// Package config handles TOML configuration for Instantiate.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Cache       CacheConfig       `toml:"cache"`
	Manager     ManagerConfig     `toml:"manager"`
	Credentials CredentialsConfig `toml:"credentials"`
	Journal     JournalConfig     `toml:"journal"`
	Policy      PolicyConfig      `toml:"policy"`
	OTEL        OTELConfig        `toml:"otel"`
	Log         LogConfig         `toml:"log"`
	Assistant   AssistantConfig   `toml:"assistant"`

	AWS          AWSConfig          `toml:"aws"`
	Azure        AzureConfig        `toml:"azure"`
	DigitalOcean DigitalOceanConfig `toml:"digitalocean"`
	Linode       LinodeConfig       `toml:"linode"`
	Alibaba      AlibabaConfig      `toml:"alibaba"`
	Huawei       HuaweiConfig       `toml:"huawei"`
	Tencent      TencentConfig      `toml:"tencent"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// CacheConfig holds resource cache settings.
type CacheConfig struct {
	TTLStr  string `toml:"ttl"`
	TTL     time.Duration
	WarmStr string `toml:"warm_interval"`
	Warm    time.Duration
}

// ManagerConfig holds fan-out settings.
type ManagerConfig struct {
	ProviderTimeoutStr   string `toml:"provider_timeout"`
	ProviderTimeout      time.Duration
	MaxConcurrentDeploys int `toml:"max_concurrent_deploys"`
}

// CredentialsConfig points at optional credential sources.
type CredentialsConfig struct {
	File      string `toml:"file"`       // INI file with one section per provider
	StorePath string `toml:"store_path"` // bbolt file for encrypted blobs
}

// JournalConfig holds deployment journal settings.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	RetentionDays int    `toml:"retention_days"`
}

// PolicyConfig lists extra Rego files or directories.
type PolicyConfig struct {
	Files []string `toml:"files"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// AssistantConfig selects the chat backend.
type AssistantConfig struct {
	Provider string `toml:"provider"` // "groq" or "openai"
	Model    string `toml:"model"`
}

// AWSConfig holds AWS adapter settings.
type AWSConfig struct {
	Region        string   `toml:"region"`
	LambdaRoleARN string   `toml:"lambda_role_arn"`
	ECSCluster    string   `toml:"ecs_cluster"`
	Subnets       []string `toml:"subnets"`
}

// AzureConfig holds Azure adapter settings.
type AzureConfig struct {
	ResourceGroup string `toml:"resource_group"`
}

// DigitalOceanConfig holds droplet defaults.
type DigitalOceanConfig struct {
	Size  string `toml:"size"`
	Image string `toml:"image"`
}

// LinodeConfig holds instance defaults.
type LinodeConfig struct {
	Type  string `toml:"type"`
	Image string `toml:"image"`
}

// AlibabaConfig holds ECS defaults.
type AlibabaConfig struct {
	ImageID         string `toml:"image_id"`
	InstanceType    string `toml:"instance_type"`
	SecurityGroupID string `toml:"security_group_id"`
	VSwitchID       string `toml:"vswitch_id"`
}

// HuaweiConfig holds ECS defaults.
type HuaweiConfig struct {
	ImageRef  string `toml:"image_ref"`
	FlavorRef string `toml:"flavor_ref"`
	VpcID     string `toml:"vpc_id"`
	SubnetID  string `toml:"subnet_id"`
}

// TencentConfig holds CVM defaults.
type TencentConfig struct {
	ImageID      string `toml:"image_id"`
	InstanceType string `toml:"instance_type"`
	Zone         string `toml:"zone"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := finish(&Config{})
	if err != nil {
		panic(err) // defaults always parse
	}
	return cfg
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3001"
	}
	if cfg.Cache.TTLStr == "" {
		cfg.Cache.TTLStr = "5m"
	}
	if cfg.Cache.WarmStr == "" {
		cfg.Cache.WarmStr = cfg.Cache.TTLStr
	}
	if cfg.Manager.ProviderTimeoutStr == "" {
		cfg.Manager.ProviderTimeoutStr = "30s"
	}
	if cfg.Manager.MaxConcurrentDeploys == 0 {
		cfg.Manager.MaxConcurrentDeploys = 8
	}
	if cfg.Journal.Dir == "" {
		cfg.Journal.Dir = "journal"
	}
	if cfg.Journal.RetentionDays == 0 {
		cfg.Journal.RetentionDays = 30
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "instantiate"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Assistant.Provider == "" {
		cfg.Assistant.Provider = "groq"
	}
	if cfg.Azure.ResourceGroup == "" {
		cfg.Azure.ResourceGroup = "instantiate-rg"
	}
	if cfg.AWS.ECSCluster == "" {
		cfg.AWS.ECSCluster = "default"
	}
}

func parseDurations(cfg *Config) error {
	for _, d := range []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"cache.ttl", cfg.Cache.TTLStr, &cfg.Cache.TTL},
		{"cache.warm_interval", cfg.Cache.WarmStr, &cfg.Cache.Warm},
		{"manager.provider_timeout", cfg.Manager.ProviderTimeoutStr, &cfg.Manager.ProviderTimeout},
	} {
		v, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.src, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache: ttl must be positive (got %s)", c.Cache.TTL)
	}
	if c.Cache.Warm <= 0 {
		return fmt.Errorf("cache: warm_interval must be positive (got %s)", c.Cache.Warm)
	}
	if c.Manager.ProviderTimeout <= 0 {
		return fmt.Errorf("manager: provider_timeout must be positive (got %s)", c.Manager.ProviderTimeout)
	}
	if c.Manager.MaxConcurrentDeploys < 1 {
		return fmt.Errorf("manager: max_concurrent_deploys must be at least 1 (got %d)", c.Manager.MaxConcurrentDeploys)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	switch c.Assistant.Provider {
	case "groq", "openai":
	default:
		return fmt.Errorf("assistant: provider must be groq or openai (got %q)", c.Assistant.Provider)
	}
	return nil
}
