package credentials

import (
	"os"

	"github.com/yairfalse/instantiate/internal/provider"
)

// envMapping lists, per provider, which environment variable fills which
// field. A provider is seeded only when its required variable is set.
var envMapping = map[provider.Kind]struct {
	required string
	fields   map[string]func(*Credentials) *string
}{
	provider.AWS: {"AWS_ACCESS_KEY_ID", map[string]func(*Credentials) *string{
		"AWS_ACCESS_KEY_ID":     func(c *Credentials) *string { return &c.AccessKey },
		"AWS_SECRET_ACCESS_KEY": func(c *Credentials) *string { return &c.SecretKey },
		"AWS_SESSION_TOKEN":     func(c *Credentials) *string { return &c.Token },
		"AWS_REGION":            func(c *Credentials) *string { return &c.Region },
	}},
	provider.Azure: {"AZURE_CLIENT_SECRET", map[string]func(*Credentials) *string{
		"AZURE_CLIENT_ID":       func(c *Credentials) *string { return &c.AccessKey },
		"AZURE_CLIENT_SECRET":   func(c *Credentials) *string { return &c.SecretKey },
		"AZURE_TENANT_ID":       func(c *Credentials) *string { return &c.TenantID },
		"AZURE_SUBSCRIPTION_ID": func(c *Credentials) *string { return &c.ProjectID },
		"AZURE_LOCATION":        func(c *Credentials) *string { return &c.Region },
	}},
	provider.GCP: {"GOOGLE_CLOUD_PROJECT_ID", map[string]func(*Credentials) *string{
		"GOOGLE_CLOUD_PROJECT_ID":        func(c *Credentials) *string { return &c.ProjectID },
		"GOOGLE_APPLICATION_CREDENTIALS": func(c *Credentials) *string { return &c.KeyFile },
		"GOOGLE_CLOUD_REGION":            func(c *Credentials) *string { return &c.Region },
	}},
	provider.Alibaba: {"ALIBABA_ACCESS_KEY_ID", map[string]func(*Credentials) *string{
		"ALIBABA_ACCESS_KEY_ID":     func(c *Credentials) *string { return &c.AccessKey },
		"ALIBABA_ACCESS_KEY_SECRET": func(c *Credentials) *string { return &c.SecretKey },
		"ALIBABA_REGION":            func(c *Credentials) *string { return &c.Region },
	}},
	provider.IBM: {"IBM_API_KEY", map[string]func(*Credentials) *string{
		"IBM_API_KEY":    func(c *Credentials) *string { return &c.Token },
		"IBM_PROJECT_ID": func(c *Credentials) *string { return &c.ProjectID },
		"IBM_REGION":     func(c *Credentials) *string { return &c.Region },
	}},
	provider.Oracle: {"OCI_TENANCY_OCID", map[string]func(*Credentials) *string{
		"OCI_TENANCY_OCID": func(c *Credentials) *string { return &c.TenantID },
		"OCI_USER_OCID":    func(c *Credentials) *string { return &c.AccessKey },
		"OCI_FINGERPRINT":  func(c *Credentials) *string { return &c.Token },
		"OCI_PRIVATE_KEY":  func(c *Credentials) *string { return &c.KeyFile },
		"OCI_REGION":       func(c *Credentials) *string { return &c.Region },
	}},
	provider.DigitalOcean: {"DIGITALOCEAN_TOKEN", map[string]func(*Credentials) *string{
		"DIGITALOCEAN_TOKEN": func(c *Credentials) *string { return &c.Token },
	}},
	provider.Linode: {"LINODE_TOKEN", map[string]func(*Credentials) *string{
		"LINODE_TOKEN": func(c *Credentials) *string { return &c.Token },
	}},
	provider.Huawei: {"HUAWEI_ACCESS_KEY", map[string]func(*Credentials) *string{
		"HUAWEI_ACCESS_KEY": func(c *Credentials) *string { return &c.AccessKey },
		"HUAWEI_SECRET_KEY": func(c *Credentials) *string { return &c.SecretKey },
		"HUAWEI_PROJECT_ID": func(c *Credentials) *string { return &c.ProjectID },
		"HUAWEI_REGION":     func(c *Credentials) *string { return &c.Region },
	}},
	provider.Tencent: {"TENCENT_SECRET_ID", map[string]func(*Credentials) *string{
		"TENCENT_SECRET_ID":  func(c *Credentials) *string { return &c.AccessKey },
		"TENCENT_SECRET_KEY": func(c *Credentials) *string { return &c.SecretKey },
		"TENCENT_REGION":     func(c *Credentials) *string { return &c.Region },
	}},
	provider.Netlify: {"NETLIFY_TOKEN", map[string]func(*Credentials) *string{
		"NETLIFY_TOKEN": func(c *Credentials) *string { return &c.Token },
	}},
}

// LoadEnv seeds the store from the process environment. It returns the
// providers that were seeded.
func LoadEnv(s *Store) ([]provider.Kind, error) {
	return LoadEnvFunc(s, os.Getenv)
}

// LoadEnvFunc is LoadEnv with a custom lookup.
func LoadEnvFunc(s *Store, getenv func(string) string) ([]provider.Kind, error) {
	var seeded []provider.Kind
	for _, kind := range provider.Kinds {
		m, ok := envMapping[kind]
		if !ok || getenv(m.required) == "" {
			continue
		}
		var c Credentials
		for name, field := range m.fields {
			if v := getenv(name); v != "" {
				*field(&c) = v
			}
		}
		if err := s.Set(kind, c); err != nil {
			return seeded, err
		}
		seeded = append(seeded, kind)
	}
	return seeded, nil
}
