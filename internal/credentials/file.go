package credentials

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"

	"github.com/yairfalse/instantiate/internal/provider"
)

// LoadFile seeds the store from an INI file with one section per provider:
//
//	[aws]
//	access_key = AKIA...
//	secret_key = ...
//	region     = us-east-1
//
// Section names may use provider aliases (aliyun, huaweicloud). A missing
// file is not an error.
func LoadFile(s *Store, path string) ([]provider.Kind, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load credentials file: %w", err)
	}

	var seeded []provider.Kind
	for _, section := range cfg.Sections() {
		kind, ok := provider.ParseKind(section.Name())
		if !ok {
			continue
		}
		c := Credentials{
			AccessKey: firstKey(section, "access_key", "secret_id", "client_id"),
			SecretKey: firstKey(section, "secret_key", "client_secret"),
			Token:     firstKey(section, "token", "api_key"),
			Region:    section.Key("region").String(),
			ProjectID: firstKey(section, "project_id", "subscription_id"),
			TenantID:  section.Key("tenant_id").String(),
			KeyFile:   section.Key("key_file").String(),
		}
		if c.IsZero() {
			continue
		}
		if err := s.Set(kind, c); err != nil {
			return seeded, err
		}
		seeded = append(seeded, kind)
	}
	return seeded, nil
}

func firstKey(section *ini.Section, names ...string) string {
	for _, name := range names {
		if v := section.Key(name).String(); v != "" {
			return v
		}
	}
	return ""
}
