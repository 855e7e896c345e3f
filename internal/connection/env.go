package connection

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"erpmigrate/internal/adapter"
	"erpmigrate/pkg/errors"
)

// envKeys lists the recognized property suffixes, longest first so CLIENT_SECRET wins
// over CLIENT.
var envKeys = func() []string {
	keys := []string{
		"BASE_URL", "USERNAME", "PASSWORD", "VERSION", "TIMEOUT", "CLIENT",
		"TOKEN_URL", "CLIENT_ID", "CLIENT_SECRET", "SCOPES",
		"SYSTEM", "DSN", "TENANT", "RATE_LIMIT", "COMPANY", "CONFIG", "LANGUAGE", "POOL_SIZE",
	}
	sort.SliceStable(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// LoadFromEnv registers profiles described by <PREFIX>_<NAME>_<PROPERTY> variables,
// e.g. ERPMIGRATE_CONN_LN_PROD_BASE_URL. Profile names are lowercased. Profiles without
// SYSTEM default to SAP ECC. It returns the number of profiles registered.
func (m *Manager) LoadFromEnv(prefix string) (int, error) {
	profiles, err := ParseEnv(prefix, os.Environ())
	if err != nil {
		return 0, err
	}
	if err := m.LoadProfiles(profiles); err != nil {
		return 0, err
	}
	return len(profiles), nil
}

// ParseEnv extracts profiles from KEY=VALUE pairs.
func ParseEnv(prefix string, environ []string) (map[string]adapter.Profile, error) {
	prefix = strings.TrimSuffix(strings.ToUpper(prefix), "_") + "_"
	profiles := make(map[string]adapter.Profile)

	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(key), prefix) {
			continue
		}
		rest := strings.ToUpper(key)[len(prefix):]
		name, prop := splitEnvKey(rest)
		if name == "" {
			continue
		}
		name = strings.ToLower(name)

		p := profiles[name]
		p.Name = name
		if err := setEnvProperty(&p, prop, value); err != nil {
			return nil, errors.ErrConfiguration.Newf("invalid %s: %v", key, err).WithDetail("profile", name)
		}
		profiles[name] = p
	}

	for name, p := range profiles {
		if p.System == "" {
			p.System = adapter.SystemSAP
			profiles[name] = p
		}
	}
	return profiles, nil
}

func splitEnvKey(rest string) (name, prop string) {
	for _, k := range envKeys {
		if strings.HasSuffix(rest, "_"+k) {
			return strings.TrimSuffix(rest, "_"+k), k
		}
	}
	return "", ""
}

func setEnvProperty(p *adapter.Profile, prop, value string) error {
	switch prop {
	case "BASE_URL":
		p.BaseURL = value
	case "USERNAME":
		p.Username = value
	case "PASSWORD":
		p.Password = value
	case "VERSION":
		p.Version = value
	case "TIMEOUT":
		d, err := parseTimeout(value)
		if err != nil {
			return err
		}
		p.Timeout = d
	case "CLIENT":
		p.Client = value
	case "TOKEN_URL":
		p.TokenURL = value
	case "CLIENT_ID":
		p.ClientID = value
	case "CLIENT_SECRET":
		p.ClientSecret = value
	case "SCOPES":
		p.Scopes = strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
	case "SYSTEM":
		s, err := adapter.ParseSourceSystem(value)
		if err != nil {
			return err
		}
		p.System = s
	case "DSN":
		p.DSN = value
	case "TENANT":
		p.Tenant = value
	case "RATE_LIMIT":
		v, err := cast.ToFloat64E(value)
		if err != nil {
			return err
		}
		p.RateLimit = v
	case "COMPANY":
		p.Company = value
	case "CONFIG":
		p.Config = value
	case "LANGUAGE":
		p.Language = value
	case "POOL_SIZE":
		v, err := cast.ToIntE(value)
		if err != nil {
			return err
		}
		p.PoolSize = v
	}
	return nil
}

// parseTimeout reads bare integers as milliseconds and anything else as a Go duration.
func parseTimeout(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if ms, err := cast.ToInt64E(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return cast.ToDurationE(value)
}
