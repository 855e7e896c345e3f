package adapter

import (
	"net/http"
	"time"

	"erpmigrate/internal/logger"
	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/internal/protocol/rfc"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/pool"
	"erpmigrate/pkg/retry"
)

// Profile is a named, immutable set of connection settings for one source system.
type Profile struct {
	Name         string        `mapstructure:"name" json:"name"`
	System       SourceSystem  `mapstructure:"system" json:"system"`
	BaseURL      string        `mapstructure:"base_url" json:"baseUrl"`
	Username     string        `mapstructure:"username" json:"username,omitempty"`
	Password     string        `mapstructure:"password" json:"-"`
	Version      string        `mapstructure:"version" json:"version,omitempty"`
	Timeout      time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
	Client       string        `mapstructure:"client" json:"client,omitempty"`
	TokenURL     string        `mapstructure:"token_url" json:"tokenUrl,omitempty"`
	ClientID     string        `mapstructure:"client_id" json:"clientId,omitempty"`
	ClientSecret string        `mapstructure:"client_secret" json:"-"`
	Scopes       []string      `mapstructure:"scopes" json:"scopes,omitempty"`
	Tenant       string        `mapstructure:"tenant" json:"tenant,omitempty"`
	// DSN enables direct database reads for LN.
	DSN string `mapstructure:"dsn" json:"-"`
	// Company is the LN company number or the M3 CONO.
	Company string `mapstructure:"company" json:"company,omitempty"`
	// Config is the CSI Mongoose configuration or the Lawson data area.
	Config    string  `mapstructure:"config" json:"config,omitempty"`
	Language  string  `mapstructure:"language" json:"language,omitempty"`
	RateLimit float64 `mapstructure:"rate_limit" json:"rateLimit,omitempty"`
	PoolSize  int     `mapstructure:"pool_size" json:"poolSize,omitempty"`
}

// AuthType is OAuth2 when a token URL is present, basic when a username is present.
func (p Profile) AuthType() httpapi.AuthType {
	switch {
	case p.TokenURL != "":
		return httpapi.AuthOAuth2
	case p.Username != "":
		return httpapi.AuthBasic
	}
	return httpapi.AuthNone
}

// Redacted returns a copy safe for logs and API responses.
func (p Profile) Redacted() Profile {
	if p.Password != "" {
		p.Password = "***"
	}
	if p.ClientSecret != "" {
		p.ClientSecret = "***"
	}
	if p.DSN != "" {
		p.DSN = "***"
	}
	return p
}

func (p Profile) Validate() error {
	if p.Name == "" {
		return errors.ErrConfiguration.New("profile name is required")
	}
	if p.System == "" {
		return errors.ErrConfiguration.Newf("profile %s: source system is required", p.Name)
	}
	if p.BaseURL == "" && p.DSN == "" {
		return errors.ErrConfiguration.Newf("profile %s: base URL or DSN is required", p.Name).WithDetail("profile", p.Name)
	}
	if p.AuthType() == httpapi.AuthOAuth2 && p.ClientID == "" {
		return errors.ErrConfiguration.Newf("profile %s: client id is required with a token URL", p.Name).WithDetail("profile", p.Name)
	}
	return nil
}

// Options are the run-wide settings shared by every adapter instance.
type Options struct {
	Mode     Mode
	Logger   logger.Logger
	Fixtures *FixtureSet

	Pool    pool.Config
	Breaker circuitbreaker.Config
	Retry   retry.Policy

	RFC            rfc.Config
	ReadFunctions  []string
	ODataServices  map[string]string
	HTTPTransport  http.RoundTripper
	RFCTransport   func(p Profile) (rfc.Transport, error)
	QueryTimeout   time.Duration
	DefaultVersion string
}

func DefaultOptions() Options {
	return Options{
		Mode:    ModeLive,
		Pool:    pool.DefaultConfig(""),
		Breaker: circuitbreaker.DefaultConfig(""),
		Retry:   retry.DefaultPolicy(),
		RFC:     rfc.DefaultConfig(""),
	}
}

func (o Options) logger() logger.Logger {
	if o.Logger == nil {
		return logger.NopLogger()
	}
	return o.Logger
}

func (o Options) poolConfig(name string) pool.Config {
	cfg := o.Pool
	if cfg.Size <= 0 {
		cfg = pool.DefaultConfig(name)
	}
	cfg.Name = name
	return cfg
}

func (o Options) breakerConfig(name string) circuitbreaker.Config {
	cfg := o.Breaker
	if cfg.FailureThreshold == 0 {
		cfg = circuitbreaker.DefaultConfig(name)
	}
	cfg.Name = name
	return cfg
}

// httpConfig builds the httpapi settings for a profile. servicePath is appended to the
// profile base URL.
func httpConfig(p Profile, o Options, servicePath string, errBase *errors.Error) httpapi.Config {
	name := p.Name
	if servicePath != "" {
		name = p.Name + servicePath
	}
	poolCfg := o.poolConfig(name)
	if p.PoolSize > 0 {
		poolCfg.Size = p.PoolSize
	}
	return httpapi.Config{
		Name:    name,
		BaseURL: trimSlash(p.BaseURL) + servicePath,
		Timeout: p.Timeout,
		Auth: httpapi.Auth{
			Type:         p.AuthType(),
			Username:     p.Username,
			Password:     p.Password,
			TokenURL:     p.TokenURL,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Scopes:       p.Scopes,
		},
		Pool:      poolCfg,
		Breaker:   o.breakerConfig(name),
		Retry:     o.Retry,
		RateLimit: p.RateLimit,
		ErrorBase: errBase,
		Transport: o.HTTPTransport,
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
