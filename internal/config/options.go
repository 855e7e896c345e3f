package config

import (
	"erpmigrate/internal/adapter"
	"erpmigrate/internal/logger"
	"erpmigrate/internal/protocol/rfc"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/pool"
	"erpmigrate/pkg/retry"
)

func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = c.MaxRetries
	if c.BaseDelay > 0 {
		p.InitialInterval = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		p.MaxInterval = c.MaxDelay
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	return p
}

func (c CircuitBreakerConfig) Breaker(name string) circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeout > 0 {
		cfg.ResetTimeout = c.ResetTimeout
	}
	return cfg
}

func (c PoolConfig) Pool(name string) pool.Config {
	cfg := pool.DefaultConfig(name)
	if c.Size > 0 {
		cfg.Size = c.Size
	}
	if c.AcquireTimeout > 0 {
		cfg.AcquireTimeout = c.AcquireTimeout
	}
	return cfg
}

// AdapterOptions assembles the shared adapter settings for every connection profile.
func (c *Config) AdapterOptions(log logger.Logger) adapter.Options {
	opts := adapter.DefaultOptions()
	opts.Mode = adapter.ParseMode(c.Extraction.Mode)
	opts.Logger = log
	opts.Pool = c.Pool.Pool("")
	opts.Breaker = c.CircuitBreaker.Breaker("")
	opts.Retry = c.Retry.Policy()

	rfcCfg := rfc.DefaultConfig("")
	if c.RFC.CallTimeout > 0 {
		rfcCfg.Timeout = c.RFC.CallTimeout
	}
	rfcCfg.Retries = c.Retry.MaxRetries
	if c.Retry.BaseDelay > 0 {
		rfcCfg.RetryBase = c.Retry.BaseDelay
	}
	rfcCfg.TransientMarkers = c.RFC.TransientMarkers
	rfcCfg.Breaker = opts.Breaker
	opts.RFC = rfcCfg
	opts.ReadFunctions = c.RFC.TableReadFunctions
	return opts
}

// Profiles returns the configured connection profiles with canonical source systems.
// LN profiles without a DSN fall back to the configured Postgres database.
func (c *Config) Profiles() (map[string]adapter.Profile, error) {
	out := make(map[string]adapter.Profile, len(c.Connections))
	for name, p := range c.Connections {
		if p.Name == "" {
			p.Name = name
		}
		if p.System != "" {
			system, err := adapter.ParseSourceSystem(string(p.System))
			if err != nil {
				return nil, err
			}
			p.System = system
		}
		if p.System == adapter.SystemLN && p.DSN == "" && c.Database.Postgres.Enabled() {
			p.DSN = c.Database.Postgres.DSN()
		}
		out[name] = p
	}
	return out, nil
}
