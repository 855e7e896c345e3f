package config

import (
	"fmt"
	"time"

	"erpmigrate/internal/adapter"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Pool           PoolConfig           `mapstructure:"pool"`
	RFC            RFCConfig            `mapstructure:"rfc"`
	Extraction     ExtractionConfig     `mapstructure:"extraction"`
	Migration      MigrationConfig      `mapstructure:"migration"`
	Progress       ProgressConfig       `mapstructure:"progress"`

	Connections          map[string]adapter.Profile `mapstructure:"connections"`
	ConnectionsEnvPrefix string                     `mapstructure:"connections_env_prefix"`
}

type ServerConfig struct {
	Port                int             `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration   `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration   `mapstructure:"write_timeout_seconds"`
	RateLimit           RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig budgets inbound API calls. RPS and Burst cover reads; the Run
// pair covers requests that start extractions and migrations.
type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	RunRPS          float64 `mapstructure:"run_rps"`
	RunBurst        int     `mapstructure:"run_burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

// DatabaseConfig describes the service's own stores. Each section is optional; an
// empty host or uri leaves that store disabled.
type DatabaseConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (c MongoDBConfig) Enabled() bool { return c.URI != "" }

// PostgresConfig points at an Infor LN database. LN profiles without their own DSN
// read tables through it.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) Enabled() bool { return c.Host != "" }

func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslMode)
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

func (c BrokerConfig) Enabled() bool { return c.Type != "" }

type KafkaConfig struct {
	Brokers       []string    `mapstructure:"brokers"`
	ProgressTopic string      `mapstructure:"progress_topic"`
	QueueSize     int         `mapstructure:"queue_size"`
	Retry         RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type CircuitBreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

type PoolConfig struct {
	Size           int           `mapstructure:"size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type RFCConfig struct {
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	TableReadFunctions []string      `mapstructure:"table_read_functions"`
	TransientMarkers   []string      `mapstructure:"transient_markers"`
}

type ExtractionConfig struct {
	Mode           string   `mapstructure:"mode"`
	SourceSystem   string   `mapstructure:"source_system"`
	SourceProfile  string   `mapstructure:"source_profile"`
	MaxConcurrency int      `mapstructure:"max_concurrency"`
	Include        []string `mapstructure:"include"`
	Exclude        []string `mapstructure:"exclude"`
}

type MigrationConfig struct {
	DryRun           bool   `mapstructure:"dry_run"`
	ProgressInterval int    `mapstructure:"progress_interval"`
	RejectionSample  int    `mapstructure:"rejection_sample"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	LoadBatchSize    int    `mapstructure:"load_batch_size"`
	TargetProfile    string `mapstructure:"target_profile"`
	RuleSetDir       string `mapstructure:"rule_set_dir"`
}

type ProgressConfig struct {
	MaxHistory       int `mapstructure:"max_history"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
