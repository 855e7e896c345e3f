package config

import (
	"fmt"
	"strings"

	"erpmigrate/internal/adapter"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validateResilience(cfg); err != nil {
		errors = append(errors, err)
	}

	if err := validateExtraction(cfg.Extraction); err != nil {
		errors = append(errors, err)
	}

	if err := validateMigration(cfg.Migration); err != nil {
		errors = append(errors, err)
	}

	if err := validateConnections(cfg.Connections, adapter.ParseMode(cfg.Extraction.Mode)); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return &ValidationError{
			Field:   "server.rate_limit.rps",
			Message: "rps must be positive when rate limiting is enabled",
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RunRPS > cfg.RateLimit.RPS {
		return &ValidationError{
			Field:   "server.rate_limit.run_rps",
			Message: "run_rps must not exceed rps",
		}
	}

	return nil
}

// validateBroker accepts an empty type, which disables progress forwarding.
func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.ProgressTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.progress_topic",
			Message: "progress topic is required",
		}
	}

	if cfg.QueueSize < 0 {
		return &ValidationError{
			Field:   "broker.kafka.queue_size",
			Message: "queue_size must be non-negative",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxRetries < 0 {
		return &ValidationError{
			Field:   field + ".max_retries",
			Message: "max_retries must be non-negative",
		}
	}

	if cfg.BaseDelay < 0 {
		return &ValidationError{
			Field:   field + ".base_delay",
			Message: "base_delay must be non-negative",
		}
	}

	if cfg.MaxDelay > 0 && cfg.BaseDelay > 0 && cfg.MaxDelay < cfg.BaseDelay {
		return &ValidationError{
			Field:   field + ".max_delay",
			Message: "max_delay must be greater than or equal to base_delay",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be non-negative",
		}
	}

	return nil
}

func validateResilience(cfg *Config) error {
	if cfg.CircuitBreaker.FailureThreshold == 0 {
		return &ValidationError{
			Field:   "circuit_breaker.failure_threshold",
			Message: "failure_threshold must be positive",
		}
	}

	if cfg.CircuitBreaker.ResetTimeout <= 0 {
		return &ValidationError{
			Field:   "circuit_breaker.reset_timeout",
			Message: "reset_timeout must be positive",
		}
	}

	if err := validateRetry("retry", cfg.Retry); err != nil {
		return err
	}

	if cfg.Pool.Size < 1 {
		return &ValidationError{
			Field:   "pool.size",
			Message: fmt.Sprintf("pool size must be at least 1, got %d", cfg.Pool.Size),
		}
	}

	if cfg.RFC.CallTimeout < 0 {
		return &ValidationError{
			Field:   "rfc.call_timeout",
			Message: "call_timeout must be non-negative",
		}
	}

	return nil
}

func validateExtraction(cfg ExtractionConfig) error {
	switch strings.ToLower(cfg.Mode) {
	case "", string(adapter.ModeLive), string(adapter.ModeMock):
	default:
		return &ValidationError{
			Field:   "extraction.mode",
			Message: fmt.Sprintf("invalid mode: %s (valid: live, mock)", cfg.Mode),
		}
	}

	if cfg.SourceSystem != "" {
		if _, err := adapter.ParseSourceSystem(cfg.SourceSystem); err != nil {
			return &ValidationError{
				Field:   "extraction.source_system",
				Message: err.Error(),
			}
		}
	}

	if cfg.MaxConcurrency < 0 {
		return &ValidationError{
			Field:   "extraction.max_concurrency",
			Message: "max_concurrency must be non-negative",
		}
	}

	return nil
}

func validateMigration(cfg MigrationConfig) error {
	if cfg.ProgressInterval < 0 {
		return &ValidationError{
			Field:   "migration.progress_interval",
			Message: "progress_interval must be non-negative",
		}
	}

	if cfg.RejectionSample < 0 {
		return &ValidationError{
			Field:   "migration.rejection_sample",
			Message: "rejection_sample must be non-negative",
		}
	}

	if cfg.LoadBatchSize < 0 {
		return &ValidationError{
			Field:   "migration.load_batch_size",
			Message: "load_batch_size must be non-negative",
		}
	}

	if !cfg.DryRun && cfg.TargetProfile == "" {
		return &ValidationError{
			Field:   "migration.target_profile",
			Message: "a target profile is required unless dry_run is set",
		}
	}

	return nil
}

// Mock mode serves fixtures, so profiles need no endpoint there.
func validateConnections(profiles map[string]adapter.Profile, mode adapter.Mode) error {
	for name, p := range profiles {
		field := "connections." + name
		if p.System != "" {
			if _, err := adapter.ParseSourceSystem(string(p.System)); err != nil {
				return &ValidationError{Field: field + ".system", Message: err.Error()}
			}
		}
		if mode != adapter.ModeMock && p.BaseURL == "" && p.DSN == "" {
			return &ValidationError{
				Field:   field + ".base_url",
				Message: "either base_url or dsn is required",
			}
		}
		if p.RateLimit < 0 {
			return &ValidationError{
				Field:   field + ".rate_limit",
				Message: "rate_limit must be non-negative",
			}
		}
	}
	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}
