package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"erpmigrate/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", 30*time.Second)
	viper.SetDefault("server.write_timeout_seconds", 30*time.Second)
	viper.SetDefault("server.rate_limit.rps", 10.0)
	viper.SetDefault("server.rate_limit.burst", 20)
	viper.SetDefault("server.rate_limit.run_rps", 0.2)
	viper.SetDefault("server.rate_limit.run_burst", 2)
	viper.SetDefault("server.rate_limit.cleanup_interval", 300)
	viper.SetDefault("server.rate_limit.max_age", 600)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.redis.ttl_seconds", int(constants.DefaultResultTTL/time.Second))

	viper.SetDefault("broker.kafka.progress_topic", constants.DefaultProgressTopic)
	viper.SetDefault("broker.kafka.queue_size", 1024)
	viper.SetDefault("broker.kafka.retry.max_retries", 3)
	viper.SetDefault("broker.kafka.retry.base_delay", 200*time.Millisecond)
	viper.SetDefault("broker.kafka.retry.max_delay", 5*time.Second)
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("circuit_breaker.failure_threshold", 5)
	viper.SetDefault("circuit_breaker.reset_timeout", 60*time.Second)

	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", 500*time.Millisecond)
	viper.SetDefault("retry.max_delay", 10*time.Second)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("pool.size", 5)
	viper.SetDefault("pool.acquire_timeout", 30*time.Second)

	viper.SetDefault("rfc.call_timeout", 60*time.Second)

	viper.SetDefault("extraction.mode", "live")
	viper.SetDefault("extraction.max_concurrency", constants.DefaultMaxConcurrency)

	viper.SetDefault("migration.dry_run", true)
	viper.SetDefault("migration.progress_interval", constants.DefaultProgressInterval)
	viper.SetDefault("migration.rejection_sample", constants.DefaultRejectionSample)
	viper.SetDefault("migration.max_concurrency", constants.DefaultMaxConcurrency)
	viper.SetDefault("migration.load_batch_size", 100)

	viper.SetDefault("connections_env_prefix", constants.DefaultConnEnvPrefix)
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.progress_topic", "BROKER_KAFKA_PROGRESS_TOPIC")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")

	viper.BindEnv("extraction.mode", "EXTRACTION_MODE")
	viper.BindEnv("extraction.source_system", "EXTRACTION_SOURCE_SYSTEM")
	viper.BindEnv("extraction.source_profile", "EXTRACTION_SOURCE_PROFILE")
	viper.BindEnv("migration.dry_run", "MIGRATION_DRY_RUN")
	viper.BindEnv("migration.target_profile", "MIGRATION_TARGET_PROFILE")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	for name, p := range cfg.Connections {
		if p.Name == "" {
			p.Name = name
			cfg.Connections[name] = p
		}
	}
	return nil
}
