package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 30 * time.Second
	ShutdownTimeout    = 5 * time.Second
)

const (
	DefaultProgressTopic = "erpmigrate.progress"
	DefaultMongoDBName   = "erpmigrate"
)

const (
	CacheKeyPrefixExtraction = "extraction:"
	DefaultResultTTL         = 24 * time.Hour
)

const (
	CollectionRuns            = "migration_runs"
	CollectionReconciliations = "reconciliations"
)

// Progress event types. Producers emit the dotted "area:phase" form.
const (
	EventExtractionStart    = "extraction:start"
	EventExtractionProgress = "extraction:progress"
	EventExtractionComplete = "extraction:complete"
	EventExtractionError    = "extraction:error"

	EventMigrationStart    = "migration:start"
	EventMigrationProgress = "migration:progress"
	EventMigrationComplete = "migration:complete"
	EventMigrationError    = "migration:error"

	EventAgentStart    = "agent:start"
	EventAgentProgress = "agent:progress"
	EventAgentComplete = "agent:complete"

	EventSystemHealth = "system:health"
	EventSystemStatus = "system:status"
)

const (
	DefaultMaxConcurrency   = 4
	DefaultProgressInterval = 1000
	DefaultRejectionSample  = 50
	DefaultConnEnvPrefix    = "ERPMIGRATE_CONN"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
