package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ExtractorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_runs_total",
			Help: "Total number of extractor runs (count)",
		},
		[]string{"extractor_id", "mode", "status"},
	)

	ExtractorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_duration_ms",
			Help:    "Extractor run duration in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		},
		[]string{"extractor_id", "status"},
	)

	TableCoverageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_table_coverage_total",
			Help: "Coverage records by status (count)",
		},
		[]string{"status"},
	)

	TableRowsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_table_rows_total",
			Help: "Rows read from source tables (count)",
		},
		[]string{"source_system"},
	)

	ExtractionConfidence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "extraction_confidence_overall",
			Help: "Overall confidence score of the last forensic run (percent)",
		},
	)

	MigrationRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_records_total",
			Help: "Migration records by object and stage (count)",
		},
		[]string{"object_id", "stage"},
	)

	MigrationObjectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migration_object_duration_ms",
			Help:    "Migration object run duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000, 300000},
		},
		[]string{"object_id", "status"},
	)

	MigrationWavesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "migration_waves_total",
			Help: "Total number of executed migration waves (count)",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"client", "operation"},
	)

	PoolClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pool_clients",
			Help: "Pooled clients by state (count)",
		},
		[]string{"pool", "state"},
	)

	PoolAcquireDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pool_acquire_duration_ms",
			Help:    "Time spent waiting for a pooled client in milliseconds",
			Buckets: []float64{0.1, 1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
		},
		[]string{"pool", "status"},
	)

	ProtocolRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "protocol_requests_total",
			Help: "Requests issued by protocol clients (count)",
		},
		[]string{"protocol", "status"},
	)

	ProtocolRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "protocol_request_duration_ms",
			Help:    "Protocol request duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"protocol"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"scope", "status"},
	)

	ProgressEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "progress_events_total",
			Help: "Events emitted on the progress bus (count)",
		},
		[]string{"type"},
	)

	ProgressSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "progress_subscribers",
			Help: "Live SSE subscribers attached to the progress bus (count)",
		},
	)

	ProgressSubscribersDetached = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "progress_subscribers_detached_total",
			Help: "SSE subscribers detached after a write failure or overflow (count)",
		},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Database query duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "database", "operation"},
	)
)

func RegisterExtractionMetrics() {
	prometheus.MustRegister(ExtractorRunsTotal)
	prometheus.MustRegister(ExtractorDuration)
	prometheus.MustRegister(TableCoverageTotal)
	prometheus.MustRegister(TableRowsRead)
	prometheus.MustRegister(ExtractionConfidence)
}

func RegisterMigrationMetrics() {
	prometheus.MustRegister(MigrationRecordsTotal)
	prometheus.MustRegister(MigrationObjectDuration)
	prometheus.MustRegister(MigrationWavesTotal)
}

func RegisterConnectivityMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(PoolClients)
	prometheus.MustRegister(PoolAcquireDuration)
	prometheus.MustRegister(ProtocolRequestsTotal)
	prometheus.MustRegister(ProtocolRequestDuration)
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func RegisterServiceMetrics() {
	prometheus.MustRegister(ProgressEventsTotal)
	prometheus.MustRegister(ProgressSubscribers)
	prometheus.MustRegister(ProgressSubscribersDetached)
	prometheus.MustRegister(KafkaMessagesWrittenTotal)
	prometheus.MustRegister(KafkaWriteDuration)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func ObserveExtractor(extractorID, mode, status string, duration time.Duration) {
	ExtractorRunsTotal.WithLabelValues(extractorID, mode, status).Inc()
	ExtractorDuration.WithLabelValues(extractorID, status).Observe(float64(duration.Milliseconds()))
}

func IncTableCoverage(status string) {
	TableCoverageTotal.WithLabelValues(status).Inc()
}

func AddTableRows(sourceSystem string, rows int) {
	TableRowsRead.WithLabelValues(sourceSystem).Add(float64(rows))
}

func SetExtractionConfidence(overall int) {
	ExtractionConfidence.Set(float64(overall))
}

func AddMigrationRecords(objectID, stage string, count int) {
	MigrationRecordsTotal.WithLabelValues(objectID, stage).Add(float64(count))
}

func ObserveMigrationObject(objectID, status string, duration time.Duration) {
	MigrationObjectDuration.WithLabelValues(objectID, status).Observe(float64(duration.Milliseconds()))
}

func IncMigrationWave() {
	MigrationWavesTotal.Inc()
}

func IncRetryAttempt(client, operation string) {
	RetryAttemptsTotal.WithLabelValues(client, operation).Inc()
}

func SetPoolClients(pool string, idle, inUse, waiting int) {
	PoolClients.WithLabelValues(pool, "idle").Set(float64(idle))
	PoolClients.WithLabelValues(pool, "in_use").Set(float64(inUse))
	PoolClients.WithLabelValues(pool, "waiting").Set(float64(waiting))
}

func ObservePoolAcquire(pool, status string, duration time.Duration) {
	PoolAcquireDuration.WithLabelValues(pool, status).Observe(float64(duration.Microseconds()) / 1000)
}

func ObserveProtocolRequest(protocol, status string, duration time.Duration) {
	ProtocolRequestsTotal.WithLabelValues(protocol, status).Inc()
	ProtocolRequestDuration.WithLabelValues(protocol).Observe(float64(duration.Milliseconds()))
}

func IncRateLimit(scope, status string) {
	RateLimitRequestsTotal.WithLabelValues(scope, status).Inc()
}

func IncProgressEvent(eventType string) {
	ProgressEventsTotal.WithLabelValues(eventType).Inc()
}

func SetProgressSubscribers(count int) {
	ProgressSubscribers.Set(float64(count))
}

func IncProgressSubscriberDetached() {
	ProgressSubscribersDetached.Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
