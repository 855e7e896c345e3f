package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"erpmigrate/internal/connection"
	"erpmigrate/pkg/circuitbreaker"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

// DegradedError marks a check that still works but is impaired.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string {
	return e.Reason
}

func Degraded(format string, args ...interface{}) error {
	return &DegradedError{Reason: fmt.Sprintf(format, args...)}
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{
		checkers: make([]Checker, 0),
	}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult)
	allHealthy := true
	anyDegraded := false

	for _, checker := range r.checkers {
		err := checker.Check(ctx)
		result := CheckResult{
			Timestamp: time.Now(),
		}

		var degraded *DegradedError
		switch {
		case err == nil:
			result.Status = StatusHealthy
		case errors.As(err, &degraded):
			result.Status = StatusDegraded
			result.Message = degraded.Reason
			anyDegraded = true
		default:
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			allHealthy = false
		}

		results[checker.Name()] = result
	}

	overallStatus := StatusHealthy
	if !allHealthy {
		overallStatus = StatusUnhealthy
	} else if anyDegraded {
		overallStatus = StatusDegraded
	}

	return Health{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

type PostgreSQLChecker struct {
	db *sql.DB
}

func NewPostgreSQLChecker(db *sql.DB) *PostgreSQLChecker {
	return &PostgreSQLChecker{db: db}
}

func (c *PostgreSQLChecker) Name() string {
	return "postgresql"
}

func (c *PostgreSQLChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgresql ping failed: %w", err)
	}
	return nil
}

type RedisChecker struct {
	client *redis.Client
}

func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string {
	return "redis"
}

func (c *RedisChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

type MongoDBChecker struct {
	client *mongo.Client
}

func NewMongoDBChecker(client *mongo.Client) *MongoDBChecker {
	return &MongoDBChecker{client: client}
}

func (c *MongoDBChecker) Name() string {
	return "mongodb"
}

func (c *MongoDBChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

// ConnectionHealth is satisfied by *connection.Manager.
type ConnectionHealth interface {
	HealthCheck(ctx context.Context) connection.HealthReport
}

// ConnectionsChecker reports the ERP source connections. A partial set of reachable
// profiles is degraded; no reachable profile at all is unhealthy.
type ConnectionsChecker struct {
	manager ConnectionHealth
}

func NewConnectionsChecker(m ConnectionHealth) *ConnectionsChecker {
	return &ConnectionsChecker{manager: m}
}

func (c *ConnectionsChecker) Name() string {
	return "erp_connections"
}

func (c *ConnectionsChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	report := c.manager.HealthCheck(ctx)
	switch report.Overall {
	case connection.OverallHealthy, connection.OverallNoConnections:
		return nil
	case connection.OverallDegraded:
		return Degraded("%d of %d connections reachable", report.Reachable, report.Total)
	default:
		return fmt.Errorf("no connection reachable (%d configured)", report.Total)
	}
}

// BreakerChecker turns an open circuit into a degraded result.
type BreakerChecker struct {
	breakers []*circuitbreaker.Breaker
}

func NewBreakerChecker(breakers ...*circuitbreaker.Breaker) *BreakerChecker {
	return &BreakerChecker{breakers: breakers}
}

func (c *BreakerChecker) Name() string {
	return "circuit_breakers"
}

func (c *BreakerChecker) Check(context.Context) error {
	var open []string
	for _, b := range c.breakers {
		if b.State() == circuitbreaker.StateOpen {
			open = append(open, b.Name())
		}
	}
	if len(open) > 0 {
		return Degraded("open circuits: %v", open)
	}
	return nil
}
