package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"erpmigrate/internal/constants"
	"erpmigrate/internal/extraction"
	"erpmigrate/internal/logger"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/metrics"
)

const serviceLabel = "forensic-service"

// ResultCache keeps completed extraction results in Redis so a plan can be built
// later from a cached run.
type ResultCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.Breaker
	logger  logger.Logger
}

func NewResultCache(client *redis.Client, ttl time.Duration, log logger.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = constants.DefaultResultTTL
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &ResultCache{
		client:  client,
		ttl:     ttl,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("redis-results")),
		logger:  log.Named("result-cache"),
	}
}

// Breaker exposes the circuit guarding Redis calls for health reporting.
func (c *ResultCache) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

func resultKey(runID string) string {
	return constants.CacheKeyPrefixExtraction + runID
}

func (c *ResultCache) Save(ctx context.Context, result *extraction.Result) error {
	if result == nil || result.RunID == "" {
		return fmt.Errorf("extraction result needs a run id")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode extraction result: %w", err)
	}

	_, err = c.observe(ctx, "set", func(ctx context.Context) (interface{}, error) {
		return nil, c.client.Set(ctx, resultKey(result.RunID), payload, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis Set failed: %w", err)
	}
	c.logger.DebugwCtx(ctx, "Cached extraction result", "run_id", result.RunID, "bytes", len(payload))
	return nil
}

// Load returns the cached result for runID, or nil when it is absent or expired.
func (c *ResultCache) Load(ctx context.Context, runID string) (*extraction.Result, error) {
	raw, err := c.observe(ctx, "get", func(ctx context.Context) (interface{}, error) {
		data, err := c.client.Get(ctx, resultKey(runID)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("redis Get failed: %w", err)
	}
	data, _ := raw.([]byte)
	if data == nil {
		return nil, nil
	}

	var result extraction.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode extraction result %s: %w", runID, err)
	}
	return &result, nil
}

func (c *ResultCache) ListRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := c.client.Scan(ctx, 0, constants.CacheKeyPrefixExtraction+"*", 0).Iterator()
	for iter.Next(ctx) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		ids = append(ids, strings.TrimPrefix(iter.Val(), constants.CacheKeyPrefixExtraction))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return ids, nil
}

func (c *ResultCache) Delete(ctx context.Context, runID string) error {
	_, err := c.observe(ctx, "del", func(ctx context.Context) (interface{}, error) {
		return nil, c.client.Del(ctx, resultKey(runID)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis Del failed: %w", err)
	}
	return nil
}

func (c *ResultCache) observe(ctx context.Context, op string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	res, err := c.breaker.Execute(ctx, fn)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(serviceLabel, "redis", op, status)
	metrics.ObserveDatabaseQueryDuration(serviceLabel, "redis", op, time.Since(start))
	return res, err
}
