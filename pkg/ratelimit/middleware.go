package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"erpmigrate/pkg/metrics"
)

// Route classes. Starting an extraction or migration holds ERP sessions for minutes,
// so "run" requests draw from a smaller budget than status reads.
const (
	ClassRead = "read"
	ClassRun  = "run"
)

// Budget is a token bucket for one route class.
type Budget struct {
	RPS   float64
	Burst int
}

type RateLimitConfig struct {
	Read            Budget
	Run             Budget
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		Read:            Budget{RPS: 10, Burst: 20},
		Run:             Budget{RPS: 0.2, Burst: 2},
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

func (c RateLimitConfig) budget(class string) Budget {
	if class == ClassRun && c.Run.RPS > 0 {
		return c.Run
	}
	return c.Read
}

// RouteClass puts every POST under /api/v1 (start extraction, plan, start migration)
// in the run class. Everything else is a read.
func RouteClass(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		return ClassRun
	}
	return ClassRead
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type bucketKey struct {
	class  string
	client string
}

type buckets struct {
	mu     sync.Mutex
	byKey  map[bucketKey]*bucket
	config RateLimitConfig
}

func (b *buckets) take(key bucketKey, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	bk, ok := b.byKey[key]
	if !ok {
		budget := b.config.budget(key.class)
		bk = &bucket{limiter: rate.NewLimiter(rate.Limit(budget.RPS), budget.Burst)}
		b.byKey[key] = bk
	}
	bk.lastSeen = now
	return bk.limiter.AllowN(now, 1)
}

func (b *buckets) evict(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bk := range b.byKey {
		if now.Sub(bk.lastSeen) > b.config.MaxAge {
			delete(b.byKey, key)
		}
	}
}

// RateLimitMiddleware limits inbound API calls per client IP and route class.
func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	b := &buckets{byKey: make(map[bucketKey]*bucket), config: config}

	if config.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(config.CleanupInterval)
			defer ticker.Stop()
			for now := range ticker.C {
				b.evict(now)
			}
		}()
	}

	return func(c *gin.Context) {
		client := c.ClientIP()
		if client == "" {
			client = c.RemoteIP()
		}
		class := RouteClass(c)
		limit := formatRate(config.budget(class).RPS)

		c.Header("X-RateLimit-Class", class)
		c.Header("X-RateLimit-Limit", limit)
		if !b.take(bucketKey{class: class, client: client}, time.Now()) {
			metrics.IncRateLimit(class, "limited")
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", retryAfter(config.budget(class).RPS))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.IncRateLimit(class, "allowed")
		c.Next()
	}
}

func formatRate(rps float64) string {
	return strconv.FormatFloat(rps, 'f', -1, 64)
}

// retryAfter is the whole number of seconds until one token refills.
func retryAfter(rps float64) string {
	if rps <= 0 || rps >= 1 {
		return "1"
	}
	return strconv.Itoa(int(1/rps + 0.999))
}
