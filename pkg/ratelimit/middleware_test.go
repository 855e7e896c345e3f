package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedRouter(cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(cfg))
	r.GET("/api/v1/extractions", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/extractions", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	r.POST("/api/v1/migrations", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func serve(r *gin.Engine, method, path, client string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = client + ":40000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newLimitedRouter(RateLimitConfig{Read: Budget{RPS: 1, Burst: 1}, CleanupInterval: time.Minute, MaxAge: time.Minute})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/extractions", "10.0.0.1").Code)
	w := serve(r, http.MethodGet, "/api/v1/extractions", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestRunRequestsHaveTighterBudget(t *testing.T) {
	r := newLimitedRouter(RateLimitConfig{
		Read: Budget{RPS: 100, Burst: 5},
		Run:  Budget{RPS: 0.01, Burst: 1},
	})

	w := serve(r, http.MethodPost, "/api/v1/extractions", "10.0.0.1")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, ClassRun, w.Header().Get("X-RateLimit-Class"))

	// extraction and migration starts share the run bucket
	w = serve(r, http.MethodPost, "/api/v1/migrations", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "100", w.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		w = serve(r, http.MethodGet, "/api/v1/extractions", "10.0.0.1")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, ClassRead, w.Header().Get("X-RateLimit-Class"))
	}
}

func TestBudgetsArePerClient(t *testing.T) {
	r := newLimitedRouter(RateLimitConfig{
		Read: Budget{RPS: 1, Burst: 1},
		Run:  Budget{RPS: 0.01, Burst: 1},
	})

	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/v1/extractions", "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodPost, "/api/v1/extractions", "10.0.0.1").Code)
	assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/v1/extractions", "10.0.0.2").Code)
}

func TestRunFallsBackToReadBudget(t *testing.T) {
	cfg := RateLimitConfig{Read: Budget{RPS: 1, Burst: 3}}
	assert.Equal(t, cfg.Read, cfg.budget(ClassRun))
	assert.Equal(t, cfg.Read, cfg.budget(ClassRead))

	r := newLimitedRouter(cfg)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusAccepted, serve(r, http.MethodPost, "/api/v1/extractions", "10.0.0.1").Code)
	}
}

func TestEvictDropsIdleBuckets(t *testing.T) {
	b := &buckets{byKey: make(map[bucketKey]*bucket), config: RateLimitConfig{Read: Budget{RPS: 1, Burst: 1}, MaxAge: time.Minute}}
	now := time.Now()
	b.take(bucketKey{class: ClassRead, client: "a"}, now.Add(-2*time.Minute))
	b.take(bucketKey{class: ClassRead, client: "b"}, now)

	b.evict(now)
	assert.Len(t, b.byKey, 1)
	assert.Contains(t, b.byKey, bucketKey{class: ClassRead, client: "b"})
}
