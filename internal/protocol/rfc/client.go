package rfc

import (
	"context"
	"strings"
	"sync"
	"time"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
	"erpmigrate/pkg/retry"
)

const (
	FunctionPing       = "RFC_PING"
	FunctionSystemInfo = "RFC_SYSTEM_INFO"
)

// DefaultTransientMarkers are matched case-insensitively against error text.
var DefaultTransientMarkers = []string{"connection", "timeout", "reset", "broken pipe"}

// Params carries import, changing and table parameters of one function call.
type Params map[string]interface{}

// Result carries export, changing and table parameters returned by a call.
type Result map[string]interface{}

// Transport is a single session with an RFC endpoint.
type Transport interface {
	Open(ctx context.Context) error
	Invoke(ctx context.Context, function string, params Params) (Result, error)
	Close() error
}

type Config struct {
	Name string
	// Timeout bounds each invocation, not the whole retry loop.
	Timeout   time.Duration
	Retries   int
	RetryBase time.Duration
	// TransientMarkers overrides DefaultTransientMarkers.
	TransientMarkers []string
	// TransientPredicate replaces marker matching when set.
	TransientPredicate func(err error) bool
	Breaker            circuitbreaker.Config
	// ConnectionParams is attached to open errors with secrets redacted.
	ConnectionParams map[string]string
}

func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Timeout:   60 * time.Second,
		Retries:   3,
		RetryBase: 500 * time.Millisecond,
		Breaker:   circuitbreaker.DefaultConfig("rfc-" + name),
	}
}

// Client wraps a Transport with a per-call timeout, retry on transient failures and a
// circuit breaker.
type Client struct {
	cfg       Config
	transport Transport
	breaker   *circuitbreaker.Breaker
	logger    logger.Logger

	mu     sync.Mutex
	opened bool

	// OnRetry observes every scheduled retry.
	OnRetry func(function string, attempt int, err error, delay time.Duration)
}

type Option func(*Client)

// WithBreaker shares one breaker between clients that talk to the same system.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func NewClient(cfg Config, transport Transport, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.NopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if len(cfg.TransientMarkers) == 0 {
		cfg.TransientMarkers = DefaultTransientMarkers
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "rfc-" + cfg.Name
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		logger:    log.Named("rfc").With("connection", cfg.Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(cfg.Breaker)
	}
	return c
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) Breaker() *circuitbreaker.Breaker {
	return c.breaker
}

// Open establishes the session.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openLocked(ctx)
}

func (c *Client) openLocked(ctx context.Context) error {
	if err := c.transport.Open(ctx); err != nil {
		return errors.ErrRfc.Newf("failed to open RFC connection %s", c.cfg.Name).
			WithCause(err).
			WithDetail("connection", RedactParams(c.cfg.ConnectionParams))
	}
	c.opened = true
	return nil
}

func (c *Client) reopen(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened {
		if err := c.transport.Close(); err != nil {
			c.logger.DebugwCtx(ctx, "Closing RFC session before reconnect failed", "error", err)
		}
		c.opened = false
	}
	if err := c.openLocked(ctx); err != nil {
		c.logger.WarnwCtx(ctx, "Reopening RFC session failed", "error", err)
	}
}

// Call invokes a remote function. Transient failures are retried after reopening the
// session; an open breaker fails immediately with details.circuitBreaker set.
func (c *Client) Call(ctx context.Context, function string, params Params) (Result, error) {
	c.mu.Lock()
	if !c.opened {
		if err := c.openLocked(ctx); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}
	c.mu.Unlock()

	policy := retry.Policy{
		MaxRetries:      c.cfg.Retries,
		InitialInterval: c.cfg.RetryBase,
		MaxInterval:     c.cfg.RetryBase << uint(c.cfg.Retries+1),
		Multiplier:      2,
	}

	var result Result
	err := retry.Do(ctx, policy, func(attempt int) error {
		if attempt > 0 {
			c.reopen(ctx)
		}
		res, err := c.invoke(ctx, function, params, attempt)
		if err != nil {
			return err
		}
		result = res
		return nil
	}, retry.Options{
		IsRetryable: func(err error) bool {
			return !errors.IsCircuitOpen(err) && c.IsTransient(transientCause(err))
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			metrics.IncRetryAttempt("rfc-"+c.cfg.Name, function)
			c.logger.WarnwCtx(ctx, "Retrying RFC call",
				"function", function,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err,
			)
			if c.OnRetry != nil {
				c.OnRetry(function, attempt, err, delay)
			}
		},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.IsKind(err, errors.KindRfc) {
			return nil, errors.ErrRfc.Newf("RFC call %s cancelled", function).
				WithCause(ctxErr).
				WithDetail("function", function)
		}
		return nil, err
	}
	return result, nil
}

func (c *Client) invoke(ctx context.Context, function string, params Params, attempt int) (Result, error) {
	start := time.Now()
	out, err := c.breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.invokeWithTimeout(ctx, function, params)
	})

	if err != nil {
		if errors.IsKind(err, errors.KindCircuitBreakerOpen) {
			metrics.ObserveProtocolRequest("rfc", "circuit_open", time.Since(start))
			return nil, errors.ErrRfc.Newf("RFC call %s rejected: circuit breaker open", function).
				WithCause(err).
				WithDetail("function", function).
				WithDetail("circuitBreaker", true)
		}
		metrics.ObserveProtocolRequest("rfc", "error", time.Since(start))
		if appErr, ok := errors.As(err); ok && appErr.Kind == errors.KindRfc {
			return nil, appErr.WithDetail("attempt", attempt)
		}
		return nil, errors.ErrRfc.Newf("RFC call %s failed: %v", function, err).
			WithCause(err).
			WithDetail("function", function).
			WithDetail("attempt", attempt)
	}

	metrics.ObserveProtocolRequest("rfc", "success", time.Since(start))
	result, _ := out.(Result)
	if result == nil {
		result = Result{}
	}
	return result, nil
}

type invokeOutcome struct {
	result Result
	err    error
}

// invokeWithTimeout races the transport against the per-call timer so that a transport
// that ignores its context cannot hold the caller.
func (c *Client) invokeWithTimeout(ctx context.Context, function string, params Params) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: errors.RecoverPanic(r, errors.ErrRfc)}
			}
		}()
		res, err := c.transport.Invoke(callCtx, function, params)
		done <- invokeOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.ErrRfc.Newf("RFC call %s timeout after %s", function, c.cfg.Timeout).
			WithDetail("function", function).
			WithDetail("timeoutMs", c.cfg.Timeout.Milliseconds())
	}
}

// IsTransient reports whether err looks like a recoverable network failure.
func (c *Client) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if c.cfg.TransientPredicate != nil {
		return c.cfg.TransientPredicate(err)
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range c.cfg.TransientMarkers {
		if marker != "" && strings.Contains(msg, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// transientCause strips the Rfc wrapper so function names in the message are not
// matched as markers.
func transientCause(err error) error {
	if appErr, ok := errors.As(err); ok && appErr.Kind == errors.KindRfc && appErr.Cause != nil {
		return appErr.Cause
	}
	return err
}

// Ping calls RFC_PING and reports reachability. Errors are logged, not returned.
func (c *Client) Ping(ctx context.Context) bool {
	if _, err := c.Call(ctx, FunctionPing, nil); err != nil {
		c.logger.DebugwCtx(ctx, "RFC ping failed", "error", err)
		return false
	}
	return true
}

// SystemInfo returns the RFCSI_EXPORT structure of RFC_SYSTEM_INFO.
func (c *Client) SystemInfo(ctx context.Context) (map[string]interface{}, error) {
	res, err := c.Call(ctx, FunctionSystemInfo, nil)
	if err != nil {
		return nil, err
	}
	if info, ok := res["RFCSI_EXPORT"].(map[string]interface{}); ok {
		return info, nil
	}
	return map[string]interface{}(res), nil
}

// Close tears the session down; failures are only logged.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return
	}
	if err := c.transport.Close(); err != nil {
		c.logger.Warnw("Closing RFC session failed", "error", err)
	}
	c.opened = false
}

var secretKeys = []string{"passwd", "password", "secret", "token", "mysapsso2", "x509cert"}

// RedactParams masks credential-like keys.
func RedactParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		lower := strings.ToLower(k)
		redacted := false
		for _, s := range secretKeys {
			if strings.Contains(lower, s) {
				redacted = true
				break
			}
		}
		if redacted {
			out[k] = "***"
		} else {
			out[k] = v
		}
	}
	return out
}
