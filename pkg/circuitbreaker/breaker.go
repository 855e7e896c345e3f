package circuitbreaker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/metrics"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config defines circuit breaker configuration
type Config struct {
	Name             string
	FailureThreshold uint32
	ResetTimeout     time.Duration
	OnStateChange    func(name string, from, to State)
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State        State      `json:"state"`
	FailureCount uint32     `json:"failureCount"`
	SuccessCount uint64     `json:"successCount"`
	OpenedAt     *time.Time `json:"openedAt,omitempty"`
}

// Breaker trips after FailureThreshold consecutive failures, rejects calls while open,
// and lets exactly one probe through once ResetTimeout has elapsed.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string

	mu           sync.Mutex
	failureCount uint32
	successCount uint64
	openedAt     time.Time
}

func New(cfg Config) *Breaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	b := &Breaker{name: cfg.Name}

	threshold := cfg.FailureThreshold
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, context.Canceled)
		},
	}

	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		b.mu.Lock()
		if to == gobreaker.StateOpen {
			b.openedAt = time.Now()
		}
		if to == gobreaker.StateClosed {
			b.failureCount = 0
			b.openedAt = time.Time{}
		}
		b.mu.Unlock()

		updateCircuitBreakerMetrics(name, to)
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
		}
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	updateCircuitBreakerMetrics(cfg.Name, b.cb.State())

	return b
}

// Execute runs fn under breaker protection. When the breaker rejects the call, fn is not
// invoked and a CircuitBreakerOpen error is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	state := b.cb.State().String()
	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, state).Inc()

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		stats := b.Stats()
		detail := errors.ErrCircuitBreakerOpen.Newf("circuit breaker %q is open", b.name).
			WithDetail("breaker", b.name).
			WithDetail("state", string(stats.State))
		if stats.OpenedAt != nil {
			detail = detail.WithDetail("openedAt", stats.OpenedAt.Format(time.RFC3339Nano))
		}
		return nil, detail
	}

	b.record(err)
	return result, err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.failureCount = 0
		b.successCount++
	case stderrors.Is(err, context.Canceled):
	default:
		b.failureCount++
		metrics.CircuitBreakerFailures.WithLabelValues(b.name).Inc()
	}
}

func (b *Breaker) Stats() Stats {
	state := fromGobreaker(b.cb.State())

	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		State:        state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		stats.OpenedAt = &openedAt
	}
	return stats
}

func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

func (b *Breaker) Name() string {
	return b.name
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func updateCircuitBreakerMetrics(name string, state gobreaker.State) {
	var stateValue float64
	switch state {
	case gobreaker.StateClosed:
		stateValue = 0
	case gobreaker.StateHalfOpen:
		stateValue = 1
	case gobreaker.StateOpen:
		stateValue = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue)
}
