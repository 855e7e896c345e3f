package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) IsRetryable() bool {
	return true
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) IsFatal() bool {
	return true
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// Policy describes how many times and how far apart an operation is retried.
// MaxRetries counts retries, not attempts: MaxRetries=3 allows four calls.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Options customizes classification and observation of a retry loop.
type Options struct {
	// IsRetryable decides whether a failed attempt is worth repeating. Defaults to
	// retrying everything that is not a FatalError.
	IsRetryable func(err error) bool
	// OnRetry runs before the backoff sleep; attempt is the 1-based number of the failed attempt.
	OnRetry func(attempt int, err error, nextDelay time.Duration)
}

// Do calls fn until it succeeds, a non-retryable error is returned, the retry budget is
// spent, or ctx is done. fn receives the 0-based attempt number. The last error is returned
// unwrapped from backoff's permanent marker.
func Do(ctx context.Context, policy Policy, fn func(attempt int) error, opts Options) error {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 2.0
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultPolicy().InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = DefaultPolicy().MaxInterval
	}

	isRetryable := opts.IsRetryable
	if isRetryable == nil {
		isRetryable = defaultRetryable
	}

	var b backoff.BackOff = ExponentialBackoff(policy.InitialInterval, policy.MaxInterval, policy.Multiplier)
	b = backoff.WithMaxRetries(b, uint64(policy.MaxRetries))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		err := fn(attempt)
		attempt++
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if opts.OnRetry != nil {
		notify = func(err error, next time.Duration) {
			opts.OnRetry(attempt, err, next)
		}
	}

	err := backoff.RetryNotify(operation, b, notify)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func defaultRetryable(err error) bool {
	var fatalErr FatalError
	if errors.As(err, &fatalErr) {
		return false
	}
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return true
}
