package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff yields base·multiplier^n without jitter, capped at maxInterval.
func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()
	return exp
}
