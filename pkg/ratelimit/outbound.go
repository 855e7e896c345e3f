package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"erpmigrate/pkg/metrics"
)

// Outbound paces requests sent to one remote system. A nil *Outbound never waits.
type Outbound struct {
	name    string
	limiter *rate.Limiter
}

// NewOutbound returns nil when rps is not positive, meaning unlimited.
func NewOutbound(name string, rps float64, burst int) *Outbound {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Outbound{name: name, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a request may be sent or ctx is done.
func (o *Outbound) Wait(ctx context.Context) error {
	if o == nil {
		return nil
	}
	if o.limiter.Allow() {
		metrics.IncRateLimit(o.name, "allowed")
		return nil
	}
	metrics.IncRateLimit(o.name, "delayed")
	return o.limiter.Wait(ctx)
}
