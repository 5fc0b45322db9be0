// Package ratelimit throttles AKSI API clients. MemoryLimiter keeps one
// token bucket per client IP; Instrumented counts its verdicts.
package ratelimit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. Keys are built by a
	// KeyFunc such as IPKeyFunc. An error means the limiter itself failed;
	// Middleware lets the request through in that case.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (sweep goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }

// Instrumented wraps a Limiter and counts each verdict on
// aksi.ratelimit.requests with an outcome attribute of allowed, rejected
// or error. Keys are not recorded.
type Instrumented struct {
	Limiter
	requests metric.Int64Counter
}

// NewInstrumented wraps l with counters from meter.
func NewInstrumented(l Limiter, meter metric.Meter) *Instrumented {
	requests, _ := meter.Int64Counter("aksi.ratelimit.requests",
		metric.WithDescription("Rate limiter verdicts by outcome"))
	return &Instrumented{Limiter: l, requests: requests}
}

// Allow delegates to the wrapped limiter and records the outcome.
func (i *Instrumented) Allow(ctx context.Context, key string) (bool, error) {
	ok, err := i.Limiter.Allow(ctx, key)
	outcome := "allowed"
	switch {
	case err != nil:
		outcome = "error"
	case !ok:
		outcome = "rejected"
	}
	if i.requests != nil {
		i.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return ok, err
}
