package aksi

import (
	"context"
	"net/http"
)

// EventHook receives async notifications when decisions are evaluated and
// tasks are submitted over HTTP. Multiple hooks may be registered via
// multiple WithEventHook calls.
// Hook methods run in goroutines and must not block indefinitely.
// Failures are logged but do not fail the originating request.
type EventHook interface {
	OnDecisionEvaluated(ctx context.Context, decision Decision) error
	OnTaskSubmitted(ctx context.Context, task Task) error
}

// ActionSink receives queued issue tracker mutations from the background
// dispatcher. An error leaves the action pending for the next pass.
type ActionSink interface {
	Dispatch(ctx context.Context, action Action) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the mux, auth chain, and OTEL instrumentation with the
// built-in routes. The function is called once during App.New().
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides role middleware for use in RouteRegistrar.
// When auth is disabled the returned middleware passes every request through.
type AuthHelper interface {
	RequireRole(role Role) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
