package server

import (
	"context"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// EventHook receives decision and task lifecycle events within the server layer.
// Defined here (not in the root aksi package) to avoid a circular import:
// internal/server → aksi → internal/server would be a cycle.
// The root aksi package wraps aksi.EventHook into EventHook via an adapter.
//
// Hook methods are called asynchronously in goroutines. Implementations must not
// block indefinitely. Failures are logged and do not fail the originating request.
type EventHook interface {
	OnDecisionEvaluated(ctx context.Context, decision model.Decision) error
	OnTaskSubmitted(ctx context.Context, task model.Task) error
}

const hookTimeout = 10 * time.Second

func (h *Handlers) fireDecisionHooks(d model.Decision) {
	if len(h.hooks) == 0 {
		return
	}
	hooks, logger := h.hooks, h.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		for _, hook := range hooks {
			if err := hook.OnDecisionEvaluated(ctx, d); err != nil {
				logger.Warn("event hook OnDecisionEvaluated failed", "error", err, "decision_id", d.ID)
			}
		}
	}()
}

func (h *Handlers) fireTaskHooks(t model.Task) {
	if len(h.hooks) == 0 {
		return
	}
	hooks, logger := h.hooks, h.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		for _, hook := range hooks {
			if err := hook.OnTaskSubmitted(ctx, t); err != nil {
				logger.Warn("event hook OnTaskSubmitted failed", "error", err, "task_id", t.ID)
			}
		}
	}()
}
