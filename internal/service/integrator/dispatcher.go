package integrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

// Sink receives dispatched actions.
type Sink interface {
	Dispatch(ctx context.Context, action model.IntegrationAction) error
}

// LogSink records each dispatched action in the event log and makes no
// outbound calls.
type LogSink struct {
	Events eventlog.Recorder
}

// Dispatch implements Sink.
func (s LogSink) Dispatch(ctx context.Context, a model.IntegrationAction) error {
	if s.Events == nil {
		return nil
	}
	s.Events.Record(ctx, model.LevelInfo, "integrator_dispatch", map[string]any{
		"action_id":   a.ID,
		"action_type": string(a.Kind),
		"target_type": string(a.TargetKind),
		"target_id":   a.TargetID,
	})
	return nil
}

// Dispatcher periodically drains pending actions to a Sink.
type Dispatcher struct {
	integrator *Integrator
	sink       Sink
	logger     *slog.Logger
	interval   time.Duration

	cancelLoop context.CancelFunc
	drainCtx   context.Context
	done       chan struct{}
}

// NewDispatcher creates a Dispatcher. interval defaults to 5s.
func NewDispatcher(in *Integrator, sink Sink, logger *slog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		integrator: in,
		sink:       sink,
		logger:     logger,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

// Start begins the dispatch loop. Call Drain to stop.
func (d *Dispatcher) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancelLoop = cancel
	go d.loop(loopCtx)
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx := d.drainCtx
			if finalCtx == nil {
				var cancel context.CancelFunc
				finalCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
			}
			d.DispatchOnce(finalCtx)
			return
		case <-ticker.C:
			d.DispatchOnce(ctx)
		}
	}
}

// DispatchOnce sends every pending action to the sink, marks the successful
// ones completed and clears them. Failed actions stay pending for the next
// pass. It returns the number dispatched.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	pending := d.integrator.Pending()
	if len(pending) == 0 {
		return 0
	}

	sent := 0
	for _, a := range pending {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := d.sink.Dispatch(ctx, a); err != nil {
			d.logger.Warn("integrator: dispatch failed", "action_id", a.ID, "error", err)
			continue
		}
		if _, err := d.integrator.MarkCompleted(ctx, a.ID); err != nil {
			// Reset between Pending and MarkCompleted.
			continue
		}
		sent++
	}
	cleared := d.integrator.ClearCompleted()
	d.logger.Debug("integrator: dispatched actions", "sent", sent, "cleared", cleared)
	return sent
}

// Drain stops the loop after a final dispatch pass bounded by ctx.
func (d *Dispatcher) Drain(ctx context.Context) {
	if d.cancelLoop == nil {
		d.DispatchOnce(ctx)
		return
	}
	d.drainCtx = ctx
	d.cancelLoop()
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.Warn("integrator: drain timed out waiting for dispatch loop")
	}
}
