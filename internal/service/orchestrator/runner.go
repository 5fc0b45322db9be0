package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

// ErrDraining is returned by Submit once Drain has been called.
var ErrDraining = errors.New("orchestrator: runner is draining")

// TaskStore persists task records beyond the in-memory retention window.
type TaskStore interface {
	SaveTask(ctx context.Context, t model.Task) error
	GetTask(ctx context.Context, id string) (model.Task, error)
}

// Runner executes analyze-and-act tasks in the background with bounded
// concurrency.
type Runner struct {
	orch   *Orchestrator
	store  TaskStore
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

// NewRunner creates a Runner. store may be nil.
func NewRunner(orch *Orchestrator, store TaskStore, maxConcurrent int, logger *slog.Logger) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:   orch,
		store:  store,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		logger: logger,
	}
}

// Submit records the task as running and schedules it. The task outlives
// ctx's cancellation but keeps its values (trace and request ids).
func (r *Runner) Submit(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return "", ErrDraining
	}
	req.TaskID = r.orch.Begin(req)
	r.wg.Add(1)
	r.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	if t, ok := r.orch.Task(req.TaskID); ok {
		r.save(bg, t)
	}

	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(bg, 1); err != nil {
			return
		}
		defer r.sem.Release(1)
		r.save(bg, r.orch.AnalyzeAndAct(bg, req))
	}()
	return req.TaskID, nil
}

// Status returns the in-memory task record, falling back to the store for
// tasks evicted from memory or run by a previous process.
func (r *Runner) Status(ctx context.Context, id string) (model.Task, error) {
	t := r.orch.TaskStatus(id)
	if t.Status != model.TaskNotFound || r.store == nil {
		return t, nil
	}
	stored, err := r.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return t, nil
	}
	if err != nil {
		return model.Task{}, fmt.Errorf("orchestrator: load task: %w", err)
	}
	return stored, nil
}

// Drain stops accepting tasks and waits for in-flight ones until ctx ends.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator: drain: %w", ctx.Err())
	}
}

func (r *Runner) save(ctx context.Context, t model.Task) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveTask(ctx, t); err != nil {
		r.logger.Warn("orchestrator: persist task failed", "task_id", t.ID, "error", err)
	}
}
