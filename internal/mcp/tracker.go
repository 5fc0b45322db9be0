package mcp

import (
	"sync"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// submitTracker records recent aksi_submit_task calls so a caller that
// resubmits the same work can be pointed at the task already running.
//
// Keyed on (caller, repository, action) with a time window. In-memory and
// per-process; the note it drives is advisory, never a gate.
type submitTracker struct {
	mu      sync.Mutex
	submits map[submitKey]submitEntry
	window  time.Duration
	now     func() time.Time
}

type submitKey struct {
	caller     string
	repository string
	action     model.TaskAction
}

type submitEntry struct {
	taskID string
	at     time.Time
}

func newSubmitTracker(window time.Duration) *submitTracker {
	return &submitTracker{
		submits: make(map[submitKey]submitEntry),
		window:  window,
		now:     time.Now,
	}
}

// Record notes that caller submitted taskID for (repository, action).
func (t *submitTracker) Record(caller, repository string, action model.TaskAction, taskID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submits[submitKey{caller, repository, action}] = submitEntry{taskID: taskID, at: t.now()}

	// Lazy cleanup bounds growth from many distinct keys.
	if len(t.submits) > 1000 {
		t.purgeStale()
	}
}

// Recent returns the task ID of a matching submission within the window.
func (t *submitTracker) Recent(caller, repository string, action model.TaskAction) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := submitKey{caller, repository, action}
	e, ok := t.submits[key]
	if !ok {
		return "", false
	}
	if t.now().Sub(e.at) > t.window {
		delete(t.submits, key)
		return "", false
	}
	return e.taskID, true
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *submitTracker) purgeStale() {
	now := t.now()
	for k, e := range t.submits {
		if now.Sub(e.at) > t.window {
			delete(t.submits, k)
		}
	}
}
