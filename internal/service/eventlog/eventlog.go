// Package eventlog provides the AKSI event log: a bounded in-memory ring of
// recent entries, an append-only daily JSONL file, and buffered batch writes
// to the store.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/telemetry"
)

// maxPending is the hard upper limit on entries waiting for a store flush.
// Beyond it the oldest pending entries are dropped (the ring and file still
// have them).
const maxPending = 100_000

// Recorder accepts domain events. Components take a Recorder so they behave
// identically with Nop.
type Recorder interface {
	Record(ctx context.Context, level model.LogLevel, event string, payload map[string]any)
}

// Nop discards every event.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, model.LogLevel, string, map[string]any) {}

// Sink persists flushed batches. storage.Store satisfies it.
type Sink interface {
	InsertLogEntries(ctx context.Context, entries []model.LogEntry) (int, error)
}

// Config controls the log's retention and persistence.
type Config struct {
	Dir           string        // JSONL directory; empty disables file output.
	MemorySize    int           // ring capacity
	FlushInterval time.Duration // store flush cadence
}

// Log is the process-scoped event log. Safe for concurrent use.
type Log struct {
	sink          Sink
	logger        *slog.Logger
	dir           string
	capacity      int
	flushInterval time.Duration

	mu      sync.Mutex
	ring    []model.LogEntry
	head    int // index of the oldest entry
	size    int
	pending []model.LogEntry

	fileMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  []func(model.LogEntry)

	total   atomic.Int64
	dropped atomic.Int64

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
	drainCtx   context.Context

	now func() time.Time
}

// New creates an event log. sink may be nil, in which case nothing is
// persisted beyond the JSONL file.
func New(sink Sink, logger *slog.Logger, cfg Config) *Log {
	capacity := cfg.MemorySize
	if capacity <= 0 {
		capacity = 1000
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Log{
		sink:          sink,
		logger:        logger,
		dir:           cfg.Dir,
		capacity:      capacity,
		flushInterval: interval,
		ring:          make([]model.LogEntry, capacity),
		flushCh:       make(chan struct{}, 1),
		done:          make(chan struct{}),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Record implements Recorder.
func (l *Log) Record(ctx context.Context, level model.LogLevel, event string, payload map[string]any) {
	l.Log(ctx, event, payload, level)
}

// Log records an event and returns the stored entry.
func (l *Log) Log(ctx context.Context, event string, payload map[string]any, level model.LogLevel) model.LogEntry {
	return l.add(ctx, model.LogEntry{Level: level, Event: event, Payload: payload})
}

// Append records a free-form message, as submitted through the HTTP API.
func (l *Log) Append(ctx context.Context, level model.LogLevel, message string, fields map[string]any) model.LogEntry {
	return l.add(ctx, model.LogEntry{Level: level, Event: "log_append", Message: message, Payload: fields})
}

func (l *Log) add(_ context.Context, e model.LogEntry) model.LogEntry {
	now := l.now()
	e.ID = uuid.New().String()
	e.Timestamp = now
	e.UnixTS = now.Unix()
	if e.Level == "" {
		e.Level = model.LevelInfo
	}
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}

	l.mu.Lock()
	l.ring[(l.head+l.size)%l.capacity] = e
	if l.size < l.capacity {
		l.size++
	} else {
		l.head = (l.head + 1) % l.capacity
	}
	if l.sink != nil {
		if len(l.pending) >= maxPending {
			l.pending = l.pending[1:]
			l.dropped.Add(1)
		}
		l.pending = append(l.pending, e)
	}
	l.mu.Unlock()
	l.total.Add(1)

	l.writeFile(e)
	l.notify(e)
	return e
}

// OnEntry registers fn to be called synchronously for every recorded entry.
// fn must not block.
func (l *Log) OnEntry(fn func(model.LogEntry)) {
	l.listenerMu.Lock()
	l.listeners = append(l.listeners, fn)
	l.listenerMu.Unlock()
}

func (l *Log) notify(e model.LogEntry) {
	l.listenerMu.RLock()
	defer l.listenerMu.RUnlock()
	for _, fn := range l.listeners {
		fn(e)
	}
}

// writeFile appends e to the daily JSONL file. Failures are logged, not returned.
func (l *Log) writeFile(e model.LogEntry) {
	if l.dir == "" {
		return
	}
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("eventlog: marshal entry", "error", err, "event", e.Event)
		return
	}

	l.fileMu.Lock()
	defer l.fileMu.Unlock()

	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		l.logger.Warn("eventlog: create directory", "error", err, "dir", l.dir)
		return
	}
	path := filepath.Join(l.dir, FileName(e.Timestamp))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640) //nolint:gosec // dir comes from config
	if err != nil {
		l.logger.Warn("eventlog: open file", "error", err, "path", path)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("eventlog: write file", "error", err, "path", path)
	}
}

// FileName returns the daily JSONL file name for t.
func FileName(t time.Time) string {
	return "aksi_" + t.Format("20060102") + ".jsonl"
}

// snapshot returns the ring contents, oldest first. Caller must hold l.mu.
func (l *Log) snapshot() []model.LogEntry {
	out := make([]model.LogEntry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.ring[(l.head+i)%l.capacity]
	}
	return out
}

// Recent returns up to limit of the newest entries, oldest first.
// limit <= 0 returns everything retained.
func (l *Log) Recent(limit int) []model.LogEntry {
	l.mu.Lock()
	all := l.snapshot()
	l.mu.Unlock()
	return tail(all, limit)
}

// ByEvent returns up to limit of the newest entries with the given event name.
func (l *Log) ByEvent(event string, limit int) []model.LogEntry {
	l.mu.Lock()
	all := l.snapshot()
	l.mu.Unlock()

	var matched []model.LogEntry
	for _, e := range all {
		if e.Event == event {
			matched = append(matched, e)
		}
	}
	return tail(matched, limit)
}

// Filter returns up to limit of the newest entries at level (all levels when
// level is empty) and the number of entries that matched before the limit.
func (l *Log) Filter(level model.LogLevel, limit int) ([]model.LogEntry, int) {
	l.mu.Lock()
	all := l.snapshot()
	l.mu.Unlock()

	if level == "" {
		return tail(all, limit), len(all)
	}
	var matched []model.LogEntry
	for _, e := range all {
		if e.Level == level {
			matched = append(matched, e)
		}
	}
	return tail(matched, limit), len(matched)
}

// Export renders retained entries as JSONL. A non-empty startDate keeps only
// entries whose RFC 3339 timestamp starts with it (e.g. "2026-10-19").
func (l *Log) Export(startDate string) (string, error) {
	l.mu.Lock()
	all := l.snapshot()
	l.mu.Unlock()

	lines := make([]string, 0, len(all))
	for _, e := range all {
		if startDate != "" && !strings.HasPrefix(e.Timestamp.Format(time.RFC3339Nano), startDate) {
			continue
		}
		b, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("eventlog: export: %w", err)
		}
		lines = append(lines, string(b))
	}
	return strings.Join(lines, "\n"), nil
}

// ExportText renders retained entries as "[timestamp] [LEVEL] message" lines.
// Entries without a message use their event name.
func (l *Log) ExportText() string {
	l.mu.Lock()
	all := l.snapshot()
	l.mu.Unlock()

	lines := make([]string, len(all))
	for i, e := range all {
		msg := e.Message
		if msg == "" {
			msg = e.Event
		}
		lines[i] = fmt.Sprintf("[%s] [%s] %s", e.Timestamp.Format(time.RFC3339), e.Level, msg)
	}
	return strings.Join(lines, "\n")
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Total returns the number of entries recorded since start or the last Reset.
func (l *Log) Total() int64 {
	return l.total.Load()
}

// Dropped returns the number of entries dropped from the store queue.
func (l *Log) Dropped() int64 {
	return l.dropped.Load()
}

// Reset clears the ring and the store queue. Files are left untouched.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = make([]model.LogEntry, l.capacity)
	l.head, l.size = 0, 0
	l.pending = nil
	l.total.Store(0)
	l.dropped.Store(0)
}

// Start begins the background store flush loop and registers OTEL metrics.
// Call Drain to stop. A nil sink makes Start a no-op.
func (l *Log) Start(ctx context.Context) {
	if l.sink == nil {
		close(l.done)
		return
	}
	l.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancelLoop = cancel
	go l.flushLoop(loopCtx)
}

func (l *Log) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.drainCtx != nil {
				l.flush(l.drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				l.flush(fallbackCtx)
				cancel()
			}
			close(l.done)
			return
		case <-ticker.C:
			l.flush(ctx)
		case <-l.flushCh:
			l.flush(ctx)
		}
	}
}

// Flush requests an immediate store flush without waiting for it.
func (l *Log) Flush() {
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

func (l *Log) flush(ctx context.Context) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	start := time.Now()
	n, err := l.sink.InsertLogEntries(ctx, batch)
	if err != nil {
		l.logger.Error("eventlog: flush failed", "error", err, "batch_size", len(batch))
		l.mu.Lock()
		if len(l.pending)+len(batch) <= maxPending {
			l.pending = append(batch, l.pending...)
		} else {
			l.dropped.Add(int64(len(batch)))
			l.logger.Error("eventlog: dropping entries, queue at capacity after flush failure", "dropped", len(batch))
		}
		l.mu.Unlock()
		return
	}

	l.logger.Debug("eventlog: batch flushed",
		"batch_size", n,
		"flush_duration_ms", time.Since(start).Milliseconds(),
	)
}

// Drain stops the flush loop after a final flush. ctx bounds the wait and
// the final flush.
func (l *Log) Drain(ctx context.Context) {
	if l.cancelLoop == nil {
		if l.sink != nil {
			l.flush(ctx)
		}
		return
	}
	l.drainCtx = ctx
	l.cancelLoop()
	select {
	case <-l.done:
	case <-ctx.Done():
		l.logger.Warn("eventlog: drain timed out waiting for flush loop")
	}
}

func (l *Log) registerMetrics() {
	meter := telemetry.Meter("aksi/eventlog")

	_, _ = meter.Int64ObservableGauge("aksi.eventlog.depth",
		metric.WithDescription("Entries retained in the in-memory ring"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(l.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("aksi.eventlog.dropped_total",
		metric.WithDescription("Entries dropped from the store queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(l.Dropped())
			return nil
		}),
	)
}

func tail(entries []model.LogEntry, limit int) []model.LogEntry {
	if limit <= 0 || limit >= len(entries) {
		return entries
	}
	return entries[len(entries)-limit:]
}
