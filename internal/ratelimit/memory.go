package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction defaults used when no option overrides them.
const (
	DefaultStaleAfter    = 10 * time.Minute
	DefaultSweepInterval = time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryOption tunes a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithStaleAfter sets how long a key may stay idle before its bucket is
// dropped. Non-positive values keep the default.
func WithStaleAfter(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

// WithSweepInterval sets how often idle buckets are swept. Non-positive
// values keep the default.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// MemoryLimiter is a per-key token bucket held in process memory. Keys are
// client IPs ("ip:203.0.113.7") as built by IPKeyFunc. A background sweep
// drops buckets idle for longer than the stale window.
type MemoryLimiter struct {
	rate          float64 // tokens per second
	burst         float64 // bucket capacity
	staleAfter    time.Duration
	sweepInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter allows rate requests per second per key with bursts of
// up to burst. Call Close to stop the sweep goroutine.
func NewMemoryLimiter(rate float64, burst int, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:          rate,
		burst:         float64(burst),
		staleAfter:    DefaultStaleAfter,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		buckets:       make(map[string]*bucket),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.sweepLoop()
	return m
}

// Allow takes one token from key's bucket. A new key starts with a full
// bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: m.burst, lastSeen: now}
		m.buckets[key] = b
	} else if elapsed := now.Sub(b.lastSeen).Seconds(); elapsed > 0 {
		b.tokens = min(m.burst, b.tokens+elapsed*m.rate)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Keys returns the number of tracked keys.
func (m *MemoryLimiter) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops buckets idle for longer than staleAfter and returns how many
// were dropped.
func (m *MemoryLimiter) sweep() int {
	cutoff := m.now().Add(-m.staleAfter)

	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
			dropped++
		}
	}
	return dropped
}
