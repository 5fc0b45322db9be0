package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// subscriberBuffer is the per-subscriber queue depth.
const subscriberBuffer = 64

// Broker fans out event log entries to SSE subscribers. Register Publish
// with eventlog.Log.OnEntry.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]model.LogLevel
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]model.LogLevel),
	}
}

// Subscribe returns a channel that receives SSE-formatted events at or
// above minLevel. An empty minLevel receives everything.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(minLevel model.LogLevel) chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = minLevel
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the number of active subscribers.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Publish broadcasts e to matching subscribers. Subscribers with a full
// buffer miss the event so one slow client cannot block the event log.
func (b *Broker) Publish(e model.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.subscribers) == 0 {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("broker: marshal entry", "error", err, "event", e.Event)
		return
	}
	event := formatSSE(e.Event, data)

	for ch, minLevel := range b.subscribers {
		if minLevel != "" && !model.LevelAtLeast(e.Level, minLevel) {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats one Server-Sent Events message.
func formatSSE(eventType string, data []byte) []byte {
	out := make([]byte, 0, len(eventType)+len(data)+16)
	out = append(out, "event: "...)
	out = append(out, eventType...)
	out = append(out, "\ndata: "...)
	out = append(out, data...)
	return append(out, "\n\n"...)
}
