package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/ctxutil"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

// idempotencyTTL is how long a completed key replays its response.
const idempotencyTTL = 24 * time.Hour

// maxIdempotencyKeyLen bounds the Idempotency-Key header.
const maxIdempotencyKeyLen = 255

var (
	errIdempotencyPayloadMismatch = errors.New("idempotency key reused with different payload")
	errIdempotencyInProgress      = errors.New("request with this idempotency key is already in progress")
)

type idempotencyEntry struct {
	hash      string
	completed bool
	status    int
	data      any
	expiresAt time.Time
}

// idempotencyCache remembers write responses per (subject, endpoint, key).
// It is process-scoped, like the task map it protects.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	ttl     time.Duration
	now     func() time.Time
}

func newIdempotencyCache(ttl time.Duration) *idempotencyCache {
	return &idempotencyCache{
		entries: make(map[string]*idempotencyEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// begin reserves key for hash. A completed entry with the same hash is
// returned for replay.
func (c *idempotencyCache) begin(key, hash string) (idempotencyEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}

	if e, ok := c.entries[key]; ok {
		if e.hash != hash {
			return idempotencyEntry{}, errIdempotencyPayloadMismatch
		}
		if !e.completed {
			return idempotencyEntry{}, errIdempotencyInProgress
		}
		return *e, nil
	}
	c.entries[key] = &idempotencyEntry{hash: hash, expiresAt: now.Add(c.ttl)}
	return idempotencyEntry{}, nil
}

func (c *idempotencyCache) complete(key string, status int, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.completed = true
		e.status = status
		e.data = data
		e.expiresAt = c.now().Add(c.ttl)
	}
}

func (c *idempotencyCache) clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok && !e.completed {
		delete(c.entries, key)
	}
}

func (c *idempotencyCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*idempotencyEntry)
}

type idempotencyHandle struct {
	key string
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func requestHash(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// beginIdempotentWrite checks/reuses/reserves an idempotency key.
// Returns (nil, true) when no idempotency key is present and caller should proceed normally.
// Returns (nil, false) when a response has already been written.
func (h *Handlers) beginIdempotentWrite(w http.ResponseWriter, r *http.Request, endpoint string, payload any) (*idempotencyHandle, bool) {
	key := idempotencyKey(r)
	if key == "" {
		return nil, true
	}
	if len(key) > maxIdempotencyKeyLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "Idempotency-Key is too long")
		return nil, false
	}

	hash, err := requestHash(payload)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash idempotency payload", err)
		return nil, false
	}

	subject := ctxutil.SubjectFromContext(r.Context())
	if subject == "" {
		subject = "anonymous"
	}
	scoped := subject + "\x00" + endpoint + "\x00" + key

	entry, err := h.idempotency.begin(scoped, hash)
	switch {
	case err == nil && entry.completed:
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, r, entry.status, entry.data)
		return nil, false
	case err == nil:
		return &idempotencyHandle{key: scoped}, true
	default:
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return nil, false
	}
}

func (h *Handlers) completeIdempotentWrite(idem *idempotencyHandle, status int, data any) {
	if idem == nil {
		return
	}
	h.idempotency.complete(idem.key, status, data)
}

func (h *Handlers) clearIdempotentWrite(idem *idempotencyHandle) {
	if idem == nil {
		return
	}
	h.idempotency.clear(idem.key)
}
