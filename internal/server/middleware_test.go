package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/ctxutil"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/ratelimit"
	"github.com/konard/MILANA808-Milana-backend/internal/testutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	// MemoryLimiter with rate=1 token/sec and burst=2 allows the first 2 rapid
	// requests then rejects until tokens refill.
	limiter := ratelimit.NewMemoryLimiter(1, 2)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testutil.TestLogger(), okHandler())

	for i := range 3 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/v1/stats", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		handler.ServeHTTP(rec, req)

		if i < 2 {
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: got status %d, want %d (within burst)", i+1, rec.Code, http.StatusOK)
			}
		} else {
			if rec.Code != http.StatusTooManyRequests {
				t.Errorf("request %d: got status %d, want %d (burst exhausted)", i+1, rec.Code, http.StatusTooManyRequests)
			}
			if rec.Header().Get("Retry-After") == "" {
				t.Error("rate-limited response should include Retry-After header")
			}
		}
	}
}

func TestRateLimitMiddleware_DifferentIPs(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testutil.TestLogger(), okHandler())

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/aksi/logs/append", nil)
		req.RemoteAddr = addr
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if got := send("10.0.0.1:1000"); got != http.StatusOK {
		t.Errorf("IP A first request: got %d, want %d", got, http.StatusOK)
	}
	if got := send("10.0.0.1:1000"); got != http.StatusTooManyRequests {
		t.Errorf("IP A second request: got %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := send("10.0.0.2:1000"); got != http.StatusOK {
		t.Errorf("IP B first request: got %d, want %d", got, http.StatusOK)
	}
}

func TestRateLimitMiddleware_SkipsUnlimitedPaths(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(1, 1)
	defer func() { _ = limiter.Close() }()

	handler := rateLimitMiddleware(limiter, testutil.TestLogger(), okHandler())
	for range 5 {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/health", nil)
		req.RemoteAddr = "10.0.0.9:1000"
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	handler := rateLimitMiddleware(nil, testutil.TestLogger(), okHandler())
	for range 5 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/stats", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	readerToken, _, err := jwtMgr.IssueToken("bot-1", model.RoleReader)
	require.NoError(t, err)

	var seen *auth.Claims
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ctxutil.ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := authMiddleware(jwtMgr, inner)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusOK},
		{"missing header", "/v1/stats", "", http.StatusUnauthorized},
		{"wrong scheme", "/v1/stats", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/v1/stats", "Bearer abc", http.StatusUnauthorized},
		{"valid token", "/v1/stats", "Bearer " + readerToken, http.StatusOK},
		{"lowercase scheme", "/v1/stats", "bearer " + readerToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			rec := httptest.NewRecorder()
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/stats", nil)
	req.Header.Set("Authorization", "Bearer "+readerToken)
	handler.ServeHTTP(rec, req)
	require.NotNil(t, seen)
	assert.Equal(t, "bot-1", seen.Subject)
	assert.Equal(t, model.RoleReader, seen.Role)
}

func TestRequireRole(t *testing.T) {
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	readerToken, _, err := jwtMgr.IssueToken("bot-1", model.RoleReader)
	require.NoError(t, err)
	adminToken, _, err := jwtMgr.IssueToken("admin", model.RoleAdmin)
	require.NoError(t, err)

	handler := authMiddleware(jwtMgr, requireRole(model.RoleAdmin)(okHandler()))

	call := func(token string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/v1/admin/reset", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusForbidden, call(readerToken))
	assert.Equal(t, http.StatusOK, call(adminToken))

	// Without the auth middleware in front there are no claims at all.
	rec := httptest.NewRecorder()
	requireRole(model.RoleReader)(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/v1/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoleMiddlewareDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	roleMiddleware(false)(model.RoleAdmin)(okHandler()).ServeHTTP(rec, httptest.NewRequest("POST", "/v1/admin/reset", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingMiddlewareCountsRequests(t *testing.T) {
	h := &Handlers{}
	handler := loggingMiddleware(testutil.TestLogger(), &h.requestsServed, okHandler())
	for range 3 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	}
	assert.Equal(t, int64(3), h.requestsServed.Load())
}

func TestSetSubjectWalksWrappers(t *testing.T) {
	inner := &statusWriter{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
	outer := &statusWriter{ResponseWriter: inner, statusCode: http.StatusOK}
	setSubject(outer, "alice")
	assert.Equal(t, "alice", outer.subject)
	assert.Equal(t, "alice", inner.subject)
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	handler := requestIDMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = ctxutil.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	handler.ServeHTTP(rec, req)
	assert.Len(t, got, 36, "oversized ids are replaced with a uuid")
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))
}

func TestRecoveryMiddlewareRepanicsOnAbort(t *testing.T) {
	handler := recoveryMiddleware(testutil.TestLogger(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	})
}

func TestIdempotencyCache(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	c := newIdempotencyCache(time.Hour)
	c.now = func() time.Time { return now }

	entry, err := c.begin("k", "h1")
	require.NoError(t, err)
	assert.False(t, entry.completed)

	_, err = c.begin("k", "h1")
	assert.True(t, errors.Is(err, errIdempotencyInProgress))
	_, err = c.begin("k", "h2")
	assert.True(t, errors.Is(err, errIdempotencyPayloadMismatch))

	c.complete("k", http.StatusAccepted, "task-1")
	entry, err = c.begin("k", "h1")
	require.NoError(t, err)
	assert.True(t, entry.completed)
	assert.Equal(t, http.StatusAccepted, entry.status)
	assert.Equal(t, "task-1", entry.data)

	// clear only drops in-flight reservations.
	c.clear("k")
	entry, err = c.begin("k", "h1")
	require.NoError(t, err)
	assert.True(t, entry.completed)

	now = now.Add(2 * time.Hour)
	entry, err = c.begin("k", "h2")
	require.NoError(t, err)
	assert.False(t, entry.completed, "expired entries are purged")

	c.reset()
	_, err = c.begin("k", "h3")
	assert.NoError(t, err)
}

func TestFireHooks(t *testing.T) {
	hook := &recordingHook{decisions: make(chan model.Decision, 1), tasks: make(chan model.Task, 1)}
	h := &Handlers{hooks: []EventHook{hook}, logger: testutil.TestLogger()}

	h.fireDecisionHooks(model.Decision{ID: "d1"})
	h.fireTaskHooks(model.Task{ID: "t1"})

	select {
	case d := <-hook.decisions:
		assert.Equal(t, "d1", d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("decision hook not called")
	}
	select {
	case task := <-hook.tasks:
		assert.Equal(t, "t1", task.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("task hook not called")
	}
}

type recordingHook struct {
	decisions chan model.Decision
	tasks     chan model.Task
}

func (h *recordingHook) OnDecisionEvaluated(_ context.Context, d model.Decision) error {
	h.decisions <- d
	return nil
}

func (h *recordingHook) OnTaskSubmitted(_ context.Context, t model.Task) error {
	h.tasks <- t
	return errors.New("ignored")
}
