package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/bot"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

// serviceName is reported by /, /health and /version.
const serviceName = "aksi"

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	validator   *quality.Validator
	causality   *causality.Engine
	orch        *orchestrator.Orchestrator
	tasks       *orchestrator.Runner
	integrator  *integrator.Integrator
	bot         *bot.Bot
	events      *eventlog.Log
	proofs      *proof.Service
	broker      *Broker
	store       storage.Store
	jwtMgr      *auth.JWTManager
	adminKey    *auth.AdminKey
	idempotency *idempotencyCache
	logger      *slog.Logger
	startedAt   time.Time
	version     string

	maxRequestBodyBytes int64
	openapiSpec         []byte

	// requestsServed is incremented by the logging middleware.
	requestsServed atomic.Int64

	// hooks are fired asynchronously after decisions and task submissions.
	hooks []EventHook
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker, Store, JWTMgr, AdminKey, OpenAPISpec, Hooks.
type HandlersDeps struct {
	Validator    *quality.Validator
	Causality    *causality.Engine
	Orchestrator *orchestrator.Orchestrator
	Tasks        *orchestrator.Runner
	Integrator   *integrator.Integrator
	Bot          *bot.Bot
	Events       *eventlog.Log
	Proofs       *proof.Service
	Broker       *Broker
	Store        storage.Store
	JWTMgr       *auth.JWTManager
	AdminKey     *auth.AdminKey
	Logger       *slog.Logger
	Version      string

	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
	Hooks               []EventHook
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		validator:           d.Validator,
		causality:           d.Causality,
		orch:                d.Orchestrator,
		tasks:               d.Tasks,
		integrator:          d.Integrator,
		bot:                 d.Bot,
		events:              d.Events,
		proofs:              d.Proofs,
		broker:              d.Broker,
		store:               d.Store,
		jwtMgr:              d.JWTMgr,
		adminKey:            d.AdminKey,
		idempotency:         newIdempotencyCache(idempotencyTTL),
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
		hooks:               d.Hooks,
	}
}

// HandleAuthToken handles POST /auth/token.
// Exchanges the admin API key for a signed bearer token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.jwtMgr == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}

	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	// Verify always runs so a missing key costs the same as a wrong one.
	if !h.adminKey.Verify(req.APIKey) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "admin"
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(subject, model.RoleAdmin)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleRoot handles GET /.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.ServiceInfo{
		Service:   serviceName,
		Version:   h.version,
		Status:    "running",
		Endpoints: endpointMap,
	})
}

// endpointMap documents the public surface in GET /.
var endpointMap = map[string]string{
	"health":          "GET /health",
	"version":         "GET /version",
	"echo":            "POST /echo",
	"token":           "POST /auth/token",
	"metrics":         "GET /aksi/metrics",
	"proof":           "GET /aksi/proof",
	"proof_stable":    "POST /aksi/proof/stable",
	"logs":            "GET /aksi/logs",
	"logs_append":     "POST /aksi/logs/append",
	"logs_export":     "GET /aksi/logs/export",
	"events":          "GET /aksi/events",
	"validate_issue":  "POST /v1/validate/issue",
	"validate_pr":     "POST /v1/validate/pr",
	"causality":       "POST /v1/causality",
	"decisions":       "POST /v1/decisions",
	"decision_result": "POST /v1/decisions/{id}/outcome",
	"decisions_list":  "GET /v1/decisions/recent",
	"tasks":           "POST /v1/tasks",
	"task":            "GET /v1/tasks/{id}",
	"stats":           "GET /v1/stats",
	"actions":         "GET /v1/actions",
	"labels":          "POST /v1/labels/suggest",
	"bot_commands":    "POST /v1/bot/commands",
	"bot_solve":       "POST /v1/bot/solve",
	"bot_triage":      "POST /v1/bot/triage",
	"mcp":             "/mcp",
	"openapi":         "GET /openapi.yaml",
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Version:   h.version,
		Storage:   "disabled",
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
		Timestamp: time.Now().UTC(),
	}
	httpStatus := http.StatusOK

	if h.store != nil {
		resp.Backend = h.store.Backend()
		resp.Storage = "connected"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			resp.Storage = "disconnected"
			resp.Status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleVersion handles GET /version.
func (h *Handlers) HandleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.VersionResponse{Version: h.version, Service: serviceName})
}

// HandleEcho handles POST /echo.
func (h *Handlers) HandleEcho(w http.ResponseWriter, r *http.Request) {
	var req model.EchoRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.EchoResponse{
		Echo:      req.Message,
		Timestamp: time.Now().UTC(),
		Length:    utf8.RuneCountInString(req.Message),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// --- Shared helpers ---

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "path", r.URL.Path)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
