package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/ratelimit"
	"github.com/konard/MILANA808-Milana-backend/internal/service/bot"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

// Server is the AKSI HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Store, JWTMgr, AdminKey, Limiter, MCPServer,
// OpenAPISpec, ExtraRoutes, Middlewares, Hooks.
//
// Auth is enabled when JWTMgr is set. Every route outside the public set
// then requires a bearer token.
type ServerConfig struct {
	// Required dependencies.
	Validator    *quality.Validator
	Causality    *causality.Engine
	Orchestrator *orchestrator.Orchestrator
	Tasks        *orchestrator.Runner
	Integrator   *integrator.Integrator
	Bot          *bot.Bot
	Events       *eventlog.Log
	Proofs       *proof.Service
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Store     storage.Store
	JWTMgr    *auth.JWTManager
	AdminKey  *auth.AdminKey
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSOrigins         []string

	// OpenAPISpec is served at GET /openapi.yaml.
	OpenAPISpec []byte

	// ExtraRoutes are registered after the built-in routes and share the
	// middleware chain.
	ExtraRoutes []func(*http.ServeMux, RoleMiddlewareFn)
	// Middlewares wrap the whole chain. The first one is outermost.
	Middlewares []func(http.Handler) http.Handler
	Hooks       []EventHook
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	broker := NewBroker(cfg.Logger)
	cfg.Events.OnEntry(broker.Publish)

	h := NewHandlers(HandlersDeps{
		Validator:           cfg.Validator,
		Causality:           cfg.Causality,
		Orchestrator:        cfg.Orchestrator,
		Tasks:               cfg.Tasks,
		Integrator:          cfg.Integrator,
		Bot:                 cfg.Bot,
		Events:              cfg.Events,
		Proofs:              cfg.Proofs,
		Broker:              broker,
		Store:               cfg.Store,
		JWTMgr:              cfg.JWTMgr,
		AdminKey:            cfg.AdminKey,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
		Hooks:               cfg.Hooks,
	})

	roleFn := roleMiddleware(cfg.JWTMgr != nil)
	readRole := roleFn(model.RoleReader)
	adminOnly := roleFn(model.RoleAdmin)

	mux := http.NewServeMux()

	// Public service endpoints (no auth, no rate limit).
	mux.HandleFunc("GET /{$}", h.HandleRoot)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /version", h.HandleVersion)
	mux.HandleFunc("POST /echo", h.HandleEcho)
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Token exchange (no auth, rate limited by IP).
	mux.HandleFunc("POST /auth/token", h.HandleAuthToken)

	// AKSI status endpoints. Reads are public, writes need a token.
	mux.HandleFunc("GET /aksi/metrics", h.HandleMetrics)
	mux.HandleFunc("GET /aksi/proof", h.HandleProof)
	mux.HandleFunc("GET /aksi/logs", h.HandleLogs)
	mux.HandleFunc("GET /aksi/logs/export", h.HandleExportLogs)
	mux.Handle("POST /aksi/proof/stable", readRole(http.HandlerFunc(h.HandleStableProof)))
	mux.Handle("POST /aksi/logs/append", readRole(http.HandlerFunc(h.HandleAppendLog)))
	mux.Handle("GET /aksi/events", readRole(http.HandlerFunc(h.HandleEvents)))

	// Validation and analysis.
	mux.Handle("POST /v1/validate/issue", readRole(http.HandlerFunc(h.HandleValidateIssue)))
	mux.Handle("POST /v1/validate/pr", readRole(http.HandlerFunc(h.HandleValidatePR)))
	mux.Handle("POST /v1/causality", readRole(http.HandlerFunc(h.HandleCausality)))

	// Autonomy decisions.
	mux.Handle("POST /v1/decisions", readRole(http.HandlerFunc(h.HandleEvaluateDecision)))
	mux.Handle("POST /v1/decisions/{id}/outcome", readRole(http.HandlerFunc(h.HandleDecisionOutcome)))
	mux.Handle("GET /v1/decisions/recent", readRole(http.HandlerFunc(h.HandleDecisionsRecent)))

	// Background analyze-and-act tasks.
	mux.Handle("POST /v1/tasks", readRole(http.HandlerFunc(h.HandleSubmitTask)))
	mux.Handle("GET /v1/tasks/{id}", readRole(http.HandlerFunc(h.HandleGetTask)))
	mux.Handle("GET /v1/stats", readRole(http.HandlerFunc(h.HandleStats)))

	// Integration action queue.
	mux.Handle("GET /v1/actions", readRole(http.HandlerFunc(h.HandleListActions)))
	mux.Handle("POST /v1/actions/{id}/complete", readRole(http.HandlerFunc(h.HandleCompleteAction)))
	mux.Handle("DELETE /v1/actions/completed", readRole(http.HandlerFunc(h.HandleClearCompletedActions)))
	mux.Handle("POST /v1/labels/suggest", readRole(http.HandlerFunc(h.HandleSuggestLabels)))

	// Bot commands.
	mux.Handle("POST /v1/bot/commands", readRole(http.HandlerFunc(h.HandleBotCommand)))
	mux.Handle("POST /v1/bot/solve", readRole(http.HandlerFunc(h.HandleBotSolve)))
	mux.Handle("POST /v1/bot/triage", readRole(http.HandlerFunc(h.HandleBotTriage)))

	// Admin.
	mux.Handle("POST /v1/admin/reset", adminOnly(http.HandlerFunc(h.HandleReset)))

	// MCP StreamableHTTP transport (auth required when enabled).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", readRole(mcpHTTP))
	}

	for _, register := range cfg.ExtraRoutes {
		register(mux, roleFn)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → rate limit → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = rateLimitMiddleware(cfg.Limiter, cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, &h.requestsServed, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
