// Package aksi is the public API for embedding the AKSI decision and
// validation server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := aksi.New(
//	    aksi.WithVersion(version),
//	    aksi.WithLogger(logger),
//	    aksi.WithEventHook(myHook{}),
//	    aksi.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// aksi (root) imports internal/*, but internal/* never imports aksi. Public
// types (Decision, Task, Action) are standalone structs; the converters live
// in this file because it is the only one that sees both sides.
package aksi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/konard/MILANA808-Milana-backend/api"
	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/config"
	"github.com/konard/MILANA808-Milana-backend/internal/mcp"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/ratelimit"
	"github.com/konard/MILANA808-Milana-backend/internal/server"
	"github.com/konard/MILANA808-Milana-backend/internal/service/autonomy"
	"github.com/konard/MILANA808-Milana-backend/internal/service/bot"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/research"
	"github.com/konard/MILANA808-Milana-backend/internal/service/writer"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
	"github.com/konard/MILANA808-Milana-backend/internal/telemetry"
)

// Shutdown phase budgets.
const (
	shutdownHTTPTimeout     = 15 * time.Second
	shutdownTasksTimeout    = 30 * time.Second
	shutdownDispatchTimeout = 10 * time.Second
	shutdownEventsTimeout   = 10 * time.Second
)

// App is the AKSI server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	events       *eventlog.Log
	runner       *orchestrator.Runner
	dispatcher   *integrator.Dispatcher
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New initialises the AKSI server. It opens the store, runs migrations,
// wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	version := o.version
	if version == "" {
		version = cfg.Version
	}

	logger.Info("aksi starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := store.RunMigrations(ctx); err != nil {
		store.Close(ctx)
		_ = otelShutdown(ctx)
		return nil, fmt.Errorf("migrations: %w", err)
	}
	logger.Info("storage ready", "backend", store.Backend())

	var jwtMgr *auth.JWTManager
	var adminKey *auth.AdminKey
	if cfg.AuthEnabled() {
		jwtMgr, err = auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			store.Close(ctx)
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("auth: %w", err)
		}
		adminKey, err = auth.NewAdminKey(cfg.AdminAPIKey)
		if err != nil {
			store.Close(ctx)
			_ = otelShutdown(ctx)
			return nil, fmt.Errorf("auth: %w", err)
		}
		logger.Info("auth: enabled")
	} else {
		logger.Warn("auth: disabled (AKSI_ADMIN_API_KEY is empty), every route is open")
	}

	events := eventlog.New(store, logger, eventlog.Config{
		Dir:           cfg.LogDir,
		MemorySize:    cfg.LogMemorySize,
		FlushInterval: cfg.LogFlushInterval,
	})

	validator := quality.New(events)
	causal := causality.New(events)
	in := integrator.New(events)
	orch := orchestrator.New(orchestrator.Deps{
		Researcher: research.New(events),
		Writer:     writer.New(events),
		Integrator: in,
		Validator:  validator,
		Autonomy:   autonomy.New(events, cfg.DecisionHistory),
		Causality:  causal,
		Decisions:  store,
		Events:     events,
		Logger:     logger,
	}, orchestrator.Config{
		Threshold:     cfg.ConfidenceThreshold,
		TaskRetention: cfg.TaskRetention,
	})
	runner := orchestrator.NewRunner(orch, store, cfg.MaxConcurrentTasks, logger)

	var sink integrator.Sink = integrator.LogSink{Events: events}
	if o.actionSink != nil {
		sink = &actionSinkAdapter{sink: o.actionSink}
	}
	dispatcher := integrator.NewDispatcher(in, sink, logger, cfg.DispatchInterval)

	proofs := proof.New(store, cfg.ProofSeedPath, events)
	b := bot.New(in, runner, events, bot.Config{Repository: cfg.BotRepository, Version: version})

	mcpSrv := mcp.New(mcp.Deps{
		Validator:         validator,
		Causality:         causal,
		Orchestrator:      orch,
		Tasks:             runner,
		Events:            events,
		Logger:            logger,
		DefaultRepository: cfg.BotRepository,
	}, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst,
			ratelimit.WithStaleAfter(cfg.RateLimitStaleAfter),
			ratelimit.WithSweepInterval(cfg.RateLimitSweepInterval))
		limiter = ratelimit.NewInstrumented(mem, telemetry.Meter("aksi/ratelimit"))
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst,
			"stale_after", cfg.RateLimitStaleAfter)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	var hooks []server.EventHook
	for _, h := range o.eventHooks {
		hooks = append(hooks, &eventHookAdapter{hook: h})
	}

	var extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, roleFn server.RoleMiddlewareFn) {
			fn(mux, &authHelperImpl{roleFn: roleFn})
		})
	}

	var middlewares []func(http.Handler) http.Handler
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, func(h http.Handler) http.Handler { return mw(h) })
	}

	srv := server.New(server.ServerConfig{
		Validator:           validator,
		Causality:           causal,
		Orchestrator:        orch,
		Tasks:               runner,
		Integrator:          in,
		Bot:                 b,
		Events:              events,
		Proofs:              proofs,
		Logger:              logger,
		Store:               store,
		JWTMgr:              jwtMgr,
		AdminKey:            adminKey,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSOrigins:         cfg.CORSOrigins,
		OpenAPISpec:         api.OpenAPISpec,
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
		Hooks:               hooks,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		events:       events,
		runner:       runner,
		dispatcher:   dispatcher,
		limiter:      limiter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the root HTTP handler without starting a listener.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or the server fails. On return Shutdown has run;
// callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	// Background loops are stopped by Shutdown's drain phases, not by ctx.
	bg := context.WithoutCancel(ctx)
	a.events.Start(bg)
	a.dispatcher.Start(bg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown performs a phased graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight ones,
// (2) wait for running analyze-and-act tasks,
// (3) dispatch the remaining integration actions,
// (4) flush the event log to the store.
// It then closes the store and the OTEL providers. Safe to call twice.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() { a.shutdownErr = a.shutdown(ctx) })
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("aksi shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	var drainErr error
	tasksCtx, tasksCancel := context.WithTimeout(ctx, shutdownTasksTimeout)
	if err := a.runner.Drain(tasksCtx); err != nil {
		a.logger.Error("task drain incomplete, running tasks were abandoned", "error", err)
		drainErr = fmt.Errorf("task drain: %w", err)
	}
	tasksCancel()

	dispatchCtx, dispatchCancel := context.WithTimeout(ctx, shutdownDispatchTimeout)
	a.dispatcher.Drain(dispatchCtx)
	dispatchCancel()

	eventsCtx, eventsCancel := context.WithTimeout(ctx, shutdownEventsTimeout)
	a.events.Drain(eventsCtx)
	eventsCancel()

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.store.Close(context.Background())

	a.logger.Info("aksi stopped")
	return drainErr
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// eventHookAdapter wraps an aksi.EventHook to satisfy server.EventHook.
type eventHookAdapter struct {
	hook EventHook
}

func (a *eventHookAdapter) OnDecisionEvaluated(ctx context.Context, d model.Decision) error {
	return a.hook.OnDecisionEvaluated(ctx, toPublicDecision(d))
}

func (a *eventHookAdapter) OnTaskSubmitted(ctx context.Context, t model.Task) error {
	return a.hook.OnTaskSubmitted(ctx, toPublicTask(t))
}

// actionSinkAdapter wraps an aksi.ActionSink to satisfy integrator.Sink.
type actionSinkAdapter struct {
	sink ActionSink
}

func (a *actionSinkAdapter) Dispatch(ctx context.Context, action model.IntegrationAction) error {
	return a.sink.Dispatch(ctx, toPublicAction(action))
}

// authHelperImpl implements aksi.AuthHelper using an internal server.RoleMiddlewareFn.
type authHelperImpl struct {
	roleFn server.RoleMiddlewareFn
}

func (a *authHelperImpl) RequireRole(role Role) func(http.Handler) http.Handler {
	return a.roleFn(model.Role(role))
}

// ── Type converters ────────────────────────────────────────────────────────────

func toPublicDecision(d model.Decision) Decision {
	return Decision{
		ID:         d.ID,
		Kind:       d.Kind,
		Confidence: d.Confidence,
		Reasoning:  append([]string(nil), d.Reasoning...),
		Actions:    append([]string(nil), d.Actions...),
		CreatedAt:  d.CreatedAt,
	}
}

func toPublicTask(t model.Task) Task {
	return Task{
		ID:          t.ID,
		Status:      string(t.Status),
		Repository:  t.Repository,
		Action:      string(t.Action),
		IssueNumber: t.IssueNumber,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
	}
}

func toPublicAction(a model.IntegrationAction) Action {
	payload := make(map[string]any, len(a.Payload))
	for k, v := range a.Payload {
		payload[k] = v
	}
	return Action{
		ID:         a.ID,
		Kind:       string(a.Kind),
		TargetKind: string(a.TargetKind),
		TargetID:   a.TargetID,
		Payload:    payload,
		CreatedAt:  a.CreatedAt,
	}
}
