package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
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
	"github.com/konard/MILANA808-Milana-backend/internal/testutil"
)

const testAdminKey = "test-admin-key"

type testEnv struct {
	srv    *httptest.Server
	events *eventlog.Log
	token  string
}

type envOptions struct {
	auth        bool
	limiter     ratelimit.Limiter
	corsOrigins []string
	extraRoutes []func(*http.ServeMux, server.RoleMiddlewareFn)
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := testutil.TestLogger()
	db := testutil.NewSQLiteStore(t)

	events := eventlog.New(db, logger, eventlog.Config{MemorySize: 500})
	validator := quality.New(events)
	causal := causality.New(events)
	in := integrator.New(events)
	orch := orchestrator.New(orchestrator.Deps{
		Researcher: research.New(events),
		Writer:     writer.New(events),
		Integrator: in,
		Validator:  validator,
		Autonomy:   autonomy.New(events, 100),
		Causality:  causal,
		Decisions:  db,
		Events:     events,
		Logger:     logger,
	}, orchestrator.Config{Threshold: 0.6, TaskRetention: 100})
	runner := orchestrator.NewRunner(orch, db, 2, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Drain(ctx)
	})

	proofs := proof.New(db, t.TempDir()+"/seed.json", events)
	b := bot.New(in, runner, events, bot.Config{Repository: "acme/app", Version: "test"})
	mcpSrv := mcp.New(mcp.Deps{
		Validator:         validator,
		Causality:         causal,
		Orchestrator:      orch,
		Tasks:             runner,
		Events:            events,
		Logger:            logger,
		DefaultRepository: "acme/app",
	}, "test")

	cfg := server.ServerConfig{
		Validator:           validator,
		Causality:           causal,
		Orchestrator:        orch,
		Tasks:               runner,
		Integrator:          in,
		Bot:                 b,
		Events:              events,
		Proofs:              proofs,
		Logger:              logger,
		Store:               db,
		Limiter:             opts.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Version:             "test",
		MaxRequestBodyBytes: 64 * 1024,
		CORSOrigins:         opts.corsOrigins,
		OpenAPISpec:         []byte("openapi: 3.1.0\n"),
		ExtraRoutes:         opts.extraRoutes,
	}
	if opts.auth {
		jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
		require.NoError(t, err)
		adminKey, err := auth.NewAdminKey(testAdminKey)
		require.NoError(t, err)
		cfg.JWTMgr = jwtMgr
		cfg.AdminKey = adminKey
	}

	ts := httptest.NewServer(server.New(cfg).Handler())
	t.Cleanup(ts.Close)

	env := &testEnv{srv: ts, events: events}
	if opts.auth {
		resp := env.do(t, "POST", "/auth/token", model.AuthTokenRequest{APIKey: testAdminKey}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var tok model.AuthTokenResponse
		decodeData(t, resp, &tok)
		env.token = tok.Token
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeData(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NoError(t, json.Unmarshal(env.Data, target))
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	var env model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "GET", "/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info model.ServiceInfo
	decodeData(t, resp, &info)
	assert.Equal(t, "aksi", info.Service)
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, "GET /health", info.Endpoints["health"])

	resp = env.do(t, "GET", "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health model.HealthResponse
	decodeData(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Storage)
	assert.Equal(t, "sqlite", health.Backend)

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = env.do(t, "GET", "/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVersionAndOpenAPI(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "GET", "/version", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v model.VersionResponse
	decodeData(t, resp, &v)
	assert.Equal(t, "test", v.Version)

	resp = env.do(t, "GET", "/openapi.yaml", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "openapi: 3.1.0")
}

func TestEchoCountsRunes(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/echo", model.EchoRequest{Message: "héllo"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var echo model.EchoResponse
	decodeData(t, resp, &echo)
	assert.Equal(t, "héllo", echo.Echo)
	assert.Equal(t, 5, echo.Length)
}

func TestDecodeErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/echo", map[string]any{"message": "hi", "extra": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, resp).Code)

	resp = env.do(t, "POST", "/echo", model.EchoRequest{Message: strings.Repeat("x", 70*1024)}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestValidateIssue(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/validate/issue", model.ValidateIssueRequest{
		Title:  "Crash when saving an empty profile form",
		Body:   "## Steps\n\n1. Open profile\n2. Clear every field\n3. Save\n\nThe server returns a 500 and the page goes blank. Expected a validation message instead.",
		Labels: []string{"bug"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.ValidationResult
	decodeData(t, resp, &result)
	assert.True(t, result.IsValid)
	assert.NotNil(t, result.Errors)

	resp = env.do(t, "POST", "/v1/validate/issue", model.ValidateIssueRequest{Title: "Short"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &result)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestValidatePR(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/validate/pr", model.ValidatePRRequest{
		Title:        "fix",
		FilesChanged: []string{"main.go"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.ValidationResult
	decodeData(t, resp, &result)
	assert.False(t, result.IsValid)
}

func TestCausality(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/causality", model.CausalityRequest{
		IssueContext: map[string]any{"problem": "login timeouts"},
		ResearchData: map[string]any{"patterns": []string{"retry storm"}},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var chain model.CausalityChain
	decodeData(t, resp, &chain)
	assert.Equal(t, "login timeouts", chain.RootCause)
}

func TestDecisionLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/decisions", model.EvaluateDecisionRequest{
		Context:        map[string]any{"repository": "acme/app"},
		ProposedAction: "create_issue",
		Alternatives:   []string{"wait"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var eval model.EvaluateDecisionResponse
	decodeData(t, resp, &eval)
	require.NotEmpty(t, eval.Decision.ID)
	assert.InDelta(t, 0.6, eval.Threshold, 1e-9)
	assert.Equal(t, eval.Decision.Confidence >= 0.6, eval.ShouldAct)

	resp = env.do(t, "POST", "/v1/decisions/"+eval.Decision.ID+"/outcome", model.OutcomeRequest{Success: true}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var outcome map[string]any
	decodeData(t, resp, &outcome)
	assert.Equal(t, true, outcome["known"])
	assert.InDelta(t, 1.0, outcome["success_rate"], 1e-9)

	resp = env.do(t, "POST", "/v1/decisions/unknown-id/outcome", model.OutcomeRequest{Success: false}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeData(t, resp, &outcome)
	assert.Equal(t, false, outcome["known"])
	assert.InDelta(t, 0.5, outcome["success_rate"], 1e-9)

	for _, path := range []string{"/v1/decisions/recent", "/v1/decisions/recent?source=store"} {
		resp = env.do(t, "GET", path, nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		var recent struct {
			Decisions []model.Decision `json:"decisions"`
			Total     int              `json:"total"`
		}
		decodeData(t, resp, &recent)
		require.Equal(t, 1, recent.Total, path)
		assert.Equal(t, eval.Decision.ID, recent.Decisions[0].ID, path)
	}
}

func TestEvaluateDecisionRequiresAction(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/decisions", model.EvaluateDecisionRequest{ProposedAction: "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeError(t, resp).Message, "proposed_action")
}

func TestSubmitTaskAndPoll(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/tasks", model.SubmitTaskRequest{Repository: "acme/app", Action: "analyze"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var submitted model.SubmitTaskResponse
	decodeData(t, resp, &submitted)
	require.NotEmpty(t, submitted.TaskID)
	assert.Equal(t, model.TaskRunning, submitted.Status)
	assert.Equal(t, "/v1/tasks/"+submitted.TaskID, resp.Header.Get("Location"))

	require.Eventually(t, func() bool {
		r := env.do(t, "GET", "/v1/tasks/"+submitted.TaskID, nil, nil)
		if r.StatusCode != http.StatusOK {
			return false
		}
		var task model.Task
		decodeData(t, r, &task)
		return task.Status == model.TaskCompleted || task.Status == model.TaskFailed
	}, 5*time.Second, 20*time.Millisecond)

	resp = env.do(t, "GET", "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats model.StatsResponse
	decodeData(t, resp, &stats)
	assert.Equal(t, 0, stats.Stats.ActiveTasks)
	assert.InDelta(t, 0.6, stats.Threshold, 1e-9)
}

func TestSubmitTaskValidation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	zero := 0
	cases := []struct {
		name string
		req  model.SubmitTaskRequest
	}{
		{"missing repository", model.SubmitTaskRequest{Action: "analyze"}},
		{"unknown action", model.SubmitTaskRequest{Repository: "acme/app", Action: "deploy"}},
		{"non-positive issue", model.SubmitTaskRequest{Repository: "acme/app", Action: "update", IssueNumber: &zero}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, "POST", "/v1/tasks", tc.req, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "GET", "/v1/tasks/no-such-task", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, resp).Code)
}

func TestSubmitTaskIdempotency(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	headers := map[string]string{"Idempotency-Key": "submit-1"}
	req := model.SubmitTaskRequest{Repository: "acme/app", Action: "analyze"}

	first := env.do(t, "POST", "/v1/tasks", req, headers)
	require.Equal(t, http.StatusAccepted, first.StatusCode)
	var a model.SubmitTaskResponse
	decodeData(t, first, &a)

	replay := env.do(t, "POST", "/v1/tasks", req, headers)
	require.Equal(t, http.StatusAccepted, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("Idempotent-Replayed"))
	var b model.SubmitTaskResponse
	decodeData(t, replay, &b)
	assert.Equal(t, a.TaskID, b.TaskID)

	conflict := env.do(t, "POST", "/v1/tasks", model.SubmitTaskRequest{Repository: "acme/other", Action: "analyze"}, headers)
	assert.Equal(t, http.StatusConflict, conflict.StatusCode)
	assert.Equal(t, model.ErrCodeConflict, decodeError(t, conflict).Code)
}

func TestActionsQueue(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	n := 42

	resp := env.do(t, "POST", "/v1/bot/commands", model.BotCommandRequest{Command: "/aksi status", IssueNumber: &n}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cmd model.BotCommandResult
	decodeData(t, resp, &cmd)
	assert.Equal(t, "status", cmd.Command)
	assert.True(t, cmd.Known)
	require.NotNil(t, cmd.QueuedAction)

	resp = env.do(t, "GET", "/v1/actions", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Actions []model.IntegrationAction `json:"actions"`
		Total   int                       `json:"total"`
	}
	decodeData(t, resp, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, cmd.QueuedAction.ID, list.Actions[0].ID)

	resp = env.do(t, "POST", "/v1/actions/"+cmd.QueuedAction.ID+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, "POST", "/v1/actions/missing/complete", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, "DELETE", "/v1/actions/completed", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cleared map[string]int
	decodeData(t, resp, &cleared)
	assert.Equal(t, 1, cleared["removed"])
	assert.Equal(t, 0, cleared["remaining"])
}

func TestSuggestLabels(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/labels/suggest", model.SuggestLabelsRequest{
		Title: "Crash on startup",
		Body:  "The app fails with an error",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Labels []string `json:"labels"`
	}
	decodeData(t, resp, &out)
	assert.Contains(t, out.Labels, "bug")
}

func TestBotCommandUnknownAndMissing(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/bot/commands", model.BotCommandRequest{Command: "dance"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cmd model.BotCommandResult
	decodeData(t, resp, &cmd)
	assert.False(t, cmd.Known)
	assert.Nil(t, cmd.QueuedAction)

	resp = env.do(t, "POST", "/v1/bot/commands", model.BotCommandRequest{Command: " "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBotSolve(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/bot/solve", model.BotSolveRequest{IssueURL: "https://github.com/acme/app/issues/7"}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var res model.BotSolveResult
	decodeData(t, resp, &res)
	assert.Equal(t, "aksi/solve-issue-7", res.Branch)
	assert.NotEmpty(t, res.TaskID)

	resp = env.do(t, "POST", "/v1/bot/solve", model.BotSolveRequest{IssueURL: "https://example.com/nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBotTriage(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/bot/triage", model.BotTriageRequest{
		Repository:  "acme/app",
		IssueNumber: 3,
		Title:       "Urgent: crash in docs build",
		Body:        "The readme build is broken",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res model.BotTriageResult
	decodeData(t, resp, &res)
	assert.Contains(t, res.Labels, "bug")
	assert.Contains(t, res.Labels, "priority: high")

	resp = env.do(t, "POST", "/v1/bot/triage", model.BotTriageRequest{Repository: "acme/app"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogsEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/aksi/logs/append", model.AppendLogRequest{
		Level:   "error",
		Message: "disk almost full",
		Context: map[string]any{"volume": "/data"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var appended model.AppendLogResponse
	decodeData(t, resp, &appended)
	assert.Equal(t, model.LevelError, appended.Entry.Level)
	assert.Equal(t, "/data", appended.Entry.Payload["volume"])

	resp = env.do(t, "GET", "/aksi/logs?level=error", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs model.LogsResponse
	decodeData(t, resp, &logs)
	assert.Equal(t, 1, logs.Filtered)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "disk almost full", logs.Logs[0].Message)

	resp = env.do(t, "GET", "/aksi/logs?level=loud", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/aksi/logs/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exported model.LogsExportResponse
	decodeData(t, resp, &exported)
	assert.Equal(t, len(exported.Logs), exported.Total)
	assert.NotZero(t, exported.Total)

	resp = env.do(t, "GET", "/aksi/logs/export?format=txt", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain"))
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "disk almost full")

	resp = env.do(t, "GET", "/aksi/logs/export?format=csv", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProofEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/aksi/proof/stable", model.StableProofRequest{
		Signature: "release-1",
		Metrics:   map[string]any{"tests": 12},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var stable model.StableProofResponse
	decodeData(t, resp, &stable)
	assert.Equal(t, 1, stable.TotalProofs)
	assert.Equal(t, "release-1", stable.Entry.Signature)

	resp = env.do(t, "POST", "/aksi/proof/stable", model.StableProofRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, "GET", "/aksi/proof", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary model.ProofSummary
	decodeData(t, resp, &summary)
	assert.Len(t, summary.History, 1)
}

func TestMetricsCountsRequests(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	env.do(t, "GET", "/health", nil, nil)
	env.do(t, "GET", "/version", nil, nil)

	resp := env.do(t, "GET", "/aksi/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var m model.MetricsResponse
	decodeData(t, resp, &m)
	assert.GreaterOrEqual(t, m.RequestsServed, int64(2))
}

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/v1/decisions", model.EvaluateDecisionRequest{ProposedAction: "create_issue"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, "POST", "/v1/admin/reset", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status  string         `json:"status"`
		Cleared map[string]any `json:"cleared"`
	}
	decodeData(t, resp, &out)
	assert.Equal(t, "reset", out.Status)
	assert.EqualValues(t, 1, out.Cleared["decisions"])

	resp = env.do(t, "GET", "/v1/decisions/recent", nil, nil)
	var recent struct {
		Total int `json:"total"`
	}
	decodeData(t, resp, &recent)
	assert.Equal(t, 0, recent.Total)
}

func TestAuthEnabled(t *testing.T) {
	env := newTestEnv(t, envOptions{auth: true})
	require.NotEmpty(t, env.token)

	// Public routes need no token.
	anon := &testEnv{srv: env.srv}
	assert.Equal(t, http.StatusOK, anon.do(t, "GET", "/health", nil, nil).StatusCode)
	assert.Equal(t, http.StatusOK, anon.do(t, "GET", "/aksi/logs", nil, nil).StatusCode)

	resp := anon.do(t, "GET", "/v1/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = anon.do(t, "GET", "/v1/stats", nil, map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = anon.do(t, "POST", "/auth/token", model.AuthTokenRequest{APIKey: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/v1/stats", nil, nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.do(t, "POST", "/v1/admin/reset", nil, nil).StatusCode)
}

func TestAuthTokenDisabled(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "POST", "/auth/token", model.AuthTokenRequest{APIKey: testAdminKey}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExtraRoutesShareAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{
		auth: true,
		extraRoutes: []func(*http.ServeMux, server.RoleMiddlewareFn){
			func(mux *http.ServeMux, role server.RoleMiddlewareFn) {
				mux.Handle("GET /v1/custom/admin", role(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusNoContent)
				})))
			},
		},
	})

	resp := env.do(t, "GET", "/v1/custom/admin", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	anon := &testEnv{srv: env.srv}
	resp = anon.do(t, "GET", "/v1/custom/admin", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimitApplied(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 2)
	t.Cleanup(func() { _ = limiter.Close() })
	env := newTestEnv(t, envOptions{limiter: limiter})

	for range 2 {
		assert.Equal(t, http.StatusOK, env.do(t, "GET", "/v1/stats", nil, nil).StatusCode)
	}
	resp := env.do(t, "GET", "/v1/stats", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Health checks are not rate limited.
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/health", nil, nil).StatusCode)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, envOptions{corsOrigins: []string{"https://app.example.com"}})

	resp := env.do(t, "OPTIONS", "/v1/stats", nil, map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": "GET",
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = env.do(t, "GET", "/health", nil, map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestIDPropagation(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.do(t, "GET", "/version", nil, map[string]string{"X-Request-ID": "req-abc"})
	assert.Equal(t, "req-abc", resp.Header.Get("X-Request-ID"))
	var body model.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "req-abc", body.Meta.RequestID)
}

func TestRecoveryFromPanic(t *testing.T) {
	env := newTestEnv(t, envOptions{
		extraRoutes: []func(*http.ServeMux, server.RoleMiddlewareFn){
			func(mux *http.ServeMux, _ server.RoleMiddlewareFn) {
				mux.HandleFunc("GET /v1/boom", func(http.ResponseWriter, *http.Request) {
					panic("boom")
				})
			},
		},
	})

	resp := env.do(t, "GET", "/v1/boom", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInternalError, decodeError(t, resp).Code)
}

func TestMCPOverHTTP(t *testing.T) {
	env := newTestEnv(t, envOptions{auth: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := mcpclient.NewStreamableHttpClient(env.srv.URL+"/mcp",
		mcptransport.WithHTTPHeaders(map[string]string{"Authorization": "Bearer " + env.token}),
	)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	initReq := mcplib.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcplib.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcplib.Implementation{Name: "server-test", Version: "0"}
	initResult, err := c.Initialize(ctx, initReq)
	require.NoError(t, err)
	assert.Equal(t, "aksi", initResult.ServerInfo.Name)

	tools, err := c.ListTools(ctx, mcplib.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "aksi_validate_issue")
	assert.Contains(t, names, "aksi_submit_task")

	// Without a token the endpoint is closed.
	anon := &testEnv{srv: env.srv}
	resp := anon.do(t, "POST", "/mcp", map[string]any{"jsonrpc": "2.0", "id": 1, "method": "ping"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", env.srv.URL+"/aksi/events?level=error", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The subscription is registered once headers are flushed.
	env.do(t, "POST", "/v1/validate/issue", model.ValidateIssueRequest{Title: "noise"}, nil)
	env.do(t, "POST", "/aksi/logs/append", model.AppendLogRequest{Level: "ERROR", Message: "stream me"}, nil)

	buf := make([]byte, 4096)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		require.NoError(t, err)
		got.Write(buf[:n])
	}
	assert.True(t, strings.HasPrefix(got.String(), "event: log_append\n"), got.String())
	assert.Contains(t, got.String(), "stream me")
}
