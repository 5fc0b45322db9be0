package aksi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the AKSI server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the admin key exchanged for a bearer token. Leave it empty
	// when the server runs with auth disabled.
	APIKey string

	// Subject names this caller in issued tokens and audit entries.
	Subject string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the AKSI API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil when no API key is configured
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("aksi: BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{baseURL: baseURL, client: httpClient}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.Subject, cfg.APIKey, httpClient)
	}
	return c, nil
}

// Health reports server liveness and storage status. It never sends a token.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("aksi: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aksi: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out HealthResponse
	if err := handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateIssue scores an issue draft.
func (c *Client) ValidateIssue(ctx context.Context, draft IssueDraft) (*ValidationResult, error) {
	var resp ValidationResult
	if err := c.post(ctx, "/v1/validate/issue", draft, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ValidatePR scores a pull request draft.
func (c *Client) ValidatePR(ctx context.Context, draft PRDraft) (*ValidationResult, error) {
	var resp ValidationResult
	if err := c.post(ctx, "/v1/validate/pr", draft, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AnalyzeCausality builds a causality chain for an issue context.
func (c *Client) AnalyzeCausality(ctx context.Context, issueContext, researchData map[string]any) (*CausalityChain, error) {
	body := map[string]any{"issue_context": issueContext, "research_data": researchData}
	var resp CausalityChain
	if err := c.post(ctx, "/v1/causality", body, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EvaluateDecision asks the autonomy engine whether to take an action.
func (c *Client) EvaluateDecision(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	var resp DecisionResponse
	if err := c.post(ctx, "/v1/decisions", req, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecordOutcome reports whether a decision's action succeeded.
func (c *Client) RecordOutcome(ctx context.Context, decisionID string, success bool) (*OutcomeResponse, error) {
	var resp OutcomeResponse
	path := "/v1/decisions/" + url.PathEscape(decisionID) + "/outcome"
	if err := c.post(ctx, path, map[string]bool{"success": success}, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RecentDecisions returns up to limit decisions, newest first.
func (c *Client) RecentDecisions(ctx context.Context, limit int) ([]Decision, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Decisions []Decision `json:"decisions"`
	}
	if err := c.get(ctx, "/v1/decisions/recent?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Decisions, nil
}

// SubmitTask queues a background analyze-and-act task. A non-empty
// idempotencyKey makes retries return the original task id.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest, idempotencyKey string) (*TaskAccepted, error) {
	var headers http.Header
	if idempotencyKey != "" {
		headers = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var resp TaskAccepted
	if err := c.post(ctx, "/v1/tasks", req, &resp, headers); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTask returns a task's status and, once finished, its result.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var resp Task
	if err := c.get(ctx, "/v1/tasks/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitTask polls GetTask every interval until the task finishes or ctx ends.
func (c *Client) WaitTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stats returns the orchestrator statistics and the confidence threshold.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.get(ctx, "/v1/stats", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingActions lists queued integration actions.
func (c *Client) PendingActions(ctx context.Context) ([]Action, error) {
	var resp struct {
		Actions []Action `json:"actions"`
	}
	if err := c.get(ctx, "/v1/actions", &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// CompleteAction marks a queued action completed.
func (c *Client) CompleteAction(ctx context.Context, id string) (*Action, error) {
	var resp Action
	if err := c.post(ctx, "/v1/actions/"+url.PathEscape(id)+"/complete", struct{}{}, &resp, nil); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs returns recent event log entries at or above level (empty for all).
func (c *Client) Logs(ctx context.Context, limit int, level string) (*LogsResponse, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if level != "" {
		params.Set("level", level)
	}
	var resp LogsResponse
	if err := c.get(ctx, "/aksi/logs?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any, headers http.Header) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("aksi: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("aksi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header[k] = v
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("aksi: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("aksi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// A rejected token (server restarted with ephemeral keys) is re-exchanged
	// on the next call.
	if resp.StatusCode == http.StatusUnauthorized && c.tokenMgr != nil {
		c.tokenMgr.invalidate()
	}

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("aksi: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("aksi: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
