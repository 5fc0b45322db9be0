package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Field length limits for request bodies that flow into the validator and
// the event log. These bound regex scans and TEXT columns.
const (
	MaxTitleLen   = 1024
	MaxBodyLen    = 64 * 1024 // 64 KB
	MaxMessageLen = 16 * 1024 // 16 KB
	MaxFilesLen   = 10_000
)

// APIResponse wraps all successful API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Standard error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest exchanges an API key for a bearer token.
type AuthTokenRequest struct {
	Subject string `json:"subject,omitempty"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is returned by POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EchoRequest is the body of POST /echo.
type EchoRequest struct {
	Message string `json:"message"`
}

// EchoResponse mirrors the message back with its length in characters.
type EchoResponse struct {
	Echo      string    `json:"echo"`
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`
}

// ValidateIssueRequest is the body of POST /v1/validate/issue.
type ValidateIssueRequest struct {
	Title          string          `json:"title" yaml:"title"`
	Body           string          `json:"body" yaml:"body"`
	Labels         []string        `json:"labels" yaml:"labels"`
	ExistingIssues []ExistingIssue `json:"existing_issues,omitempty" yaml:"existing_issues,omitempty"`
}

// Validate checks per-field length limits.
func (r ValidateIssueRequest) Validate() error {
	if err := checkLen("title", r.Title, MaxTitleLen); err != nil {
		return err
	}
	return checkLen("body", r.Body, MaxBodyLen)
}

// ValidatePRRequest is the body of POST /v1/validate/pr.
type ValidatePRRequest struct {
	Title        string   `json:"title" yaml:"title"`
	Body         string   `json:"body" yaml:"body"`
	FilesChanged []string `json:"files_changed" yaml:"files_changed"`
	TargetBranch string   `json:"target_branch,omitempty" yaml:"target_branch,omitempty"`
}

// Validate checks per-field length limits.
func (r ValidatePRRequest) Validate() error {
	if err := checkLen("title", r.Title, MaxTitleLen); err != nil {
		return err
	}
	if err := checkLen("body", r.Body, MaxBodyLen); err != nil {
		return err
	}
	if len(r.FilesChanged) > MaxFilesLen {
		return fmt.Errorf("files_changed exceeds maximum of %d entries", MaxFilesLen)
	}
	return nil
}

// CausalityRequest is the body of POST /v1/causality.
type CausalityRequest struct {
	IssueContext map[string]any `json:"issue_context"`
	ResearchData map[string]any `json:"research_data"`
}

// EvaluateDecisionRequest is the body of POST /v1/decisions.
type EvaluateDecisionRequest struct {
	Context        map[string]any `json:"context"`
	ProposedAction string         `json:"proposed_action"`
	Alternatives   []string       `json:"alternatives"`
}

// OutcomeRequest is the body of POST /v1/decisions/{id}/outcome.
type OutcomeRequest struct {
	Success bool `json:"success"`
}

// SubmitTaskRequest is the body of POST /v1/tasks.
type SubmitTaskRequest struct {
	Repository  string `json:"repository"`
	IssueNumber *int   `json:"issue_number,omitempty"`
	Action      string `json:"action"`
}

// SubmitTaskResponse is returned when a task is accepted for background work.
type SubmitTaskResponse struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
}

// SuggestLabelsRequest is the body of POST /v1/labels/suggest.
type SuggestLabelsRequest struct {
	Title          string   `json:"title"`
	Body           string   `json:"body"`
	ExistingLabels []string `json:"existing_labels,omitempty"`
}

// BotCommandRequest is the body of POST /v1/bot/commands.
type BotCommandRequest struct {
	Command     string `json:"command"`
	IssueNumber *int   `json:"issue_number,omitempty"`
}

// BotSolveRequest is the body of POST /v1/bot/solve.
type BotSolveRequest struct {
	IssueURL string `json:"issue_url"`
}

// BotTriageRequest is the body of POST /v1/bot/triage.
type BotTriageRequest struct {
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
	Title       string `json:"title"`
	Body        string `json:"body"`
}

// AppendLogRequest is the body of POST /aksi/logs/append.
type AppendLogRequest struct {
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks the level and message.
func (r AppendLogRequest) Validate() error {
	if _, err := ParseLogLevel(r.Level); err != nil {
		return err
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return checkLen("message", r.Message, MaxMessageLen)
}

// StableProofRequest is the body of POST /aksi/proof/stable.
type StableProofRequest struct {
	Signature string         `json:"signature"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Metrics   map[string]any `json:"metrics,omitempty"`
}

func checkLen(field, v string, limit int) error {
	if utf8.RuneCountInString(v) > limit {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, limit)
	}
	return nil
}

// ServiceInfo is returned by GET /.
type ServiceInfo struct {
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Storage   string    `json:"storage"`
	Backend   string    `json:"backend,omitempty"`
	Uptime    int64     `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

// VersionResponse is returned by GET /version.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// MetricsResponse is returned by GET /aksi/metrics.
type MetricsResponse struct {
	RequestsServed  int64              `json:"requests_served"`
	IssuesSolved    int                `json:"issues_solved"`
	UptimeSeconds   int64              `json:"uptime_seconds"`
	AutonomyMetrics PerformanceMetrics `json:"autonomy_metrics"`
	EventsRecorded  int64              `json:"events_recorded"`
	PendingActions  int                `json:"pending_actions"`
	Timestamp       time.Time          `json:"timestamp"`
}

// LogsResponse is returned by GET /aksi/logs.
type LogsResponse struct {
	Logs     []LogEntry `json:"logs"`
	Total    int        `json:"total"`
	Filtered int        `json:"filtered"`
	Limit    int        `json:"limit"`
	Level    LogLevel   `json:"level,omitempty"`
}

// LogsExportResponse is returned by GET /aksi/logs/export?format=json.
type LogsExportResponse struct {
	Logs       []LogEntry `json:"logs"`
	Total      int        `json:"total"`
	ExportedAt time.Time  `json:"exported_at"`
}

// AppendLogResponse is returned by POST /aksi/logs/append.
type AppendLogResponse struct {
	Status    string   `json:"status"`
	Entry     LogEntry `json:"entry"`
	TotalLogs int      `json:"total_logs"`
}

// StableProofResponse is returned by POST /aksi/proof/stable.
type StableProofResponse struct {
	Status      string `json:"status"`
	Entry       Proof  `json:"entry"`
	TotalProofs int    `json:"total_proofs"`
}

// EvaluateDecisionResponse is returned by POST /v1/decisions.
type EvaluateDecisionResponse struct {
	Decision  Decision `json:"decision"`
	Threshold float64  `json:"threshold"`
	ShouldAct bool     `json:"should_act"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Stats     StatsSnapshot `json:"stats"`
	Threshold float64       `json:"threshold"`
}
