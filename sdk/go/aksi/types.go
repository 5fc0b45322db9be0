package aksi

import "time"

// TokenResponse is returned by POST /auth/token.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
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

// ExistingIssue is an open issue checked for duplicate titles.
type ExistingIssue struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
}

// IssueDraft is the body of POST /v1/validate/issue.
type IssueDraft struct {
	Title          string          `json:"title" yaml:"title"`
	Body           string          `json:"body" yaml:"body"`
	Labels         []string        `json:"labels" yaml:"labels"`
	ExistingIssues []ExistingIssue `json:"existing_issues,omitempty" yaml:"existing_issues,omitempty"`
}

// PRDraft is the body of POST /v1/validate/pr.
type PRDraft struct {
	Title        string   `json:"title" yaml:"title"`
	Body         string   `json:"body" yaml:"body"`
	FilesChanged []string `json:"files_changed" yaml:"files_changed"`
	TargetBranch string   `json:"target_branch,omitempty" yaml:"target_branch,omitempty"`
}

// ValidationResult is the quality verdict for an issue or PR draft.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Score       float64  `json:"score"`
}

// CausalityChain is returned by POST /v1/causality.
type CausalityChain struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	ExpectedOutcomes    []string `json:"expected_outcomes"`
	Confidence          float64  `json:"confidence"`
}

// DecisionRequest is the body of POST /v1/decisions.
type DecisionRequest struct {
	Context        map[string]any `json:"context"`
	ProposedAction string         `json:"proposed_action"`
	Alternatives   []string       `json:"alternatives"`
}

// Decision is one evaluated autonomy decision.
type Decision struct {
	ID         string    `json:"decision_id"`
	Kind       string    `json:"decision_type"`
	Confidence float64   `json:"confidence"`
	Reasoning  []string  `json:"reasoning"`
	Actions    []string  `json:"actions"`
	CreatedAt  time.Time `json:"timestamp"`
}

// DecisionResponse is returned by POST /v1/decisions.
type DecisionResponse struct {
	Decision  Decision `json:"decision"`
	Threshold float64  `json:"threshold"`
	ShouldAct bool     `json:"should_act"`
}

// PerformanceMetrics are the autonomy engine's running counters.
type PerformanceMetrics struct {
	DecisionsMade     int     `json:"decisions_made"`
	SuccessfulActions int     `json:"successful_actions"`
	FailedActions     int     `json:"failed_actions"`
	AvgConfidence     float64 `json:"avg_confidence"`
}

// OutcomeResponse is returned by POST /v1/decisions/{id}/outcome.
type OutcomeResponse struct {
	DecisionID  string             `json:"decision_id"`
	Success     bool               `json:"success"`
	Known       bool               `json:"known"`
	SuccessRate float64            `json:"success_rate"`
	Metrics     PerformanceMetrics `json:"metrics"`
}

// TaskRequest is the body of POST /v1/tasks. Action is analyze, create or update.
type TaskRequest struct {
	Repository  string `json:"repository"`
	IssueNumber *int   `json:"issue_number,omitempty"`
	Action      string `json:"action"`
}

// TaskAccepted is returned when a task is queued.
type TaskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Task is the state of a background analyze-and-act task.
// Result holds the raw workflow result once the task completes.
type Task struct {
	ID          string         `json:"task_id"`
	Status      string         `json:"status"`
	Repository  string         `json:"repository,omitempty"`
	Action      string         `json:"action,omitempty"`
	IssueNumber *int           `json:"issue_number,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Done reports whether the task has reached a terminal state.
func (t Task) Done() bool {
	return t.Status == "completed" || t.Status == "failed"
}

// Stats is the orchestrator snapshot inside StatsResponse.
type Stats struct {
	IssuesCreated     int                `json:"issues_created"`
	IssuesUpdated     int                `json:"issues_updated"`
	IssuesClosed      int                `json:"issues_closed"`
	PRsCreated        int                `json:"prs_created"`
	AnalysesPerformed int                `json:"analyses_performed"`
	AutonomyMetrics   PerformanceMetrics `json:"autonomy_metrics"`
	SuccessRate       float64            `json:"success_rate"`
	ShouldAct         bool               `json:"should_act"`
	ActiveTasks       int                `json:"active_tasks"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Stats     Stats   `json:"stats"`
	Threshold float64 `json:"threshold"`
}

// Action is a queued issue tracker mutation.
type Action struct {
	ID         string         `json:"id"`
	Kind       string         `json:"action_type"`
	TargetKind string         `json:"target_type"`
	TargetID   *int           `json:"target_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// LogEntry is one event log record.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Event     string         `json:"event"`
	Message   string         `json:"message,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// LogsResponse is returned by GET /aksi/logs.
type LogsResponse struct {
	Logs     []LogEntry `json:"logs"`
	Total    int        `json:"total"`
	Filtered int        `json:"filtered"`
	Limit    int        `json:"limit"`
}
