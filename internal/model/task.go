package model

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of an orchestrator task.
// running -> completed | failed. Terminal states are final.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskNotFound  TaskStatus = "not_found"
)

// Terminal reports whether s is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskAction is the workflow an orchestrator task dispatches.
type TaskAction string

const (
	TaskAnalyze TaskAction = "analyze"
	TaskCreate  TaskAction = "create"
	TaskUpdate  TaskAction = "update"
)

// TaskActions is the fixed alternative set offered to the autonomy engine.
var TaskActions = []string{string(TaskAnalyze), string(TaskCreate), string(TaskUpdate)}

// ParseTaskAction maps a wire string to a TaskAction. Empty means analyze.
func ParseTaskAction(s string) (TaskAction, error) {
	switch TaskAction(s) {
	case "", TaskAnalyze:
		return TaskAnalyze, nil
	case TaskCreate:
		return TaskCreate, nil
	case TaskUpdate:
		return TaskUpdate, nil
	default:
		return "", fmt.Errorf("invalid action %q (expected analyze, create, or update)", s)
	}
}

// Task is one analyze-and-act invocation tracked by the orchestrator.
type Task struct {
	ID          string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	Repository  string     `json:"repository,omitempty"`
	Action      TaskAction `json:"action,omitempty"`
	IssueNumber *int       `json:"issue_number,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// OrchestratorStats are the orchestrator's workflow counters.
type OrchestratorStats struct {
	IssuesCreated     int `json:"issues_created"`
	IssuesUpdated     int `json:"issues_updated"`
	IssuesClosed      int `json:"issues_closed"`
	PRsCreated        int `json:"prs_created"`
	AnalysesPerformed int `json:"analyses_performed"`
}

// StatsSnapshot is returned by the orchestrator's stats accessor.
type StatsSnapshot struct {
	OrchestratorStats
	AutonomyMetrics PerformanceMetrics `json:"autonomy_metrics"`
	SuccessRate     float64            `json:"success_rate"`
	ShouldAct       bool               `json:"should_act"`
	ActiveTasks     int                `json:"active_tasks"`
}

// AnalysisResult is returned by the analyze workflow.
type AnalysisResult struct {
	Research  ResearchResult `json:"research"`
	Causality CausalityChain `json:"causality"`
	Decision  Decision       `json:"decision"`
}

// WorkflowOutcome names what a create or update workflow did.
type WorkflowOutcome string

const (
	OutcomeIssueCreated     WorkflowOutcome = "issue_created"
	OutcomeValidationFailed WorkflowOutcome = "validation_failed"
	OutcomeIssueUpdated     WorkflowOutcome = "issue_updated"
)

// CreateIssueResult is returned by the create-issue workflow.
type CreateIssueResult struct {
	Action       WorkflowOutcome    `json:"action"`
	Variant      WrittenContent     `json:"variant"`
	Validation   *ValidationResult  `json:"validation,omitempty"`
	QueuedAction *IntegrationAction `json:"queued_action,omitempty"`
	Errors       []string           `json:"errors,omitempty"`
}

// UpdateIssueResult is returned by the update-issue workflow.
type UpdateIssueResult struct {
	Action       WorkflowOutcome    `json:"action"`
	Comment      string             `json:"comment"`
	QueuedAction *IntegrationAction `json:"queued_action"`
}

// LowConfidenceResult is returned when a decision does not clear the gate.
type LowConfidenceResult struct {
	Message  string   `json:"message"`
	Decision Decision `json:"decision"`
}
