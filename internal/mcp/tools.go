package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/konard/MILANA808-Milana-backend/internal/ctxutil"
	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

func (s *Server) registerTools() {
	// aksi_validate_issue: quality gate for issue drafts.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_validate_issue",
			mcplib.WithDescription(`Validate an issue draft before posting it.

WHEN TO USE: Before creating any issue. Fix every entry in "errors"; warnings
lower the score but do not block.

WHAT YOU GET BACK: is_valid, errors, warnings, suggestions and a score in [0,1].
Pass existing_issues to detect near-duplicate titles.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title", mcplib.Description("Issue title (10 to 200 characters)"), mcplib.Required()),
			mcplib.WithString("body", mcplib.Description("Issue body in markdown")),
			mcplib.WithArray("labels", mcplib.Description("Labels to apply"), mcplib.WithStringItems()),
			mcplib.WithArray("existing_issues",
				mcplib.Description("Open issues to compare against, as objects with number and title"),
				mcplib.Items(map[string]any{
					"type": "object",
					"properties": map[string]any{
						"number": map[string]any{"type": "integer"},
						"title":  map[string]any{"type": "string"},
					},
				}),
			),
		),
		s.handleValidateIssue,
	)

	// aksi_validate_pr: quality gate for pull request drafts.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_validate_pr",
			mcplib.WithDescription(`Validate a pull request draft before opening it.

Checks the conventional-commit title, description length, linked issues,
and test coverage of changed code files.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("title", mcplib.Description("PR title, e.g. 'feat: add retry to dispatcher'"), mcplib.Required()),
			mcplib.WithString("body", mcplib.Description("PR description in markdown")),
			mcplib.WithArray("files_changed", mcplib.Description("Paths of changed files"), mcplib.WithStringItems()),
			mcplib.WithString("target_branch", mcplib.Description("Branch the PR merges into")),
		),
		s.handleValidatePR,
	)

	// aksi_analyze_causality: heuristic root cause for an issue.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_analyze_causality",
			mcplib.WithDescription(`Explain the likely root cause of a problem.

Pass the issue context (problem, affected_components, ...) and optional research
data (patterns, similar_issues). Returns root_cause, contributing_factors,
expected_outcomes and a confidence.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithObject("issue_context", mcplib.Description("Free-form issue context; 'problem' is used as the root cause when set"), mcplib.Required()),
			mcplib.WithObject("research_data", mcplib.Description("Research output with patterns and similar_issues")),
		),
		s.handleAnalyzeCausality,
	)

	// aksi_evaluate_decision: confidence for a proposed action.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_evaluate_decision",
			mcplib.WithDescription(`Score a proposed action before taking it.

Returns a decision with an id, confidence and reasoning. Act only when the
confidence clears the service threshold (see aksi_stats).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("proposed_action", mcplib.Description("The action being considered"), mcplib.Required()),
			mcplib.WithObject("context", mcplib.Description("Decision context; has_research and has_history raise confidence")),
			mcplib.WithArray("alternatives", mcplib.Description("Other actions that were considered"), mcplib.WithStringItems()),
		),
		s.handleEvaluateDecision,
	)

	// aksi_submit_task: background analyze-and-act.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_submit_task",
			mcplib.WithDescription(`Start an analyze-and-act task in the background.

Returns a task_id immediately; poll it with aksi_task_status. Actions:
analyze (default), create (draft, validate and queue a new issue) or update
(queue a progress comment; requires issue_number).`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("repository", mcplib.Description("owner/repo; defaults to your workspace root or the service repository")),
			mcplib.WithString("action", mcplib.Description("Workflow to run"), mcplib.Enum(model.TaskActions...)),
			mcplib.WithNumber("issue_number", mcplib.Description("Issue to update"), mcplib.Min(1)),
		),
		s.handleSubmitTask,
	)

	// aksi_task_status: poll a task.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_task_status",
			mcplib.WithDescription("Get the status and result of a task started with aksi_submit_task."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("task_id", mcplib.Description("Task identifier"), mcplib.Required()),
			mcplib.WithBoolean("full", mcplib.Description("Return the complete result instead of a summary")),
		),
		s.handleTaskStatus,
	)

	// aksi_stats: workflow counters and autonomy metrics.
	s.mcpServer.AddTool(
		mcplib.NewTool("aksi_stats",
			mcplib.WithDescription("Workflow counters, autonomy metrics, success rate and whether the engine is confident enough to act."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStats,
	)
}

// decodeArgs round-trips the tool arguments through JSON into target so the
// typed request structs of the HTTP API can be reused.
func decodeArgs(request mcplib.CallToolRequest, target any) error {
	data, err := json.Marshal(request.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (s *Server) handleValidateIssue(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req model.ValidateIssueRequest
	if err := decodeArgs(request, &req); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(s.deps.Validator.ValidateIssue(ctx, req.Title, req.Body, req.Labels, req.ExistingIssues))
}

func (s *Server) handleValidatePR(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req model.ValidatePRRequest
	if err := decodeArgs(request, &req); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if err := req.Validate(); err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(s.deps.Validator.ValidatePR(ctx, req.Title, req.Body, req.FilesChanged, req.TargetBranch))
}

func (s *Server) handleAnalyzeCausality(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req model.CausalityRequest
	if err := decodeArgs(request, &req); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	return jsonResult(s.deps.Causality.Analyze(ctx, req.IssueContext, req.ResearchData))
}

func (s *Server) handleEvaluateDecision(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	var req model.EvaluateDecisionRequest
	if err := decodeArgs(request, &req); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(req.ProposedAction) == "" {
		return errorResult("proposed_action is required"), nil
	}
	engine := s.deps.Orchestrator.Autonomy()
	d := engine.Evaluate(ctx, req.Context, req.ProposedAction, req.Alternatives)
	return jsonResult(map[string]any{
		"decision":   d,
		"threshold":  s.deps.Orchestrator.Threshold(),
		"should_act": d.Confidence >= s.deps.Orchestrator.Threshold(),
	})
}

func (s *Server) handleSubmitTask(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	action, err := model.ParseTaskAction(request.GetString("action", ""))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	repo := strings.TrimSpace(request.GetString("repository", ""))
	if repo == "" {
		repo = inferRepositoryFromRoots(s.requestRoots(ctx))
	}
	if repo == "" {
		repo = s.defaultRepo
	}
	if repo == "" {
		return errorResult("repository is required"), nil
	}

	var issueNumber *int
	if n := request.GetInt("issue_number", 0); n > 0 {
		issueNumber = &n
	}

	caller := ctxutil.SubjectFromContext(ctx)
	prior, duplicate := s.submits.Recent(caller, repo, action)

	id, err := s.deps.Tasks.Submit(ctx, orchestrator.Request{
		Repository:  repo,
		IssueNumber: issueNumber,
		Action:      action,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrDraining) {
			return errorResult("service is shutting down; retry shortly"), nil
		}
		return errorResult(fmt.Sprintf("failed to submit task: %v", err)), nil
	}
	s.submits.Record(caller, repo, action, id)
	s.deps.Events.Record(ctx, model.LevelInfo, "mcp_submit_task",
		ctxutil.AuditFromContext(ctx, "mcp").Payload(map[string]any{
			"task_id":    id,
			"repository": repo,
			"action":     action,
		}))

	result, err := jsonResult(model.SubmitTaskResponse{TaskID: id, Status: model.TaskRunning})
	if err != nil {
		return nil, err
	}
	// Advisory only: the task has already been accepted.
	if duplicate {
		result.Content = append(result.Content, mcplib.TextContent{
			Type: "text",
			Text: fmt.Sprintf("NOTE: an identical %s task for %s was submitted recently (task_id %s). "+
				"Poll it with aksi_task_status instead of resubmitting.", action, repo, prior),
		})
	}
	return result, nil
}

func (s *Server) handleTaskStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id := strings.TrimSpace(request.GetString("task_id", ""))
	if id == "" {
		return errorResult("task_id is required"), nil
	}
	task, err := s.deps.Tasks.Status(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return jsonResult(model.Task{ID: id, Status: model.TaskNotFound})
		}
		return errorResult(fmt.Sprintf("failed to load task: %v", err)), nil
	}
	if request.GetBool("full", false) {
		return jsonResult(task)
	}
	return jsonResult(compactTask(task))
}

func (s *Server) handleStats(_ context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	return jsonResult(s.stats())
}

func (s *Server) stats() map[string]any {
	return map[string]any{
		"stats":     s.deps.Orchestrator.Stats(),
		"threshold": s.deps.Orchestrator.Threshold(),
	}
}
