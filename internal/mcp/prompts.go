package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// draft-issue: walks the agent through validating an issue before filing it.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("draft-issue",
			mcplib.WithPromptDescription("Draft an issue and validate it before filing"),
			mcplib.WithArgument("topic",
				mcplib.ArgumentDescription("What the issue is about"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleDraftIssuePrompt,
	)

	// open-pr: validation checklist for a pull request.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("open-pr",
			mcplib.WithPromptDescription("Validate a pull request before opening it"),
			mcplib.WithArgument("issue_number",
				mcplib.ArgumentDescription("Issue the PR fixes"),
			),
		),
		s.handleOpenPRPrompt,
	)

	// agent-setup: system prompt snippet explaining the AKSI workflow.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the AKSI validate-before-post workflow"),
		),
		s.handleAgentSetupPrompt,
	)
}

func userPrompt(description, text string) *mcplib.GetPromptResult {
	return &mcplib.GetPromptResult{
		Description: description,
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}
}

func (s *Server) handleDraftIssuePrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	topic := request.Params.Arguments["topic"]
	if topic == "" {
		return nil, fmt.Errorf("topic argument is required")
	}

	return userPrompt(fmt.Sprintf("Draft and validate an issue about %s", topic), fmt.Sprintf(`Draft an issue about "%s", then validate it before filing:

1. WRITE a title of 10 to 200 characters and a markdown body with:
   - a "## Problem" section stating what is wrong or missing
   - a "## Proposed Solution" section
   - a checklist of acceptance criteria ("- [ ] ...")

2. CALL aksi_validate_issue with the title, body and labels. Pass the open
   issues you know about as existing_issues so duplicates are caught.

3. FIX every entry in "errors" and validate again. Warnings and suggestions
   are advisory; address them when cheap.

4. FILE the issue only once is_valid is true.`, topic)), nil
}

func (s *Server) handleOpenPRPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	link := "the issue it fixes"
	if n := request.Params.Arguments["issue_number"]; n != "" {
		link = "#" + n
	}

	return userPrompt("Validate a pull request before opening it", fmt.Sprintf(`Before opening the pull request:

1. TITLE it with a conventional prefix (feat:, fix:, docs:, refactor:, test:, chore:).

2. DESCRIBE the change in at least a few sentences and link %s
   with "Fixes #N" so it closes automatically on merge.

3. INCLUDE tests for every changed code file.

4. CALL aksi_validate_pr with the title, body, files_changed and
   target_branch. Open the PR only once is_valid is true.`, link)), nil
}

func (s *Server) handleAgentSetupPrompt(_ context.Context, _ mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return userPrompt("AKSI workflow for AI agents", `You have access to AKSI, a quality gate for issue and pull request drafts.

## The Pattern: Validate Before Posting

- Before filing an issue, call aksi_validate_issue and fix every error.
- Before opening a pull request, call aksi_validate_pr and fix every error.
- Before acting on your own judgement, call aksi_evaluate_decision and act
  only when should_act is true.

## Available Tools

- aksi_validate_issue: score an issue draft (errors block, warnings lower the score)
- aksi_validate_pr: score a pull request draft
- aksi_analyze_causality: explain the likely root cause of a problem
- aksi_evaluate_decision: confidence for a proposed action
- aksi_submit_task: run analyze, create or update in the background
- aksi_task_status: poll a submitted task
- aksi_stats: workflow counters and autonomy metrics

## Scores

Validation scores are in [0,1]. Each error costs 0.2, each warning 0.05,
and a body longer than 100 characters earns 0.1. Issues need 0.5 to pass,
pull requests 0.6, and any error fails the draft regardless of score.`), nil
}
