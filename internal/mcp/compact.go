package mcp

import (
	"fmt"
	"unicode/utf8"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
)

const maxCompactText = 200

// compactTask returns a minimal representation of a task for MCP responses.
// Research payloads are replaced by counts; the decision is kept whole since
// agents act on its confidence.
func compactTask(t model.Task) map[string]any {
	m := map[string]any{
		"task_id": t.ID,
		"status":  t.Status,
	}
	if t.Repository != "" {
		m["repository"] = t.Repository
	}
	if t.Action != "" {
		m["action"] = t.Action
	}
	if t.Error != "" {
		m["error"] = truncate(t.Error, maxCompactText)
	}
	if t.CompletedAt != nil && t.StartedAt != nil {
		m["duration_ms"] = t.CompletedAt.Sub(*t.StartedAt).Milliseconds()
	}
	if t.Result != nil {
		m["summary"] = summarizeResult(t.Result)
	}
	return m
}

// summarizeResult reduces a workflow result to what an agent needs to decide
// its next step. Unknown result types (e.g. results reloaded from storage as
// raw JSON) are passed through.
func summarizeResult(result any) any {
	switch r := result.(type) {
	case model.AnalysisResult:
		return map[string]any{
			"kind":            "analysis",
			"root_cause":      truncate(r.Causality.RootCause, maxCompactText),
			"patterns":        len(r.Research.Patterns),
			"similar_issues":  len(r.Research.SimilarIssues),
			"recommendations": len(r.Research.Recommendations),
			"decision":        r.Decision,
		}
	case model.CreateIssueResult:
		m := map[string]any{
			"kind":    "create",
			"outcome": r.Action,
			"title":   r.Variant.Title,
		}
		if r.Validation != nil {
			m["score"] = r.Validation.Score
		}
		if len(r.Errors) > 0 {
			m["errors"] = r.Errors
		}
		if r.QueuedAction != nil {
			m["queued_action_id"] = r.QueuedAction.ID
		}
		return m
	case model.UpdateIssueResult:
		m := map[string]any{"kind": "update", "outcome": r.Action}
		if r.QueuedAction != nil {
			m["queued_action_id"] = r.QueuedAction.ID
		}
		return m
	case model.LowConfidenceResult:
		return map[string]any{
			"kind":       "low_confidence",
			"message":    r.Message,
			"confidence": r.Decision.Confidence,
		}
	}
	return result
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return fmt.Sprintf("%s...", string(runes[:n]))
}
