// Package causality derives a heuristic root-cause explanation from loosely
// structured issue context and repository research. The result is advisory:
// it is deterministic for the same inputs but not a verified causal graph.
package causality

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

const (
	fallbackRootCause = "Need for improvement identified"
	fallbackFactor    = "General system improvement opportunity"
	maxFactors        = 3
)

var baselineOutcomes = []string{
	"Improved system functionality",
	"Better code maintainability",
	"Enhanced user experience",
}

// Engine builds causality chains. It is stateless.
type Engine struct {
	events eventlog.Recorder
}

// New creates an Engine. A nil recorder is replaced with eventlog.Nop.
func New(events eventlog.Recorder) *Engine {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Engine{events: events}
}

// Analyze builds a CausalityChain. issueContext may carry a "problem" entry;
// research may carry "patterns" (a list of strings) and "similar_issues"
// (any list). Missing or mistyped entries fall back to generic text.
func (e *Engine) Analyze(ctx context.Context, issueContext, research map[string]any) model.CausalityChain {
	e.events.Record(ctx, model.LevelInfo, "causality_analyze", map[string]any{
		"context_keys":  len(issueContext),
		"research_keys": len(research),
	})

	patterns := stringList(research["patterns"])
	similar := listLen(research["similar_issues"])

	root := rootCause(issueContext, patterns)

	factors := make([]string, 0, maxFactors+1)
	for i := 0; i < len(patterns) && i < maxFactors; i++ {
		factors = append(factors, patterns[i])
	}
	if similar > 0 {
		factors = append(factors, fmt.Sprintf("%d similar issues found", similar))
	}
	if len(factors) == 0 {
		factors = append(factors, fallbackFactor)
	}

	outcomes := append([]string(nil), baselineOutcomes...)
	if strings.Contains(strings.ToLower(root), "automation") {
		outcomes = append(outcomes, "Increased automation efficiency")
	}
	if len(factors) > 0 {
		outcomes = append(outcomes, "Resolution of identified patterns")
	}

	chain := model.CausalityChain{
		RootCause:           root,
		ContributingFactors: factors,
		ExpectedOutcomes:    outcomes,
		Confidence:          Confidence(root, len(factors), len(outcomes)),
	}
	e.events.Record(ctx, model.LevelInfo, "causality_complete", map[string]any{
		"root_cause": chain.RootCause,
		"confidence": chain.Confidence,
	})
	return chain
}

// Confidence scores a chain from its shape: base 0.5, +0.15 for a root cause
// longer than 10 characters, +0.2 for two or more factors, +0.15 for three or
// more outcomes, clamped to [0,1].
func Confidence(root string, factors, outcomes int) float64 {
	c := 0.5
	if utf8.RuneCountInString(root) > 10 {
		c += 0.15
	}
	if factors >= 2 {
		c += 0.2
	}
	if outcomes >= 3 {
		c += 0.15
	}
	return model.Clamp01(c)
}

func rootCause(issueContext map[string]any, patterns []string) string {
	if problem, ok := issueContext["problem"]; ok {
		if s, ok := problem.(string); ok {
			return s
		}
		return fmt.Sprint(problem)
	}
	if len(patterns) > 0 {
		return "Pattern identified: " + patterns[0]
	}
	return fallbackRootCause
}

// stringList accepts the shapes research data arrives in: []string from
// in-process callers and []any from decoded JSON.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}

func listLen(v any) int {
	switch list := v.(type) {
	case []any:
		return len(list)
	case []string:
		return len(list)
	case []model.SimilarIssue:
		return len(list)
	default:
		return 0
	}
}
