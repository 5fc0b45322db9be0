// Package research gathers repository context for the orchestrator:
// similar issues and pull requests, recurring patterns and recommendations.
//
// The Researcher does not contact GitHub. It returns a fixed, deterministic
// view of any repository so the rest of the pipeline can run end to end.
package research

import (
	"context"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

// Confidence reported in ResearchResult metadata.
const Confidence = 0.85

var recommendations = []string{
	"Include clear problem statement in issues",
	"Add test coverage for new features",
	"Follow semantic commit message format",
	"Link related issues in PR descriptions",
	"Use labels for better categorization",
}

// Researcher analyzes repositories.
type Researcher struct {
	events eventlog.Recorder
	now    func() time.Time
}

// New creates a Researcher. A nil recorder is replaced with eventlog.Nop.
func New(events eventlog.Recorder) *Researcher {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Researcher{events: events, now: time.Now}
}

// AnalyzeRepository returns similar work items, patterns and recommendations
// for repository. topic may be empty.
func (r *Researcher) AnalyzeRepository(ctx context.Context, repository, topic string) (model.ResearchResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ResearchResult{}, err
	}
	r.events.Record(ctx, model.LevelInfo, "researcher_analyze", map[string]any{
		"repository": repository,
		"topic":      topic,
	})

	issues := similarIssues()
	prs := similarPRs()
	patterns := Patterns(len(issues) > 0, len(prs) > 0)

	result := model.ResearchResult{
		Repository:      repository,
		SimilarIssues:   issues,
		SimilarPRs:      prs,
		Patterns:        patterns,
		Recommendations: append([]string(nil), recommendations...),
		Metadata: map[string]any{
			"analyzed_at": r.now().UTC().Format(time.RFC3339),
			"topic":       topic,
			"confidence":  Confidence,
		},
	}

	r.events.Record(ctx, model.LevelInfo, "researcher_complete", map[string]any{
		"repository":   repository,
		"issues_found": len(issues),
		"prs_found":    len(prs),
		"patterns":     len(patterns),
	})
	return result, nil
}

// SearchSimilarRepositories returns repositories related to keywords, at
// most limit of them. A non-positive limit returns nothing.
func (r *Researcher) SearchSimilarRepositories(ctx context.Context, keywords []string, limit int) []model.RepositoryRecord {
	r.events.Record(ctx, model.LevelInfo, "researcher_search", map[string]any{
		"keywords": keywords,
		"limit":    limit,
	})
	results := []model.RepositoryRecord{{
		Name:        "example-automation-repo",
		Owner:       "exampleuser",
		Stars:       120,
		Description: "Automated issue management system",
		Topics:      []string{"automation", "github-api", "ai"},
	}}
	if limit <= 0 {
		return []model.RepositoryRecord{}
	}
	if limit < len(results) {
		results = results[:limit]
	}
	return results
}

// Patterns lists the recurring patterns derived from which kinds of similar
// work were found. The last two always apply.
func Patterns(haveIssues, havePRs bool) []string {
	var patterns []string
	if haveIssues {
		patterns = append(patterns, "Issues often focus on automation and enhancement")
	}
	if havePRs {
		patterns = append(patterns, "PRs typically include feature or bugfix labels")
	}
	return append(patterns,
		"Documentation is commonly updated with features",
		"Testing is emphasized in quality PRs",
	)
}

// ContextMap flattens a result into the loosely typed shape the causality
// engine reads.
func ContextMap(r model.ResearchResult) map[string]any {
	issues := make([]any, len(r.SimilarIssues))
	for i, is := range r.SimilarIssues {
		issues[i] = is
	}
	patterns := make([]any, len(r.Patterns))
	for i, p := range r.Patterns {
		patterns[i] = p
	}
	return map[string]any{
		"patterns":       patterns,
		"similar_issues": issues,
	}
}

func similarIssues() []model.SimilarIssue {
	return []model.SimilarIssue{{
		Number:      1,
		Title:       "Example issue about automation",
		State:       "open",
		Labels:      []string{"enhancement", "automation"},
		BodySnippet: "Implementing automated workflows...",
	}}
}

func similarPRs() []model.SimilarPR {
	return []model.SimilarPR{{
		Number:      10,
		Title:       "feat: add CI automation",
		State:       "merged",
		Labels:      []string{"feature"},
		BodySnippet: "Automated CI pipeline...",
	}}
}
