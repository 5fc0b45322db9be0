// Package writer drafts issue and pull request text from templates and ranks
// the drafts by EQS, a heuristic content-quality score in [0,1].
package writer

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

// Style selects a body template.
type Style string

const (
	StyleDetailed  Style = "detailed"
	StyleConcise   Style = "concise"
	StyleTechnical Style = "technical"
)

var styles = []Style{StyleDetailed, StyleConcise, StyleTechnical}

// Writer generates drafts. It is stateless.
type Writer struct {
	events eventlog.Recorder
}

// New creates a Writer. A nil recorder is replaced with eventlog.Nop.
func New(events eventlog.Recorder) *Writer {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Writer{events: events}
}

// GenerateIssueVariants drafts n issues about topic, cycling through the
// detailed, concise and technical styles. The result is sorted by EQS,
// highest first; ties keep generation order.
func (w *Writer) GenerateIssueVariants(ctx context.Context, topic string, issueContext map[string]any, n int) ([]model.WrittenContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("writer: variant count must be positive, got %d", n)
	}
	w.events.Record(ctx, model.LevelInfo, "writer_generate", map[string]any{
		"topic":    topic,
		"variants": n,
	})

	labels := SuggestLabels(topic, issueContext)
	variants := make([]model.WrittenContent, 0, n)
	for i := 0; i < n; i++ {
		style := styles[i%len(styles)]
		title := variantTitle(style, topic)
		body := Body(style, topic, issueContext)
		variants = append(variants, model.WrittenContent{
			VariantID: fmt.Sprintf("v%d_%s", i+1, style),
			Title:     title,
			Body:      body,
			Labels:    slices.Clone(labels),
			EQSScore:  EQSScore(title, body, issueContext),
			Metadata: map[string]any{
				"style": string(style),
				"topic": topic,
			},
		})
	}

	slices.SortStableFunc(variants, func(a, b model.WrittenContent) int {
		return cmp.Compare(b.EQSScore, a.EQSScore)
	})

	w.events.Record(ctx, model.LevelInfo, "writer_complete", map[string]any{
		"variants":  len(variants),
		"top_score": variants[0].EQSScore,
	})
	return variants, nil
}

// Body renders the issue body for style.
func Body(style Style, topic string, issueContext map[string]any) string {
	var b strings.Builder
	switch style {
	case StyleConcise:
		fmt.Fprintf(&b, "Goal: %s\n\n", topic)
		fmt.Fprintf(&b, "Problem: %s\n\n", lookup(issueContext, "problem", "Not yet described"))
		b.WriteString("Tasks:\n")
		fmt.Fprintf(&b, "- [ ] Implement %s\n", topic)
		b.WriteString("- [ ] Add tests\n")
	case StyleTechnical:
		b.WriteString("## Technical Specification\n\n")
		fmt.Fprintf(&b, "Scope: %s\n\n", lookup(issueContext, "scope", "To be determined"))
		fmt.Fprintf(&b, "Subject: %s\n\n", topic)
		b.WriteString("Requirements:\n")
		b.WriteString("1. Define the interface and data model\n")
		b.WriteString("2. Implement the change behind existing APIs\n")
		b.WriteString("3. Cover the change with unit and integration tests\n")
	default:
		fmt.Fprintf(&b, "## Overview\n%s\n\n", topic)
		fmt.Fprintf(&b, "## Problem\n%s\n\n", lookup(issueContext, "problem", "The current behavior needs improvement."))
		fmt.Fprintf(&b, "## Proposed Solution\n%s\n\n", lookup(issueContext, "solution", "Implement the change described above."))
		b.WriteString("## Acceptance Criteria\n")
		b.WriteString("- [ ] Implementation complete\n")
		b.WriteString("- [ ] Tests added\n")
		b.WriteString("- [ ] Documentation updated\n")
	}
	return b.String()
}

// SuggestLabels derives labels from keywords in topic and from an
// "automation" context key. It never returns an empty list.
func SuggestLabels(topic string, issueContext map[string]any) []string {
	t := strings.ToLower(topic)
	var labels []string
	if containsAny(t, "feat", "add", "implement") {
		labels = append(labels, "enhancement")
	}
	if containsAny(t, "fix", "bug", "broken", "error") {
		labels = append(labels, "bug")
	}
	if strings.Contains(t, "test") {
		labels = append(labels, "testing")
	}
	if strings.Contains(t, "doc") {
		labels = append(labels, "documentation")
	}
	if _, ok := issueContext["automation"]; ok || strings.Contains(t, "automat") {
		labels = append(labels, "automation")
	}
	if len(labels) == 0 {
		labels = append(labels, "enhancement")
	}
	return labels
}

// EQSScore rates a draft:
//
//   - Base: 0.4
//   - Markdown headers: +0.15
//   - Checklist: +0.1
//   - Body longer than 100 characters: +0.1
//   - Title of 10 to 100 characters: +0.1
//   - Research patterns in context: +0.15
func EQSScore(title, body string, issueContext map[string]any) float64 {
	score := 0.4
	if strings.Contains(body, "##") {
		score += 0.15
	}
	if strings.Contains(body, "- [ ]") || strings.Contains(body, "- [x]") {
		score += 0.1
	}
	if utf8.RuneCountInString(body) > 100 {
		score += 0.1
	}
	if n := utf8.RuneCountInString(title); n >= 10 && n <= 100 {
		score += 0.1
	}
	if hasPatterns(issueContext) {
		score += 0.15
	}
	return model.Clamp01(score)
}

// GeneratePRDescription drafts a pull request body that closes issueNumber.
func (w *Writer) GeneratePRDescription(ctx context.Context, issueNumber int, changes []string, prContext map[string]any) string {
	w.events.Record(ctx, model.LevelInfo, "writer_pr_description", map[string]any{
		"issue":   issueNumber,
		"changes": len(changes),
	})

	var b strings.Builder
	fmt.Fprintf(&b, "## Summary\n\nFixes #%d\n\n", issueNumber)
	b.WriteString("## Changes\n")
	for _, c := range changes {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	fmt.Fprintf(&b, "\n## Testing\n%s\n\n", lookup(prContext, "testing", "Unit tests added and passing"))
	b.WriteString("## Checklist\n")
	b.WriteString("- [x] Code follows project conventions\n")
	b.WriteString("- [x] Tests added or updated\n")
	b.WriteString("- [ ] Documentation updated\n")
	return b.String()
}

func variantTitle(style Style, topic string) string {
	switch style {
	case StyleConcise:
		return topic
	case StyleTechnical:
		return "Technical: " + topic
	default:
		return "Feature request: " + topic
	}
}

func lookup(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return fallback
		}
		return s
	}
	return fmt.Sprint(v)
}

func hasPatterns(m map[string]any) bool {
	switch p := m["patterns"].(type) {
	case []string:
		return len(p) > 0
	case []any:
		return len(p) > 0
	default:
		return false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
