// Package quality provides rule-based validation and scoring of issue and
// pull request drafts. Scores (0.0-1.0) start at 1.0 and are reduced by each
// error and warning, so a draft's score reflects how much rework it needs.
package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

// Thresholds a draft's score must meet, in addition to having no errors.
const (
	IssueThreshold = 0.5
	PRThreshold    = 0.6
)

// Rule limits.
const (
	minTitleLen      = 10
	maxTitleLen      = 200
	minIssueBodyLen  = 30
	minPRBodyLen     = 50
	maxFilesChanged  = 50
	duplicateCutoff  = 0.7
	errorPenalty     = 0.2
	warningPenalty   = 0.05
	longBodyBonus    = 0.1
	longBodyMinRunes = 100
)

// Diagnostic messages.
const (
	MsgTitleTooShort     = "Title too short (minimum 10 characters)"
	MsgTitleTooLong      = "Title is very long (consider shortening)"
	MsgBodyTooShort      = "Description too short (minimum 30 characters)"
	MsgNoLabels          = "No labels specified - consider adding labels"
	MsgTestingChecklist  = "Consider adding testing checklist"
	MsgMarkdownHeaders   = "Use markdown headers for better structure"
	MsgPRTitleFormat     = "PR title doesn't follow conventional format (e.g., 'feat:', 'fix:')"
	MsgPRBodyTooShort    = "PR description too short"
	MsgPRNoIssueRef      = "PR doesn't reference an issue"
	MsgPRNoFiles         = "No files changed in PR"
	MsgPRTooManyFiles    = "PR changes many files - consider splitting"
	MsgPRAddTests        = "Consider adding tests for code changes"
	MsgUnclosedCodeBlock = "Unclosed code block detected"
	MsgUnclosedBold      = "Unclosed bold marker (**)"
)

var (
	linkPattern         = regexp.MustCompile(`\[([^\]]+)\]\(([^)]*)\)`)
	conventionalPattern = regexp.MustCompile(`(?i)^(feat|fix|docs|test|refactor|chore|style|perf):`)
	codeExtensions      = []string{".py", ".js", ".ts", ".go"}
)

// Validator scores drafts against a fixed rule set. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	events eventlog.Recorder
}

// New creates a Validator. A nil recorder is replaced with eventlog.Nop.
func New(events eventlog.Recorder) *Validator {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Validator{events: events}
}

// ValidateIssue validates an issue draft. existing may be nil; when present,
// the first existing issue whose title is similar enough is reported as a
// possible duplicate.
func (v *Validator) ValidateIssue(ctx context.Context, title, body string, labels []string, existing []model.ExistingIssue) model.ValidationResult {
	v.events.Record(ctx, model.LevelInfo, "validator_issue", map[string]any{"title": title})

	var errs, warnings, suggestions []string

	titleLen := utf8.RuneCountInString(title)
	if titleLen < minTitleLen {
		errs = append(errs, MsgTitleTooShort)
	}
	if titleLen > maxTitleLen {
		warnings = append(warnings, MsgTitleTooLong)
	}

	bodyLen := utf8.RuneCountInString(body)
	if bodyLen < minIssueBodyLen {
		errs = append(errs, MsgBodyTooShort)
	}

	errs = append(errs, MarkdownDefects(body)...)

	if len(existing) > 0 {
		if number, ok := FindDuplicate(title, existing); ok {
			warnings = append(warnings, fmt.Sprintf("Possible duplicate of issue #%d", number))
		}
	}

	if len(labels) == 0 {
		warnings = append(warnings, MsgNoLabels)
	}

	if !strings.Contains(strings.ToLower(body), "test") && !contains(labels, "bug") {
		suggestions = append(suggestions, MsgTestingChecklist)
	}
	if !strings.Contains(body, "##") {
		suggestions = append(suggestions, MsgMarkdownHeaders)
	}

	result := newResult(errs, warnings, suggestions, bodyLen, IssueThreshold)
	v.events.Record(ctx, model.LevelInfo, "validator_issue_complete", map[string]any{
		"valid": result.IsValid,
		"score": result.Score,
	})
	return result
}

// ValidatePR validates a pull request draft. targetBranch is accepted for
// callers that track it but no rule depends on it.
func (v *Validator) ValidatePR(ctx context.Context, title, body string, filesChanged []string, targetBranch string) model.ValidationResult {
	if targetBranch == "" {
		targetBranch = "main"
	}
	v.events.Record(ctx, model.LevelInfo, "validator_pr", map[string]any{
		"title":         title,
		"files":         len(filesChanged),
		"target_branch": targetBranch,
	})

	var errs, warnings, suggestions []string

	if !conventionalPattern.MatchString(title) {
		warnings = append(warnings, MsgPRTitleFormat)
	}

	bodyLen := utf8.RuneCountInString(body)
	if bodyLen < minPRBodyLen {
		errs = append(errs, MsgPRBodyTooShort)
	}

	lowerBody := strings.ToLower(body)
	if !strings.Contains(lowerBody, "fixes #") && !strings.Contains(lowerBody, "closes #") {
		warnings = append(warnings, MsgPRNoIssueRef)
	}

	if len(filesChanged) == 0 {
		errs = append(errs, MsgPRNoFiles)
	}
	if len(filesChanged) > maxFilesChanged {
		warnings = append(warnings, MsgPRTooManyFiles)
	}

	hasTests, hasCode := false, false
	for _, f := range filesChanged {
		if strings.Contains(strings.ToLower(f), "test") {
			hasTests = true
		}
		if isCodeFile(f) {
			hasCode = true
		}
	}
	if hasCode && !hasTests {
		suggestions = append(suggestions, MsgPRAddTests)
	}

	errs = append(errs, MarkdownDefects(body)...)

	result := newResult(errs, warnings, suggestions, bodyLen, PRThreshold)
	v.events.Record(ctx, model.LevelInfo, "validator_pr_complete", map[string]any{
		"valid": result.IsValid,
		"score": result.Score,
	})
	return result
}

// MarkdownDefects runs independent substring and regex scans over text.
// It is not a markdown parser: a fenced block containing a literal "**"
// is reported as an unclosed bold marker.
func MarkdownDefects(text string) []string {
	var errs []string

	if strings.Count(text, "```")%2 != 0 {
		errs = append(errs, MsgUnclosedCodeBlock)
	}

	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		if m[2] == "" {
			errs = append(errs, fmt.Sprintf("Empty URL in link: [%s]()", m[1]))
		}
	}

	if strings.Count(text, "**")%2 != 0 {
		errs = append(errs, MsgUnclosedBold)
	}

	return errs
}

// FindDuplicate returns the number of the first existing issue whose title
// has a word-set similarity above the duplicate cutoff. Iteration order
// decides; the best match is not searched for.
func FindDuplicate(title string, existing []model.ExistingIssue) (int, bool) {
	lowered := strings.ToLower(title)
	for _, issue := range existing {
		if Similarity(lowered, strings.ToLower(issue.Title)) > duplicateCutoff {
			return issue.Number, true
		}
	}
	return 0, false
}

// Similarity is the Jaccard index of the whitespace-separated word sets of a
// and b. It is 0 when either set is empty.
func Similarity(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	intersection := 0
	for w := range wordsA {
		if _, ok := wordsB[w]; ok {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

// Score computes a draft score from diagnostic counts and body length.
//
//   - Start: 1.0
//   - Each error: -0.2
//   - Each warning: -0.05
//   - Body longer than 100 characters: +0.1
//
// The result is clamped to [0,1].
func Score(errorCount, warningCount, bodyLen int) float64 {
	score := 1.0
	score -= float64(errorCount) * errorPenalty
	score -= float64(warningCount) * warningPenalty
	if bodyLen > longBodyMinRunes {
		score += longBodyBonus
	}
	return model.Clamp01(score)
}

func newResult(errs, warnings, suggestions []string, bodyLen int, threshold float64) model.ValidationResult {
	score := Score(len(errs), len(warnings), bodyLen)
	return model.ValidationResult{
		IsValid:     len(errs) == 0 && score >= threshold,
		Errors:      nonNil(errs),
		Warnings:    nonNil(warnings),
		Suggestions: nonNil(suggestions),
		Score:       score,
	}
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func isCodeFile(path string) bool {
	for _, ext := range codeExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
