// Package integrator queues mutations of issue tracker state (create, update,
// close, comment, label) for later dispatch, and provides the text and label
// helpers that go with them.
//
// Queued actions start pending. A Dispatcher drains them to a Sink and marks
// them completed; completed actions are removed by ClearCompleted.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
)

// ErrActionNotFound is returned when an action id is not in the queue.
var ErrActionNotFound = errors.New("integrator: action not found")

// Metric is one line of a progress comment. Order is preserved.
type Metric struct {
	Key   string
	Value any
}

// Integrator owns the action queue. It is safe for concurrent use.
type Integrator struct {
	events eventlog.Recorder
	now    func() time.Time

	mu    sync.Mutex
	queue []*model.IntegrationAction
}

// New creates an Integrator. A nil recorder is replaced with eventlog.Nop.
func New(events eventlog.Recorder) *Integrator {
	if events == nil {
		events = eventlog.Nop{}
	}
	return &Integrator{events: events, now: time.Now}
}

// CreateIssue queues a new issue.
func (in *Integrator) CreateIssue(ctx context.Context, repository, title, body string, labels, assignees []string) model.IntegrationAction {
	in.events.Record(ctx, model.LevelInfo, "integrator_create_issue", map[string]any{
		"repo":  repository,
		"title": title,
	})
	return in.enqueue(model.ActionCreate, model.TargetIssue, nil, map[string]any{
		"repository": repository,
		"title":      title,
		"body":       body,
		"labels":     orEmpty(labels),
		"assignees":  orEmpty(assignees),
	})
}

// UpdateIssue queues field updates to an existing issue. The updates are
// merged into the payload next to the repository.
func (in *Integrator) UpdateIssue(ctx context.Context, repository string, issueNumber int, updates map[string]any) model.IntegrationAction {
	keys := make([]string, 0, len(updates))
	payload := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		keys = append(keys, k)
		payload[k] = v
	}
	slices.Sort(keys)
	payload["repository"] = repository

	in.events.Record(ctx, model.LevelInfo, "integrator_update_issue", map[string]any{
		"repo":    repository,
		"issue":   issueNumber,
		"updates": keys,
	})
	return in.enqueue(model.ActionUpdate, model.TargetIssue, &issueNumber, payload)
}

// CloseIssue queues closing an issue. An empty reason means "completed".
func (in *Integrator) CloseIssue(ctx context.Context, repository string, issueNumber int, reason string) model.IntegrationAction {
	if reason == "" {
		reason = "completed"
	}
	in.events.Record(ctx, model.LevelInfo, "integrator_close_issue", map[string]any{
		"repo":   repository,
		"issue":  issueNumber,
		"reason": reason,
	})
	return in.enqueue(model.ActionClose, model.TargetIssue, &issueNumber, map[string]any{
		"repository": repository,
		"reason":     reason,
		"state":      "closed",
	})
}

// AddComment queues a comment on an issue or pull request.
func (in *Integrator) AddComment(ctx context.Context, repository string, number int, body string, target model.TargetKind) model.IntegrationAction {
	if target == "" {
		target = model.TargetIssue
	}
	in.events.Record(ctx, model.LevelInfo, "integrator_add_comment", map[string]any{
		"repo":   repository,
		"target": number,
		"type":   string(target),
	})
	return in.enqueue(model.ActionComment, target, &number, map[string]any{
		"repository": repository,
		"body":       body,
	})
}

// UpdateLabels queues a label change. With replace set the labels replace
// the current set; otherwise they are added to it.
func (in *Integrator) UpdateLabels(ctx context.Context, repository string, issueNumber int, labels []string, replace bool) model.IntegrationAction {
	in.events.Record(ctx, model.LevelInfo, "integrator_update_labels", map[string]any{
		"repo":    repository,
		"issue":   issueNumber,
		"labels":  labels,
		"replace": replace,
	})
	return in.enqueue(model.ActionLabel, model.TargetIssue, &issueNumber, map[string]any{
		"repository": repository,
		"labels":     orEmpty(labels),
		"replace":    replace,
	})
}

func (in *Integrator) enqueue(kind model.ActionKind, target model.TargetKind, targetID *int, payload map[string]any) model.IntegrationAction {
	a := &model.IntegrationAction{
		ID:         uuid.New().String(),
		Kind:       kind,
		TargetKind: target,
		TargetID:   targetID,
		Payload:    payload,
		Status:     model.ActionPending,
		CreatedAt:  in.now().UTC(),
	}
	in.mu.Lock()
	in.queue = append(in.queue, a)
	out := snapshot(a)
	in.mu.Unlock()
	return out
}

// snapshot copies a queued action. The payload map and target id are cloned
// so callers cannot change the queue through the copy. Callers hold in.mu.
func snapshot(a *model.IntegrationAction) model.IntegrationAction {
	out := *a
	out.Payload = maps.Clone(a.Payload)
	if a.TargetID != nil {
		id := *a.TargetID
		out.TargetID = &id
	}
	return out
}

// Pending returns queued actions that have not been dispatched, oldest first.
func (in *Integrator) Pending() []model.IntegrationAction {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]model.IntegrationAction, 0, len(in.queue))
	for _, a := range in.queue {
		if a.Status == model.ActionPending {
			out = append(out, snapshot(a))
		}
	}
	return out
}

// Get returns the queued action with id.
func (in *Integrator) Get(id string) (model.IntegrationAction, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, a := range in.queue {
		if a.ID == id {
			return snapshot(a), nil
		}
	}
	return model.IntegrationAction{}, ErrActionNotFound
}

// MarkCompleted transitions an action to completed. Completing an already
// completed action is a no-op.
func (in *Integrator) MarkCompleted(ctx context.Context, id string) (model.IntegrationAction, error) {
	in.mu.Lock()
	var (
		done  model.IntegrationAction
		found bool
	)
	for _, a := range in.queue {
		if a.ID == id {
			a.Status = model.ActionCompleted
			done, found = snapshot(a), true
			break
		}
	}
	in.mu.Unlock()

	if !found {
		return model.IntegrationAction{}, ErrActionNotFound
	}
	in.events.Record(ctx, model.LevelInfo, "integrator_action_completed", map[string]any{
		"action": string(done.Kind),
		"target": done.TargetID,
	})
	return done, nil
}

// ClearCompleted drops completed actions from the queue and returns how many
// were removed.
func (in *Integrator) ClearCompleted() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	before := len(in.queue)
	in.queue = slices.DeleteFunc(in.queue, func(a *model.IntegrationAction) bool {
		return a.Status == model.ActionCompleted
	})
	return before - len(in.queue)
}

// Len returns the number of queued actions in any state.
func (in *Integrator) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.queue)
}

// Reset empties the queue.
func (in *Integrator) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.queue = nil
}

// GenerateProgressComment renders the standard progress update posted on
// issues. The timestamp is local time.
func (in *Integrator) GenerateProgressComment(status string, metrics []Metric) string {
	var b strings.Builder
	b.WriteString("## 🤖 AKSI Auto-Update\n\n")
	fmt.Fprintf(&b, "**Status:** %s\n", status)
	fmt.Fprintf(&b, "**Updated:** %s\n\n", in.now().Format(time.DateTime))
	b.WriteString("### Metrics\n")
	for _, m := range metrics {
		fmt.Fprintf(&b, "- **%s:** %v\n", m.Key, m.Value)
	}
	b.WriteString("\n---\n*This comment was automatically generated by AKSI*")
	return b.String()
}

// CheckAutoClose reports whether an open issue is resolved by a merged pull
// request that references it.
func CheckAutoClose(issue model.TrackerIssue, prs []model.TrackerPR) bool {
	if issue.State == "closed" {
		return false
	}
	ref := fmt.Sprintf("#%d", issue.Number)
	fixes := "fixes " + ref
	for _, pr := range prs {
		if pr.State != "merged" {
			continue
		}
		if strings.Contains(pr.Body, ref) || strings.Contains(strings.ToLower(pr.Body), fixes) {
			return true
		}
	}
	return false
}

var labelKeywords = []struct {
	label    string
	keywords []string
}{
	{"enhancement", []string{"feat", "feature", "add", "implement"}},
	{"bug", []string{"bug", "fix", "error", "broken"}},
	{"documentation", []string{"doc", "documentation", "readme"}},
	{"testing", []string{"test", "testing", "coverage"}},
	{"priority", []string{"urgent", "critical", "important"}},
	{"automation", []string{"automat", "ci", "cd", "pipeline"}},
}

// SuggestLabels returns existing plus any labels whose keywords occur as
// substrings of the lower-cased title and body. The result is sorted and
// free of duplicates.
func SuggestLabels(title, body string, existing []string) []string {
	text := strings.ToLower(title + " " + body)
	set := make(map[string]struct{}, len(existing)+len(labelKeywords))
	for _, l := range existing {
		set[l] = struct{}{}
	}
	for _, lk := range labelKeywords {
		for _, kw := range lk.keywords {
			if strings.Contains(text, kw) {
				set[lk.label] = struct{}{}
				break
			}
		}
	}
	out := make([]string, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
