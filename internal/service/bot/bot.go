// Package bot answers the chat-style commands posted on issues: /aksi
// status|help|version, /solve <issue-url>, and automatic triage of new
// issues. Responses are queued as integrator actions; nothing is posted to
// the issue tracker directly.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/orchestrator"
)

// ErrInvalidURL is returned when an issue URL cannot be parsed.
var ErrInvalidURL = errors.New("bot: invalid issue URL")

var issueURLPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/(?:issues|pull)/(\d+)`)

// ParseIssueURL extracts owner, repository and number from a GitHub issue or
// pull request URL. Trailing path segments and query strings are ignored.
func ParseIssueURL(url string) (model.IssueRef, error) {
	m := issueURLPattern.FindStringSubmatch(url)
	if m == nil {
		return model.IssueRef{}, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return model.IssueRef{}, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}
	return model.IssueRef{Owner: m[1], Repo: m[2], Number: n}, nil
}

// Submitter schedules background analyze-and-act tasks.
type Submitter interface {
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
}

// Config identifies the repository the bot serves and the version it reports.
type Config struct {
	Repository string
	Version    string
}

// Bot is safe for concurrent use.
type Bot struct {
	integrator *integrator.Integrator
	tasks      Submitter
	events     eventlog.Recorder
	cfg        Config
	now        func() time.Time
}

// New creates a Bot.
func New(in *integrator.Integrator, tasks Submitter, events eventlog.Recorder, cfg Config) *Bot {
	if events == nil {
		events = eventlog.Nop{}
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Bot{
		integrator: in,
		tasks:      tasks,
		events:     events,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// HandleCommand answers a /aksi command. When issueNumber is set the
// response is queued as a comment on that issue.
func (b *Bot) HandleCommand(ctx context.Context, command string, issueNumber *int) model.BotCommandResult {
	command = strings.TrimSpace(command)
	res := model.BotCommandResult{Command: command, Known: true}
	switch command {
	case "status":
		res.Response = b.statusText()
	case "help":
		res.Response = helpText
	case "version":
		res.Response = b.versionText()
	default:
		res.Known = false
		res.Response = fmt.Sprintf("❌ Unknown command: `%s`\n\nUse `/aksi help` to see available commands.", command)
	}

	if issueNumber != nil && *issueNumber > 0 {
		a := b.integrator.AddComment(ctx, b.cfg.Repository, *issueNumber, res.Response, model.TargetIssue)
		res.QueuedAction = &a
	}
	b.events.Record(ctx, model.LevelInfo, "bot_command", map[string]any{
		"command":      command,
		"known":        res.Known,
		"issue_number": issueNumber,
	})
	return res
}

// Solve acknowledges a /solve request on the target issue and schedules an
// analysis of its repository.
func (b *Bot) Solve(ctx context.Context, issueURL string) (model.BotSolveResult, error) {
	ref, err := ParseIssueURL(issueURL)
	if err != nil {
		return model.BotSolveResult{}, err
	}
	repo := ref.Owner + "/" + ref.Repo
	branch := fmt.Sprintf("aksi/solve-issue-%d", ref.Number)
	comment := fmt.Sprintf("🤖 **AKSI Bot is on it!**\n\n"+
		"I'm analyzing this issue and will prepare a solution.\n\n"+
		"Branch: `%s`\n"+
		"Repository: %s\n\n"+
		"*Stay tuned for updates...*\n", branch, b.cfg.Repository)

	action := b.integrator.AddComment(ctx, repo, ref.Number, comment, model.TargetIssue)
	res := model.BotSolveResult{
		Issue:        ref,
		Branch:       branch,
		Comment:      comment,
		QueuedAction: action,
	}
	if b.tasks != nil {
		n := ref.Number
		id, err := b.tasks.Submit(ctx, orchestrator.Request{
			Repository:  repo,
			IssueNumber: &n,
			Action:      model.TaskAnalyze,
		})
		if err != nil {
			return model.BotSolveResult{}, fmt.Errorf("bot: submit analysis: %w", err)
		}
		res.TaskID = id
	}

	b.events.Record(ctx, model.LevelInfo, "bot_solve", map[string]any{
		"issue_url":    issueURL,
		"issue_number": ref.Number,
		"branch":       branch,
		"task_id":      res.TaskID,
	})
	return res, nil
}

var triageRules = []struct {
	label    string
	keywords []string
}{
	{"bug", []string{"bug", "error", "crash", "fail", "broken", "issue"}},
	{"enhancement", []string{"feature", "enhancement", "add", "implement", "support"}},
	{"documentation", []string{"documentation", "docs", "readme", "guide", "tutorial"}},
	{"question", []string{"question", "how to", "help", "?", "asking"}},
	{"priority: high", []string{"urgent", "critical", "asap", "important", "priority"}},
}

// TriageLabels returns the labels whose keywords appear in the title or
// body, in rule order. Matching is by case-insensitive substring.
func TriageLabels(title, body string) []string {
	text := strings.ToLower(title + " " + body)
	labels := []string{}
	for _, r := range triageRules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				labels = append(labels, r.label)
				break
			}
		}
	}
	return labels
}

// WelcomeComment is queued on every triaged issue.
const WelcomeComment = "👋 Thank you for opening this issue!\n\n" +
	"The AKSI bot has automatically triaged this issue. A maintainer will review it soon.\n\n" +
	"**Available commands:**\n" +
	"- `/aksi help` - Get help on using AKSI bot\n" +
	"- `/aksi status` - Check bot status\n" +
	"- `/solve <issue_url>` - Request automated solution\n"

// Triage queues labels for a new issue (when any keyword matches) and a
// welcome comment.
func (b *Bot) Triage(ctx context.Context, repository string, issueNumber int, title, body string) model.BotTriageResult {
	res := model.BotTriageResult{Labels: TriageLabels(title, body)}
	if len(res.Labels) > 0 {
		a := b.integrator.UpdateLabels(ctx, repository, issueNumber, res.Labels, false)
		res.LabelAction = &a
	}
	res.CommentAction = b.integrator.AddComment(ctx, repository, issueNumber, WelcomeComment, model.TargetIssue)

	b.events.Record(ctx, model.LevelInfo, "bot_triage", map[string]any{
		"repository":   repository,
		"issue_number": issueNumber,
		"labels":       res.Labels,
	})
	return res
}

func (b *Bot) statusText() string {
	return fmt.Sprintf("🤖 **AKSI Bot Status**\n\n"+
		"✅ Operational and ready to assist!\n\n"+
		"**Capabilities:**\n"+
		"- `/solve <issue_url>` - Analyze and solve issues\n"+
		"- `/aksi status` - Check bot status\n"+
		"- `/aksi help` - Show help\n"+
		"- `/aksi version` - Show version\n\n"+
		"**Repository:** %s\n"+
		"**Last updated:** %s\n", b.cfg.Repository, b.now().Format("2006-01-02 15:04:05 UTC"))
}

func (b *Bot) versionText() string {
	return fmt.Sprintf("🤖 **AKSI Bot Version**\n\n"+
		"**Version:** %s\n"+
		"**Repository:** %s\n\n"+
		"**Features:**\n"+
		"- Automated issue solving\n"+
		"- Command-based interaction\n"+
		"- Issue triage\n", b.cfg.Version, b.cfg.Repository)
}

const helpText = "🤖 **AKSI Bot Help**\n\n" +
	"**Available Commands:**\n\n" +
	"1. **Solve an issue:**\n" +
	"   ```\n   /solve https://github.com/owner/repo/issues/123\n   ```\n" +
	"   The bot will analyze the issue and create a solution branch.\n\n" +
	"2. **Check status:**\n" +
	"   ```\n   /aksi status\n   ```\n" +
	"   Shows current bot status and capabilities.\n\n" +
	"3. **Get help:**\n" +
	"   ```\n   /aksi help\n   ```\n" +
	"   Shows this help message.\n\n" +
	"4. **Check version:**\n" +
	"   ```\n   /aksi version\n   ```\n" +
	"   Shows the bot version.\n\n" +
	"**Usage:**\n" +
	"- Comment on any issue or PR with a command\n" +
	"- The bot will respond automatically\n" +
	"- For `/solve`, provide a valid GitHub issue URL\n"
