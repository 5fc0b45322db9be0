package model

// IssueRef identifies an issue or pull request parsed from a URL.
type IssueRef struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// BotCommandResult is the response to a /aksi command.
type BotCommandResult struct {
	Command      string             `json:"command"`
	Known        bool               `json:"known"`
	Response     string             `json:"response"`
	QueuedAction *IntegrationAction `json:"queued_action,omitempty"`
}

// BotSolveResult is the response to a /solve command.
type BotSolveResult struct {
	Issue        IssueRef          `json:"issue"`
	Branch       string            `json:"branch"`
	Comment      string            `json:"comment"`
	QueuedAction IntegrationAction `json:"queued_action"`
	TaskID       string            `json:"task_id"`
}

// BotTriageResult is the outcome of triaging a new issue.
type BotTriageResult struct {
	Labels        []string           `json:"labels"`
	LabelAction   *IntegrationAction `json:"label_action,omitempty"`
	CommentAction IntegrationAction  `json:"comment_action"`
}
