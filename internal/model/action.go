package model

import (
	"fmt"
	"time"
)

// ActionKind identifies what an IntegrationAction does to the issue tracker.
type ActionKind string

const (
	ActionCreate  ActionKind = "create"
	ActionUpdate  ActionKind = "update"
	ActionClose   ActionKind = "close"
	ActionComment ActionKind = "comment"
	ActionLabel   ActionKind = "label"
)

// TargetKind identifies the kind of tracker object an action applies to.
type TargetKind string

const (
	TargetIssue TargetKind = "issue"
	TargetPR    TargetKind = "pr"
)

// ParseTargetKind maps a wire string to a TargetKind. Empty means issue.
func ParseTargetKind(s string) (TargetKind, error) {
	switch TargetKind(s) {
	case "", TargetIssue:
		return TargetIssue, nil
	case TargetPR:
		return TargetPR, nil
	default:
		return "", fmt.Errorf("invalid target type %q", s)
	}
}

// ActionStatus tracks dispatch progress. pending -> completed.
type ActionStatus string

const (
	ActionPending   ActionStatus = "pending"
	ActionCompleted ActionStatus = "completed"
)

// IntegrationAction is a queued, not-yet-dispatched mutation of issue tracker
// state. Status is mutated in place by the integrator.
type IntegrationAction struct {
	ID         string         `json:"id"`
	Kind       ActionKind     `json:"action_type"`
	TargetKind TargetKind     `json:"target_type"`
	TargetID   *int           `json:"target_id,omitempty"`
	Payload    map[string]any `json:"payload"`
	Status     ActionStatus   `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}
