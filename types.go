package aksi

import "time"

// Role is a bearer token's role.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleReader Role = "reader"
)

// Decision is the public representation of an autonomy decision.
// No internal package imports; safe to use from outside the module.
type Decision struct {
	ID         string
	Kind       string
	Confidence float64
	Reasoning  []string
	Actions    []string
	CreatedAt  time.Time
}

// Task is the public view of a background analyze-and-act task.
// Result is omitted; poll GET /v1/tasks/{id} for it.
type Task struct {
	ID          string
	Status      string // running | completed | failed
	Repository  string
	Action      string // analyze | create | update
	IssueNumber *int
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// Action is a queued issue tracker mutation.
type Action struct {
	ID         string
	Kind       string // create | update | close | comment | label
	TargetKind string // issue | pr
	TargetID   *int
	Payload    map[string]any
	CreatedAt  time.Time
}
