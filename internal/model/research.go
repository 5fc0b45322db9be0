package model

// ExistingIssue is the minimal view of an issue used for duplicate detection.
type ExistingIssue struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title" yaml:"title"`
}

// SimilarIssue is an issue surfaced by repository research.
type SimilarIssue struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	BodySnippet string   `json:"body_snippet"`
}

// SimilarPR is a pull request surfaced by repository research.
type SimilarPR struct {
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	State       string   `json:"state"`
	Labels      []string `json:"labels"`
	BodySnippet string   `json:"body_snippet"`
}

// ResearchResult is the research collaborator's view of a repository.
type ResearchResult struct {
	Repository      string         `json:"repository"`
	SimilarIssues   []SimilarIssue `json:"similar_issues"`
	SimilarPRs      []SimilarPR    `json:"similar_prs"`
	Patterns        []string       `json:"patterns"`
	Recommendations []string       `json:"recommendations"`
	Metadata        map[string]any `json:"metadata"`
}

// RepositoryRecord is a repository surfaced by similarity search.
type RepositoryRecord struct {
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Stars       int      `json:"stars"`
	Description string   `json:"description"`
	Topics      []string `json:"topics"`
}

// TrackerIssue is an issue as seen by auto-close checks.
type TrackerIssue struct {
	Number int    `json:"number"`
	State  string `json:"state"`
}

// TrackerPR is a pull request as seen by auto-close checks.
type TrackerPR struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Body   string `json:"body"`
}
