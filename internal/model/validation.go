package model

// ValidationResult is the outcome of validating an issue or PR draft.
// Errors invalidate, warnings lower the score, suggestions are advisory.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Score       float64  `json:"score"`
}
