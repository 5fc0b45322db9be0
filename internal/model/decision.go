package model

import "time"

// Decision is the outcome of one autonomy evaluation. It is immutable once
// returned; outcomes are recorded against its ID, never by mutating it.
type Decision struct {
	ID         string    `json:"decision_id"`
	Kind       string    `json:"decision_type"`
	Confidence float64   `json:"confidence"`
	Reasoning  []string  `json:"reasoning"`
	Actions    []string  `json:"actions"`
	CreatedAt  time.Time `json:"timestamp"`
}

// CausalityChain is a heuristic root-cause explanation. Immutable.
type CausalityChain struct {
	RootCause           string   `json:"root_cause"`
	ContributingFactors []string `json:"contributing_factors"`
	ExpectedOutcomes    []string `json:"expected_outcomes"`
	Confidence          float64  `json:"confidence"`
}

// PerformanceMetrics is a snapshot of the autonomy engine's counters.
type PerformanceMetrics struct {
	DecisionsMade     int     `json:"decisions_made"`
	SuccessfulActions int     `json:"successful_actions"`
	FailedActions     int     `json:"failed_actions"`
	AvgConfidence     float64 `json:"avg_confidence"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
