// Package autonomy scores proposed actions and tracks the engine's own
// decision history and outcome counters.
//
// Confidence is a heuristic in [0,1] built from which context is present and
// from the historical success rate. Two gates exist: the orchestrator compares
// each decision's confidence against its threshold, while ShouldAct compares
// the running average confidence across all decisions.
package autonomy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/telemetry"
)

// DefaultThreshold is the ShouldAct gate used when callers have no preference.
const DefaultThreshold = 0.6

const defaultHistorySize = 1000

// Engine is safe for concurrent use. One mutex guards history and metrics so
// that an evaluation reads and updates them atomically.
type Engine struct {
	events eventlog.Recorder

	mu      sync.Mutex
	history []model.Decision
	head    int
	size    int
	metrics model.PerformanceMetrics

	confidence metric.Float64Histogram
	now        func() time.Time
}

// New creates an Engine retaining up to historySize decisions. Older
// decisions are evicted once the ring is full; counters are unaffected.
func New(events eventlog.Recorder, historySize int) *Engine {
	if events == nil {
		events = eventlog.Nop{}
	}
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	e := &Engine{
		events:  events,
		history: make([]model.Decision, historySize),
		now:     time.Now,
	}
	e.confidence, _ = telemetry.Meter("aksi/autonomy").Float64Histogram("aksi.autonomy.decision_confidence",
		metric.WithDescription("Confidence assigned to evaluated decisions"),
	)
	return e
}

// Evaluate scores proposedAction. Context keys "issue" and "research" and a
// non-empty alternative list each raise confidence, as does a historical
// success rate above 0.7 measured before this call.
func (e *Engine) Evaluate(ctx context.Context, decisionContext map[string]any, proposedAction string, alternatives []string) model.Decision {
	e.events.Record(ctx, model.LevelInfo, "autonomy_evaluate", map[string]any{
		"action":       proposedAction,
		"alternatives": len(alternatives),
	})

	reasoning := []string{}
	confidence := 0.5

	if _, ok := decisionContext["issue"]; ok {
		reasoning = append(reasoning, "Issue context provided")
		confidence += 0.1
	}
	if _, ok := decisionContext["research"]; ok {
		reasoning = append(reasoning, "Research data available")
		confidence += 0.15
	}
	if len(alternatives) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("Considered %d alternatives", len(alternatives)))
		confidence += 0.1
	} else {
		reasoning = append(reasoning, "No alternatives considered")
	}

	e.mu.Lock()
	if e.metrics.DecisionsMade > 0 {
		rate := float64(e.metrics.SuccessfulActions) / float64(max(1, e.metrics.DecisionsMade))
		if rate > 0.7 {
			confidence += 0.15
			reasoning = append(reasoning, "High historical success rate")
		}
	}
	confidence = model.Clamp01(confidence)

	d := model.Decision{
		ID:         "dec_" + uuid.New().String(),
		Kind:       proposedAction,
		Confidence: confidence,
		Reasoning:  reasoning,
		Actions:    []string{},
		CreatedAt:  e.now().UTC(),
	}

	e.push(d)
	e.metrics.DecisionsMade++
	n := float64(e.metrics.DecisionsMade)
	e.metrics.AvgConfidence = (e.metrics.AvgConfidence*(n-1) + confidence) / n
	e.mu.Unlock()

	if e.confidence != nil {
		e.confidence.Record(ctx, confidence)
	}
	return d
}

// Reflect records the outcome of a decision. The id is not checked against
// history: unknown ids still move the counters.
func (e *Engine) Reflect(ctx context.Context, decisionID string, success bool) {
	e.mu.Lock()
	if success {
		e.metrics.SuccessfulActions++
	} else {
		e.metrics.FailedActions++
	}
	rate := e.successRateLocked()
	e.mu.Unlock()

	e.events.Record(ctx, model.LevelInfo, "autonomy_reflect", map[string]any{
		"decision":     decisionID,
		"success":      success,
		"success_rate": rate,
	})
}

// SuccessRate is successful / (successful + failed), or 0 with no outcomes.
func (e *Engine) SuccessRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.successRateLocked()
}

func (e *Engine) successRateLocked() float64 {
	total := e.metrics.SuccessfulActions + e.metrics.FailedActions
	if total == 0 {
		return 0
	}
	return float64(e.metrics.SuccessfulActions) / float64(total)
}

// ShouldAct reports whether the running average confidence meets threshold.
func (e *Engine) ShouldAct(threshold float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.AvgConfidence >= threshold
}

// Metrics returns a snapshot of the counters.
func (e *Engine) Metrics() model.PerformanceMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// History returns up to limit retained decisions, oldest first. A limit of
// zero or less returns all of them.
func (e *Engine) History(limit int) []model.Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Decision, 0, e.size)
	start := (e.head - e.size + len(e.history)) % len(e.history)
	for i := 0; i < e.size; i++ {
		out = append(out, e.history[(start+i)%len(e.history)])
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

// Lookup finds a retained decision by id.
func (e *Engine) Lookup(id string) (model.Decision, bool) {
	for _, d := range e.History(0) {
		if d.ID == id {
			return d, true
		}
	}
	return model.Decision{}, false
}

// Reset clears history and counters.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	clear(e.history)
	e.head, e.size = 0, 0
	e.metrics = model.PerformanceMetrics{}
}

func (e *Engine) push(d model.Decision) {
	e.history[e.head] = d
	e.head = (e.head + 1) % len(e.history)
	if e.size < len(e.history) {
		e.size++
	}
}
