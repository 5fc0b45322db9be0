// Package orchestrator sequences the AKSI pipeline for one repository:
// research, causality analysis, decision evaluation, and, when the decision
// clears the confidence gate, the requested workflow followed by outcome
// reflection.
//
// Each invocation is tracked as a task (running -> completed | failed).
// Workflow errors and collaborator panics mark the task failed; they never
// propagate to the caller.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/konard/MILANA808-Milana-backend/internal/model"
	"github.com/konard/MILANA808-Milana-backend/internal/service/autonomy"
	"github.com/konard/MILANA808-Milana-backend/internal/service/causality"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/integrator"
	"github.com/konard/MILANA808-Milana-backend/internal/service/quality"
	"github.com/konard/MILANA808-Milana-backend/internal/telemetry"
)

// LowConfidenceMessage is the result message when a decision does not clear
// the confidence gate.
const LowConfidenceMessage = "Confidence too low to act"

// NumVariants is how many issue drafts the create workflow requests.
const NumVariants = 3

const defaultRetention = 1000

// Researcher gathers repository patterns and similar issues.
type Researcher interface {
	AnalyzeRepository(ctx context.Context, repository, topic string) (model.ResearchResult, error)
}

// Writer drafts issue variants, sorted by content-quality score descending.
type Writer interface {
	GenerateIssueVariants(ctx context.Context, topic string, issueContext map[string]any, n int) ([]model.WrittenContent, error)
}

// Integrator queues issue tracker mutations.
type Integrator interface {
	CreateIssue(ctx context.Context, repository, title, body string, labels, assignees []string) model.IntegrationAction
	AddComment(ctx context.Context, repository string, number int, body string, target model.TargetKind) model.IntegrationAction
	GenerateProgressComment(status string, metrics []integrator.Metric) string
}

// DecisionStore persists evaluated decisions. Optional.
type DecisionStore interface {
	SaveDecision(ctx context.Context, d model.Decision) error
}

// Deps are the orchestrator's collaborators. Validator, Autonomy and
// Causality are the core engines; the rest may be replaced in tests.
type Deps struct {
	Researcher Researcher
	Writer     Writer
	Integrator Integrator
	Validator  *quality.Validator
	Autonomy   *autonomy.Engine
	Causality  *causality.Engine
	Decisions  DecisionStore
	Events     eventlog.Recorder
	Logger     *slog.Logger
}

// Config tunes the decision gate and task retention.
type Config struct {
	// Threshold is the per-decision confidence required to act.
	Threshold float64
	// TaskRetention bounds the task map. Terminal tasks are evicted oldest
	// first; running tasks are never evicted.
	TaskRetention int
}

// Request describes one analyze-and-act invocation.
type Request struct {
	TaskID      string
	Repository  string
	IssueNumber *int
	Action      model.TaskAction
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	researcher Researcher
	writer     Writer
	integrator Integrator
	validator  *quality.Validator
	autonomy   *autonomy.Engine
	causality  *causality.Engine
	decisions  DecisionStore
	events     eventlog.Recorder
	logger     *slog.Logger

	threshold float64
	retention int

	mu    sync.Mutex
	tasks map[string]*model.Task
	order []string // task ids, oldest first
	stats model.OrchestratorStats

	tracer       trace.Tracer
	taskDuration metric.Float64Histogram
	taskCounter  metric.Int64Counter

	now func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Events == nil {
		deps.Events = eventlog.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = quality.New(deps.Events)
	}
	if deps.Autonomy == nil {
		deps.Autonomy = autonomy.New(deps.Events, 0)
	}
	if deps.Causality == nil {
		deps.Causality = causality.New(deps.Events)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = autonomy.DefaultThreshold
	}
	if cfg.TaskRetention <= 0 {
		cfg.TaskRetention = defaultRetention
	}

	meter := telemetry.Meter("aksi/orchestrator")
	taskDur, _ := meter.Float64Histogram("aksi.orchestrator.task.duration",
		metric.WithDescription("Time to run one analyze-and-act task (ms)"),
		metric.WithUnit("ms"),
	)
	taskCount, _ := meter.Int64Counter("aksi.orchestrator.tasks",
		metric.WithDescription("Analyze-and-act tasks by outcome"),
	)

	return &Orchestrator{
		researcher:   deps.Researcher,
		writer:       deps.Writer,
		integrator:   deps.Integrator,
		validator:    deps.Validator,
		autonomy:     deps.Autonomy,
		causality:    deps.Causality,
		decisions:    deps.Decisions,
		events:       deps.Events,
		logger:       deps.Logger,
		threshold:    cfg.Threshold,
		retention:    cfg.TaskRetention,
		tasks:        make(map[string]*model.Task),
		tracer:       telemetry.Tracer("aksi/orchestrator"),
		taskDuration: taskDur,
		taskCounter:  taskCount,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Autonomy returns the autonomy engine shared with the HTTP and MCP layers.
func (o *Orchestrator) Autonomy() *autonomy.Engine { return o.autonomy }

// Threshold returns the per-decision confidence gate.
func (o *Orchestrator) Threshold() float64 { return o.threshold }

// Begin records req as running and returns its task id, generating one when
// req.TaskID is empty.
func (o *Orchestrator) Begin(req Request) string {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.Action == "" {
		req.Action = model.TaskAnalyze
	}
	started := o.now()
	t := &model.Task{
		ID:          req.TaskID,
		Status:      model.TaskRunning,
		Repository:  req.Repository,
		Action:      req.Action,
		IssueNumber: req.IssueNumber,
		StartedAt:   &started,
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.tasks[t.ID]; !ok {
		o.order = append(o.order, t.ID)
	}
	o.tasks[t.ID] = t
	o.evictLocked("")
	return t.ID
}

// AnalyzeAndAct runs the full workflow for req and returns the final task
// record. It never returns an error: failures are recorded on the task.
func (o *Orchestrator) AnalyzeAndAct(ctx context.Context, req Request) model.Task {
	if req.Action == "" {
		req.Action = model.TaskAnalyze
	}
	if t, ok := o.Task(req.TaskID); !ok || t.Status != model.TaskRunning {
		req.TaskID = o.Begin(req)
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.analyze_and_act", trace.WithAttributes(
		attribute.String("aksi.task_id", req.TaskID),
		attribute.String("aksi.repository", req.Repository),
		attribute.String("aksi.action", string(req.Action)),
	))
	defer span.End()
	start := time.Now()

	o.events.Record(ctx, model.LevelInfo, "orchestrator_start", map[string]any{
		"repository": req.Repository,
		"action":     string(req.Action),
		"task_id":    req.TaskID,
	})

	result, decision, err := o.run(ctx, req)

	var task model.Task
	outcome := model.TaskCompleted
	if err != nil {
		outcome = model.TaskFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		task = o.finish(req.TaskID, model.TaskFailed, nil, err.Error())
		o.events.Record(ctx, model.LevelError, "orchestrator_error", map[string]any{
			"task_id": req.TaskID,
			"error":   err.Error(),
		})
		o.logger.Warn("orchestrator: task failed", "task_id", req.TaskID, "error", err)
	} else {
		span.SetAttributes(attribute.Float64("aksi.confidence", decision.Confidence))
		task = o.finish(req.TaskID, model.TaskCompleted, result, "")
		o.events.Record(ctx, model.LevelInfo, "orchestrator_complete", map[string]any{
			"task_id":    req.TaskID,
			"action":     string(req.Action),
			"confidence": decision.Confidence,
		})
	}

	o.taskDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("action", string(req.Action))))
	o.taskCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))

	return task
}

func (o *Orchestrator) run(ctx context.Context, req Request) (result any, decision model.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: panic: %v", r)
		}
	}()

	if o.researcher == nil {
		return nil, model.Decision{}, errors.New("orchestrator: no researcher configured")
	}

	research, err := o.research(ctx, req.Repository)
	if err != nil {
		return nil, model.Decision{}, err
	}
	o.mu.Lock()
	o.stats.AnalysesPerformed++
	o.mu.Unlock()

	_, span := o.tracer.Start(ctx, "orchestrator.causality")
	chain := o.causality.Analyze(ctx,
		map[string]any{"repository": req.Repository},
		map[string]any{"patterns": research.Patterns, "similar_issues": research.SimilarIssues},
	)
	span.End()

	_, span = o.tracer.Start(ctx, "orchestrator.evaluate")
	decision = o.autonomy.Evaluate(ctx,
		map[string]any{"repository": req.Repository, "research": research, "causality": chain},
		string(req.Action),
		model.TaskActions,
	)
	span.SetAttributes(attribute.Float64("aksi.confidence", decision.Confidence))
	span.End()
	o.persistDecision(ctx, decision)

	if decision.Confidence < o.threshold {
		return model.LowConfidenceResult{Message: LowConfidenceMessage, Decision: decision}, decision, nil
	}

	wctx, span := o.tracer.Start(ctx, "orchestrator.workflow", trace.WithAttributes(
		attribute.String("aksi.action", string(req.Action)),
	))
	defer span.End()

	switch req.Action {
	case model.TaskCreate:
		r, err := o.createIssue(wctx, req.Repository, research, chain)
		if err != nil {
			return nil, decision, err
		}
		result = r
	case model.TaskUpdate:
		if req.IssueNumber != nil && *req.IssueNumber != 0 {
			result = o.updateIssue(wctx, req.Repository, *req.IssueNumber, research)
		}
	case model.TaskAnalyze:
		result = model.AnalysisResult{Research: research, Causality: chain, Decision: decision}
	}

	// Reflection does not distinguish a workflow's own outcome (for example
	// a failed validation) from success.
	o.autonomy.Reflect(ctx, decision.ID, true)
	return result, decision, nil
}

func (o *Orchestrator) research(ctx context.Context, repository string) (model.ResearchResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.research")
	defer span.End()
	r, err := o.researcher.AnalyzeRepository(ctx, repository, "")
	if err != nil {
		span.RecordError(err)
		return model.ResearchResult{}, fmt.Errorf("orchestrator: research: %w", err)
	}
	return r, nil
}

func (o *Orchestrator) createIssue(ctx context.Context, repository string, research model.ResearchResult, chain model.CausalityChain) (model.CreateIssueResult, error) {
	if o.writer == nil || o.integrator == nil {
		return model.CreateIssueResult{}, errors.New("orchestrator: create workflow needs a writer and an integrator")
	}
	variants, err := o.writer.GenerateIssueVariants(ctx, chain.RootCause, map[string]any{
		"patterns":        research.Patterns,
		"recommendations": research.Recommendations,
	}, NumVariants)
	if err != nil {
		return model.CreateIssueResult{}, fmt.Errorf("orchestrator: generate variants: %w", err)
	}
	if len(variants) == 0 {
		return model.CreateIssueResult{}, errors.New("orchestrator: writer returned no variants")
	}

	best := variants[0]
	validation := o.validator.ValidateIssue(ctx, best.Title, best.Body, best.Labels, nil)
	if !validation.IsValid {
		return model.CreateIssueResult{
			Action:  model.OutcomeValidationFailed,
			Variant: best,
			Errors:  validation.Errors,
		}, nil
	}

	action := o.integrator.CreateIssue(ctx, repository, best.Title, best.Body, best.Labels, nil)
	o.mu.Lock()
	o.stats.IssuesCreated++
	o.mu.Unlock()
	return model.CreateIssueResult{
		Action:       model.OutcomeIssueCreated,
		Variant:      best,
		Validation:   &validation,
		QueuedAction: &action,
	}, nil
}

func (o *Orchestrator) updateIssue(ctx context.Context, repository string, issueNumber int, research model.ResearchResult) model.UpdateIssueResult {
	comment := o.integrator.GenerateProgressComment("analyzed", []integrator.Metric{
		{Key: "Patterns Found", Value: len(research.Patterns)},
		{Key: "Similar Issues", Value: len(research.SimilarIssues)},
		{Key: "Recommendations", Value: len(research.Recommendations)},
	})
	action := o.integrator.AddComment(ctx, repository, issueNumber, comment, model.TargetIssue)
	o.mu.Lock()
	o.stats.IssuesUpdated++
	o.mu.Unlock()
	return model.UpdateIssueResult{
		Action:       model.OutcomeIssueUpdated,
		Comment:      comment,
		QueuedAction: &action,
	}
}

func (o *Orchestrator) persistDecision(ctx context.Context, d model.Decision) {
	if o.decisions == nil {
		return
	}
	if err := o.decisions.SaveDecision(ctx, d); err != nil {
		o.logger.Warn("orchestrator: persist decision failed", "decision_id", d.ID, "error", err)
	}
}

// finish marks the task terminal and returns a snapshot taken before
// eviction, so the caller sees the final record even when it is evicted.
func (o *Orchestrator) finish(id string, status model.TaskStatus, result any, errMsg string) model.Task {
	completed := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		// Reset raced with the task; track it again so the caller can see it.
		t = &model.Task{ID: id}
		o.tasks[id] = t
		o.order = append(o.order, id)
	}
	t.Status = status
	t.CompletedAt = &completed
	t.Result = result
	t.Error = errMsg
	snapshot := *t
	o.evictLocked(id)
	return snapshot
}

// evictLocked drops the oldest terminal tasks while the map is over its
// bound. The task named by keep is never dropped.
func (o *Orchestrator) evictLocked(keep string) {
	excess := len(o.tasks) - o.retention
	if excess <= 0 {
		return
	}
	kept := o.order[:0]
	for _, id := range o.order {
		if excess > 0 && id != keep && o.tasks[id].Status.Terminal() {
			delete(o.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
}

// Task returns a copy of the task record.
func (o *Orchestrator) Task(id string) (model.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return *t, true
}

// TaskStatus returns the task record, or a record with status not_found.
func (o *Orchestrator) TaskStatus(id string) model.Task {
	if t, ok := o.Task(id); ok {
		return t
	}
	return model.Task{ID: id, Status: model.TaskNotFound}
}

// Stats returns workflow counters, autonomy metrics and the number of
// running tasks.
func (o *Orchestrator) Stats() model.StatsSnapshot {
	o.mu.Lock()
	snap := model.StatsSnapshot{OrchestratorStats: o.stats}
	for _, t := range o.tasks {
		if t.Status == model.TaskRunning {
			snap.ActiveTasks++
		}
	}
	o.mu.Unlock()

	snap.AutonomyMetrics = o.autonomy.Metrics()
	snap.SuccessRate = o.autonomy.SuccessRate()
	snap.ShouldAct = o.autonomy.ShouldAct(o.threshold)
	return snap
}

// Reset clears tasks, counters and the autonomy engine.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.tasks = make(map[string]*model.Task)
	o.order = nil
	o.stats = model.OrchestratorStats{}
	o.mu.Unlock()
	o.autonomy.Reset()
}
