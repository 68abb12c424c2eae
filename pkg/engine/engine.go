// Package engine drives workflow executions: it walks the definition DAG,
// dispatches ready steps to registered executors, propagates failures and
// skips, and resolves approval/delay deadlines through the monitor.
//
// All mutations of one execution are serialized through that execution's
// lock; executor I/O happens outside the lock and reports back through the
// OnStepComplete/OnStepFail callbacks.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fluxway/fluxway/pkg/conditions"
	"github.com/fluxway/fluxway/pkg/eventbus"
	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/otelhelper"
	"github.com/fluxway/fluxway/pkg/persistence"
	"github.com/fluxway/fluxway/pkg/registry"
	"github.com/fluxway/fluxway/pkg/validation"
)

// run pairs one execution with its definition and the lock serializing all
// mutations to it.
type run struct {
	mu    sync.Mutex
	def   *models.WorkflowDefinition
	exec  *models.Execution
	order []*models.StepSpec // steps sorted by ID, for deterministic dispatch
}

type Engine struct {
	logger     *slog.Logger
	registry   *registry.Registry
	validator  *validation.Validator
	conditions *conditions.Engine
	store      persistence.Persistence
	bus        eventbus.EventPublisher
	clock      clockwork.Clock
	tracer     trace.Tracer

	mu   sync.RWMutex
	runs map[string]*run

	monitor *Monitor
}

type Option func(*Engine)

// WithClock injects a clock, used by tests to simulate time.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithEventBus publishes lifecycle events on the given bus.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithTracer records a span per dispatched step.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func New(logger *slog.Logger, reg *registry.Registry, store persistence.Persistence, opts ...Option) *Engine {
	e := &Engine{
		logger:     logger,
		registry:   reg,
		validator:  validation.New(reg),
		conditions: conditions.NewEngine(),
		store:      store,
		clock:      clockwork.NewRealClock(),
		tracer:     noop.NewTracerProvider().Tracer("fluxway"),
		runs:       make(map[string]*run),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.monitor = newMonitor(e)

	return e
}

// Monitor returns the timeout and escalation monitor. Callers run its loop
// with Run, or drive it manually through CheckDeadlines.
func (e *Engine) Monitor() *Monitor {
	return e.monitor
}

// RegisterDefinition validates and stores a definition, assigning an ID and
// version if absent. A definition that fails validation is never stored.
func (e *Engine) RegisterDefinition(ctx context.Context, def *models.WorkflowDefinition) (string, error) {
	if def.ID == "" {
		def.ID = "wf-" + uuid.NewString()[:8]
	}

	if def.Version == 0 {
		def.Version = 1
	}

	if def.CreatedAt.IsZero() {
		def.CreatedAt = e.clock.Now().UTC()
	}

	if err := e.validator.ValidateDefinition(def); err != nil {
		return "", err
	}

	// Condition expressions must compile at registration, not at runtime.
	for _, step := range def.Steps {
		if step.Type == models.StepTypeCondition && step.Condition != nil {
			if err := e.conditions.Compile(step.Condition.Expression); err != nil {
				return "", &validation.ValidationError{
					DefinitionID: def.ID,
					Issues:       []string{fmt.Sprintf("step %q: %v", step.ID, err)},
				}
			}
		}
	}

	if existing, err := e.store.DefinitionByID(ctx, def.ID); err == nil && existing != nil {
		return "", persistence.ErrDefinitionExists
	}

	if err := e.store.SaveDefinition(ctx, def); err != nil {
		return "", fmt.Errorf("failed to store definition: %w", err)
	}

	e.logger.InfoContext(ctx, "Registered workflow definition",
		"definition_id", def.ID, "name", def.Name, "steps", len(def.Steps))

	return def.ID, nil
}

// Trigger creates a new execution of a definition and advances it until no
// step can make synchronous progress. It returns the execution ID
// immediately; asynchronous steps report back through the callbacks.
func (e *Engine) Trigger(ctx context.Context, definitionID, triggeredBy string, input map[string]any) (string, error) {
	def, err := e.store.DefinitionByID(ctx, definitionID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch definition %s: %w", definitionID, err)
	}

	now := e.clock.Now().UTC()
	exec := models.NewExecution("exec-"+uuid.NewString()[:8], def, triggeredBy, input, now)

	ctx, span := e.tracer.Start(ctx, "execution.start", trace.WithAttributes(
		attribute.String(otelhelper.DefinitionIDKey, def.ID),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(def.Trigger.Type)),
	))
	defer span.End()

	order := append([]*models.StepSpec(nil), def.Steps...)
	sort.Slice(order, func(i, j int) bool { return order[i].ID < order[j].ID })

	r := &run{def: def, exec: exec, order: order}

	e.mu.Lock()
	e.runs[exec.ID] = r
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Starting execution",
		"execution_id", exec.ID, "definition_id", def.ID, "triggered_by", triggeredBy)

	r.mu.Lock()
	exec.AppendLog(now, models.LogLevelInfo, "", fmt.Sprintf("execution started by %s", triggeredBy))
	e.publish(ctx, &events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, def.ID, exec.ID),
		TriggeredBy: triggeredBy,
	})
	e.advance(ctx, r)
	e.finalize(ctx, r)
	e.persist(ctx, r)
	r.mu.Unlock()

	return exec.ID, nil
}

// GetExecution returns a deep-copied snapshot of an execution: live state if
// the execution is in memory, stored state otherwise.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	if r := e.run(executionID); r != nil {
		r.mu.Lock()
		defer r.mu.Unlock()

		return r.exec.Clone(), nil
	}

	exec, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, ErrExecutionNotFound
		}

		return nil, err
	}

	return exec, nil
}

// Cancel force-skips every non-terminal step and finishes the execution as
// cancelled. Results of already-dispatched executors that arrive later are
// logged but never applied.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	r := e.run(executionID)
	if r == nil {
		// Finished executions are released from memory; cancelling one is
		// still a no-op, not an error.
		if exec, err := e.finishedExecution(ctx, executionID); err != nil {
			return err
		} else if exec != nil {
			return nil
		}

		return ErrExecutionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.Status.Terminal() {
		return nil
	}

	now := e.clock.Now().UTC()

	for _, spec := range r.order {
		state := r.exec.Steps[spec.ID]
		if state.Status.Terminal() {
			continue
		}

		state.Status = models.StepStatusSkipped
		state.SkipReason = models.SkipReasonCancelled
		finished := now
		state.FinishedAt = &finished

		r.exec.AppendLog(now, models.LogLevelWarning, spec.ID, "step skipped: execution cancelled")
	}

	r.exec.Status = models.ExecutionStatusCancelled
	r.exec.FinishedAt = &now
	r.exec.AppendLog(now, models.LogLevelWarning, "", "execution cancelled")

	e.monitor.CancelExecution(executionID)

	e.publish(ctx, &events.ExecutionCancelled{
		BaseEvent: e.baseEvent(events.ExecutionCancelledEvent, r.def.ID, executionID),
	})
	e.persist(ctx, r)

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	return nil
}

// SubmitDecision records an approval or rejection for a waiting approval
// step.
func (e *Engine) SubmitDecision(ctx context.Context, executionID, stepID, approver string, approved bool) error {
	r := e.run(executionID)
	if r == nil {
		if exec, err := e.finishedExecution(ctx, executionID); err != nil {
			return err
		} else if exec != nil {
			return ErrExecutionFinished
		}

		return ErrExecutionNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.Status.Terminal() {
		return ErrExecutionFinished
	}

	spec := r.def.StepByID(stepID)
	if spec == nil {
		return ErrStepNotFound
	}

	state := r.exec.Steps[stepID]
	if spec.Type != models.StepTypeApproval || state.Status != models.StepStatusRunning {
		return ErrNotAwaitingDecision
	}

	authorized := false

	for _, candidate := range state.Approvers {
		if candidate == approver {
			authorized = true

			break
		}
	}

	if !authorized {
		return ErrUnknownApprover
	}

	e.monitor.Cancel(executionID, stepID)

	now := e.clock.Now().UTC()
	state.DecidedBy = approver

	if approved {
		e.completeStep(ctx, r, spec, map[string]any{"approved": true, "by": approver}, now)
	} else {
		e.failStep(ctx, r, spec, fmt.Sprintf("approval rejected by %s", approver), now)
	}

	e.advance(ctx, r)
	e.finalize(ctx, r)
	e.persist(ctx, r)

	return nil
}

// OnStepComplete is the executor callback for successful completion. Late
// results against a terminal execution are logged and discarded.
func (e *Engine) OnStepComplete(ctx context.Context, executionID, stepID string, output map[string]any) {
	r := e.run(executionID)
	if r == nil {
		e.logger.WarnContext(ctx, "Discarding late step completion, execution unknown or finished",
			"execution_id", executionID, "step_id", stepID)

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := e.clock.Now().UTC()

	if r.exec.Status.Terminal() {
		r.exec.AppendLog(now, models.LogLevelInfo, stepID,
			"late result discarded: execution already "+string(r.exec.Status))

		return
	}

	spec := r.def.StepByID(stepID)
	state := r.exec.Steps[stepID]

	if spec == nil || state == nil || !state.CanTransition(models.StepStatusCompleted) {
		e.logger.WarnContext(ctx, "Ignoring completion for non-running step",
			"execution_id", executionID, "step_id", stepID)

		return
	}

	e.completeStep(ctx, r, spec, output, now)
	e.advance(ctx, r)
	e.finalize(ctx, r)
	e.persist(ctx, r)
}

// OnStepFail is the executor callback for failure.
func (e *Engine) OnStepFail(ctx context.Context, executionID, stepID, stepError string) {
	r := e.run(executionID)
	if r == nil {
		e.logger.WarnContext(ctx, "Discarding late step failure, execution unknown or finished",
			"execution_id", executionID, "step_id", stepID)

		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := e.clock.Now().UTC()

	if r.exec.Status.Terminal() {
		r.exec.AppendLog(now, models.LogLevelInfo, stepID,
			"late failure discarded: execution already "+string(r.exec.Status))

		return
	}

	spec := r.def.StepByID(stepID)
	state := r.exec.Steps[stepID]

	if spec == nil || state == nil || !state.CanTransition(models.StepStatusFailed) {
		e.logger.WarnContext(ctx, "Ignoring failure for non-running step",
			"execution_id", executionID, "step_id", stepID)

		return
	}

	e.failStep(ctx, r, spec, stepError, now)
	e.advance(ctx, r)
	e.finalize(ctx, r)
	e.persist(ctx, r)
}

func (e *Engine) run(executionID string) *run {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.runs[executionID]
}

func (e *Engine) baseEvent(eventType events.EventType, definitionID, executionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:           "evt-" + uuid.NewString()[:8],
		Type:         eventType,
		Timestamp:    e.clock.Now().UTC(),
		DefinitionID: definitionID,
		ExecutionID:  executionID,
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.bus == nil {
		return
	}

	if err := e.bus.Publish(ctx, "fluxway", event); err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

// persist writes a snapshot of the execution; storage failures are logged,
// never allowed to affect scheduling. Once a terminal execution is safely
// stored its run is released from memory, so the run table only holds live
// executions; reads fall through to the store from then on.
func (e *Engine) persist(ctx context.Context, r *run) {
	if err := e.store.SaveExecution(ctx, r.exec); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist execution",
			"execution_id", r.exec.ID, "error", err)

		return
	}

	if r.exec.Status.Terminal() {
		e.mu.Lock()
		delete(e.runs, r.exec.ID)
		e.mu.Unlock()
	}
}

// finishedExecution loads a stored execution that is no longer resident.
// It returns (nil, nil) when the execution does not exist at all, and nil
// for a stored execution that is somehow not terminal, since only terminal
// runs ever leave memory.
func (e *Engine) finishedExecution(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, nil
		}

		return nil, err
	}

	if !exec.Status.Terminal() {
		return nil, nil
	}

	return exec, nil
}

func durationSince(start *time.Time, now time.Time) time.Duration {
	if start == nil {
		return 0
	}

	return now.Sub(*start)
}
