package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/otelhelper"
	"github.com/fluxway/fluxway/pkg/protocol"
)

const defaultRetryBackoff = 500 * time.Millisecond

// readiness is the scheduling decision for one pending step.
type readiness int

const (
	waitForDeps readiness = iota
	ready
	skipUpstreamFailure
	skipDeadPath
)

// advance runs the scheduler to fixpoint. Caller holds r.mu. Each pass over
// the (ID-sorted) steps either transitions at least one step or terminates,
// so the loop is bounded by the number of non-terminal steps.
func (e *Engine) advance(ctx context.Context, r *run) {
	for {
		progressed := false

		for _, spec := range r.order {
			state := r.exec.Steps[spec.ID]
			if state.Status != models.StepStatusPending {
				continue
			}

			switch e.readiness(r, spec) {
			case waitForDeps:
				continue
			case skipUpstreamFailure:
				e.skipStep(ctx, r, spec, models.SkipReasonUpstreamFailure)

				progressed = true
			case skipDeadPath:
				e.skipStep(ctx, r, spec, e.deadPathReason(r, spec))

				progressed = true
			case ready:
				e.startStep(ctx, r, spec)

				progressed = true
			}
		}

		if !progressed {
			break
		}
	}
}

// readiness implements dead-path elimination over the AND-join DAG:
//   - any failed dependency (without AlwaysRun) blocks the step for good;
//   - skipped dependencies satisfy the join, but a step whose dependencies
//     were ALL skipped has no viable incoming path left and is skipped too;
//   - AlwaysRun steps become ready once every dependency is terminal,
//     regardless of outcome.
//
// Together with failure skips this yields exactly: a step is skipped iff
// every path from the start to it passes through a failed step or an
// untaken branch.
func (e *Engine) readiness(r *run, spec *models.StepSpec) readiness {
	if len(spec.DependsOn) == 0 {
		return ready
	}

	completed := 0

	for _, dep := range spec.DependsOn {
		depState := r.exec.Steps[dep]

		switch depState.Status {
		case models.StepStatusCompleted:
			completed++
		case models.StepStatusSkipped:
			// Soft: satisfies the join but contributes no viable path.
		case models.StepStatusFailed:
			if !spec.AlwaysRun {
				return skipUpstreamFailure
			}
		default:
			return waitForDeps
		}
	}

	if completed > 0 || spec.AlwaysRun {
		return ready
	}

	return skipDeadPath
}

// deadPathReason distinguishes a dead path caused by an upstream failure
// from one caused by an untaken branch, so execution finalization can tell
// failure-driven skips apart.
func (e *Engine) deadPathReason(r *run, spec *models.StepSpec) models.SkipReason {
	for _, dep := range spec.DependsOn {
		depState := r.exec.Steps[dep]
		if depState.Status == models.StepStatusSkipped && depState.SkipReason == models.SkipReasonUpstreamFailure {
			return models.SkipReasonUpstreamFailure
		}
	}

	return models.SkipReasonDeadPath
}

// startStep transitions a ready step. Condition steps complete synchronously;
// delay and approval steps arm the monitor; everything else dispatches to an
// executor asynchronously.
func (e *Engine) startStep(ctx context.Context, r *run, spec *models.StepSpec) {
	now := e.clock.Now().UTC()
	state := r.exec.Steps[spec.ID]

	if spec.Type == models.StepTypeCondition {
		e.evaluateCondition(ctx, r, spec, now)

		return
	}

	state.Status = models.StepStatusRunning
	started := now
	state.StartedAt = &started

	switch spec.Type {
	case models.StepTypeDelay:
		deadline := now.Add(spec.Delay.Duration.Std())
		e.monitor.Schedule(r.exec.ID, spec.ID, deadline, deadlineDelay)
		r.exec.AppendLog(now, models.LogLevelInfo, spec.ID,
			fmt.Sprintf("delaying for %s", spec.Delay.Duration))
	case models.StepTypeApproval:
		state.Approvers = append([]string(nil), spec.Approval.Approvers...)
		deadline := now.Add(spec.Approval.Timeout.Std())
		e.monitor.Schedule(r.exec.ID, spec.ID, deadline, deadlineApproval)
		r.exec.AppendLog(now, models.LogLevelInfo, spec.ID,
			fmt.Sprintf("awaiting approval from %v", state.Approvers))
		e.publish(ctx, &events.ApprovalRequested{
			BaseEvent: e.baseEvent(events.ApprovalRequestedEvent, r.def.ID, r.exec.ID),
			StepID:    spec.ID,
			Approvers: state.Approvers,
			Deadline:  deadline,
		})
	default:
		state.Attempts++
		r.exec.AppendLog(now, models.LogLevelInfo, spec.ID, "dispatching step")

		stepCtx := e.buildStepContext(r, spec)
		go e.dispatch(context.WithoutCancel(ctx), r.exec.ID, spec, stepCtx)
	}
}

// evaluateCondition runs the predicate synchronously and skips every
// dependent listed on the branch not taken.
func (e *Engine) evaluateCondition(ctx context.Context, r *run, spec *models.StepSpec, now time.Time) {
	state := r.exec.Steps[spec.ID]
	started := now
	state.StartedAt = &started

	env := map[string]any{
		"trigger": r.exec.Input,
		"steps":   r.exec.StepOutputs(),
		"vars":    r.def.Variables,
	}

	result, err := e.conditions.EvaluateBool(spec.Condition.Expression, env)
	if err != nil {
		state.Status = models.StepStatusFailed
		state.Error = err.Error()
		state.FinishedAt = &started
		r.exec.AppendLog(now, models.LogLevelError, spec.ID, err.Error())
		e.publish(ctx, &events.StepFailed{
			BaseEvent: e.baseEvent(events.StepFailedEvent, r.def.ID, r.exec.ID),
			StepID:    spec.ID,
			Error:     err.Error(),
		})

		return
	}

	state.Status = models.StepStatusCompleted
	state.Output = map[string]any{"result": result}
	state.FinishedAt = &started
	r.exec.AppendLog(now, models.LogLevelInfo, spec.ID,
		fmt.Sprintf("condition evaluated to %t", result))

	notTaken := spec.Condition.OnTrue
	if result {
		notTaken = spec.Condition.OnFalse
	}

	for _, id := range notTaken {
		branchSpec := r.def.StepByID(id)
		branchState := r.exec.Steps[id]

		if branchSpec == nil || !branchState.CanTransition(models.StepStatusSkipped) {
			continue
		}

		e.skipStep(ctx, r, branchSpec, models.SkipReasonBranchNotTaken)
	}
}

func (e *Engine) buildStepContext(r *run, spec *models.StepSpec) protocol.StepContext {
	return protocol.StepContext{
		ExecutionID:  r.exec.ID,
		DefinitionID: r.def.ID,
		StepID:       spec.ID,
		Parameters:   spec.Parameters,
		TriggerData:  r.exec.Input,
		StepOutputs:  r.exec.StepOutputs(),
		Variables:    r.def.Variables,
		Logger: e.logger.With(
			"execution_id", r.exec.ID,
			"step_id", spec.ID,
			"step_type", spec.Type,
		),
	}
}

// dispatch invokes the executor outside the execution lock. Transient
// dispatch errors are retried with exponential backoff, bounded by the
// step's retry policy, when the executor is idempotent; anything left over
// is reported as a step failure.
func (e *Engine) dispatch(ctx context.Context, executionID string, spec *models.StepSpec, stepCtx protocol.StepContext) {
	ctx, span := e.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String(otelhelper.DefinitionIDKey, stepCtx.DefinitionID),
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StepIDKey, spec.ID),
		attribute.String(otelhelper.StepTypeKey, string(spec.Type)),
	))
	defer span.End()

	policy := spec.Retry
	if policy == nil {
		policy = &models.RetryPolicy{MaxAttempts: 1}
	}

	backoffBase := policy.Backoff.Std()
	if backoffBase <= 0 {
		backoffBase = defaultRetryBackoff
	}

	backoff := retry.WithMaxRetries(uint64(policy.MaxAttempts-1), retry.NewExponential(backoffBase))
	retryable := e.registry.Idempotent(string(spec.Type))

	var output map[string]any

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		executor, err := e.registry.CreateExecutor(string(spec.Type), spec.Parameters)
		if err != nil {
			return err
		}

		out, err := executor.Execute(ctx, stepCtx)
		if err != nil {
			if protocol.IsDispatchError(err) && retryable {
				e.recordRetry(executionID, spec.ID, err)

				return retry.RetryableError(err)
			}

			return err
		}

		output = out

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		if protocol.IsDispatchError(err) {
			err = &StepExecutionError{StepID: spec.ID, Err: err}
		}

		e.OnStepFail(ctx, executionID, spec.ID, err.Error())

		return
	}

	e.OnStepComplete(ctx, executionID, spec.ID, output)
}

// recordRetry logs a transient dispatch failure and bumps the attempt
// counter before the next try.
func (e *Engine) recordRetry(executionID, stepID string, cause error) {
	r := e.run(executionID)
	if r == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.Status.Terminal() {
		return
	}

	state := r.exec.Steps[stepID]
	if state == nil || state.Status != models.StepStatusRunning {
		return
	}

	state.Attempts++
	r.exec.AppendLog(e.clock.Now().UTC(), models.LogLevelWarning, stepID,
		fmt.Sprintf("transient dispatch failure, retrying: %v", cause))
}

// completeStep and failStep perform the actual transitions. Callers hold
// r.mu and have verified the transition is legal.
func (e *Engine) completeStep(ctx context.Context, r *run, spec *models.StepSpec, output map[string]any, now time.Time) {
	state := r.exec.Steps[spec.ID]
	state.Status = models.StepStatusCompleted
	state.Output = output
	state.FinishedAt = &now

	r.exec.AppendLog(now, models.LogLevelInfo, spec.ID, "step completed")

	e.publish(ctx, &events.StepCompleted{
		BaseEvent: e.baseEvent(events.StepCompletedEvent, r.def.ID, r.exec.ID),
		StepID:    spec.ID,
		Output:    output,
		Duration:  durationSince(state.StartedAt, now),
	})
}

func (e *Engine) failStep(ctx context.Context, r *run, spec *models.StepSpec, stepError string, now time.Time) {
	state := r.exec.Steps[spec.ID]
	state.Status = models.StepStatusFailed
	state.Error = stepError
	state.FinishedAt = &now

	r.exec.AppendLog(now, models.LogLevelError, spec.ID, stepError)

	e.publish(ctx, &events.StepFailed{
		BaseEvent: e.baseEvent(events.StepFailedEvent, r.def.ID, r.exec.ID),
		StepID:    spec.ID,
		Error:     stepError,
		Duration:  durationSince(state.StartedAt, now),
	})
}

func (e *Engine) skipStep(ctx context.Context, r *run, spec *models.StepSpec, reason models.SkipReason) {
	now := e.clock.Now().UTC()
	state := r.exec.Steps[spec.ID]
	state.Status = models.StepStatusSkipped
	state.SkipReason = reason
	state.FinishedAt = &now

	r.exec.AppendLog(now, models.LogLevelInfo, spec.ID, "step skipped: "+string(reason))

	e.publish(ctx, &events.StepSkipped{
		BaseEvent: e.baseEvent(events.StepSkippedEvent, r.def.ID, r.exec.ID),
		StepID:    spec.ID,
		Reason:    reason,
	})
}

// finalize moves the execution to a terminal status once every step is
// terminal. The execution fails when a terminal (childless) step failed
// without AllowFailure or was skipped because of an upstream failure;
// otherwise it completes. Caller holds r.mu.
func (e *Engine) finalize(ctx context.Context, r *run) {
	if r.exec.Status.Terminal() {
		return
	}

	for _, state := range r.exec.Steps {
		if !state.Status.Terminal() {
			return
		}
	}

	now := e.clock.Now().UTC()
	failed := false

	var failure string

	for _, spec := range r.def.TerminalSteps() {
		state := r.exec.Steps[spec.ID]

		switch {
		case state.Status == models.StepStatusFailed && !spec.AllowFailure:
			failed = true
			failure = state.Error
		case state.Status == models.StepStatusSkipped && state.SkipReason == models.SkipReasonUpstreamFailure:
			failed = true

			if failure == "" {
				failure = fmt.Sprintf("step %s unreachable after upstream failure", spec.ID)
			}
		}
	}

	r.exec.FinishedAt = &now
	e.monitor.CancelExecution(r.exec.ID)

	if failed {
		r.exec.Status = models.ExecutionStatusFailed
		r.exec.AppendLog(now, models.LogLevelError, "", "execution failed: "+failure)
		e.publish(ctx, &events.ExecutionFailed{
			BaseEvent: e.baseEvent(events.ExecutionFailedEvent, r.def.ID, r.exec.ID),
			Error:     failure,
			Duration:  now.Sub(r.exec.StartedAt),
		})
		e.logger.WarnContext(ctx, "Execution failed",
			"execution_id", r.exec.ID, "error", failure)

		return
	}

	r.exec.Status = models.ExecutionStatusCompleted
	r.exec.AppendLog(now, models.LogLevelInfo, "", "execution completed")
	e.publish(ctx, &events.ExecutionCompleted{
		BaseEvent: e.baseEvent(events.ExecutionCompletedEvent, r.def.ID, r.exec.ID),
		Duration:  now.Sub(r.exec.StartedAt),
	})
	e.logger.InfoContext(ctx, "Execution completed", "execution_id", r.exec.ID)
}
