package engine

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fluxway/fluxway/pkg/events"
	"github.com/fluxway/fluxway/pkg/models"
)

type deadlineKind int

const (
	deadlineDelay deadlineKind = iota
	deadlineApproval
)

// TimeoutEvent describes one deadline the monitor resolved.
type TimeoutEvent struct {
	ExecutionID string
	StepID      string
	Action      string
	At          time.Time
}

type deadline struct {
	executionID string
	stepID      string
	at          time.Time
	kind        deadlineKind
	index       int
}

// deadlineHeap is a min-heap ordered by deadline time.
type deadlineHeap []*deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *deadlineHeap) Push(x any)         { d := x.(*deadline); d.index = len(*h); *h = append(*h, d) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]

	return d
}

// Monitor tracks approval and delay deadlines on a min-heap and resolves
// them when they expire. It is driven either by Run's timer loop or manually
// through CheckDeadlines (tests use a fake clock and call it directly).
//
// Resolution is idempotent: entries are removed when popped, and every
// transition re-checks the step status under the execution lock, so a step
// cannot be both timed out and normally completed.
type Monitor struct {
	engine *Engine

	mu        sync.Mutex
	deadlines deadlineHeap
	wake      chan struct{}
}

func newMonitor(e *Engine) *Monitor {
	m := &Monitor{
		engine: e,
		wake:   make(chan struct{}, 1),
	}

	heap.Init(&m.deadlines)

	return m
}

// Schedule registers a deadline for a running step.
func (m *Monitor) Schedule(executionID, stepID string, at time.Time, kind deadlineKind) {
	m.mu.Lock()
	heap.Push(&m.deadlines, &deadline{
		executionID: executionID,
		stepID:      stepID,
		at:          at,
		kind:        kind,
	})
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Cancel drops the deadline for one step, if any.
func (m *Monitor) Cancel(executionID, stepID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.deadlines {
		if d.executionID == executionID && d.stepID == stepID {
			heap.Remove(&m.deadlines, d.index)

			return
		}
	}
}

// CancelExecution drops every deadline belonging to an execution.
func (m *Monitor) CancelExecution(executionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.deadlines[:0]

	for _, d := range m.deadlines {
		if d.executionID != executionID {
			remaining = append(remaining, d)
		}
	}

	m.deadlines = remaining
	for i, d := range m.deadlines {
		d.index = i
	}

	heap.Init(&m.deadlines)
}

// CheckDeadlines resolves every deadline at or before now and returns what
// it did. Calling it again with the same now is a no-op.
func (m *Monitor) CheckDeadlines(ctx context.Context, now time.Time) []TimeoutEvent {
	var resolved []TimeoutEvent

	for {
		m.mu.Lock()

		if m.deadlines.Len() == 0 || m.deadlines[0].at.After(now) {
			m.mu.Unlock()

			break
		}

		d := heap.Pop(&m.deadlines).(*deadline)
		m.mu.Unlock()

		if event, ok := m.resolve(ctx, d, now); ok {
			resolved = append(resolved, event)
		}
	}

	return resolved
}

// Run drives CheckDeadlines from the engine clock until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	for {
		m.CheckDeadlines(ctx, m.engine.clock.Now().UTC())

		m.mu.Lock()

		var next time.Time
		if m.deadlines.Len() > 0 {
			next = m.deadlines[0].at
		}

		m.mu.Unlock()

		var timer <-chan time.Time
		if !next.IsZero() {
			timer = m.engine.clock.After(next.Sub(m.engine.clock.Now()))
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-timer:
		}
	}
}

// resolve applies a popped deadline. Terminal steps and executions make it a
// no-op.
func (m *Monitor) resolve(ctx context.Context, d *deadline, now time.Time) (TimeoutEvent, bool) {
	e := m.engine

	r := e.run(d.executionID)
	if r == nil {
		return TimeoutEvent{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.Status.Terminal() {
		return TimeoutEvent{}, false
	}

	spec := r.def.StepByID(d.stepID)
	state := r.exec.Steps[d.stepID]

	if spec == nil || state == nil || state.Status != models.StepStatusRunning {
		return TimeoutEvent{}, false
	}

	var event TimeoutEvent

	switch d.kind {
	case deadlineDelay:
		e.completeStep(ctx, r, spec, map[string]any{"elapsed": true}, now)

		event = TimeoutEvent{ExecutionID: d.executionID, StepID: d.stepID, Action: "delay_elapsed", At: now}
	case deadlineApproval:
		event = m.resolveApprovalTimeout(ctx, r, spec, now)
	}

	e.advance(ctx, r)
	e.finalize(ctx, r)
	e.persist(ctx, r)

	return event, true
}

// resolveApprovalTimeout applies the configured timeout action. Escalation is
// bounded: it extends the approver set and restarts the window once; a
// second expiry, or an escalate action without targets, falls through to
// failure.
func (m *Monitor) resolveApprovalTimeout(ctx context.Context, r *run, spec *models.StepSpec, now time.Time) TimeoutEvent {
	e := m.engine
	state := r.exec.Steps[spec.ID]
	event := TimeoutEvent{ExecutionID: r.exec.ID, StepID: spec.ID, At: now}

	action := spec.Approval.TimeoutAction
	if action == models.TimeoutActionEscalate && (state.EscalationCount > 0 || len(spec.Approval.Escalation) == 0) {
		action = models.TimeoutActionFail
	}

	switch action {
	case models.TimeoutActionAutoApprove:
		event.Action = "auto_approve"

		r.exec.AppendLog(now, models.LogLevelWarning, spec.ID, "approval timed out, auto-approving")
		e.completeStep(ctx, r, spec, map[string]any{"approved": true, "by": "timeout"}, now)
	case models.TimeoutActionEscalate:
		event.Action = "escalate"

		state.EscalationCount++
		state.Approvers = append(state.Approvers, spec.Approval.Escalation...)

		deadline := now.Add(spec.Approval.Timeout.Std())
		m.Schedule(r.exec.ID, spec.ID, deadline, deadlineApproval)

		r.exec.AppendLog(now, models.LogLevelWarning, spec.ID,
			fmt.Sprintf("approval timed out, escalating to %v", spec.Approval.Escalation))
		e.publish(ctx, &events.ApprovalEscalated{
			BaseEvent: e.baseEvent(events.ApprovalEscalatedEvent, r.def.ID, r.exec.ID),
			StepID:    spec.ID,
			Approvers: append([]string(nil), state.Approvers...),
			Deadline:  deadline,
		})
	case models.TimeoutActionFail:
		event.Action = "fail"

		e.failStep(ctx, r, spec, ErrApprovalTimeout.Error(), now)
	}

	return event
}
