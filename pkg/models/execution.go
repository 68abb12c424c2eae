package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of one execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Resolved reports whether the status satisfies a dependent's dependency
// check: completed and skipped steps unblock their dependents, failed steps
// do not.
func (s StepStatus) Resolved() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// stepTransitions is the closed transition table for step statuses. All
// status changes go through StepExecutionState.CanTransition so a step can
// never leave a terminal state or enter running twice.
var stepTransitions = map[StepStatus][]StepStatus{
	StepStatusPending: {StepStatusRunning, StepStatusCompleted, StepStatusSkipped, StepStatusFailed},
	StepStatusRunning: {StepStatusCompleted, StepStatusFailed, StepStatusSkipped},
}

// SkipReason records why a step was skipped.
type SkipReason string

const (
	SkipReasonUpstreamFailure SkipReason = "upstream_failure"
	SkipReasonBranchNotTaken  SkipReason = "branch_not_taken"
	SkipReasonDeadPath        SkipReason = "dead_path"
	SkipReasonCancelled       SkipReason = "cancelled"
)

// StepExecutionState is the mutable per-step record inside an execution.
type StepExecutionState struct {
	StepID     string     `json:"step_id"`
	Status     StepStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`

	SkipReason SkipReason `json:"skip_reason,omitempty"`

	// Attempts counts dispatches, including retries of transient failures.
	Attempts int `json:"attempts,omitempty"`

	// Approval bookkeeping.
	Approvers       []string `json:"approvers,omitempty"`
	DecidedBy       string   `json:"decided_by,omitempty"`
	EscalationCount int      `json:"escalation_count,omitempty"`
}

// CanTransition reports whether moving to the target status is legal.
func (s *StepExecutionState) CanTransition(to StepStatus) bool {
	for _, allowed := range stepTransitions[s.Status] {
		if allowed == to {
			return true
		}
	}

	return false
}

// LogLevel classifies an execution log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// ExecutionLogEntry is one line of the append-only execution log.
type ExecutionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	StepID    string    `json:"step_id,omitempty"`
}

// Execution is the runtime record of one trigger firing of a definition.
// It is mutated only by the engine under the execution's lock; readers get
// deep copies via Clone.
type Execution struct {
	ID           string          `json:"id"`
	DefinitionID string          `json:"definition_id"`
	Status       ExecutionStatus `json:"status"`
	TriggeredBy  string          `json:"triggered_by"`
	Input        map[string]any  `json:"input,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`

	Steps map[string]*StepExecutionState `json:"steps"`
	Logs  []ExecutionLogEntry            `json:"logs"`
}

// NewExecution creates a running execution with all steps pending.
func NewExecution(id string, def *WorkflowDefinition, triggeredBy string, input map[string]any, now time.Time) *Execution {
	steps := make(map[string]*StepExecutionState, len(def.Steps))
	for _, spec := range def.Steps {
		steps[spec.ID] = &StepExecutionState{StepID: spec.ID, Status: StepStatusPending}
	}

	return &Execution{
		ID:           id,
		DefinitionID: def.ID,
		Status:       ExecutionStatusRunning,
		TriggeredBy:  triggeredBy,
		Input:        input,
		StartedAt:    now,
		Steps:        steps,
		Logs:         []ExecutionLogEntry{},
	}
}

// AppendLog adds an entry to the execution log.
func (e *Execution) AppendLog(now time.Time, level LogLevel, stepID, message string) {
	e.Logs = append(e.Logs, ExecutionLogEntry{
		Timestamp: now,
		Level:     level,
		Message:   message,
		StepID:    stepID,
	})
}

// StepOutputs collects the outputs of completed steps, keyed by step ID.
func (e *Execution) StepOutputs() map[string]any {
	out := make(map[string]any, len(e.Steps))

	for id, state := range e.Steps {
		if state.Status == StepStatusCompleted && state.Output != nil {
			out[id] = state.Output
		}
	}

	return out
}

// Clone returns a deep copy safe to hand to readers while the engine keeps
// mutating the original.
func (e *Execution) Clone() *Execution {
	clone := *e

	if e.FinishedAt != nil {
		t := *e.FinishedAt
		clone.FinishedAt = &t
	}

	clone.Input = cloneMap(e.Input)

	clone.Steps = make(map[string]*StepExecutionState, len(e.Steps))
	for id, state := range e.Steps {
		s := *state
		s.Output = cloneMap(state.Output)
		s.Approvers = append([]string(nil), state.Approvers...)

		if state.StartedAt != nil {
			t := *state.StartedAt
			s.StartedAt = &t
		}

		if state.FinishedAt != nil {
			t := *state.FinishedAt
			s.FinishedAt = &t
		}

		clone.Steps[id] = &s
	}

	clone.Logs = append([]ExecutionLogEntry(nil), e.Logs...)

	return &clone
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}
