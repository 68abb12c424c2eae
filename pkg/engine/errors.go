package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrExecutionNotFound indicates no live or stored execution matches.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionFinished indicates the execution reached a terminal status
	// and no further transitions are permitted.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrStepNotFound indicates the step ID does not exist in the definition.
	ErrStepNotFound = errors.New("step not found")

	// ErrNotAwaitingDecision indicates a decision was submitted for a step
	// that is not an approval waiting on one.
	ErrNotAwaitingDecision = errors.New("step is not awaiting an approval decision")

	// ErrUnknownApprover indicates the decision came from someone outside
	// the step's approver set.
	ErrUnknownApprover = errors.New("approver is not authorized for this step")

	// ErrApprovalTimeout is the error recorded on an approval step whose
	// deadline passed with timeout_action "fail".
	ErrApprovalTimeout = errors.New("approval timeout")
)

// StepExecutionError is a non-transient executor failure attributed to one
// step. It triggers skip propagation.
type StepExecutionError struct {
	StepID string
	Err    error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.StepID, e.Err)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Err
}
