// Package protocol defines the contracts between the orchestration core and
// its external collaborators: step executors and trigger listeners.
package protocol

import (
	"context"
	"log/slog"
)

// StepContext is the read-only view of an execution handed to an executor.
type StepContext struct {
	ExecutionID  string
	DefinitionID string
	StepID       string

	// Parameters is the step's opaque configuration.
	Parameters map[string]any

	// TriggerData carries the input the execution was triggered with.
	TriggerData map[string]any

	// StepOutputs maps completed step IDs to their outputs.
	StepOutputs map[string]any

	// Variables are the definition's static variables.
	Variables map[string]any

	Logger *slog.Logger
}

// Executor performs the real work behind a step. Implementations live outside
// the orchestration core (mail senders, HTTP callers, DB writers).
type Executor interface {
	// Execute runs the step and returns its output. A returned error marks
	// the step failed; transient dispatch problems should be wrapped so the
	// engine's retry policy can distinguish them.
	Execute(ctx context.Context, stepCtx StepContext) (map[string]any, error)
}

// ExecutorFactory creates executors for one step type and describes the
// parameters it accepts.
type ExecutorFactory interface {
	// Create builds an executor for the given step parameters.
	Create(params map[string]any) (Executor, error)

	// ID returns the step type this factory serves.
	ID() string

	// Name returns the human-readable name for this executor type.
	Name() string

	// Description returns a description of what this executor does.
	Description() string

	// Schema returns the JSON schema step parameters are validated against
	// at definition registration.
	Schema() map[string]any

	// Idempotent reports whether Execute may be retried automatically after
	// a transient dispatch failure.
	Idempotent() bool
}
