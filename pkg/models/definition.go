// Package models defines the core domain models for DAG-based workflow orchestration.
package models

import "time"

// StepType identifies the executor capability a step requires.
type StepType string

const (
	StepTypeAction       StepType = "action"
	StepTypeCondition    StepType = "condition"
	StepTypeApproval     StepType = "approval"
	StepTypeNotification StepType = "notification"
	StepTypeDelay        StepType = "delay"
	StepTypeIntegration  StepType = "integration"
)

// TriggerType identifies how an execution of a definition is initiated.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeSchedule TriggerType = "schedule"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// TriggerSpec describes what fires a definition. The Type field selects which
// of the per-type configs applies; the others must be nil.
type TriggerSpec struct {
	Type     TriggerType            `json:"type"               validate:"required,oneof=manual schedule event webhook"`
	Schedule *ScheduleTriggerConfig `json:"schedule,omitempty"`
	Event    *EventTriggerConfig    `json:"event,omitempty"`
	Webhook  *WebhookTriggerConfig  `json:"webhook,omitempty"`
}

type ScheduleTriggerConfig struct {
	Cron     string `json:"cron"               validate:"required"`
	Timezone string `json:"timezone,omitempty"`
}

type EventTriggerConfig struct {
	Name      string `json:"name"                validate:"required"`
	Predicate string `json:"predicate,omitempty"`
}

type WebhookTriggerConfig struct {
	Path   string `json:"path"             validate:"required,startswith=/"`
	Method string `json:"method,omitempty"`
}

// WorkflowDefinition is the immutable graph of steps a trigger firing
// instantiates. Once registered, a definition is never mutated; executions
// hold a read-only reference to it.
type WorkflowDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description,omitempty"`
	Version     int            `json:"version"`
	Trigger     TriggerSpec    `json:"trigger"     validate:"required"`
	Steps       []*StepSpec    `json:"steps"       validate:"required,min=1,dive"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StepSpec is one node of the definition graph. Config is a discriminated
// union keyed on Type: condition/approval/delay steps carry a typed config,
// the remaining types carry opaque Parameters handed to the executor.
type StepSpec struct {
	ID        string   `json:"id"         validate:"required"`
	Name      string   `json:"name,omitempty"`
	Type      StepType `json:"type"       validate:"required,oneof=action condition approval notification delay integration"`
	DependsOn []string `json:"depends_on,omitempty"`

	// AlwaysRun marks a compensating step: upstream failures do not skip it,
	// it becomes ready once every dependency is terminal.
	AlwaysRun bool `json:"always_run,omitempty"`

	// AllowFailure keeps the execution eligible for completion even when
	// this step fails.
	AllowFailure bool `json:"allow_failure,omitempty"`

	Retry *RetryPolicy `json:"retry,omitempty"`

	Condition  *ConditionConfig `json:"condition,omitempty"`
	Approval   *ApprovalConfig  `json:"approval,omitempty"`
	Delay      *DelayConfig     `json:"delay,omitempty"`
	Parameters map[string]any   `json:"parameters,omitempty"`
}

// ConditionConfig routes dependents of a condition step. OnTrue and OnFalse
// are disjoint sets of step IDs, each a subset of the steps that depend on
// the condition step. The branch not taken is skipped.
type ConditionConfig struct {
	Expression string   `json:"expression" validate:"required"`
	OnTrue     []string `json:"on_true,omitempty"`
	OnFalse    []string `json:"on_false,omitempty"`
}

// TimeoutAction selects what the monitor does when an approval deadline
// passes without a decision.
type TimeoutAction string

const (
	TimeoutActionAutoApprove TimeoutAction = "auto_approve"
	TimeoutActionEscalate    TimeoutAction = "escalate"
	TimeoutActionFail        TimeoutAction = "fail"
)

type ApprovalConfig struct {
	Approvers     []string      `json:"approvers"            validate:"required,min=1"`
	Timeout       Duration      `json:"timeout"              validate:"required"`
	TimeoutAction TimeoutAction `json:"timeout_action"       validate:"required,oneof=auto_approve escalate fail"`
	Escalation    []string      `json:"escalation,omitempty"`
}

type DelayConfig struct {
	Duration Duration `json:"duration" validate:"required"`
}

// RetryPolicy bounds transient dispatch retries for a step. MaxAttempts
// counts the initial attempt; Backoff is the initial delay of an exponential
// backoff sequence.
type RetryPolicy struct {
	MaxAttempts int      `json:"max_attempts" validate:"required,min=1"`
	Backoff     Duration `json:"backoff,omitempty"`
}

// StepByID returns the step with the given ID, or nil.
func (d *WorkflowDefinition) StepByID(id string) *StepSpec {
	for _, step := range d.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// Dependents returns the IDs of steps that list stepID in their DependsOn,
// in definition order.
func (d *WorkflowDefinition) Dependents(stepID string) []string {
	var out []string

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			if dep == stepID {
				out = append(out, step.ID)

				break
			}
		}
	}

	return out
}

// TerminalSteps returns the steps no other step depends on.
func (d *WorkflowDefinition) TerminalSteps() []*StepSpec {
	hasDependent := make(map[string]bool, len(d.Steps))

	for _, step := range d.Steps {
		for _, dep := range step.DependsOn {
			hasDependent[dep] = true
		}
	}

	var out []*StepSpec

	for _, step := range d.Steps {
		if !hasDependent[step.ID] {
			out = append(out, step)
		}
	}

	return out
}
