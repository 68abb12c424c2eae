// Package events defines the event types published on the bus for execution
// lifecycle notifications.
package events

import (
	"time"

	"github.com/fluxway/fluxway/pkg/models"
)

type EventType string

// Topic is the bus topic all orchestration events are published on.
const Topic = "fluxway.events"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// ExecutionRequestedEvent is published by trigger listeners; the worker
	// consumes it and starts an execution.
	ExecutionRequestedEvent EventType = "execution.requested"

	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"

	StepCompletedEvent EventType = "step.completed"
	StepFailedEvent    EventType = "step.failed"
	StepSkippedEvent   EventType = "step.skipped"

	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalEscalatedEvent EventType = "approval.escalated"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	DefinitionID string    `json:"definition_id"`
	ExecutionID  string    `json:"execution_id,omitempty"`
}

type ExecutionRequested struct {
	BaseEvent

	TriggeredBy string         `json:"triggered_by"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionRequested) GetType() EventType { return ExecutionRequestedEvent }

type ExecutionStarted struct {
	BaseEvent

	TriggeredBy string `json:"triggered_by"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	CancelledBy string `json:"cancelled_by,omitempty"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type StepCompleted struct {
	BaseEvent

	StepID   string         `json:"step_id"`
	Output   map[string]any `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

func (e StepCompleted) GetType() EventType { return StepCompletedEvent }

type StepFailed struct {
	BaseEvent

	StepID   string        `json:"step_id"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

func (e StepFailed) GetType() EventType { return StepFailedEvent }

type StepSkipped struct {
	BaseEvent

	StepID string            `json:"step_id"`
	Reason models.SkipReason `json:"reason"`
}

func (e StepSkipped) GetType() EventType { return StepSkippedEvent }

type ApprovalRequested struct {
	BaseEvent

	StepID    string    `json:"step_id"`
	Approvers []string  `json:"approvers"`
	Deadline  time.Time `json:"deadline"`
}

func (e ApprovalRequested) GetType() EventType { return ApprovalRequestedEvent }

type ApprovalEscalated struct {
	BaseEvent

	StepID    string    `json:"step_id"`
	Approvers []string  `json:"approvers"`
	Deadline  time.Time `json:"deadline"`
}

func (e ApprovalEscalated) GetType() EventType { return ApprovalEscalatedEvent }
