// Package web provides the REST API for definition and execution management.
package web

import "github.com/fluxway/fluxway/pkg/models"

// RegisterDefinitionRequest is the body for publishing a workflow definition.
// The graph is validated before the definition is stored.
type RegisterDefinitionRequest struct {
	ID          string             `json:"id,omitempty"`
	Name        string             `json:"name"                  validate:"required,min=3"`
	Description string             `json:"description,omitempty"`
	Version     int                `json:"version,omitempty"`
	Trigger     models.TriggerSpec `json:"trigger"               validate:"required"`
	Steps       []*models.StepSpec `json:"steps"                 validate:"required,min=1"`
	Variables   map[string]any     `json:"variables,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Owner       string             `json:"owner,omitempty"`
}

// ToDefinition converts the request into the domain model.
func (r *RegisterDefinitionRequest) ToDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Version:     r.Version,
		Trigger:     r.Trigger,
		Steps:       r.Steps,
		Variables:   r.Variables,
		Metadata:    r.Metadata,
		Owner:       r.Owner,
	}
}

// StartExecutionRequest is the body for manually starting an execution.
type StartExecutionRequest struct {
	TriggeredBy string         `json:"triggered_by,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
}

// DecisionRequest is the body for resolving an approval step.
type DecisionRequest struct {
	Approver string `json:"approver" validate:"required"`
	Approved bool   `json:"approved"`
}
