// Package validation implements registration-time validation of workflow
// definitions: structural checks, DAG checks, and executor schema checks.
// A definition that fails validation is never executable.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/xeipuuv/gojsonschema"

	"github.com/fluxway/fluxway/pkg/models"
)

// ValidationError aggregates every structural problem found in a definition.
type ValidationError struct {
	DefinitionID string
	Issues       []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow definition %q: %s", e.DefinitionID, strings.Join(e.Issues, "; "))
}

// IsValidationError reports whether err is a definition validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError

	return errors.As(err, &ve)
}

// SchemaResolver provides the JSON schema an executor type expects for its
// opaque step parameters. The registry implements it.
type SchemaResolver interface {
	SchemaFor(stepType models.StepType) (map[string]any, bool)
}

// Validator checks definitions at registration time. It is pure: no state,
// no side effects.
type Validator struct {
	validate *validator.Validate
	schemas  SchemaResolver
}

// New creates a Validator. schemas may be nil, in which case opaque step
// parameters are not schema-checked.
func New(schemas SchemaResolver) *Validator {
	return &Validator{
		validate: validator.New(),
		schemas:  schemas,
	}
}

// ValidateDefinition checks the definition and returns a *ValidationError
// describing every problem found, or nil.
func (v *Validator) ValidateDefinition(def *models.WorkflowDefinition) error {
	var issues []string

	if err := v.validate.Struct(def); err != nil {
		issues = append(issues, err.Error())
	}

	issues = append(issues, v.checkTrigger(&def.Trigger)...)
	issues = append(issues, v.checkGraph(def)...)

	for _, step := range def.Steps {
		issues = append(issues, v.checkStepConfig(def, step)...)
	}

	if len(issues) == 0 {
		return nil
	}

	return &ValidationError{DefinitionID: def.ID, Issues: issues}
}

func (v *Validator) checkTrigger(trigger *models.TriggerSpec) []string {
	var issues []string

	switch trigger.Type {
	case models.TriggerTypeManual:
		// No config required.
	case models.TriggerTypeSchedule:
		if trigger.Schedule == nil || trigger.Schedule.Cron == "" {
			issues = append(issues, "schedule trigger requires a cron expression")

			break
		}

		if _, err := cron.ParseStandard(trigger.Schedule.Cron); err != nil {
			issues = append(issues, fmt.Sprintf("invalid cron expression %q: %v", trigger.Schedule.Cron, err))
		}
	case models.TriggerTypeEvent:
		if trigger.Event == nil || trigger.Event.Name == "" {
			issues = append(issues, "event trigger requires an event name")
		}
	case models.TriggerTypeWebhook:
		if trigger.Webhook == nil || trigger.Webhook.Path == "" {
			issues = append(issues, "webhook trigger requires a path")
		}
	default:
		issues = append(issues, fmt.Sprintf("unknown trigger type %q", trigger.Type))
	}

	return issues
}

// checkGraph rejects duplicate step IDs, dangling depends_on references and
// cycles. Cycle detection is Kahn's algorithm: repeatedly remove zero
// in-degree nodes; anything left over sits on a cycle.
func (v *Validator) checkGraph(def *models.WorkflowDefinition) []string {
	var issues []string

	if len(def.Steps) == 0 {
		return []string{"definition has no steps"}
	}

	byID := make(map[string]*models.StepSpec, len(def.Steps))

	for _, step := range def.Steps {
		if _, dup := byID[step.ID]; dup {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", step.ID))

			continue
		}

		byID[step.ID] = step
	}

	indegree := make(map[string]int, len(byID))
	dependents := make(map[string][]string, len(byID))

	for _, step := range def.Steps {
		if _, ok := indegree[step.ID]; !ok {
			indegree[step.ID] = 0
		}

		for _, dep := range step.DependsOn {
			if dep == step.ID {
				issues = append(issues, fmt.Sprintf("step %q depends on itself", step.ID))

				continue
			}

			if _, ok := byID[dep]; !ok {
				issues = append(issues, fmt.Sprintf("step %q depends on unknown step %q", step.ID, dep))

				continue
			}

			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	queue := make([]string, 0, len(indegree))

	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited < len(indegree) {
		var cyclic []string

		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}

		sort.Strings(cyclic)
		issues = append(issues, fmt.Sprintf("dependency cycle involving steps: %s", strings.Join(cyclic, ", ")))
	}

	return issues
}

func (v *Validator) checkStepConfig(def *models.WorkflowDefinition, step *models.StepSpec) []string {
	var issues []string

	switch step.Type {
	case models.StepTypeCondition:
		if step.Condition == nil {
			issues = append(issues, fmt.Sprintf("condition step %q has no condition config", step.ID))

			break
		}

		issues = append(issues, v.checkBranches(def, step)...)
	case models.StepTypeApproval:
		if step.Approval == nil {
			issues = append(issues, fmt.Sprintf("approval step %q has no approval config", step.ID))

			break
		}

		if len(step.Approval.Approvers) == 0 {
			issues = append(issues, fmt.Sprintf("approval step %q has no approvers", step.ID))
		}

		if step.Approval.Timeout <= 0 {
			issues = append(issues, fmt.Sprintf("approval step %q has no timeout", step.ID))
		}
	case models.StepTypeDelay:
		if step.Delay == nil || step.Delay.Duration <= 0 {
			issues = append(issues, fmt.Sprintf("delay step %q has no duration", step.ID))
		}
	case models.StepTypeAction, models.StepTypeNotification, models.StepTypeIntegration:
		issues = append(issues, v.checkParameters(step)...)
	default:
		issues = append(issues, fmt.Sprintf("step %q has unknown type %q", step.ID, step.Type))
	}

	if step.Type != models.StepTypeCondition && step.Condition != nil {
		issues = append(issues, fmt.Sprintf("step %q carries a condition config but is of type %q", step.ID, step.Type))
	}

	if step.Type != models.StepTypeApproval && step.Approval != nil {
		issues = append(issues, fmt.Sprintf("step %q carries an approval config but is of type %q", step.ID, step.Type))
	}

	if step.Type != models.StepTypeDelay && step.Delay != nil {
		issues = append(issues, fmt.Sprintf("step %q carries a delay config but is of type %q", step.ID, step.Type))
	}

	return issues
}

// checkBranches enforces the branching contract: on_true and on_false are
// disjoint and every member depends on the condition step.
func (v *Validator) checkBranches(def *models.WorkflowDefinition, step *models.StepSpec) []string {
	var issues []string

	dependents := make(map[string]bool)
	for _, id := range def.Dependents(step.ID) {
		dependents[id] = true
	}

	onTrue := make(map[string]bool, len(step.Condition.OnTrue))

	for _, id := range step.Condition.OnTrue {
		onTrue[id] = true

		if !dependents[id] {
			issues = append(issues, fmt.Sprintf("condition step %q routes on_true to %q, which does not depend on it", step.ID, id))
		}
	}

	for _, id := range step.Condition.OnFalse {
		if onTrue[id] {
			issues = append(issues, fmt.Sprintf("condition step %q lists %q on both branches", step.ID, id))
		}

		if !dependents[id] {
			issues = append(issues, fmt.Sprintf("condition step %q routes on_false to %q, which does not depend on it", step.ID, id))
		}
	}

	return issues
}

// checkParameters validates opaque step parameters against the executor's
// JSON schema when one is registered for the step type.
func (v *Validator) checkParameters(step *models.StepSpec) []string {
	if v.schemas == nil {
		return nil
	}

	schema, ok := v.schemas.SchemaFor(step.Type)
	if !ok || schema == nil {
		return nil
	}

	params := step.Parameters
	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(params))
	if err != nil {
		return []string{fmt.Sprintf("step %q: schema validation failed: %v", step.ID, err)}
	}

	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, fmt.Sprintf("step %q: %s", step.ID, desc.String()))
	}

	return issues
}
