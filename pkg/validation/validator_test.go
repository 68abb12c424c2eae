package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxway/fluxway/pkg/models"
	"github.com/fluxway/fluxway/pkg/validation"
)

type schemaResolverStub struct {
	schemas map[models.StepType]map[string]any
}

func (s *schemaResolverStub) SchemaFor(stepType models.StepType) (map[string]any, bool) {
	schema, ok := s.schemas[stepType]

	return schema, ok
}

func validDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:      "wf-1",
		Name:    "invoice approval",
		Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
		Steps: []*models.StepSpec{
			{ID: "fetch", Type: models.StepTypeAction, Parameters: map[string]any{"url": "https://example.com"}},
			{ID: "check", Type: models.StepTypeCondition, DependsOn: []string{"fetch"},
				Condition: &models.ConditionConfig{Expression: "steps.fetch.ok"}},
			{ID: "approve", Type: models.StepTypeApproval, DependsOn: []string{"check"},
				Approval: &models.ApprovalConfig{
					Approvers:     []string{"manager"},
					Timeout:       models.Duration(time.Hour),
					TimeoutAction: models.TimeoutActionFail,
				}},
		},
	}
}

func TestValidator_AcceptsValidDefinition(t *testing.T) {
	t.Parallel()

	v := validation.New(nil)

	assert.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidator_GraphChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(def *models.WorkflowDefinition)
		wantErr string
	}{
		{
			name: "duplicate step id",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps = append(def.Steps, &models.StepSpec{
					ID: "fetch", Type: models.StepTypeAction,
				})
			},
			wantErr: `duplicate step id "fetch"`,
		},
		{
			name: "dangling dependency",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[0].DependsOn = []string{"ghost"}
			},
			wantErr: `depends on unknown step "ghost"`,
		},
		{
			name: "self dependency",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[0].DependsOn = []string{"fetch"}
			},
			wantErr: `depends on itself`,
		},
		{
			name: "cycle",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[0].DependsOn = []string{"approve"}
			},
			wantErr: "dependency cycle involving steps: approve, check, fetch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := validDefinition()
			tt.mutate(def)

			err := validation.New(nil).ValidateDefinition(def)
			require.Error(t, err)
			assert.True(t, validation.IsValidationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_TriggerChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		trigger models.TriggerSpec
		wantErr string
	}{
		{
			name:    "schedule without cron",
			trigger: models.TriggerSpec{Type: models.TriggerTypeSchedule},
			wantErr: "requires a cron expression",
		},
		{
			name: "schedule with bad cron",
			trigger: models.TriggerSpec{
				Type:     models.TriggerTypeSchedule,
				Schedule: &models.ScheduleTriggerConfig{Cron: "not a cron"},
			},
			wantErr: "invalid cron expression",
		},
		{
			name:    "event without name",
			trigger: models.TriggerSpec{Type: models.TriggerTypeEvent, Event: &models.EventTriggerConfig{}},
			wantErr: "requires an event name",
		},
		{
			name:    "webhook without path",
			trigger: models.TriggerSpec{Type: models.TriggerTypeWebhook},
			wantErr: "requires a path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := validDefinition()
			def.Trigger = tt.trigger

			err := validation.New(nil).ValidateDefinition(def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("valid schedule", func(t *testing.T) {
		t.Parallel()

		def := validDefinition()
		def.Trigger = models.TriggerSpec{
			Type:     models.TriggerTypeSchedule,
			Schedule: &models.ScheduleTriggerConfig{Cron: "*/5 * * * *"},
		}

		assert.NoError(t, validation.New(nil).ValidateDefinition(def))
	})
}

func TestValidator_StepConfigChecks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(def *models.WorkflowDefinition)
		wantErr string
	}{
		{
			name: "condition without config",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[1].Condition = nil
			},
			wantErr: "has no condition config",
		},
		{
			name: "approval without config",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[2].Approval = nil
			},
			wantErr: "has no approval config",
		},
		{
			name: "delay without duration",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps = append(def.Steps, &models.StepSpec{
					ID: "wait", Type: models.StepTypeDelay, Delay: &models.DelayConfig{},
				})
			},
			wantErr: "has no duration",
		},
		{
			name: "condition config on action step",
			mutate: func(def *models.WorkflowDefinition) {
				def.Steps[0].Condition = &models.ConditionConfig{Expression: "true"}
			},
			wantErr: "carries a condition config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			def := validDefinition()
			tt.mutate(def)

			err := validation.New(nil).ValidateDefinition(def)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_BranchChecks(t *testing.T) {
	t.Parallel()

	branchDef := func() *models.WorkflowDefinition {
		return &models.WorkflowDefinition{
			ID:      "wf-branch",
			Name:    "branching workflow",
			Trigger: models.TriggerSpec{Type: models.TriggerTypeManual},
			Steps: []*models.StepSpec{
				{ID: "check", Type: models.StepTypeCondition,
					Condition: &models.ConditionConfig{
						Expression: "trigger.ok",
						OnTrue:     []string{"yes"},
						OnFalse:    []string{"no"},
					}},
				{ID: "yes", Type: models.StepTypeAction, DependsOn: []string{"check"}},
				{ID: "no", Type: models.StepTypeAction, DependsOn: []string{"check"}},
			},
		}
	}

	t.Run("valid branches", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, validation.New(nil).ValidateDefinition(branchDef()))
	})

	t.Run("branch target not a dependent", func(t *testing.T) {
		t.Parallel()

		def := branchDef()
		def.Steps[1].DependsOn = nil

		err := validation.New(nil).ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `routes on_true to "yes", which does not depend on it`)
	})

	t.Run("overlapping branches", func(t *testing.T) {
		t.Parallel()

		def := branchDef()
		def.Steps[0].Condition.OnFalse = []string{"yes"}

		err := validation.New(nil).ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `lists "yes" on both branches`)
	})
}

func TestValidator_ParameterSchema(t *testing.T) {
	t.Parallel()

	resolver := &schemaResolverStub{schemas: map[models.StepType]map[string]any{
		models.StepTypeAction: {
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{"type": "string"},
			},
			"required": []string{"url"},
		},
	}}

	t.Run("valid parameters", func(t *testing.T) {
		t.Parallel()

		assert.NoError(t, validation.New(resolver).ValidateDefinition(validDefinition()))
	})

	t.Run("missing required parameter", func(t *testing.T) {
		t.Parallel()

		def := validDefinition()
		def.Steps[0].Parameters = map[string]any{}

		err := validation.New(resolver).ValidateDefinition(def)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url")
	})
}

func TestValidator_CollectsAllIssues(t *testing.T) {
	t.Parallel()

	def := validDefinition()
	def.Steps[0].DependsOn = []string{"ghost"}
	def.Steps[1].Condition = nil

	err := validation.New(nil).ValidateDefinition(def)
	require.Error(t, err)

	var validationErr *validation.ValidationError

	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "wf-1", validationErr.DefinitionID)
	assert.GreaterOrEqual(t, len(validationErr.Issues), 2)
}
