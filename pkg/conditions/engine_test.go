package conditions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxway/fluxway/pkg/conditions"
)

func TestEngine_EvaluateBool(t *testing.T) {
	t.Parallel()

	engine := conditions.NewEngine()

	env := map[string]any{
		"trigger": map[string]any{"amount": 150, "country": "BR"},
		"steps": map[string]any{
			"fetch": map[string]any{"status_code": 200},
		},
		"vars": map[string]any{"threshold": 100},
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{name: "trigger field comparison", expression: "trigger.amount > 100", want: true},
		{name: "step output lookup", expression: "steps.fetch.status_code == 200", want: true},
		{name: "variable reference", expression: "trigger.amount > vars.threshold", want: true},
		{name: "boolean combination", expression: `trigger.country == "BR" && trigger.amount < 100`, want: false},
		{name: "literal", expression: "true", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := engine.EvaluateBool(tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_EvaluateBoolErrors(t *testing.T) {
	t.Parallel()

	engine := conditions.NewEngine()

	t.Run("empty expression", func(t *testing.T) {
		t.Parallel()

		_, err := engine.EvaluateBool("", nil)
		assert.Error(t, err)
	})

	t.Run("non-boolean result", func(t *testing.T) {
		t.Parallel()

		_, err := engine.EvaluateBool("trigger.amount", map[string]any{
			"trigger": map[string]any{"amount": 42},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "want bool")
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()

		_, err := engine.EvaluateBool("amount >", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not compile")
	})

	t.Run("undefined variables evaluate against nil", func(t *testing.T) {
		t.Parallel()

		got, err := engine.EvaluateBool("missing == nil", map[string]any{})
		require.NoError(t, err)
		assert.True(t, got)
	})
}

func TestEngine_Compile(t *testing.T) {
	t.Parallel()

	engine := conditions.NewEngine()

	assert.NoError(t, engine.Compile("trigger.amount > 100"))
	assert.Error(t, engine.Compile("trigger.amount >"))
}

func TestEngine_CachesPrograms(t *testing.T) {
	t.Parallel()

	engine := conditions.NewEngine()

	// Same expression evaluated twice must hit the cache; the observable
	// contract is simply that results stay consistent.
	for range 3 {
		got, err := engine.EvaluateBool("1 < 2", nil)
		require.NoError(t, err)
		assert.True(t, got)
	}
}
