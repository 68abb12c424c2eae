package httpcall

import (
	"fmt"

	"github.com/fluxway/fluxway/pkg/protocol"
)

// Factory serves HTTP calls under a configurable step type so the same
// implementation backs both "action" and "integration" steps.
type Factory struct {
	id         string
	idempotent bool
}

// NewFactory creates a factory registered under id. idempotent declares
// whether requests may be retried automatically after transient failures;
// set it false for steps with non-idempotent side effects.
func NewFactory(id string, idempotent bool) *Factory {
	return &Factory{id: id, idempotent: idempotent}
}

func (f *Factory) ID() string {
	return f.id
}

func (f *Factory) Name() string {
	return "HTTP Call"
}

func (f *Factory) Description() string {
	return "Performs an HTTP request and returns the response as the step output"
}

func (f *Factory) Idempotent() bool {
	return f.idempotent
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "HTTP Call Parameters",
		"description": "Configuration for HTTP-backed steps",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Request URL",
				"examples":    []string{"https://erp.internal/api/invoices"},
			},
			"method": map[string]any{
				"type":        "string",
				"description": "HTTP method",
				"enum":        []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
				"default":     "GET",
			},
			"headers": map[string]any{
				"type":                 "object",
				"description":          "Request headers",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body",
			},
			"timeout": map[string]any{
				"type":        "number",
				"description": "Request timeout in seconds",
			},
		},
		"required": []string{"url"},
	}
}

func (f *Factory) Create(params map[string]any) (protocol.Executor, error) {
	executor, err := NewExecutor(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create http executor: %w", err)
	}

	return executor, nil
}
