// Package lognotify implements the notification step as a structured log
// emission. It stands in for chat/email connectors in development and keeps
// notification steps observable in production logs.
package lognotify

import (
	"context"
	"fmt"

	"github.com/fluxway/fluxway/pkg/protocol"
)

type Executor struct {
	Message string
	Level   string
	Channel string
}

func NewExecutor(params map[string]any) (*Executor, error) {
	message, _ := params["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("missing 'message' in parameters")
	}

	level, _ := params["level"].(string)
	if level == "" {
		level = "info"
	}

	channel, _ := params["channel"].(string)

	return &Executor{Message: message, Level: level, Channel: channel}, nil
}

func (e *Executor) Execute(ctx context.Context, stepCtx protocol.StepContext) (map[string]any, error) {
	logger := stepCtx.Logger
	if e.Channel != "" {
		logger = logger.With("channel", e.Channel)
	}

	switch e.Level {
	case "debug":
		logger.DebugContext(ctx, e.Message)
	case "warn":
		logger.WarnContext(ctx, e.Message)
	case "error":
		logger.ErrorContext(ctx, e.Message)
	default:
		logger.InfoContext(ctx, e.Message)
	}

	return map[string]any{
		"notified": true,
		"message":  e.Message,
	}, nil
}

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) ID() string {
	return "notification"
}

func (f *Factory) Name() string {
	return "Notification"
}

func (f *Factory) Description() string {
	return "Emits a notification message to the service logs"
}

// Idempotent is true: re-sending a notification is harmless.
func (f *Factory) Idempotent() bool {
	return true
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"title":       "Notification Parameters",
		"description": "Configuration for notification steps",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to send",
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Severity of the notification",
				"enum":        []string{"debug", "info", "warn", "error"},
				"default":     "info",
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Logical channel the notification targets",
			},
		},
		"required": []string{"message"},
	}
}

func (f *Factory) Create(params map[string]any) (protocol.Executor, error) {
	return NewExecutor(params)
}
