package protocol

import (
	"context"
	"log/slog"
)

// TriggerCallback is invoked by a trigger listener when its source fires.
// The payload becomes the execution's trigger data.
type TriggerCallback func(ctx context.Context, definitionID string, triggeredBy string, data map[string]any) error

// Trigger is a running listener bound to one definition: a cron schedule, a
// webhook route, a queue consumer. Start returns once the listener is
// installed; firing happens through the callback.
type Trigger interface {
	Start(ctx context.Context, callback TriggerCallback) error
	Stop(ctx context.Context) error
	Validate(ctx context.Context) error
}

// TriggerFactory creates trigger listeners for one trigger type.
type TriggerFactory interface {
	Create(config map[string]any, logger *slog.Logger) (Trigger, error)
	ID() string
}
