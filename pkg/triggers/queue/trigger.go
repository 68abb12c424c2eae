// Package queue implements the event trigger as a Redis-backed queue
// consumer: each fired business event is one JSON message on a list keyed by
// the event name. An optional predicate filters which payloads start an
// execution.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/fluxway/fluxway/pkg/conditions"
	"github.com/fluxway/fluxway/pkg/protocol"
)

const queueKeyPrefix = "fluxway:events:"

type Trigger struct {
	DefinitionID string
	EventName    string
	Predicate    string
	Connection   map[string]string
	Enabled      bool

	client     redis.UniversalClient
	conditions *conditions.Engine
	callback   protocol.TriggerCallback
	logger     *slog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewTrigger(config map[string]any, logger *slog.Logger) (*Trigger, error) {
	definitionID, _ := config["definition_id"].(string)
	eventName, _ := config["name"].(string)
	predicate, _ := config["predicate"].(string)

	connectionConfig, _ := config["connection"].(map[string]any)

	connection := make(map[string]string)
	for k, v := range connectionConfig {
		if str, ok := v.(string); ok {
			connection[k] = str
		}
	}

	enabled := true
	if enabledVal, ok := config["enabled"].(bool); ok {
		enabled = enabledVal
	}

	trigger := &Trigger{
		DefinitionID: definitionID,
		EventName:    eventName,
		Predicate:    predicate,
		Connection:   connection,
		Enabled:      enabled,
		conditions:   conditions.NewEngine(),
		stopCh:       make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"event", eventName,
			"definition_id", definitionID,
		),
	}

	if err := trigger.Validate(context.Background()); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate(_ context.Context) error {
	if t.DefinitionID == "" {
		return errors.New("event trigger definition_id is required")
	}

	if t.EventName == "" {
		return errors.New("event trigger name is required")
	}

	if t.Predicate != "" {
		if err := t.conditions.Compile(t.Predicate); err != nil {
			return fmt.Errorf("invalid event predicate: %w", err)
		}
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context, callback protocol.TriggerCallback) error {
	if !t.Enabled {
		t.logger.InfoContext(ctx, "Event trigger is disabled")

		return nil
	}

	t.logger.InfoContext(ctx, "Starting event trigger")
	t.callback = callback

	err := t.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize event queue client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := t.Connection["password"]
	db := 0

	if dbStr := t.Connection["db"]; dbStr != "" {
		if _, err := fmt.Sscanf(dbStr, "%d", &db); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := t.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (t *Trigger) queueKey() string {
	return queueKeyPrefix + t.EventName
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	t.logger.InfoContext(ctx, "Starting event consumer", "queue", t.queueKey())

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Event consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "Context cancelled, stopping event consumer")

			return
		default:
			err := t.processMessage(ctx)
			if err != nil {
				t.logger.ErrorContext(ctx, "Error processing event message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, 1*time.Second, t.queueKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from event queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	message := result[1]

	var triggerData map[string]any
	if err := json.Unmarshal([]byte(message), &triggerData); err != nil {
		triggerData = map[string]any{
			"message": message,
		}
	}

	if triggerData["timestamp"] == nil {
		triggerData["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}

	triggerData["event"] = t.EventName

	if t.Predicate != "" {
		match, err := t.conditions.EvaluateBool(t.Predicate, map[string]any{"event": triggerData})
		if err != nil {
			t.logger.WarnContext(ctx, "Event predicate evaluation failed, dropping message", "error", err)

			return nil
		}

		if !match {
			t.logger.DebugContext(ctx, "Event did not match predicate, dropping message")

			return nil
		}
	}

	go func() {
		err := t.callback(ctx, t.DefinitionID, "event:"+t.EventName, triggerData)
		if err != nil {
			t.logger.ErrorContext(ctx, "Error starting execution for event trigger", "error", err)
		}
	}()

	return nil
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping event trigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		err := t.client.Close()
		if err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
