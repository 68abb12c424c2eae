package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fluxway/fluxway/pkg/protocol"
)

var (
	globalServerManager *ServerManager
	once                sync.Once
)

// Handler binds one registered webhook path to the definition it starts.
type Handler struct {
	DefinitionID string
	Callback     protocol.TriggerCallback
	Logger       *slog.Logger
}

// ServerManager runs a single HTTP server shared by all webhook triggers.
// Each trigger registers its path; requests route to the matching handler.
type ServerManager struct {
	server   *http.Server
	handlers map[string]*Handler
	mu       sync.RWMutex
	logger   *slog.Logger
	port     int
	started  bool
	done     chan struct{}
	doneOnce sync.Once
}

func GetServerManager(port int, logger *slog.Logger) *ServerManager {
	once.Do(func() {
		globalServerManager = &ServerManager{
			handlers: make(map[string]*Handler),
			logger:   logger.With("module", "webhook_server_manager"),
			port:     port,
			done:     make(chan struct{}),
		}
	})

	return globalServerManager
}

func GetGlobalServerManager() *ServerManager {
	return globalServerManager
}

func (sm *ServerManager) RegisterWebhook(path string, handler *Handler) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, exists := sm.handlers[path]; exists {
		return fmt.Errorf("webhook path %s already registered", path)
	}

	sm.handlers[path] = handler
	sm.logger.Info("Registered webhook handler", "path", path, "definition_id", handler.DefinitionID)

	return nil
}

func (sm *ServerManager) UnregisterWebhook(path string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if handler, exists := sm.handlers[path]; exists {
		delete(sm.handlers, path)
		sm.logger.Info("Unregistered webhook handler", "path", path, "definition_id", handler.DefinitionID)
	}
}

func (sm *ServerManager) Start(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", sm.handleWebhook)

	sm.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", sm.port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sm.logger.Info("Starting webhook HTTP server", "addr", sm.server.Addr)

		if err := sm.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sm.logger.Error("Failed to start webhook server", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		if err := sm.Stop(context.Background()); err != nil {
			sm.logger.Error("Failed to stop webhook server", "error", err)
		}
	}()

	sm.started = true
	sm.logger.Info("Webhook server manager started")

	return nil
}

func (sm *ServerManager) handleWebhook(w http.ResponseWriter, r *http.Request) {
	sm.mu.RLock()
	handler, exists := sm.handlers[r.URL.Path]
	sm.mu.RUnlock()

	if !exists {
		sm.logger.Warn("No handler found for webhook path", "path", r.URL.Path)
		http.Error(w, "Webhook path not found", http.StatusNotFound)

		return
	}

	handler.Logger.Info("Received webhook request", "method", r.Method, "path", r.URL.Path)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		handler.Logger.Error("Failed to read request body", "error", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)

		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			handler.Logger.Error("Failed to close request body", "error", err)
		}
	}()

	var bodyData any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &bodyData); err != nil {
			handler.Logger.Warn("Failed to parse JSON body, using raw string", "error", err)
			bodyData = string(body)
		}
	}

	headers := make(map[string]any)

	for name, values := range r.Header {
		if len(values) == 1 {
			headers[name] = values[0]
		} else {
			headers[name] = values
		}
	}

	query := make(map[string]any)

	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			query[name] = values[0]
		} else {
			query[name] = values
		}
	}

	triggerData := map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       query,
		"headers":     headers,
		"body":        bodyData,
		"remote_addr": r.RemoteAddr,
	}

	go func() {
		err := handler.Callback(context.Background(), handler.DefinitionID, "webhook:"+r.URL.Path, triggerData)
		if err != nil {
			handler.Logger.Error("Error starting execution for webhook trigger", "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  "accepted",
		"message": "webhook received",
	}); err != nil {
		handler.Logger.Error("Failed to encode response", "error", err)
	}
}

func (sm *ServerManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.started || sm.server == nil {
		return nil
	}

	sm.logger.Info("Stopping webhook server manager")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sm.server.Shutdown(shutdownCtx); err != nil {
		sm.logger.Error("Error shutting down webhook server", "error", err)

		return err
	}

	sm.started = false
	sm.doneOnce.Do(func() {
		close(sm.done)
	})
	sm.logger.Info("Webhook server manager stopped")

	return nil
}

func (sm *ServerManager) HandlerCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return len(sm.handlers)
}

func (sm *ServerManager) Done() <-chan struct{} {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.done
}

// ResetGlobalManager resets the shared manager between tests.
func ResetGlobalManager() {
	once = sync.Once{}
	globalServerManager = nil
}
