// Package httpcall provides the HTTP-backed executor used for action and
// integration steps: it performs a request described by the step parameters
// and returns the response as the step output.
package httpcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fluxway/fluxway/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrURLMissing is returned when the step parameters carry no URL.
	ErrURLMissing = errors.New("missing or invalid 'url' in parameters")

	// ErrServerError is returned for 5xx responses.
	ErrServerError = errors.New("server error during HTTP call")
)

// Executor performs one HTTP request per step execution.
type Executor struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	Timeout time.Duration

	client *http.Client
}

// NewExecutor builds an Executor from step parameters.
func NewExecutor(params map[string]any) (*Executor, error) {
	url, ok := params["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLMissing
	}

	method, _ := params["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := params["body"].(string)

	headers := make(map[string]string)

	if headersParam, exists := params["headers"]; exists {
		if headersMap, ok := headersParam.(map[string]any); ok {
			for k, v := range headersMap {
				if strVal, ok := v.(string); ok {
					headers[k] = strVal
				}
			}
		}
	}

	timeout := defaultTimeout
	if seconds, ok := params["timeout"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Executor{
		Method:  strings.ToUpper(method),
		URL:     url,
		Headers: headers,
		Body:    body,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Execute performs the request. Network-level failures are reported as
// dispatch errors so the engine's retry policy applies; HTTP error statuses
// are final step failures.
func (e *Executor) Execute(ctx context.Context, stepCtx protocol.StepContext) (map[string]any, error) {
	logger := stepCtx.Logger.With("url", e.URL, "method", e.Method)
	logger.InfoContext(ctx, "Executing HTTP call")

	var bodyReader io.Reader
	if e.Body != "" {
		bodyReader = strings.NewReader(e.Body)
	}

	req, err := http.NewRequestWithContext(ctx, e.Method, e.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, v := range e.Headers {
		req.Header.Set(k, v)
	}

	if e.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, protocol.NewDispatchError(err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close response body", "error", err)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, protocol.NewDispatchError(
			fmt.Errorf("%w: status %d", ErrServerError, resp.StatusCode))
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("http call failed with status %d: %s", resp.StatusCode, string(raw))
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
	}

	var decoded any
	if json.Unmarshal(raw, &decoded) == nil {
		output["body"] = decoded
	} else {
		output["body"] = string(raw)
	}

	logger.InfoContext(ctx, "HTTP call completed", "status_code", resp.StatusCode)

	return output, nil
}
