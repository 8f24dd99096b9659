// Package httpbridge implements a generic outbound HTTP action so
// automations can reach services without a dedicated connector.
package httpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

const (
	ID = "httpbridge"

	defaultTimeout = 30 * time.Second
)

type Factory struct {
	Client *http.Client
}

func (f *Factory) ID() string   { return ID }
func (f *Factory) Name() string { return "HTTP" }

func (f *Factory) Description() string {
	return "Send an HTTP request to any URL"
}

func (f *Factory) Create(connection *models.Connection) (integration.Service, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	return &Service{connection: connection, client: client}, nil
}

type Service struct {
	connection *models.Connection
	client     *http.Client
}

func (s *Service) ID() string { return ID }

func (s *Service) TestConnection(_ context.Context) bool { return true }

func (s *Service) Connect(_ context.Context, _ map[string]any, _ string) (map[string]string, error) {
	return nil, nil
}

func (s *Service) Triggers() map[string]integration.TriggerDescriptor {
	return map[string]integration.TriggerDescriptor{}
}

func (s *Service) Actions() map[string]integration.ActionDescriptor {
	return map[string]integration.ActionDescriptor{
		"request": {
			Key:  "request",
			Name: "HTTP Request",
			ConfigSchema: map[string]any{
				"type":     "object",
				"required": []any{"url"},
				"properties": map[string]any{
					"url":    map[string]any{"type": "string"},
					"method": map[string]any{"type": "string"},
					"headers": map[string]any{
						"type":                 "object",
						"additionalProperties": map[string]any{"type": "string"},
					},
					"body":            map[string]any{"type": "string"},
					"timeout_seconds": map[string]any{"type": "number"},
				},
			},
		},
	}
}

func (s *Service) PerformAction(ctx context.Context, actionKey string, payload map[string]any) (map[string]any, error) {
	if actionKey != "request" {
		return nil, fmt.Errorf("%w: %q on %q", integration.ErrUnknownAction, actionKey, ID)
	}

	return s.request(ctx, payload)
}

func (s *Service) request(ctx context.Context, payload map[string]any) (map[string]any, error) {
	rawURL, _ := payload["url"].(string)

	method, _ := payload["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	method = strings.ToUpper(method)

	timeout := defaultTimeout
	if seconds, ok := payload["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader

	body, _ := payload["body"].(string)
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, integration.NewServiceError(ID, "request", err)
	}

	if headers, ok := payload["headers"].(map[string]any); ok {
		for key, value := range headers {
			if text, ok := value.(string); ok {
				req.Header.Set(key, text)
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Timeouts and connection failures are worth another attempt.
		return nil, fmt.Errorf("%s %s: %w: %v", method, rawURL, integration.ErrTransientExternal, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, integration.NewServiceError(ID, "request", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s %s: status %d: %w", method, rawURL, resp.StatusCode, integration.ErrTransientExternal)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s %s: status %d: %w", method, rawURL, resp.StatusCode, integration.ErrAuthExpired)
	case resp.StatusCode >= 400:
		return nil, integration.NewServiceError(ID, "request", fmt.Errorf("status %d", resp.StatusCode))
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        decodeBody(respBody),
	}, nil
}

// decodeBody surfaces JSON responses as structured data so later steps
// can template over fields; anything else passes through as a string.
func decodeBody(body []byte) any {
	var decoded any

	err := json.Unmarshal(body, &decoded)
	if err != nil {
		return string(body)
	}

	return decoded
}
