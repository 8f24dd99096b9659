// Package googleforms implements the Google Forms connector: a webhook
// new_response trigger fed by a Forms add-on pushing submissions to us.
package googleforms

import (
	"context"
	"fmt"
	"time"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

const ID = "googleforms"

type Factory struct{}

func (f *Factory) ID() string   { return ID }
func (f *Factory) Name() string { return "Google Forms" }

func (f *Factory) Description() string {
	return "Trigger automations when a form receives a new response"
}

func (f *Factory) Create(connection *models.Connection) (integration.Service, error) {
	return &Service{connection: connection}, nil
}

type Service struct {
	connection *models.Connection
}

func (s *Service) ID() string { return ID }

// TestConnection always succeeds: responses are pushed to our webhook
// endpoint, there is no outbound credentialed call to exercise.
func (s *Service) TestConnection(_ context.Context) bool { return true }

func (s *Service) Connect(_ context.Context, _ map[string]any, _ string) (map[string]string, error) {
	return nil, nil
}

func (s *Service) Triggers() map[string]integration.TriggerDescriptor {
	return map[string]integration.TriggerDescriptor{
		"new_response": {
			Key:      "new_response",
			Name:     "New Form Response",
			Type:     models.TriggerTypeWebhook,
			Testable: true,
			ConfigSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"form_id_equals": map[string]any{"type": "string"},
				},
			},
			Filter:    integration.ApplyFieldFilters,
			Normalize: normalizeResponse,
			Sample:    sampleResponse,
		},
	}
}

func (s *Service) Actions() map[string]integration.ActionDescriptor {
	return map[string]integration.ActionDescriptor{}
}

func (s *Service) PerformAction(_ context.Context, actionKey string, _ map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("%w: %q on %q", integration.ErrUnknownAction, actionKey, ID)
}

// normalizeResponse converts one pushed submission payload into the
// canonical event. The add-on delivers form_id, response_id, create_time
// (RFC 3339) and an answers object keyed by question title.
func normalizeResponse(raw map[string]any) (*models.Event, error) {
	responseID, _ := raw["response_id"].(string)
	if responseID == "" {
		return nil, integration.NewServiceError(ID, "normalize", fmt.Errorf("response without response_id"))
	}

	createTime, _ := raw["create_time"].(string)

	occurredAt, err := time.Parse(time.RFC3339, createTime)
	if err != nil {
		return nil, integration.NewServiceError(ID, "normalize",
			fmt.Errorf("response %s has no usable create_time: %w", responseID, err))
	}

	data := map[string]any{
		"form_id": raw["form_id"],
		"answers": raw["answers"],
	}

	return models.NewEvent(ID, "new_response", responseID, occurredAt.UTC(), data, raw), nil
}

func sampleResponse() *models.Event {
	raw := map[string]any{
		"form_id":     "1FAIpQLSd_sample",
		"response_id": "ACYDBNj_sample",
		"create_time": "2026-01-15T10:30:00Z",
		"answers": map[string]any{
			"Name":  "Ada Lovelace",
			"Email": "ada@example.com",
		},
	}

	event, _ := normalizeResponse(raw)

	return event
}
