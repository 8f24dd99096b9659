// Package web provides the HTTP surface: automation management, webhook
// intake, OAuth consent flows and trigger test runs.
package web

import "github.com/zaplet/zaplet/pkg/models"

// CreateAutomationRequest is the request body for creating an automation.
// Steps are optional at creation time and may be added with updates.
type CreateAutomationRequest struct {
	Name          string         `json:"name"            validate:"required,min=3"`
	WorkspaceID   string         `json:"workspace_id"    validate:"required"`
	Steps         []StepRequest  `json:"steps"           validate:"omitempty,dive"`
	RetryPolicyID string         `json:"retry_policy_id,omitempty"`
	Settings      map[string]any `json:"settings,omitempty"`
}

// UpdateAutomationRequest supports partial updates. Steps, when present,
// replace the existing step list wholesale.
type UpdateAutomationRequest struct {
	Name          *string                  `json:"name,omitempty"   validate:"omitempty,min=3"`
	Status        *models.AutomationStatus `json:"status,omitempty" validate:"omitempty,oneof=draft enabled disabled paused"`
	Steps         []StepRequest            `json:"steps,omitempty"  validate:"omitempty,dive"`
	RetryPolicyID *string                  `json:"retry_policy_id,omitempty"`
	Settings      map[string]any           `json:"settings,omitempty"`
}

// StepRequest is one step definition inside an automation request.
type StepRequest struct {
	ID            string          `json:"id"             validate:"required"`
	Kind          models.StepKind `json:"kind"           validate:"required,oneof=action condition"`
	Order         int             `json:"order"          validate:"gte=0"`
	IntegrationID string          `json:"integration_id,omitempty"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	ActionName    string          `json:"action_name,omitempty"`
	Config        map[string]any  `json:"config"`
}

// CreateTriggerRequest binds an automation to one integration trigger.
type CreateTriggerRequest struct {
	AutomationID  string             `json:"automation_id"  validate:"required"`
	IntegrationID string             `json:"integration_id" validate:"required"`
	TriggerKey    string             `json:"trigger_key"    validate:"required"`
	Type          models.TriggerType `json:"type"           validate:"required,oneof=poll webhook"`
	ConnectionID  string             `json:"connection_id,omitempty"`
	Config        map[string]any     `json:"config"`
}

// WebhookAck is the response body for accepted webhook deliveries.
type WebhookAck struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

func (r StepRequest) toModel(automationID string) *models.Step {
	return &models.Step{
		ID:            r.ID,
		AutomationID:  automationID,
		Kind:          r.Kind,
		Order:         r.Order,
		IntegrationID: r.IntegrationID,
		ConnectionID:  r.ConnectionID,
		ActionName:    r.ActionName,
		Config:        r.Config,
	}
}
