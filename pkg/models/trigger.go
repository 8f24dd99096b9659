package models

import "time"

// TriggerType distinguishes pull-style from push-style event sources.
type TriggerType string

const (
	TriggerTypePoll    TriggerType = "poll"
	TriggerTypeWebhook TriggerType = "webhook"
)

// Trigger binds an automation to one integration trigger key. For polling
// triggers LastRunAt is the watermark: the most recent OccurredAt among
// processed events. It only ever moves forward, and only in live mode.
type Trigger struct {
	ID            string         `json:"id"             validate:"required"`
	AutomationID  string         `json:"automation_id"  validate:"required"`
	IntegrationID string         `json:"integration_id" validate:"required"`
	TriggerKey    string         `json:"trigger_key"    validate:"required"`
	Type          TriggerType    `json:"type"           validate:"required,oneof=poll webhook"`
	ConnectionID  string         `json:"connection_id,omitempty"`
	Config        map[string]any `json:"config"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
