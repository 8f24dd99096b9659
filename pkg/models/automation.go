package models

import "time"

// AutomationStatus represents the lifecycle state of an automation.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"    // Editable, never triggered
	AutomationStatusEnabled  AutomationStatus = "enabled"  // Accepts new triggering events
	AutomationStatusDisabled AutomationStatus = "disabled" // Ignores events
	AutomationStatusPaused   AutomationStatus = "paused"   // Temporarily ignores events
)

// Automation is a user-defined workflow: one trigger plus ordered steps.
type Automation struct {
	ID            string           `json:"id"           validate:"required"`
	WorkspaceID   string           `json:"workspace_id" validate:"required"`
	Name          string           `json:"name"         validate:"required,min=3"`
	Status        AutomationStatus `json:"status"       validate:"required"`
	Steps         []*Step          `json:"steps"`
	TriggerID     string           `json:"trigger_id,omitempty"`
	RetryPolicyID string           `json:"retry_policy_id,omitempty"`
	Settings      map[string]any   `json:"settings,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty"`
}

// AcceptsEvents reports whether new triggering events may start executions.
// Disabled, paused and draft automations discard events.
func (a *Automation) AcceptsEvents() bool {
	return a.Status == AutomationStatusEnabled
}

// StepKind distinguishes side-effecting steps from branch points.
type StepKind string

const (
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
)

// Step is a single unit inside an automation, ordered by Order. Action
// steps call an integration's action; condition steps evaluate a
// predicate and may end the run early.
type Step struct {
	ID            string         `json:"id"         validate:"required"`
	AutomationID  string         `json:"automation_id"`
	Kind          StepKind       `json:"kind"       validate:"required,oneof=action condition"`
	Order         int            `json:"order"      validate:"gte=0"`
	IntegrationID string         `json:"integration_id,omitempty"`
	ConnectionID  string         `json:"connection_id,omitempty"`
	ActionName    string         `json:"action_name,omitempty"`
	Config        map[string]any `json:"config"`
}
