package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is the canonical normalized occurrence produced by any trigger,
// independent of the source integration. Immutable once constructed.
//
// SourceID is the provider-assigned identifier of the occurrence;
// (IntegrationID, TriggerKey, SourceID) identify a logically unique event,
// so webhook re-deliveries never start a second execution of the same
// automation. OccurredAt always carries the source's own timestamp, never
// local processing time.
type Event struct {
	ID            string         `json:"id"`
	IntegrationID string         `json:"integration_id"`
	TriggerKey    string         `json:"trigger_key"`
	SourceID      string         `json:"source_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// NewEvent builds an Event with a fresh identifier.
func NewEvent(integrationID, triggerKey, sourceID string, occurredAt time.Time, data, raw map[string]any) *Event {
	return &Event{
		ID:            "evt-" + uuid.New().String(),
		IntegrationID: integrationID,
		TriggerKey:    triggerKey,
		SourceID:      sourceID,
		OccurredAt:    occurredAt,
		Data:          data,
		Raw:           raw,
	}
}

// DedupKey returns the identity by which re-deliveries of the same
// occurrence are collapsed for one automation.
func (e *Event) DedupKey(automationID string) string {
	return automationID + ":" + e.IntegrationID + ":" + e.TriggerKey + ":" + e.SourceID
}
