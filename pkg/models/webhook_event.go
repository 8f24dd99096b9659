package models

import "time"

// WebhookEvent is the raw inbound delivery record. The HTTP boundary
// persists it before any processing so a re-delivery can be deduplicated
// by SourceID even when normalization later fails.
type WebhookEvent struct {
	ID         string            `json:"id"         validate:"required"`
	TriggerID  string            `json:"trigger_id" validate:"required"`
	SourceID   string            `json:"source_id"`
	RawPayload map[string]any    `json:"raw_payload"`
	Headers    map[string]string `json:"headers,omitempty"`
	Processed  bool              `json:"processed"`
	CreatedAt  time.Time         `json:"created_at"`
}
