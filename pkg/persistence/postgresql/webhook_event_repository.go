package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// WebhookEventRepository stores raw inbound webhook deliveries.
type WebhookEventRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// Save persists a delivery. A re-delivery carrying the same trigger and
// source id leaves the existing row untouched.
func (r *WebhookEventRepository) Save(ctx context.Context, event *models.WebhookEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate webhook event ID: %w", err)
		}

		event.ID = id.String()
	}

	payloadJSON, err := json.Marshal(event.RawPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	headersJSON, err := json.Marshal(event.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhook_events (id, trigger_id, source_id, raw_payload, headers, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.TriggerID,
		nullString(event.SourceID),
		payloadJSON,
		headersJSON,
		event.Processed,
		event.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Save", event.ID, err)
	}

	return nil
}

// AttachSource records the provider-assigned source id once
// normalization has extracted it from the stored raw payload.
func (r *WebhookEventRepository) AttachSource(ctx context.Context, id, sourceID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE webhook_events SET source_id = $2 WHERE id = $1", id, nullString(sourceID))
	if err != nil {
		return persistence.NewStoreError("AttachSource", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrWebhookEventNotFound
	}

	return nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE webhook_events SET processed = TRUE WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("MarkProcessed", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrWebhookEventNotFound
	}

	return nil
}

func (r *WebhookEventRepository) ListUnprocessed(ctx context.Context, triggerID string) ([]*models.WebhookEvent, error) {
	query := `
		SELECT id, trigger_id, source_id, raw_payload, headers, processed, created_at
		FROM webhook_events
		WHERE trigger_id = $1 AND processed = FALSE
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, triggerID)
	if err != nil {
		return nil, persistence.NewStoreError("ListUnprocessed", triggerID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	events := make([]*models.WebhookEvent, 0)

	for rows.Next() {
		var (
			event                    models.WebhookEvent
			sourceID                 sql.NullString
			payloadJSON, headersJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.TriggerID,
			&sourceID,
			&payloadJSON,
			&headersJSON,
			&event.Processed,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook event: %w", err)
		}

		event.SourceID = sourceID.String

		if payloadJSON != nil {
			err := json.Unmarshal(payloadJSON, &event.RawPayload)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal raw payload: %w", err)
			}
		}

		if headersJSON != nil {
			err := json.Unmarshal(headersJSON, &event.Headers)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
			}
		}

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}

	return events, nil
}
