package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// TriggerRepository handles trigger-related database operations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	now := time.Now().UTC()

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = now
	}

	trigger.UpdatedAt = now

	if trigger.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate trigger ID: %w", err)
		}

		trigger.ID = id.String()
	}

	configJSON, err := json.Marshal(trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO triggers (id, automation_id, integration_id, trigger_key,
			trigger_type, connection_id, config, last_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			automation_id = EXCLUDED.automation_id,
			integration_id = EXCLUDED.integration_id,
			trigger_key = EXCLUDED.trigger_key,
			trigger_type = EXCLUDED.trigger_type,
			connection_id = EXCLUDED.connection_id,
			config = EXCLUDED.config,
			last_run_at = EXCLUDED.last_run_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		trigger.ID,
		trigger.AutomationID,
		trigger.IntegrationID,
		trigger.TriggerKey,
		trigger.Type,
		nullString(trigger.ConnectionID),
		configJSON,
		trigger.LastRunAt,
		trigger.CreatedAt,
		trigger.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Save", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	query := `
		SELECT id, automation_id, integration_id, trigger_key,
			trigger_type, connection_id, config, last_run_at, created_at, updated_at
		FROM triggers
		WHERE id = $1
	`

	trigger, err := scanTrigger(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrTriggerNotFound
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListByType(ctx context.Context, triggerType models.TriggerType) ([]*models.Trigger, error) {
	query := `
		SELECT id, automation_id, integration_id, trigger_key,
			trigger_type, connection_id, config, last_run_at, created_at, updated_at
		FROM triggers
		WHERE trigger_type = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, triggerType)
	if err != nil {
		return nil, persistence.NewStoreError("ListByType", string(triggerType), err)
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

// UpdateLastRun advances the polling watermark. The guard in the WHERE
// clause keeps the watermark monotonic under concurrent pollers.
func (r *TriggerRepository) UpdateLastRun(ctx context.Context, id string, lastRunAt time.Time) error {
	query := `
		UPDATE triggers
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1 AND (last_run_at IS NULL OR last_run_at <= $2)
	`

	result, err := r.db.ExecContext(ctx, query, id, lastRunAt)
	if err != nil {
		return persistence.NewStoreError("UpdateLastRun", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		_, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}

		return persistence.NewStoreError("UpdateLastRun", id, persistence.ErrStaleWatermark)
	}

	return nil
}

func (r *TriggerRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = $1", id)
	if err != nil {
		return persistence.NewStoreError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrTriggerNotFound
	}

	return nil
}

func scanTrigger(scanner interface {
	Scan(dest ...any) error
}) (*models.Trigger, error) {
	var (
		trigger      models.Trigger
		connectionID sql.NullString
		configJSON   []byte
	)

	err := scanner.Scan(
		&trigger.ID,
		&trigger.AutomationID,
		&trigger.IntegrationID,
		&trigger.TriggerKey,
		&trigger.Type,
		&connectionID,
		&configJSON,
		&trigger.LastRunAt,
		&trigger.CreatedAt,
		&trigger.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	trigger.ConnectionID = connectionID.String

	if configJSON != nil {
		err := json.Unmarshal(configJSON, &trigger.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	return &trigger, nil
}
