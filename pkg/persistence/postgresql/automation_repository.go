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

// AutomationRepository handles automation-related database operations.
// Steps are stored in their own table and rewritten on every save.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *AutomationRepository) Save(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()

	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	if automation.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate automation ID: %w", err)
		}

		automation.ID = id.String()
	}

	settingsJSON, err := json.Marshal(automation.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO automations (id, workspace_id, name, status, trigger_id,
			retry_policy_id, settings, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			trigger_id = EXCLUDED.trigger_id,
			retry_policy_id = EXCLUDED.retry_policy_id,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = tx.ExecContext(ctx, query,
		automation.ID,
		automation.WorkspaceID,
		automation.Name,
		automation.Status,
		nullString(automation.TriggerID),
		nullString(automation.RetryPolicyID),
		settingsJSON,
		automation.CreatedAt,
		automation.UpdatedAt,
		automation.DeletedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Save", automation.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM automation_steps WHERE automation_id = $1", automation.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	err = r.saveSteps(ctx, tx, automation)
	if err != nil {
		return fmt.Errorf("failed to save steps: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *AutomationRepository) GetByID(ctx context.Context, id string) (*models.Automation, error) {
	query := `
		SELECT id, workspace_id, name, status, trigger_id,
			retry_policy_id, settings, created_at, updated_at, deleted_at
		FROM automations
		WHERE id = $1 AND deleted_at IS NULL
	`

	automation, err := r.scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrAutomationNotFound
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	err = r.loadSteps(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}

	return automation, nil
}

func (r *AutomationRepository) ListEnabled(ctx context.Context) ([]*models.Automation, error) {
	query := `
		SELECT id, workspace_id, name, status, trigger_id,
			retry_policy_id, settings, created_at, updated_at, deleted_at
		FROM automations
		WHERE deleted_at IS NULL AND status = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, models.AutomationStatusEnabled)
	if err != nil {
		return nil, persistence.NewStoreError("ListEnabled", "", err)
	}

	defer closeRows(ctx, r.logger, rows)

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := r.scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	for _, automation := range automations {
		err = r.loadSteps(ctx, automation)
		if err != nil {
			return nil, fmt.Errorf("failed to load steps: %w", err)
		}
	}

	return automations, nil
}

// Delete soft deletes an automation by setting deleted_at.
func (r *AutomationRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE automations SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return persistence.NewStoreError("Delete", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrAutomationNotFound
	}

	return nil
}

func (r *AutomationRepository) saveSteps(ctx context.Context, tx *sql.Tx, automation *models.Automation) error {
	for _, step := range automation.Steps {
		configJSON, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step config: %w", err)
		}

		query := `
			INSERT INTO automation_steps (automation_id, id, kind, step_order,
				integration_id, connection_id, action_name, config)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		_, err = tx.ExecContext(ctx, query,
			automation.ID,
			step.ID,
			step.Kind,
			step.Order,
			nullString(step.IntegrationID),
			nullString(step.ConnectionID),
			nullString(step.ActionName),
			configJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (r *AutomationRepository) loadSteps(ctx context.Context, automation *models.Automation) error {
	query := `
		SELECT id, kind, step_order, integration_id, connection_id, action_name, config
		FROM automation_steps
		WHERE automation_id = $1
		ORDER BY step_order
	`

	rows, err := r.db.QueryContext(ctx, query, automation.ID)
	if err != nil {
		return fmt.Errorf("failed to query steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	steps := make([]*models.Step, 0)

	for rows.Next() {
		var (
			step                                   models.Step
			integrationID, connectionID, actionName sql.NullString
			configJSON                              []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.Kind,
			&step.Order,
			&integrationID,
			&connectionID,
			&actionName,
			&configJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		step.AutomationID = automation.ID
		step.IntegrationID = integrationID.String
		step.ConnectionID = connectionID.String
		step.ActionName = actionName.String

		if configJSON != nil {
			err := json.Unmarshal(configJSON, &step.Config)
			if err != nil {
				return fmt.Errorf("failed to unmarshal step config: %w", err)
			}
		}

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	automation.Steps = steps

	return nil
}

func (r *AutomationRepository) scanAutomation(scanner interface {
	Scan(dest ...any) error
}) (*models.Automation, error) {
	var (
		automation               models.Automation
		triggerID, retryPolicyID sql.NullString
		settingsJSON             []byte
	)

	err := scanner.Scan(
		&automation.ID,
		&automation.WorkspaceID,
		&automation.Name,
		&automation.Status,
		&triggerID,
		&retryPolicyID,
		&settingsJSON,
		&automation.CreatedAt,
		&automation.UpdatedAt,
		&automation.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	automation.TriggerID = triggerID.String
	automation.RetryPolicyID = retryPolicyID.String

	if settingsJSON != nil {
		err := json.Unmarshal(settingsJSON, &automation.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &automation, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
