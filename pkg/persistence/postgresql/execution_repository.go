package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// ExecutionRepository handles execution and task database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.Execution) error {
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(execution.TriggerEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	metadataJSON, err := json.Marshal(execution.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO executions (id, automation_id, trigger_event, status,
			attempt, metadata, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt = EXCLUDED.attempt,
			metadata = EXCLUDED.metadata,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.AutomationID,
		eventJSON,
		execution.Status,
		execution.Attempt,
		metadataJSON,
		execution.StartedAt,
		execution.FinishedAt,
		execution.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `
		SELECT id, automation_id, trigger_event, status,
			attempt, metadata, started_at, finished_at, created_at
		FROM executions
		WHERE id = $1
	`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrExecutionNotFound
		}

		return nil, persistence.NewStoreError("GetExecutionByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListExecutionsByAutomation(ctx context.Context, automationID string) ([]*models.Execution, error) {
	query := `
		SELECT id, automation_id, trigger_event, status,
			attempt, metadata, started_at, finished_at, created_at
		FROM executions
		WHERE automation_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, automationID)
	if err != nil {
		return nil, persistence.NewStoreError("ListExecutionsByAutomation", automationID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) UpdateExecutionStatus(
	ctx context.Context,
	id string,
	status models.ExecutionStatus,
	finishedAt *time.Time,
) error {
	query := `
		UPDATE executions
		SET status = $2, finished_at = COALESCE($3, finished_at)
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, finishedAt)
	if err != nil {
		return persistence.NewStoreError("UpdateExecutionStatus", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrExecutionNotFound
	}

	return nil
}

func (r *ExecutionRepository) SaveTask(ctx context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	inputJSON, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal task input: %w", err)
	}

	outputJSON, err := json.Marshal(task.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal task output: %w", err)
	}

	query := `
		INSERT INTO execution_tasks (id, execution_id, step_id, status, input,
			output, error_message, attempt, started_at, finished_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error_message = EXCLUDED.error_message,
			attempt = EXCLUDED.attempt,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.ExecutionID,
		nullString(task.StepID),
		task.Status,
		inputJSON,
		outputJSON,
		nullString(task.Error),
		task.Attempt,
		task.StartedAt,
		task.FinishedAt,
		task.CreatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("SaveTask", task.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) ListTasksByExecution(ctx context.Context, executionID string) ([]*models.Task, error) {
	query := `
		SELECT id, execution_id, step_id, status, input,
			output, error_message, attempt, started_at, finished_at, created_at
		FROM execution_tasks
		WHERE execution_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, persistence.NewStoreError("ListTasksByExecution", executionID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	tasks := make([]*models.Task, 0)

	for rows.Next() {
		var (
			task                  models.Task
			stepID, errorMessage  sql.NullString
			inputJSON, outputJSON []byte
		)

		err := rows.Scan(
			&task.ID,
			&task.ExecutionID,
			&stepID,
			&task.Status,
			&inputJSON,
			&outputJSON,
			&errorMessage,
			&task.Attempt,
			&task.StartedAt,
			&task.FinishedAt,
			&task.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		task.StepID = stepID.String
		task.Error = errorMessage.String

		if inputJSON != nil {
			err := json.Unmarshal(inputJSON, &task.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal task input: %w", err)
			}
		}

		if outputJSON != nil {
			err := json.Unmarshal(outputJSON, &task.Output)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal task output: %w", err)
			}
		}

		tasks = append(tasks, &task)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.Execution, error) {
	var (
		execution              models.Execution
		eventJSON, metadataJSON []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.AutomationID,
		&eventJSON,
		&execution.Status,
		&execution.Attempt,
		&metadataJSON,
		&execution.StartedAt,
		&execution.FinishedAt,
		&execution.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if eventJSON != nil {
		err := json.Unmarshal(eventJSON, &execution.TriggerEvent)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger event: %w", err)
		}
	}

	if metadataJSON != nil {
		err := json.Unmarshal(metadataJSON, &execution.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &execution, nil
}
