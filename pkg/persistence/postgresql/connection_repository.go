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

// ConnectionRepository handles connection-related database operations.
type ConnectionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *ConnectionRepository) Save(ctx context.Context, connection *models.Connection) error {
	now := time.Now().UTC()

	if connection.CreatedAt.IsZero() {
		connection.CreatedAt = now
	}

	connection.UpdatedAt = now

	if connection.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate connection ID: %w", err)
		}

		connection.ID = id.String()
	}

	configJSON, err := json.Marshal(connection.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	secretsJSON, err := json.Marshal(connection.Secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	query := `
		INSERT INTO connections (id, workspace_id, integration_id, display_name,
			config, secrets, status, last_tested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			integration_id = EXCLUDED.integration_id,
			display_name = EXCLUDED.display_name,
			config = EXCLUDED.config,
			secrets = EXCLUDED.secrets,
			status = EXCLUDED.status,
			last_tested_at = EXCLUDED.last_tested_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		connection.ID,
		connection.WorkspaceID,
		connection.IntegrationID,
		connection.DisplayName,
		configJSON,
		secretsJSON,
		connection.Status,
		connection.LastTestedAt,
		connection.CreatedAt,
		connection.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("Save", connection.ID, err)
	}

	return nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `
		SELECT id, workspace_id, integration_id, display_name,
			config, secrets, status, last_tested_at, created_at, updated_at
		FROM connections
		WHERE id = $1
	`

	connection, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrConnectionNotFound
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	return connection, nil
}

func (r *ConnectionRepository) ListByWorkspace(ctx context.Context, workspaceID string) ([]*models.Connection, error) {
	query := `
		SELECT id, workspace_id, integration_id, display_name,
			config, secrets, status, last_tested_at, created_at, updated_at
		FROM connections
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, persistence.NewStoreError("ListByWorkspace", workspaceID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		connection, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		connections = append(connections, connection)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

// UpdateSecrets merges a secrets patch into the stored secrets. Existing
// keys absent from the patch are preserved.
func (r *ConnectionRepository) UpdateSecrets(ctx context.Context, id string, secrets map[string]string) error {
	patchJSON, err := json.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets patch: %w", err)
	}

	query := `
		UPDATE connections
		SET secrets = COALESCE(secrets, '{}'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, patchJSON)
	if err != nil {
		return persistence.NewStoreError("UpdateSecrets", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrConnectionNotFound
	}

	return nil
}

func (r *ConnectionRepository) UpdateStatus(
	ctx context.Context,
	id string,
	status models.ConnectionStatus,
	lastTestedAt *time.Time,
) error {
	query := `
		UPDATE connections
		SET status = $2, last_tested_at = COALESCE($3, last_tested_at), updated_at = NOW()
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, status, lastTestedAt)
	if err != nil {
		return persistence.NewStoreError("UpdateStatus", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrConnectionNotFound
	}

	return nil
}

func scanConnection(scanner interface {
	Scan(dest ...any) error
}) (*models.Connection, error) {
	var (
		connection              models.Connection
		displayName             sql.NullString
		configJSON, secretsJSON []byte
	)

	err := scanner.Scan(
		&connection.ID,
		&connection.WorkspaceID,
		&connection.IntegrationID,
		&displayName,
		&configJSON,
		&secretsJSON,
		&connection.Status,
		&connection.LastTestedAt,
		&connection.CreatedAt,
		&connection.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	connection.DisplayName = displayName.String

	if configJSON != nil {
		err := json.Unmarshal(configJSON, &connection.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if secretsJSON != nil {
		err := json.Unmarshal(secretsJSON, &connection.Secrets)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal secrets: %w", err)
		}
	}

	return &connection, nil
}
