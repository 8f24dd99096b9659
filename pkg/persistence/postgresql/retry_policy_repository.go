package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// RetryPolicyRepository handles retry policy database operations. Delays
// are stored as milliseconds.
type RetryPolicyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *RetryPolicyRepository) Save(ctx context.Context, policy *models.RetryPolicy) error {
	query := `
		INSERT INTO retry_policies (id, workspace_id, name, max_attempts, backoff, initial_delay_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			name = EXCLUDED.name,
			max_attempts = EXCLUDED.max_attempts,
			backoff = EXCLUDED.backoff,
			initial_delay_ms = EXCLUDED.initial_delay_ms
	`

	_, err := r.db.ExecContext(ctx, query,
		policy.ID,
		nullString(policy.WorkspaceID),
		policy.Name,
		policy.MaxAttempts,
		policy.Backoff,
		policy.InitialDelay.Milliseconds(),
	)
	if err != nil {
		return persistence.NewStoreError("Save", policy.ID, err)
	}

	return nil
}

func (r *RetryPolicyRepository) GetByID(ctx context.Context, id string) (*models.RetryPolicy, error) {
	query := `
		SELECT id, workspace_id, name, max_attempts, backoff, initial_delay_ms
		FROM retry_policies
		WHERE id = $1
	`

	var (
		policy         models.RetryPolicy
		workspaceID    sql.NullString
		initialDelayMS int64
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&policy.ID,
		&workspaceID,
		&policy.Name,
		&policy.MaxAttempts,
		&policy.Backoff,
		&initialDelayMS,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRetryPolicyNotFound
		}

		return nil, persistence.NewStoreError("GetByID", id, err)
	}

	policy.WorkspaceID = workspaceID.String
	policy.InitialDelay = time.Duration(initialDelayMS) * time.Millisecond

	return &policy, nil
}
