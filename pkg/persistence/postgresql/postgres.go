// Package postgresql provides the PostgreSQL persistence implementation
// for the automation engine.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	connections   *ConnectionRepository
	automations   *AutomationRepository
	triggers      *TriggerRepository
	executions    *ExecutionRepository
	retryPolicies *RetryPolicyRepository
	webhookEvents *WebhookEventRepository
}

// NewPersistence connects to the database and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		connections:   &ConnectionRepository{db: database, logger: logger},
		automations:   &AutomationRepository{db: database, logger: logger},
		triggers:      &TriggerRepository{db: database, logger: logger},
		executions:    &ExecutionRepository{db: database, logger: logger},
		retryPolicies: &RetryPolicyRepository{db: database, logger: logger},
		webhookEvents: &WebhookEventRepository{db: database, logger: logger},
	}, nil
}

func (p *Persistence) ConnectionRepository() persistence.ConnectionRepository {
	return p.connections
}

func (p *Persistence) AutomationRepository() persistence.AutomationRepository {
	return p.automations
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return p.triggers
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) RetryPolicyRepository() persistence.RetryPolicyRepository {
	return p.retryPolicies
}

func (p *Persistence) WebhookEventRepository() persistence.WebhookEventRepository {
	return p.webhookEvents
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	err := rows.Close()
	if err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
