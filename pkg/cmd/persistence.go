package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/persistence/file"
	"github.com/zaplet/zaplet/pkg/persistence/postgresql"
)

// NewPersistence dispatches on the database URL scheme. postgres:// and
// postgresql:// select the PostgreSQL store; anything else is treated
// as a file path for the flat-file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic("failed to initialize postgresql persistence: " + err.Error())
		}

		return store
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://"))
	}
}
