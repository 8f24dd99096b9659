// Package main provides the zaplet poller: it runs polling triggers on
// a schedule and feeds the resulting events to the workers.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/zaplet/zaplet/pkg/cmd"
	"github.com/zaplet/zaplet/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "zaplet-poller",
		Usage:                 "Run polling triggers and publish triggered events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "poller-id",
				Aliases: []string{"id"},
				Usage:   "Custom poller ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("POLLER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "kafka",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the polling cadence",
				Value:   "*/1 * * * *",
				Sources: cli.EnvVars("POLL_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("zaplet-poller", command.String("log-level"))

			pollerID := command.String("poller-id")
			if pollerID == "" {
				pollerID = "poller-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("zaplet-poller").With("poller_id", pollerID)
			logger.InfoContext(ctx, "Initializing Zaplet Poller")

			registry := cmd.NewRegistry(logger)

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "poller", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			oauthManager := cmd.NewOAuthManager(logger, persistence.ConnectionRepository())

			poller := NewPollerManager(
				pollerID,
				persistence,
				eventBus,
				logger,
				registry,
				oauthManager,
				command.String("schedule"),
			)

			return poller.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
