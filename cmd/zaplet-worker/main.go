// Package main provides the zaplet worker: it consumes triggered events
// and executes automations.
package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/zaplet/zaplet/pkg/cmd"
	"github.com/zaplet/zaplet/pkg/log"
	"github.com/zaplet/zaplet/pkg/otelhelper"
)

func main() {
	command := &cli.Command{
		Name:                  "zaplet-worker",
		Usage:                 "Start workers to execute automations",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for the shared dedup store (in-memory when empty)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("zaplet-worker", command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("zaplet-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Zaplet Worker")

			if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
				_, err := otelhelper.NewTracer(ctx, "zaplet-worker")
				if err != nil {
					return err
				}
			}

			registry := cmd.NewRegistry(logger)

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "worker", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			dedupStore := cmd.NewDedupStore(command.String("redis-url"))
			defer func() {
				err := dedupStore.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close dedup store", "error", err)
				}
			}()

			oauthManager := cmd.NewOAuthManager(logger, persistence.ConnectionRepository())

			worker := NewWorkerManager(
				workerID,
				persistence,
				eventBus,
				logger,
				registry,
				dedupStore,
				oauthManager,
			)

			return worker.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
