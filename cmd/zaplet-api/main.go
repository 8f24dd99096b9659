// Package main provides the zaplet API server: automation management,
// webhook intake, OAuth flows and trigger test runs.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/zaplet/zaplet/pkg/cmd"
	"github.com/zaplet/zaplet/pkg/log"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "zaplet-api",
		Usage:                 "Manage automations, connections and triggers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup("zaplet-api", command.String("log-level"))

			logger := log.WithModule("zaplet-api")
			logger.InfoContext(ctx, "Initializing Zaplet API")

			registry := cmd.NewRegistry(logger)

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), "api", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			oauthManager := cmd.NewOAuthManager(logger, persistence.ConnectionRepository())

			api := NewAPI(logger, persistence, registry, eventBus, oauthManager)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
