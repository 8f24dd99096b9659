package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/zaplet/zaplet/pkg/eventbus"
	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/oauth"
	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/trigger"
	"github.com/zaplet/zaplet/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *integration.Registry
	eventBus    eventbus.EventBus
	oauth       *oauth.Manager
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *integration.Registry,
	eventBus eventbus.EventBus,
	oauthManager *oauth.Manager,
) *API {
	return &API{
		logger:      logger,
		persistence: store,
		registry:    registry,
		eventBus:    eventBus,
		oauth:       oauthManager,
	}
}

func (a *API) App() *fiber.App {
	poller := trigger.NewPollingExecutor(a.logger, a.persistence.TriggerRepository(), a.oauth)

	handlers := web.NewAPIHandlers(
		a.logger,
		a.persistence,
		a.registry,
		a.oauth,
		trigger.NewTester(a.logger, poller),
		trigger.NewWebhookExecutor(a.logger),
		a.eventBus,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Zaplet API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
