package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/zaplet/zaplet/pkg/eventbus"
	"github.com/zaplet/zaplet/pkg/events"
	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/oauth"
	"github.com/zaplet/zaplet/pkg/persistence"
	"github.com/zaplet/zaplet/pkg/trigger"
)

type APIHandlers struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *integration.Registry
	validator   *validator.Validate
	oauth       *oauth.Manager
	tester      *trigger.Tester
	webhooks    *trigger.WebhookExecutor
	publisher   eventbus.EventPublisher
}

func NewAPIHandlers(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *integration.Registry,
	oauthManager *oauth.Manager,
	tester *trigger.Tester,
	webhooks *trigger.WebhookExecutor,
	publisher eventbus.EventPublisher,
) *APIHandlers {
	return &APIHandlers{
		logger:      logger.With("module", "api"),
		persistence: store,
		registry:    registry,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
		oauth:       oauthManager,
		tester:      tester,
		webhooks:    webhooks,
		publisher:   publisher,
	}
}

// Register wires every route onto the app. Shared by the api binary and
// the handler tests.
func (h *APIHandlers) Register(app *fiber.App) {
	automations := app.Group("/automations")
	automations.Post("/", h.CreateAutomation)
	automations.Get("/:id", h.GetAutomation)
	automations.Patch("/:id", h.UpdateAutomation)
	automations.Delete("/:id", h.DeleteAutomation)
	automations.Get("/:id/executions", h.ListExecutions)

	triggers := app.Group("/triggers")
	triggers.Post("/", h.CreateTrigger)
	triggers.Get("/:id", h.GetTrigger)
	triggers.Post("/:id/test", h.TestTrigger)

	app.Post("/webhooks/:triggerID", h.ReceiveWebhook)
	app.Post("/connections/:id/test", h.TestConnection)

	oauthGroup := app.Group("/oauth")
	oauthGroup.Get("/:integrationID/start", h.StartOAuth)
	oauthGroup.Get("/callback", h.OAuthCallback)

	app.Get("/integrations", h.ListIntegrations)
	app.Get("/executions/:id", h.GetExecution)
	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) ListIntegrations(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"integrations": h.registry.Catalog()})
}

func (h *APIHandlers) CreateAutomation(c fiber.Ctx) error {
	var req CreateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	automation := &models.Automation{
		ID:            uuid.New().String(),
		WorkspaceID:   req.WorkspaceID,
		Name:          req.Name,
		Status:        models.AutomationStatusDraft,
		RetryPolicyID: req.RetryPolicyID,
		Settings:      req.Settings,
		Steps:         make([]*models.Step, 0, len(req.Steps)),
	}

	for _, step := range req.Steps {
		automation.Steps = append(automation.Steps, step.toModel(automation.ID))
	}

	err := h.persistence.AutomationRepository().Save(c.Context(), automation)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(automation)
}

func (h *APIHandlers) GetAutomation(c fiber.Ctx) error {
	automation, err := h.persistence.AutomationRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(automation)
}

func (h *APIHandlers) UpdateAutomation(c fiber.Ctx) error {
	var req UpdateAutomationRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	repo := h.persistence.AutomationRepository()

	existing, err := repo.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Status != nil {
		existing.Status = *req.Status
	}

	if req.RetryPolicyID != nil {
		existing.RetryPolicyID = *req.RetryPolicyID
	}

	if req.Settings != nil {
		existing.Settings = req.Settings
	}

	if req.Steps != nil {
		existing.Steps = make([]*models.Step, 0, len(req.Steps))
		for _, step := range req.Steps {
			existing.Steps = append(existing.Steps, step.toModel(existing.ID))
		}
	}

	err = repo.Save(c.Context(), existing)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteAutomation(c fiber.Ctx) error {
	err := h.persistence.AutomationRepository().Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	executions, err := h.persistence.ExecutionRepository().ListExecutionsByAutomation(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionRepository().GetExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	tasks, err := h.persistence.ExecutionRepository().ListTasksByExecution(c.Context(), execution.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"execution": execution, "tasks": tasks})
}

func (h *APIHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	descriptor, err := h.lookupTriggerDescriptor(req.IntegrationID, req.TriggerKey)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if descriptor.Type != req.Type {
		return badRequest(c, "trigger type does not match the integration's declaration")
	}

	if err := integration.ValidatePayload(descriptor.ConfigSchema, req.Config); err != nil {
		return badRequest(c, err.Error())
	}

	t := &models.Trigger{
		ID:            uuid.New().String(),
		AutomationID:  req.AutomationID,
		IntegrationID: req.IntegrationID,
		TriggerKey:    req.TriggerKey,
		Type:          req.Type,
		ConnectionID:  req.ConnectionID,
		Config:        req.Config,
	}

	err = h.persistence.TriggerRepository().Save(c.Context(), t)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(t)
}

func (h *APIHandlers) GetTrigger(c fiber.Ctx) error {
	t, err := h.persistence.TriggerRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	return c.JSON(t)
}

// TestTrigger runs the trigger in test mode: 200 with the sample event
// on success, 400 with the failure message otherwise. Test runs never
// move the watermark and never start executions.
func (h *APIHandlers) TestTrigger(c fiber.Ctx) error {
	t, err := h.persistence.TriggerRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	descriptor, err := h.lookupTriggerDescriptor(t.IntegrationID, t.TriggerKey)
	if err != nil {
		return badRequest(c, err.Error())
	}

	connection, err := h.loadConnection(c, t.ConnectionID)
	if err != nil {
		return handleStoreError(c, err)
	}

	result := h.tester.Run(c.Context(), t, connection, descriptor)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}

	return c.Status(status).JSON(result)
}

// ReceiveWebhook ingests one provider delivery: the raw payload is
// persisted before any processing so a crash never loses it, then the
// delivery is normalized, filtered and handed to the worker via the bus.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	t, err := h.persistence.TriggerRepository().GetByID(c.Context(), c.Params("triggerID"))
	if err != nil {
		return handleStoreError(c, err)
	}

	if t.Type != models.TriggerTypeWebhook {
		return badRequest(c, "trigger is not a webhook trigger")
	}

	var payload map[string]any
	if err := c.Bind().JSON(&payload); err != nil {
		return badRequest(c, "Invalid JSON payload")
	}

	// The raw delivery is saved before normalization runs: a payload
	// the normalizer rejects must still be auditable.
	delivery := &models.WebhookEvent{
		TriggerID:  t.ID,
		RawPayload: payload,
		Headers:    webhookHeaders(c),
	}

	err = h.persistence.WebhookEventRepository().Save(c.Context(), delivery)
	if err != nil {
		return internalError(c, err)
	}

	descriptor, err := h.lookupTriggerDescriptor(t.IntegrationID, t.TriggerKey)
	if err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.webhooks.Handle(c.Context(), t, descriptor, payload)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if event != nil {
		err = h.persistence.WebhookEventRepository().AttachSource(c.Context(), delivery.ID, event.SourceID)
		if err != nil {
			h.logger.ErrorContext(c.Context(), "Failed to attach source id to webhook event",
				"webhook_event_id", delivery.ID, "error", err)
		}
	}

	if event == nil {
		return c.Status(fiber.StatusAccepted).JSON(WebhookAck{Status: "filtered"})
	}

	triggered := events.AutomationTriggered{
		BaseEvent:    events.NewBaseEvent(events.AutomationTriggeredEvent, t.AutomationID),
		TriggerID:    t.ID,
		TriggerEvent: event,
	}

	err = h.publisher.Publish(c.Context(), t.AutomationID, triggered)
	if err != nil {
		return internalError(c, err)
	}

	err = h.persistence.WebhookEventRepository().MarkProcessed(c.Context(), delivery.ID)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to mark webhook event processed",
			"webhook_event_id", delivery.ID, "error", err)
	}

	return c.Status(fiber.StatusAccepted).JSON(WebhookAck{Status: "accepted", EventID: event.ID})
}

// TestConnection exercises the integration with the stored credentials and
// records the outcome on the connection.
func (h *APIHandlers) TestConnection(c fiber.Ctx) error {
	connection, err := h.persistence.ConnectionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleStoreError(c, err)
	}

	service, err := h.registry.Create(connection.IntegrationID, connection)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if !service.TestConnection(c.Context()) {
		return badRequest(c, "Connection not working")
	}

	now := time.Now().UTC()

	err = h.persistence.ConnectionRepository().UpdateStatus(c.Context(), connection.ID, models.ConnectionStatusActive, &now)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"connection_id": connection.ID,
		"status":        models.ConnectionStatusActive,
		"last_tested":   now,
	})
}

// StartOAuth redirects the user to the provider's consent screen.
func (h *APIHandlers) StartOAuth(c fiber.Ctx) error {
	workspaceID := c.Query("workspace_id")
	if workspaceID == "" {
		return badRequest(c, "workspace_id is required")
	}

	integrationID := c.Params("integrationID")

	state := oauth.State{WorkspaceID: workspaceID, IntegrationID: integrationID}

	consentURL, err := h.oauth.AuthCodeURL(integrationID, state)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.Redirect().Status(fiber.StatusFound).To(consentURL)
}

// OAuthCallback exchanges the authorization code and persists a new
// active connection holding the returned secrets.
func (h *APIHandlers) OAuthCallback(c fiber.Ctx) error {
	if errParam := c.Query("error"); errParam != "" {
		return badRequest(c, "authorization was denied: "+errParam)
	}

	code := c.Query("code")
	if code == "" {
		return badRequest(c, "code is required")
	}

	state, err := oauth.DecodeState(c.Query("state"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	secrets, err := h.oauth.Exchange(c.Context(), state.IntegrationID, code)
	if err != nil {
		return conflict(c, err.Error())
	}

	now := time.Now().UTC()
	connection := &models.Connection{
		WorkspaceID:   state.WorkspaceID,
		IntegrationID: state.IntegrationID,
		Status:        models.ConnectionStatusActive,
		Secrets:       secrets,
		LastTestedAt:  &now,
	}

	err = h.persistence.ConnectionRepository().Save(c.Context(), connection)
	if err != nil {
		return internalError(c, err)
	}

	h.logger.InfoContext(c.Context(), "Connection established",
		"connection_id", connection.ID, "integration_id", connection.IntegrationID)

	return c.Status(fiber.StatusCreated).JSON(connection)
}

func webhookHeaders(c fiber.Ctx) map[string]string {
	headers := make(map[string]string)

	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	return headers
}

func (h *APIHandlers) lookupTriggerDescriptor(integrationID, triggerKey string) (integration.TriggerDescriptor, error) {
	service, err := h.registry.Create(integrationID, nil)
	if err != nil {
		return integration.TriggerDescriptor{}, err
	}

	descriptor, ok := service.Triggers()[triggerKey]
	if !ok {
		return integration.TriggerDescriptor{}, integration.NewServiceError(integrationID, "lookup", integration.ErrUnknownTrigger)
	}

	return descriptor, nil
}

func (h *APIHandlers) loadConnection(c fiber.Ctx, connectionID string) (*models.Connection, error) {
	if connectionID == "" {
		return nil, nil
	}

	return h.persistence.ConnectionRepository().GetByID(c.Context(), connectionID)
}
