// Package oauth manages OAuth2 credential lifecycles for connections:
// authorization flows, token storage, and proactive plus reactive
// refresh. All refreshes for one connection are serialized so a token
// is never refreshed twice concurrently.
package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

// expirySkew is how long before the recorded expiry a token is already
// treated as stale, covering clock drift and request latency.
const expirySkew = 2 * time.Minute

// Manager owns provider configurations and the refresh path for stored
// connection secrets.
type Manager struct {
	logger      *slog.Logger
	connections persistence.ConnectionRepository
	providers   map[string]*oauth2.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is swapped in tests.
	now func() time.Time
}

func NewManager(logger *slog.Logger, connections persistence.ConnectionRepository) *Manager {
	return &Manager{
		logger:      logger.With("module", "oauth"),
		connections: connections,
		providers:   make(map[string]*oauth2.Config),
		locks:       make(map[string]*sync.Mutex),
		now:         time.Now,
	}
}

// RegisterProvider binds an integration id to its OAuth2 endpoint
// configuration. Integrations without a registered provider cannot use
// the manager.
func (m *Manager) RegisterProvider(integrationID string, config *oauth2.Config) {
	m.providers[integrationID] = config
}

// AuthCodeURL builds the provider consent URL for a new connection.
func (m *Manager) AuthCodeURL(integrationID string, state State) (string, error) {
	config, ok := m.providers[integrationID]
	if !ok {
		return "", fmt.Errorf("no oauth provider for %q: %w", integrationID, integration.ErrUnknownIntegration)
	}

	encoded, err := state.Encode()
	if err != nil {
		return "", err
	}

	return config.AuthCodeURL(encoded, oauth2.AccessTypeOffline), nil
}

// Exchange trades an authorization code for tokens and returns the
// secrets patch to store on the connection.
func (m *Manager) Exchange(ctx context.Context, integrationID, code string) (map[string]string, error) {
	config, ok := m.providers[integrationID]
	if !ok {
		return nil, fmt.Errorf("no oauth provider for %q: %w", integrationID, integration.ErrUnknownIntegration)
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	return secretsPatch(token), nil
}

// Client returns an HTTP client carrying a valid bearer token for the
// connection, refreshing the stored token first when it is expired or
// about to expire.
func (m *Manager) Client(ctx context.Context, connection *models.Connection) (*http.Client, error) {
	token, err := m.ensureFresh(ctx, connection)
	if err != nil {
		return nil, err
	}

	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(token)), nil
}

// Do sends the request with the connection's bearer token. On a 400,
// 401 or 403 the token is force-refreshed and the request retried
// exactly once; a second rejection is returned to the caller as-is.
func (m *Manager) Do(ctx context.Context, connection *models.Connection, req *http.Request) (*http.Response, error) {
	token, err := m.ensureFresh(ctx, connection)
	if err != nil {
		return nil, err
	}

	resp, err := m.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if !rejectedCredential(resp.StatusCode) {
		return resp, nil
	}

	_ = resp.Body.Close()

	m.logger.InfoContext(ctx, "Access rejected, refreshing token",
		"connection_id", connection.ID, "status", resp.StatusCode)

	token, err = m.Refresh(ctx, connection)
	if err != nil {
		return nil, err
	}

	return m.send(ctx, req, token)
}

// EnsureFresh proactively refreshes the connection's stored secrets
// when the access token is expired or about to expire. The connection's
// in-memory secrets are updated alongside the store, so a service
// already holding the connection sees the new token.
func (m *Manager) EnsureFresh(ctx context.Context, connection *models.Connection) error {
	_, err := m.ensureFresh(ctx, connection)

	return err
}

// ForceRefresh refreshes regardless of the recorded expiry. Callers use
// it after the provider rejected a token that still looked fresh.
func (m *Manager) ForceRefresh(ctx context.Context, connection *models.Connection) error {
	_, err := m.Refresh(ctx, connection)

	return err
}

// rejectedCredential reports whether the status means the provider
// refused the presented token. Some providers answer 400 rather than
// 401 for an expired grant.
func rejectedCredential(status int) bool {
	return status == http.StatusBadRequest ||
		status == http.StatusUnauthorized ||
		status == http.StatusForbidden
}

func (m *Manager) send(ctx context.Context, req *http.Request, token *oauth2.Token) (*http.Response, error) {
	retried := req.Clone(ctx)

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}

		retried.Body = body
	}

	token.SetAuthHeader(retried)

	resp, err := http.DefaultClient.Do(retried)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// Refresh unconditionally exchanges the stored refresh token for a new
// access token and persists the result. A refresh failure disables the
// connection so pollers stop hammering a dead credential.
func (m *Manager) Refresh(ctx context.Context, connection *models.Connection) (*oauth2.Token, error) {
	lock := m.connectionLock(connection.ID)
	lock.Lock()
	defer lock.Unlock()

	return m.refreshLocked(ctx, connection)
}

// ensureFresh returns the current token, refreshing first when the
// recorded expiry is within the skew window. An unknown expiry on a
// token that has a refresh token triggers a refresh too.
func (m *Manager) ensureFresh(ctx context.Context, connection *models.Connection) (*oauth2.Token, error) {
	if !connection.IsActive() {
		return nil, fmt.Errorf("connection %s is disabled: %w", connection.ID, integration.ErrCredentialExpired)
	}

	if connection.AccessToken() == "" {
		return nil, fmt.Errorf("connection %s has no access token: %w", connection.ID, integration.ErrCredentialExpired)
	}

	expiry := connection.TokenExpiry()
	if !expiry.IsZero() && m.now().Add(expirySkew).Before(expiry) {
		return &oauth2.Token{AccessToken: connection.AccessToken(), Expiry: expiry}, nil
	}

	lock := m.connectionLock(connection.ID)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while this one waited for the
	// lock; re-read the stored secrets before refreshing again.
	stored, err := m.connections.GetByID(ctx, connection.ID)
	if err != nil {
		return nil, err
	}

	connection.Secrets = stored.Secrets
	connection.Status = stored.Status

	expiry = connection.TokenExpiry()
	if !expiry.IsZero() && m.now().Add(expirySkew).Before(expiry) {
		return &oauth2.Token{AccessToken: connection.AccessToken(), Expiry: expiry}, nil
	}

	return m.refreshLocked(ctx, connection)
}

func (m *Manager) refreshLocked(ctx context.Context, connection *models.Connection) (*oauth2.Token, error) {
	config, ok := m.providers[connection.IntegrationID]
	if !ok {
		return nil, fmt.Errorf("no oauth provider for %q: %w", connection.IntegrationID, integration.ErrUnknownIntegration)
	}

	refreshToken := connection.Secrets[models.SecretRefreshToken]
	if refreshToken == "" {
		return nil, m.expire(ctx, connection, fmt.Errorf("no refresh token stored"))
	}

	source := config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	token, err := source.Token()
	if err != nil {
		return nil, m.expire(ctx, connection, err)
	}

	patch := secretsPatch(token)

	err = m.connections.UpdateSecrets(ctx, connection.ID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to persist refreshed secrets: %w", err)
	}

	connection.MergeSecrets(patch)

	m.logger.InfoContext(ctx, "Refreshed connection token",
		"connection_id", connection.ID, "integration_id", connection.IntegrationID)

	return token, nil
}

// expire disables the connection after an unrecoverable refresh failure.
func (m *Manager) expire(ctx context.Context, connection *models.Connection, cause error) error {
	m.logger.WarnContext(ctx, "Disabling connection after refresh failure",
		"connection_id", connection.ID, "error", cause)

	err := m.connections.UpdateStatus(ctx, connection.ID, models.ConnectionStatusDisabled, nil)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to disable connection",
			"connection_id", connection.ID, "error", err)
	}

	connection.Status = models.ConnectionStatusDisabled

	return fmt.Errorf("refresh failed for connection %s: %v: %w",
		connection.ID, cause, integration.ErrCredentialExpired)
}

func (m *Manager) connectionLock(connectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[connectionID] = lock
	}

	return lock
}

func secretsPatch(token *oauth2.Token) map[string]string {
	patch := map[string]string{
		models.SecretAccessToken: token.AccessToken,
	}

	// Providers may omit the refresh token on renewal; the stored one
	// stays valid in that case and must not be overwritten.
	if token.RefreshToken != "" {
		patch[models.SecretRefreshToken] = token.RefreshToken
	}

	if !token.Expiry.IsZero() {
		patch[models.SecretExpiry] = token.Expiry.UTC().Format(time.RFC3339)
	}

	return patch
}
