package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
	"github.com/zaplet/zaplet/pkg/persistence"
)

type fakeConnectionRepo struct {
	mu          sync.Mutex
	connections map[string]*models.Connection
}

func newFakeConnectionRepo(connections ...*models.Connection) *fakeConnectionRepo {
	repo := &fakeConnectionRepo{connections: make(map[string]*models.Connection)}
	for _, c := range connections {
		repo.connections[c.ID] = c
	}

	return repo
}

func (r *fakeConnectionRepo) Save(_ context.Context, connection *models.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[connection.ID] = connection

	return nil
}

func (r *fakeConnectionRepo) GetByID(_ context.Context, id string) (*models.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[id]
	if !ok {
		return nil, persistence.ErrConnectionNotFound
	}

	clone := *connection
	clone.Secrets = make(map[string]string, len(connection.Secrets))
	for k, v := range connection.Secrets {
		clone.Secrets[k] = v
	}

	return &clone, nil
}

func (r *fakeConnectionRepo) ListByWorkspace(_ context.Context, _ string) ([]*models.Connection, error) {
	return nil, nil
}

func (r *fakeConnectionRepo) UpdateSecrets(_ context.Context, id string, secrets map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[id]
	if !ok {
		return persistence.ErrConnectionNotFound
	}

	connection.MergeSecrets(secrets)

	return nil
}

func (r *fakeConnectionRepo) UpdateStatus(_ context.Context, id string, status models.ConnectionStatus, _ *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connection, ok := r.connections[id]
	if !ok {
		return persistence.ErrConnectionNotFound
	}

	connection.Status = status

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConnection(secrets map[string]string) *models.Connection {
	return &models.Connection{
		ID:            "conn-1",
		WorkspaceID:   "ws-1",
		IntegrationID: "gmail",
		Status:        models.ConnectionStatusActive,
		Secrets:       secrets,
	}
}

// tokenServer counts refresh requests and hands out sequential tokens.
func tokenServer(t *testing.T, refreshes *atomic.Int64, fail bool) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

			return
		}

		n := refreshes.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"at-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))

	t.Cleanup(server.Close)

	return server
}

func managerForServer(server *httptest.Server, repo *fakeConnectionRepo) *Manager {
	manager := NewManager(testLogger(), repo)
	manager.RegisterProvider("gmail", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  server.URL + "/auth",
			TokenURL: server.URL + "/token",
		},
	})

	return manager
}

func TestStateRoundTrip(t *testing.T) {
	t.Parallel()

	state := State{WorkspaceID: "ws-1", IntegrationID: "gmail"}

	encoded, err := state.Encode()
	require.NoError(t, err)

	decoded, err := DecodeState(encoded)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)

	_, err = DecodeState("not-base64-json!!!")
	assert.Error(t, err)

	empty, _ := State{}.Encode()
	_, err = DecodeState(empty)
	assert.Error(t, err)
}

func TestClientSkipsRefreshWhenTokenFresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	server := tokenServer(t, &refreshes, false)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "current",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(server, repo)

	client, err := manager.Client(context.Background(), connection)
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, int64(0), refreshes.Load())
	assert.Equal(t, "current", connection.AccessToken())
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	server := tokenServer(t, &refreshes, false)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "stale",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(server, repo)

	_, err := manager.Client(context.Background(), connection)
	require.NoError(t, err)

	assert.Equal(t, int64(1), refreshes.Load())
	assert.Equal(t, "at-1", connection.AccessToken())

	// The provider omitted a refresh token; the stored one survives.
	stored, err := repo.GetByID(context.Background(), connection.ID)
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.Secrets[models.SecretAccessToken])
	assert.Equal(t, "rt", stored.Secrets[models.SecretRefreshToken])
	assert.NotEmpty(t, stored.Secrets[models.SecretExpiry])
}

func TestConcurrentRefreshHappensOnce(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	server := tokenServer(t, &refreshes, false)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "stale",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(server, repo)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			// Each goroutine carries its own view of the connection, the
			// way separate trigger runs would.
			view, err := repo.GetByID(context.Background(), connection.ID)
			require.NoError(t, err)

			_, err = manager.Client(context.Background(), view)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), refreshes.Load())
}

func TestRefreshFailureDisablesConnection(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	server := tokenServer(t, &refreshes, true)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "stale",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(server, repo)

	_, err := manager.Client(context.Background(), connection)
	require.Error(t, err)
	assert.ErrorIs(t, err, integration.ErrCredentialExpired)

	stored, getErr := repo.GetByID(context.Background(), connection.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.ConnectionStatusDisabled, stored.Status)

	// A disabled connection fails fast without touching the provider.
	before := refreshes.Load()
	_, err = manager.Client(context.Background(), connection)
	assert.ErrorIs(t, err, integration.ErrCredentialExpired)
	assert.Equal(t, before, refreshes.Load())
}

func TestMissingRefreshTokenExpiresConnection(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	server := tokenServer(t, &refreshes, false)

	connection := testConnection(map[string]string{
		models.SecretAccessToken: "stale",
		models.SecretExpiry:      time.Now().UTC().Add(-time.Minute).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(server, repo)

	_, err := manager.Client(context.Background(), connection)
	assert.ErrorIs(t, err, integration.ErrCredentialExpired)
	assert.Equal(t, int64(0), refreshes.Load())
}

func TestDoRetriesOnceAfterUnauthorized(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	tokens := tokenServer(t, &refreshes, false)

	var apiCalls atomic.Int64

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(api.Close)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "current",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(tokens, repo)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	resp, err := manager.Do(context.Background(), connection, req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), apiCalls.Load())
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestDoRefreshesOnBadRequest(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int64

	tokens := tokenServer(t, &refreshes, false)

	var apiCalls atomic.Int64

	// Some providers answer 400 rather than 401 for an expired grant.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(api.Close)

	connection := testConnection(map[string]string{
		models.SecretAccessToken:  "current",
		models.SecretRefreshToken: "rt",
		models.SecretExpiry:       time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	})
	repo := newFakeConnectionRepo(connection)
	manager := managerForServer(tokens, repo)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, api.URL, nil)
	require.NoError(t, err)

	resp, err := manager.Do(context.Background(), connection, req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), apiCalls.Load())
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestAuthCodeURLUnknownIntegration(t *testing.T) {
	t.Parallel()

	manager := NewManager(testLogger(), newFakeConnectionRepo())

	_, err := manager.AuthCodeURL("nope", State{WorkspaceID: "ws", IntegrationID: "nope"})
	assert.ErrorIs(t, err, integration.ErrUnknownIntegration)
}
