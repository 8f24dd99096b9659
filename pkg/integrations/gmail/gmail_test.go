package gmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

type fakeGmail struct {
	messages []fakeMessage
	sent     []map[string]any
	authSeen []string
}

type fakeMessage struct {
	id      string
	subject string
	from    string
	labels  []string
	date    time.Time
}

func (g *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		g.authSeen = append(g.authSeen, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"emailAddress": "me@example.com"})
	})

	mux.HandleFunc("/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		g.authSeen = append(g.authSeen, r.Header.Get("Authorization"))

		refs := make([]map[string]any, 0, len(g.messages))
		for _, m := range g.messages {
			refs = append(refs, map[string]any{"id": m.id})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"messages": refs})
	})

	mux.HandleFunc("/users/me/messages/send", func(w http.ResponseWriter, r *http.Request) {
		g.authSeen = append(g.authSeen, r.Header.Get("Authorization"))

		var body map[string]any

		_ = json.NewDecoder(r.Body).Decode(&body)
		g.sent = append(g.sent, body)

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "sent-1", "threadId": "thr-1"})
	})

	mux.HandleFunc("/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")

		for _, m := range g.messages {
			if m.id != id {
				continue
			}

			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":           m.id,
				"threadId":     "thr-" + m.id,
				"snippet":      m.subject,
				"labelIds":     m.labels,
				"internalDate": fmt.Sprintf("%d", m.date.UnixMilli()),
				"payload": map[string]any{
					"headers": []map[string]any{
						{"name": "Subject", "value": m.subject},
						{"name": "From", "value": m.from},
					},
				},
			})

			return
		}

		w.WriteHeader(http.StatusNotFound)
	})

	return mux
}

func testService(t *testing.T, gmail *fakeGmail) (*Service, func()) {
	t.Helper()

	server := httptest.NewServer(gmail.handler())

	factory := &Factory{BaseURL: server.URL, Client: server.Client()}

	connection := &models.Connection{
		ID:            "conn-1",
		IntegrationID: ID,
		Status:        models.ConnectionStatusActive,
		Secrets:       map[string]string{models.SecretAccessToken: "at-test"},
	}

	service, err := factory.Create(connection)
	require.NoError(t, err)

	return service.(*Service), server.Close
}

func invoiceInbox() *fakeGmail {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	return &fakeGmail{
		messages: []fakeMessage{
			{id: "m1", subject: "Invoice #1", from: "billing@acme.com", labels: []string{"INBOX"}, date: base},
			{id: "m2", subject: "Lunch?", from: "friend@example.com", labels: []string{"INBOX"}, date: base.Add(time.Minute)},
			{id: "m3", subject: "Invoice #2", from: "billing@acme.com", labels: []string{"INBOX"}, date: base.Add(2 * time.Minute)},
		},
	}
}

func TestFetchFilterNormalizeInvoices(t *testing.T) {
	t.Parallel()

	gmail := invoiceInbox()
	service, cleanup := testService(t, gmail)
	defer cleanup()

	descriptor := service.Triggers()["new_email"]
	require.NotNil(t, descriptor.Fetch)

	items, err := descriptor.Fetch(t.Context(), nil, nil, 100)
	require.NoError(t, err)
	require.Len(t, items, 3)

	matched := descriptor.Filter(items, map[string]any{"subject_contains": "invoice"})
	require.Len(t, matched, 2)

	first, err := descriptor.Normalize(matched[0])
	require.NoError(t, err)

	assert.Equal(t, ID, first.IntegrationID)
	assert.Equal(t, "new_email", first.TriggerKey)
	assert.Equal(t, "m1", first.SourceID)
	assert.Equal(t, "Invoice #1", first.Data["subject"])
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), first.OccurredAt)
}

func TestFilterByFromAndLabel(t *testing.T) {
	t.Parallel()

	gmail := invoiceInbox()
	service, cleanup := testService(t, gmail)
	defer cleanup()

	descriptor := service.Triggers()["new_email"]

	items, err := descriptor.Fetch(t.Context(), nil, nil, 100)
	require.NoError(t, err)

	fromBilling := descriptor.Filter(items, map[string]any{"from_equals": "billing@acme.com"})
	assert.Len(t, fromBilling, 2)

	inbox := descriptor.Filter(items, map[string]any{"label": "inbox"})
	assert.Len(t, inbox, 3)

	archived := descriptor.Filter(items, map[string]any{"label": "archived"})
	assert.Empty(t, archived)
}

func TestSendEmailEncodesMessage(t *testing.T) {
	t.Parallel()

	gmail := invoiceInbox()
	service, cleanup := testService(t, gmail)
	defer cleanup()

	output, err := service.PerformAction(t.Context(), "send_email", map[string]any{
		"to":      "ops@example.com",
		"subject": "Invoice received",
		"body":    "An invoice arrived.",
	})
	require.NoError(t, err)

	assert.Equal(t, "sent-1", output["message_id"])
	assert.Equal(t, "sent", output["status"])

	require.Len(t, gmail.sent, 1)

	raw, _ := gmail.sent[0]["raw"].(string)
	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)

	assert.Contains(t, string(decoded), "To: ops@example.com")
	assert.Contains(t, string(decoded), "Subject: Invoice received")
	assert.Contains(t, string(decoded), "An invoice arrived.")

	assert.Contains(t, gmail.authSeen, "Bearer at-test")
}

func TestSendEmailPayloadSchema(t *testing.T) {
	t.Parallel()

	service := &Service{}
	descriptor := service.Actions()["send_email"]

	err := integration.ValidatePayload(descriptor.ConfigSchema, map[string]any{"to": "x@example.com"})
	require.ErrorIs(t, err, integration.ErrValidationFailed)

	err = integration.ValidatePayload(descriptor.ConfigSchema, map[string]any{
		"to": "x@example.com", "subject": "hi", "body": "text",
	})
	require.NoError(t, err)
}

func TestUnknownActionRejected(t *testing.T) {
	t.Parallel()

	service := &Service{}

	_, err := service.PerformAction(t.Context(), "archive", nil)
	require.ErrorIs(t, err, integration.ErrUnknownAction)
}

func TestServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	factory := &Factory{BaseURL: server.URL, Client: server.Client()}
	service, err := factory.Create(nil)
	require.NoError(t, err)

	_, err = service.(*Service).fetchMessages(t.Context(), nil, nil, 10)
	require.Error(t, err)
	assert.True(t, integration.IsRetryable(err))
}

func TestUnauthorizedMapsToAuthExpired(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	factory := &Factory{BaseURL: server.URL, Client: server.Client()}
	service, err := factory.Create(nil)
	require.NoError(t, err)

	_, err = service.(*Service).fetchMessages(t.Context(), nil, nil, 10)
	require.ErrorIs(t, err, integration.ErrAuthExpired)
}

func TestBadRequestMapsToAuthExpired(t *testing.T) {
	t.Parallel()

	// Google answers 400 invalid_grant for some expired credentials.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	factory := &Factory{BaseURL: server.URL, Client: server.Client()}
	service, err := factory.Create(nil)
	require.NoError(t, err)

	_, err = service.(*Service).fetchMessages(t.Context(), nil, nil, 10)
	require.ErrorIs(t, err, integration.ErrAuthExpired)
}
