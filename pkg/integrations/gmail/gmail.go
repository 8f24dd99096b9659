// Package gmail implements the Gmail connector: a polling new_email
// trigger and a send_email action over the Gmail REST API.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/zaplet/zaplet/pkg/integration"
	"github.com/zaplet/zaplet/pkg/models"
)

const (
	ID = "gmail"

	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

	// defaultTimeout bounds every outbound Gmail call.
	defaultTimeout = 30 * time.Second
)

// Factory builds Gmail services. BaseURL and Client exist so tests can
// point the connector at a local server.
type Factory struct {
	BaseURL string
	Client  *http.Client
}

func (f *Factory) ID() string   { return ID }
func (f *Factory) Name() string { return "Gmail" }

func (f *Factory) Description() string {
	return "Trigger on new email and send email through a Gmail account"
}

func (f *Factory) Create(connection *models.Connection) (integration.Service, error) {
	baseURL := f.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	return &Service{connection: connection, baseURL: baseURL, client: client}, nil
}

type Service struct {
	connection *models.Connection
	baseURL    string
	client     *http.Client
}

func (s *Service) ID() string { return ID }

func (s *Service) TestConnection(ctx context.Context) bool {
	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}

	err := s.get(ctx, s.client, s.baseURL+"/users/me/profile", &profile)

	return err == nil && profile.EmailAddress != ""
}

// Connect has nothing left to do for Gmail: the OAuth code exchange is
// performed by the oauth manager before the connection reaches us.
func (s *Service) Connect(_ context.Context, _ map[string]any, _ string) (map[string]string, error) {
	return nil, nil
}

func (s *Service) Triggers() map[string]integration.TriggerDescriptor {
	return map[string]integration.TriggerDescriptor{
		"new_email": {
			Key:      "new_email",
			Name:     "New Email",
			Type:     models.TriggerTypePoll,
			Testable: true,
			ConfigSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"subject_contains": map[string]any{"type": "string"},
					"from_equals":      map[string]any{"type": "string"},
					"label":            map[string]any{"type": "string"},
				},
			},
			Fetch:     s.fetchMessages,
			Filter:    integration.ApplyFieldFilters,
			Normalize: normalizeMessage,
		},
	}
}

func (s *Service) Actions() map[string]integration.ActionDescriptor {
	return map[string]integration.ActionDescriptor{
		"send_email": {
			Key:  "send_email",
			Name: "Send Email",
			ConfigSchema: map[string]any{
				"type":     "object",
				"required": []any{"to", "subject", "body"},
				"properties": map[string]any{
					"to":      map[string]any{"type": "string"},
					"subject": map[string]any{"type": "string"},
					"body":    map[string]any{"type": "string"},
				},
			},
		},
	}
}

func (s *Service) PerformAction(ctx context.Context, actionKey string, payload map[string]any) (map[string]any, error) {
	switch actionKey {
	case "send_email":
		return s.sendEmail(ctx, payload)
	default:
		return nil, fmt.Errorf("%w: %q on %q", integration.ErrUnknownAction, actionKey, ID)
	}
}

func (s *Service) sendEmail(ctx context.Context, payload map[string]any) (map[string]any, error) {
	to, _ := payload["to"].(string)
	subject, _ := payload["subject"].(string)
	body, _ := payload["body"].(string)

	message := fmt.Sprintf("To: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n%s", to, subject, body)

	request := map[string]any{
		"raw": base64.URLEncoding.EncodeToString([]byte(message)),
	}

	var response struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}

	err := s.post(ctx, s.baseURL+"/users/me/messages/send", request, &response)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"message_id": response.ID,
		"thread_id":  response.ThreadID,
		"status":     "sent",
	}, nil
}

// fetchMessages lists message ids newer than the watermark, then loads
// each message's metadata. Raw items are flattened so the declarative
// filters can address subject, from and labels directly.
func (s *Service) fetchMessages(ctx context.Context, client *http.Client, since *time.Time, limit int) ([]map[string]any, error) {
	if client == nil {
		client = s.client
	}

	query := url.Values{"maxResults": {strconv.Itoa(limit)}}
	if since != nil {
		query.Set("q", "after:"+strconv.FormatInt(since.Unix(), 10))
	}

	var list struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}

	err := s.get(ctx, client, s.baseURL+"/users/me/messages?"+query.Encode(), &list)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(list.Messages))

	for _, ref := range list.Messages {
		item, err := s.fetchMessage(ctx, client, ref.ID)
		if err != nil {
			return nil, err
		}

		items = append(items, item)
	}

	return items, nil
}

func (s *Service) fetchMessage(ctx context.Context, client *http.Client, id string) (map[string]any, error) {
	var message struct {
		ID           string   `json:"id"`
		ThreadID     string   `json:"threadId"`
		Snippet      string   `json:"snippet"`
		LabelIDs     []string `json:"labelIds"`
		InternalDate string   `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}

	err := s.get(ctx, client, s.baseURL+"/users/me/messages/"+id+"?format=metadata", &message)
	if err != nil {
		return nil, err
	}

	item := map[string]any{
		"id":            message.ID,
		"thread_id":     message.ThreadID,
		"snippet":       message.Snippet,
		"internal_date": message.InternalDate,
	}

	labels := make([]any, 0, len(message.LabelIDs))
	for _, label := range message.LabelIDs {
		labels = append(labels, label)
	}

	item["labels"] = labels

	for _, header := range message.Payload.Headers {
		switch header.Name {
		case "Subject":
			item["subject"] = header.Value
		case "From":
			item["from"] = header.Value
		}
	}

	return item, nil
}

func normalizeMessage(raw map[string]any) (*models.Event, error) {
	id, _ := raw["id"].(string)
	if id == "" {
		return nil, integration.NewServiceError(ID, "normalize", fmt.Errorf("message without id"))
	}

	internalDate, _ := raw["internal_date"].(string)

	millis, err := strconv.ParseInt(internalDate, 10, 64)
	if err != nil {
		return nil, integration.NewServiceError(ID, "normalize",
			fmt.Errorf("message %s has no usable internalDate: %w", id, err))
	}

	data := map[string]any{
		"subject": raw["subject"],
		"from":    raw["from"],
		"snippet": raw["snippet"],
		"labels":  raw["labels"],
	}

	return models.NewEvent(ID, "new_email", id, time.UnixMilli(millis).UTC(), data, raw), nil
}

func (s *Service) get(ctx context.Context, client *http.Client, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return integration.NewServiceError(ID, "get", err)
	}

	return s.do(client, req, out)
}

func (s *Service) post(ctx context.Context, rawURL string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return integration.NewServiceError(ID, "post", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return integration.NewServiceError(ID, "post", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return s.do(s.client, req, out)
}

func (s *Service) do(client *http.Client, req *http.Request, out any) error {
	if s.connection != nil {
		if token := s.connection.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail %s %s: %w: %v", req.Method, req.URL.Path, integration.ErrTransientExternal, err)
	}
	defer func() { _ = resp.Body.Close() }()

	err = classifyStatus(req, resp)
	if err != nil {
		return err
	}

	if out == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return integration.NewServiceError(ID, req.Method, err)
	}

	err = json.Unmarshal(body, out)
	if err != nil {
		return integration.NewServiceError(ID, req.Method, fmt.Errorf("unexpected response body: %w", err))
	}

	return nil
}

func classifyStatus(req *http.Request, resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("gmail %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, integration.ErrAuthExpired)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("gmail %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, integration.ErrTransientExternal)
	default:
		return integration.NewServiceError(ID, req.Method, fmt.Errorf("status %d", resp.StatusCode))
	}
}
