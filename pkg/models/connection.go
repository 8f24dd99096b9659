// Package models defines the core domain models for the automation engine.
package models

import "time"

// ConnectionStatus represents the lifecycle state of a workspace connection.
type ConnectionStatus string

const (
	ConnectionStatusActive   ConnectionStatus = "active"
	ConnectionStatusDisabled ConnectionStatus = "disabled"
)

// Secret keys recognized by the OAuth credential manager. Everything else
// stored under Secrets is opaque to the engine.
const (
	SecretAccessToken  = "access_token"
	SecretRefreshToken = "refresh_token"
	SecretExpiry       = "expiry"
)

// Connection is a workspace-scoped credential/config binding to one
// integration. Secrets are mutated only by connect/test/refresh flows.
type Connection struct {
	ID            string            `json:"id"             validate:"required"`
	WorkspaceID   string            `json:"workspace_id"   validate:"required"`
	IntegrationID string            `json:"integration_id" validate:"required"`
	DisplayName   string            `json:"display_name"`
	Config        map[string]any    `json:"config"`
	Secrets       map[string]string `json:"secrets"`
	Status        ConnectionStatus  `json:"status"         validate:"required"`
	LastTestedAt  *time.Time        `json:"last_tested_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func (c *Connection) IsActive() bool {
	return c.Status == ConnectionStatusActive
}

// AccessToken returns the stored access token, empty when absent.
func (c *Connection) AccessToken() string {
	if c.Secrets == nil {
		return ""
	}

	return c.Secrets[SecretAccessToken]
}

// TokenExpiry parses the stored expiry instant. The zero time means the
// expiry is unknown and the token must be treated as possibly stale.
func (c *Connection) TokenExpiry() time.Time {
	if c.Secrets == nil {
		return time.Time{}
	}

	raw, ok := c.Secrets[SecretExpiry]
	if !ok {
		return time.Time{}
	}

	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}

	return expiry
}

// MergeSecrets applies a secrets patch returned by a connect or refresh
// flow. Existing keys not present in the patch are preserved.
func (c *Connection) MergeSecrets(patch map[string]string) {
	if c.Secrets == nil {
		c.Secrets = make(map[string]string, len(patch))
	}

	for k, v := range patch {
		c.Secrets[k] = v
	}
}
