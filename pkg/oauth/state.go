package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// State is the round-tripped OAuth state parameter. It carries enough to
// route the callback back to the workspace that started the flow.
type State struct {
	WorkspaceID   string `json:"workspace_id"`
	IntegrationID string `json:"integration_id"`
}

// Encode serializes the state for use as the OAuth state parameter.
func (s State) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeState parses a state parameter produced by Encode.
func DecodeState(encoded string) (State, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return State{}, fmt.Errorf("failed to decode oauth state: %w", err)
	}

	var state State

	err = json.Unmarshal(raw, &state)
	if err != nil {
		return State{}, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}

	if state.WorkspaceID == "" || state.IntegrationID == "" {
		return State{}, fmt.Errorf("oauth state missing workspace or integration")
	}

	return state, nil
}
