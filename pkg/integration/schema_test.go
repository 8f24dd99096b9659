package integration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaplet/zaplet/pkg/integration"
)

var sendEmailSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"to":      map[string]any{"type": "string"},
		"subject": map[string]any{"type": "string"},
		"body":    map[string]any{"type": "string"},
	},
	"required":             []string{"to", "subject"},
	"additionalProperties": false,
}

func TestValidatePayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload map[string]any
		wantErr bool
	}{
		{
			name:    "valid payload",
			payload: map[string]any{"to": "a@example.com", "subject": "hi", "body": "hello"},
		},
		{
			name:    "missing required field",
			payload: map[string]any{"body": "hello"},
			wantErr: true,
		},
		{
			name:    "wrong primitive type",
			payload: map[string]any{"to": "a@example.com", "subject": 42},
			wantErr: true,
		},
		{
			name:    "unknown field rejected",
			payload: map[string]any{"to": "a@example.com", "subject": "hi", "cc": "b@example.com"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := integration.ValidatePayload(sendEmailSchema, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, integration.ErrValidationFailed)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePayloadEmptySchemaAllowsAnything(t *testing.T) {
	t.Parallel()

	assert.NoError(t, integration.ValidatePayload(nil, map[string]any{"whatever": 1}))
}
