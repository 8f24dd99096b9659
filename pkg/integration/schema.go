package integration

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidatePayload checks a resolved action payload against the action's
// declared JSON schema. A violation is a validation failure and must
// block dispatch; no external call may be made after it.
func ValidatePayload(schema, payload map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	payloadLoader := gojsonschema.NewGoLoader(payload)

	result, err := gojsonschema.Validate(schemaLoader, payloadLoader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(descriptions, "; "))
	}

	return nil
}
