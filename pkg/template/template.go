// Package template renders step configuration values against the data
// accumulated during an execution: the triggering event, prior step
// outputs, and the environment.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/zaplet/zaplet/pkg/models"
)

// Context is the data visible to step templates.
//
//	{{.trigger.subject}}   field of the triggering event
//	{{.steps.step_1.id}}   output of an earlier step, by step id
//	{{.execution.id}}      execution metadata
//	{{.env.HOME}}          process environment
func Context(execution *models.Execution, stepOutputs map[string]map[string]any) map[string]any {
	var triggerData map[string]any
	if execution.TriggerEvent != nil {
		triggerData = execution.TriggerEvent.Data
	}

	return map[string]any{
		"trigger": triggerData,
		"steps":   stepOutputs,
		"env":     envVars(),
		"execution": map[string]any{
			"id":            execution.ID,
			"automation_id": execution.AutomationID,
		},
	}
}

// Render executes the template and converts the result back to a typed
// value: JSON object/array, number, bool, or string.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("transform").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderMap renders every string value in a config map, recursing into
// nested maps and slices. Non-string values pass through untouched.
func RenderMap(config map[string]any, data any) (map[string]any, error) {
	rendered := make(map[string]any, len(config))

	for key, value := range config {
		result, err := renderValue(value, data)
		if err != nil {
			return nil, err
		}

		rendered[key] = result
	}

	return rendered, nil
}

func renderValue(value any, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return Render(v, data)
	case map[string]any:
		return RenderMap(v, data)
	case []any:
		rendered := make([]any, len(v))

		for i, item := range v {
			result, err := renderValue(item, data)
			if err != nil {
				return nil, err
			}

			rendered[i] = result
		}

		return rendered, nil
	default:
		return value, nil
	}
}

func envVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
