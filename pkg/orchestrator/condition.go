package orchestrator

import (
	"fmt"
	"strings"
)

// evaluateCondition decides whether an execution continues past a
// condition step. The config is declarative:
//
//	field:    dotted path into the template context, e.g. "trigger.subject"
//	operator: equals | not_equals | contains | not_contains | exists
//	value:    comparison operand (unused for exists)
//
// A false outcome ends the run early with a successful execution.
func evaluateCondition(config map[string]any, data map[string]any) (bool, error) {
	field, _ := config["field"].(string)
	if field == "" {
		return false, fmt.Errorf("condition step has no field")
	}

	operator, _ := config["operator"].(string)
	if operator == "" {
		operator = "exists"
	}

	actual, found := lookupPath(data, field)

	switch operator {
	case "exists":
		return found && actual != nil, nil
	case "equals":
		return found && stringify(actual) == stringify(config["value"]), nil
	case "not_equals":
		return !found || stringify(actual) != stringify(config["value"]), nil
	case "contains":
		return found && containsFold(stringify(actual), stringify(config["value"])), nil
	case "not_contains":
		return !found || !containsFold(stringify(actual), stringify(config["value"])), nil
	default:
		return false, fmt.Errorf("unknown condition operator %q", operator)
	}
}

func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = data

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	return fmt.Sprintf("%v", value)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
