package integration

import "strings"

// ApplyFieldFilters implements the declarative filter predicates shared
// by trigger descriptors. Config keys follow a naming convention over the
// fields declared in the trigger's ConfigSchema:
//
//	"<field>_contains": substring match (case-insensitive)
//	"<field>_equals":   exact match
//	"<field>_is":       boolean flag equality
//	"label":            membership in the item's "labels" list
//
// Unknown or empty config values never filter anything out, so a trigger
// without filters passes every item through.
func ApplyFieldFilters(items []map[string]any, config map[string]any) []map[string]any {
	if len(config) == 0 {
		return items
	}

	filtered := make([]map[string]any, 0, len(items))

	for _, item := range items {
		if matchesFilters(item, config) {
			filtered = append(filtered, item)
		}
	}

	return filtered
}

func matchesFilters(item map[string]any, config map[string]any) bool {
	for key, want := range config {
		switch {
		case strings.HasSuffix(key, "_contains"):
			field := strings.TrimSuffix(key, "_contains")
			needle, ok := want.(string)

			if ok && needle != "" && !containsFold(stringField(item, field), needle) {
				return false
			}
		case strings.HasSuffix(key, "_equals"):
			field := strings.TrimSuffix(key, "_equals")
			expected, ok := want.(string)

			if ok && expected != "" && stringField(item, field) != expected {
				return false
			}
		case strings.HasSuffix(key, "_is"):
			field := strings.TrimSuffix(key, "_is")
			expected, ok := want.(bool)

			if ok {
				actual, _ := item[field].(bool)
				if actual != expected {
					return false
				}
			}
		case key == "label":
			expected, ok := want.(string)
			if ok && expected != "" && !hasLabel(item, expected) {
				return false
			}
		}
	}

	return true
}

func stringField(item map[string]any, field string) string {
	value, _ := item[field].(string)

	return value
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func hasLabel(item map[string]any, label string) bool {
	labels, ok := item["labels"].([]any)
	if !ok {
		if typed, ok := item["labels"].([]string); ok {
			for _, l := range typed {
				if strings.EqualFold(l, label) {
					return true
				}
			}
		}

		return false
	}

	for _, l := range labels {
		if s, ok := l.(string); ok && strings.EqualFold(s, label) {
			return true
		}
	}

	return false
}
