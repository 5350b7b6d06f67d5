package nlp

import "sort"

// StrictenSchema rewrites a JSON schema so it is accepted by providers
// that require strict structured output: every object gets
// additionalProperties=false and all of its properties become required.
// The input is not modified; optionality has to be expressed with
// nullable types instead of omitted keys.
func StrictenSchema(schema map[string]any) map[string]any {
	out, _ := strictenValue(schema).(map[string]any)
	return out
}

func strictenValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = strictenValue(item)
		}
		if isObjectSchema(out) {
			out["additionalProperties"] = false
			if props, ok := out["properties"].(map[string]any); ok {
				required := make([]string, 0, len(props))
				for name := range props {
					required = append(required, name)
				}
				// Deterministic ordering keeps request payloads stable
				// for caching and tests.
				sort.Strings(required)
				out["required"] = required
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = strictenValue(item)
		}
		return out
	default:
		return v
	}
}

func isObjectSchema(m map[string]any) bool {
	if t, ok := m["type"].(string); ok && t == "object" {
		return true
	}
	if types, ok := m["type"].([]any); ok {
		for _, t := range types {
			if s, ok := t.(string); ok && s == "object" {
				return true
			}
		}
	}
	return false
}
