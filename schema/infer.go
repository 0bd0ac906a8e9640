package schema

import "encoding/json"

// Infer derives a permissive JSON Schema describing value. All numbers map to
// "number" and objects never list required properties, so later values of the same
// general shape remain valid. A nil value yields a nil schema.
func Infer(value any) map[string]any {
	if value == nil {
		return nil
	}
	normalized, ok := normalize(value)
	if !ok {
		return map[string]any{}
	}
	return inferNormalized(normalized)
}

// normalize maps arbitrary Go values onto the JSON data model.
func normalize(value any) (any, bool) {
	switch value.(type) {
	case string, bool, float64, map[string]any, []any:
		return value, true
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

func inferNormalized(value any) map[string]any {
	switch v := value.(type) {
	case nil:
		return map[string]any{"type": "null"}
	case bool:
		return map[string]any{"type": "boolean"}
	case float64:
		return map[string]any{"type": "number"}
	case string:
		return map[string]any{"type": "string"}
	case []any:
		s := map[string]any{"type": "array"}
		if len(v) > 0 {
			if item, ok := normalize(v[0]); ok {
				s["items"] = inferNormalized(item)
			}
		}
		return s
	case map[string]any:
		props := make(map[string]any, len(v))
		for k, item := range v {
			if n, ok := normalize(item); ok {
				props[k] = inferNormalized(n)
			}
		}
		return map[string]any{"type": "object", "properties": props}
	default:
		return map[string]any{}
	}
}
