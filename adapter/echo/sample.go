package echo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// sampleReply answers a structured request with a fenced JSON document that
// satisfies schema.
func sampleReply(userText string, schema map[string]any) (string, error) {
	value := sample(schema, userText, "value", 0)
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "", fmt.Errorf("echo: encode sample: %w", err)
	}
	return "```json\n" + string(raw) + "\n```", nil
}

func sample(schema map[string]any, userText, name string, depth int) any {
	if enum, ok := schema["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}
	if c, ok := schema["const"]; ok {
		return c
	}

	switch schemaType(schema) {
	case "object":
		out := map[string]any{}
		props, _ := schema["properties"].(map[string]any)
		for key, sub := range props {
			subSchema, _ := sub.(map[string]any)
			if depth > 6 {
				continue
			}
			out[key] = sample(subSchema, userText, key, depth+1)
		}
		return out
	case "array":
		n := intValue(schema["minItems"], 1)
		if n < 1 {
			n = 1
		}
		items, _ := schema["items"].(map[string]any)
		out := make([]any, n)
		for i := range out {
			out[i] = sample(items, userText, fmt.Sprintf("%s %d", strings.TrimSuffix(name, "s"), i+1), depth+1)
		}
		return out
	case "integer":
		return intValue(schema["minimum"], 0)
	case "number":
		return floatValue(schema["minimum"])
	case "boolean":
		return true
	case "null":
		return nil
	default:
		s := fmt.Sprintf("%s for: %s", name, userText)
		if n := intValue(schema["maxLength"], 0); n > 0 && len(s) > n {
			s = s[:n]
		}
		return s
	}
}

func schemaType(schema map[string]any) string {
	switch t := schema["type"].(type) {
	case string:
		return t
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return s
			}
		}
	case []string:
		for _, s := range t {
			if s != "null" {
				return s
			}
		}
	}
	if _, ok := schema["properties"]; ok {
		return "object"
	}
	return "string"
}

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err == nil {
			return int(i)
		}
	}
	return def
}

func floatValue(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
