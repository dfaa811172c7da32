// Package structured reconciles free-form agent output with a requested JSON
// Schema: it extracts the JSON document from the final text, validates it and
// renders the instructions that ask a backend to produce it.
package structured

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/hupe1980/headlesscoder/core"
	"github.com/hupe1980/headlesscoder/internal/util"
)

// ErrNoJSON is returned by Extract when the text holds no JSON document.
var ErrNoJSON = errors.New("structured: no JSON document found")

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(.*?)```")

// Extract locates the JSON document in text. It accepts, in order:
// the whole text as JSON, the first fenced code block holding valid JSON, and
// the first balanced object or array embedded in prose.
func Extract(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrNoJSON
	}

	if json.Valid([]byte(trimmed)) && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.RawMessage(trimmed), nil
	}

	for _, m := range fencePattern.FindAllStringSubmatch(trimmed, -1) {
		body := strings.TrimSpace(m[1])
		if body != "" && json.Valid([]byte(body)) {
			return json.RawMessage(body), nil
		}
	}

	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] != '{' && trimmed[i] != '[' {
			continue
		}
		if end := balancedEnd(trimmed, i); end > 0 {
			candidate := trimmed[i:end]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), nil
			}
		}
	}

	return nil, ErrNoJSON
}

// balancedEnd returns the index just past the bracket closing s[start], or -1.
func balancedEnd(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1
			}
		}
	}

	return -1
}

// Compile resolves schema into a validator.
func Compile(schema map[string]any) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("structured: marshal schema: %w", err)
	}

	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("structured: decode schema: %w", err)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("structured: resolve schema: %w", err)
	}

	return resolved, nil
}

// Validate checks value against schema. value must be a decoded JSON value
// (map[string]any, []any, string, float64, bool or nil).
func Validate(schema map[string]any, value any) error {
	resolved, err := Compile(schema)
	if err != nil {
		return err
	}
	return resolved.Validate(value)
}

// Parse extracts the JSON document from text, decodes it and validates it
// against schema. Every failure is a core.ErrStructuredOutput.
func Parse(text string, schema map[string]any) (any, error) {
	raw, err := Extract(text)
	if err != nil {
		return nil, &core.Error{Code: core.CodeStructuredOutput, Message: "output is not JSON", Err: err}
	}

	return Check(raw, schema)
}

// Check decodes raw and validates it against schema.
func Check(raw json.RawMessage, schema map[string]any) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, &core.Error{Code: core.CodeStructuredOutput, Message: "decode output", Err: err}
	}
	value = normalizeNumbers(value)

	if err := Validate(schema, value); err != nil {
		return nil, &core.Error{Code: core.CodeStructuredOutput, Message: "output does not match schema", Err: err}
	}

	return value, nil
}

// normalizeNumbers converts json.Number values to float64, the
// representation the validator expects.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}

// Decode converts a validated value into out, typically a struct pointer.
func Decode(value any, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// SchemaFromStruct derives a JSON Schema from a Go struct value.
func SchemaFromStruct(v any) map[string]any {
	return util.CreateSchema(v)
}

const instructionsTemplate = `Respond with a single JSON document that validates against the JSON Schema below.
Do not wrap it in prose{{ if .fence }}; a single fenced json code block is acceptable{{ end }}.

JSON Schema:
{{ json .schema }}`

// Instructions renders the prompt suffix asking a backend for output matching
// schema. Adapters without a native schema channel append it to the prompt.
func Instructions(schema map[string]any) string {
	out, err := util.RenderTemplate(instructionsTemplate, map[string]any{"schema": schema, "fence": true})
	if err != nil {
		raw, _ := json.Marshal(schema)
		return "Respond with JSON matching this schema: " + string(raw)
	}
	return out
}

// WithInstructions returns prompt with the schema instructions appended to
// its last user message, or as a new user message when there is none.
func WithInstructions(prompt core.Prompt, schema map[string]any) core.Prompt {
	if len(schema) == 0 {
		return prompt
	}
	out := make(core.Prompt, len(prompt), len(prompt)+1)
	copy(out, prompt)
	if n := len(out); n > 0 && out[n-1].Role == core.RoleUser {
		out[n-1].Content = strings.TrimRight(out[n-1].Content, "\n") + "\n\n" + Instructions(schema)
		return out
	}
	return append(out, core.PromptMessage{Role: core.RoleUser, Content: Instructions(schema)})
}
