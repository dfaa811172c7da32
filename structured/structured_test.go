package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/headlesscoder/core"
)

var reviewSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary": map[string]any{"type": "string"},
		"recommendations": map[string]any{
			"type":     "array",
			"items":    map[string]any{"type": "string"},
			"minItems": 2,
		},
	},
	"required": []any{"summary", "recommendations"},
}

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"raw object", ` {"a":1} `, `{"a":1}`},
		{"raw array", `[1,2]`, `[1,2]`},
		{"fenced", "Here you go:\n```json\n{\"a\": 2}\n```\nthanks", `{"a": 2}`},
		{"fenced without language", "```\n[true]\n```", `[true]`},
		{"embedded", `The answer is {"a": "x}y", "b": [1, {"c": null}]} as requested.`, `{"a": "x}y", "b": [1, {"c": null}]}`},
		{"skips invalid candidate", `see {not json} then {"ok": true}`, `{"ok": true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Extract(tc.text)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(raw))
		})
	}
}

func TestExtract_NoJSON(t *testing.T) {
	for _, text := range []string{"", "   ", "plain prose", `"just a string"`, "{ unbalanced"} {
		_, err := Extract(text)
		assert.ErrorIs(t, err, ErrNoJSON, text)
	}
}

func TestParse_Valid(t *testing.T) {
	text := "```json\n{\"summary\": \"ok\", \"recommendations\": [\"a\", \"b\"]}\n```"
	value, err := Parse(text, reviewSchema)
	require.NoError(t, err)

	m := value.(map[string]any)
	assert.Equal(t, "ok", m["summary"])
	assert.Len(t, m["recommendations"], 2)

	var out struct {
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	require.NoError(t, Decode(value, &out))
	assert.Equal(t, []string{"a", "b"}, out.Recommendations)
}

func TestParse_SchemaViolation(t *testing.T) {
	_, err := Parse(`{"summary": "ok", "recommendations": ["only one"]}`, reviewSchema)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStructuredOutput)
	assert.Equal(t, core.CodeStructuredOutput, core.CodeOf(err))
}

func TestParse_NotJSON(t *testing.T) {
	_, err := Parse("I could not decide.", reviewSchema)
	assert.ErrorIs(t, err, core.ErrStructuredOutput)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestCheck_Numbers(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"count": map[string]any{"type": "integer", "minimum": 1}},
	}
	value, err := Check([]byte(`{"count": 3}`), schema)
	require.NoError(t, err)
	assert.Equal(t, float64(3), value.(map[string]any)["count"])

	_, err = Check([]byte(`{"count": 0}`), schema)
	assert.ErrorIs(t, err, core.ErrStructuredOutput)
}

func TestSchemaFromStruct(t *testing.T) {
	type answer struct {
		Summary         string   `json:"summary"`
		Recommendations []string `json:"recommendations"`
	}
	schema := SchemaFromStruct(answer{})

	_, err := Check([]byte(`{"summary":"s","recommendations":[]}`), schema)
	assert.NoError(t, err)
	_, err = Check([]byte(`{"summary":"s"}`), schema)
	assert.Error(t, err)
}

func TestInstructions(t *testing.T) {
	text := Instructions(reviewSchema)
	assert.Contains(t, text, "JSON Schema")
	assert.Contains(t, text, `"minItems": 2`)
}

func TestWithInstructions(t *testing.T) {
	p := core.Text("review this")
	out := WithInstructions(p, reviewSchema)

	require.Len(t, out, 1)
	assert.Contains(t, out[0].Content, "review this\n\n")
	assert.Contains(t, out[0].Content, "JSON Schema")
	assert.Equal(t, "review this", p[0].Content, "input prompt must not be mutated")

	sys := core.Messages(core.PromptMessage{Role: core.RoleSystem, Content: "sys"})
	assert.Len(t, WithInstructions(sys, reviewSchema), 2)
	assert.Equal(t, p, WithInstructions(p, nil))
}
