package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type review struct {
	Summary         string   `json:"summary" description:"one paragraph summary"`
	Recommendations []string `json:"recommendations"`
	Score           *float64 `json:"score"`
	Notes           string   `json:"notes,omitempty" jsonschema:"free-form notes"`
	ignored         string
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(review{ignored: "x"})

	assert.Equal(t, "object", schema["type"])
	props := schema["properties"].(map[string]any)
	require.Len(t, props, 4)

	summary := props["summary"].(map[string]any)
	assert.Equal(t, "string", summary["type"])
	assert.Equal(t, "one paragraph summary", summary["description"])

	recs := props["recommendations"].(map[string]any)
	assert.Equal(t, "array", recs["type"])
	assert.Equal(t, map[string]any{"type": "string"}, recs["items"])

	assert.Equal(t, "number", props["score"].(map[string]any)["type"])
	assert.Equal(t, "free-form notes", props["notes"].(map[string]any)["description"])

	assert.ElementsMatch(t, []string{"summary", "recommendations"}, schema["required"])
}

func TestCreateSchema_NonStruct(t *testing.T) {
	assert.Equal(t, map[string]any{"type": "string"}, CreateSchema("x"))
	assert.Equal(t, "object", CreateSchema(nil)["type"])
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	out, err = RenderTemplate(`{{ upper .name }} {{ default "n/a" .missing }}`, map[string]any{"name": "codex"})
	require.NoError(t, err)
	assert.Equal(t, "CODEX n/a", out)

	out, err = RenderTemplate(`{{ json .schema }}`, map[string]any{"schema": map[string]any{"type": "object"}})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"type\": \"object\"\n}", out)

	_, err = RenderTemplate("{{ .broken", nil)
	assert.Error(t, err)
}
