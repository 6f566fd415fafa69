package llm

import (
	"encoding/json"
	"testing"

	"github.com/hession/korah/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testMeta() tools.Meta {
	return tools.Meta{
		Name:        "find_things",
		Description: "Finds things",
		ParamsSchema: json.RawMessage(`{
			"type": "object",
			"required": ["where"],
			"properties": {
				"where": {"type": "string"},
				"limit": {"type": ["integer", "null"], "description": "Max items"},
				"odd.name": {"type": ["boolean", "null"]}
			}
		}`),
		OutputSchema: json.RawMessage(`{"type":"object"}`),
	}
}

func TestTranslator_Translate(t *testing.T) {
	out, err := Translator{}.Translate(testMeta())
	require.NoError(t, err)

	assert.Equal(t, "find_things", gjson.GetBytes(out, "name").String())
	assert.Equal(t, "Finds things", gjson.GetBytes(out, "description").String())
	assert.Equal(t, "object", gjson.GetBytes(out, "parameters.type").String())
	assert.JSONEq(t, `["where"]`, gjson.GetBytes(out, "parameters.required").Raw)
	assert.JSONEq(t, `["integer","null"]`, gjson.GetBytes(out, "parameters.properties.limit.type").Raw)
	assert.Equal(t, "Max items", gjson.GetBytes(out, "parameters.properties.limit.description").String())
}

func TestTranslator_NarrowUnions(t *testing.T) {
	out, err := Translator{NarrowUnions: true}.Translate(testMeta())
	require.NoError(t, err)

	props := gjson.GetBytes(out, "parameters.properties")
	assert.Equal(t, `"integer"`, props.Get("limit.type").Raw)
	assert.Equal(t, "Max items", props.Get("limit.description").String())
	assert.Equal(t, `"string"`, props.Get("where.type").Raw)
	assert.Equal(t, `"boolean"`, props.Get(`odd\.name.type`).Raw)
}

func TestTranslator_EmptySchema(t *testing.T) {
	meta := tools.Meta{Name: "noop", ParamsSchema: json.RawMessage(`{"type":"object"}`)}

	out, err := Translator{NarrowUnions: true}.Translate(meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"noop","parameters":{"type":"object","required":[],"properties":{}}}`, string(out))
}

func TestTranslator_Strip(t *testing.T) {
	out, err := Translator{}.Strip(testMeta())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"find_things","description":"Finds things"}`, string(out))
}

func TestTranslator_NoParamsSchema(t *testing.T) {
	meta := testMeta()
	meta.ParamsSchema = nil

	out, err := Translator{NarrowUnions: true}.Translate(meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"find_things","description":"Finds things"}`, string(out))
}

func TestTranslator_RealTools(t *testing.T) {
	for _, meta := range tools.NewDefaultRegistry().List() {
		out, err := Translator{NarrowUnions: true}.Translate(meta)
		require.NoError(t, err, meta.Name)

		gjson.GetBytes(out, "parameters.properties").ForEach(func(key, prop gjson.Result) bool {
			assert.False(t, prop.Get("type").IsArray(), "%s.%s", meta.Name, key)
			return true
		})
	}
}
