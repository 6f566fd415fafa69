package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xeipuuv/gojsonschema"
)

var reflector = jsonschema.Reflector{
	DoNotReference:            true,
	AllowAdditionalProperties: true,
}

// GenerateSchema derives a JSON Schema document from T.
// Properties that are not required get a nullable type union, e.g.
// ["boolean", "null"], so optional fields accept explicit nulls.
func GenerateSchema[T any]() (json.RawMessage, error) {
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""
	schema.ID = ""
	schema.Definitions = nil

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}
	return markOptionalNullable(data)
}

func markOptionalNullable(schema []byte) (json.RawMessage, error) {
	required := map[string]bool{}
	for _, name := range gjson.GetBytes(schema, "required").Array() {
		required[name.String()] = true
	}

	types := map[string]string{}
	gjson.GetBytes(schema, "properties").ForEach(func(key, prop gjson.Result) bool {
		typ := prop.Get("type")
		if !required[key.String()] && typ.Type == gjson.String {
			types[key.String()] = typ.String()
		}
		return true
	})

	for name, typ := range types {
		var err error
		path := "properties." + escapePath(name) + ".type"
		schema, err = sjson.SetBytes(schema, path, []string{typ, "null"})
		if err != nil {
			return nil, fmt.Errorf("failed to mark %s optional: %w", name, err)
		}
	}
	return schema, nil
}

// compileSchema compiles a params schema for validation
func compileSchema(schema json.RawMessage) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
}

// validateParams checks params against a compiled schema
func validateParams(schema *gojsonschema.Schema, params json.RawMessage) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(params))
	if err != nil {
		return newError(CodeParams, "malformed params", err)
	}
	if !result.Valid() {
		msg := "params do not match schema"
		for i, e := range result.Errors() {
			if i == 0 {
				msg += ": "
			} else {
				msg += "; "
			}
			msg += e.String()
		}
		return newError(CodeParams, msg, nil)
	}
	return nil
}

// escapePath escapes gjson/sjson path metacharacters in a property name
func escapePath(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
