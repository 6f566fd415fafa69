package llm

import (
	"encoding/json"
	"fmt"

	"github.com/hession/korah/internal/tools"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Translator converts tool metadata into the function fragment sent to an LLM:
//
//	{"name": ..., "description": ..., "parameters": {"type": "object", "required": [...], "properties": {...}}}
type Translator struct {
	// NarrowUnions replaces each property's type list with its first entry,
	// for APIs that reject ["string","null"] style types.
	NarrowUnions bool
}

// Translate builds the function fragment for meta. A meta without a params
// schema yields the Strip fragment.
func (t Translator) Translate(meta tools.Meta) (json.RawMessage, error) {
	fragment, err := t.Strip(meta)
	if err != nil || len(meta.ParamsSchema) == 0 {
		return fragment, err
	}

	required := gjson.GetBytes(meta.ParamsSchema, "required").Raw
	if required == "" {
		required = "[]"
	}
	properties := gjson.GetBytes(meta.ParamsSchema, "properties").Raw
	if properties == "" {
		properties = "{}"
	}
	if t.NarrowUnions {
		if properties, err = narrowUnions(properties); err != nil {
			return nil, fmt.Errorf("failed to narrow %s params: %w", meta.Name, err)
		}
	}

	out := fragment
	for _, field := range []struct{ path, raw string }{
		{"parameters.type", `"object"`},
		{"parameters.required", required},
		{"parameters.properties", properties},
	} {
		if out, err = sjson.SetRawBytes(out, field.path, []byte(field.raw)); err != nil {
			return nil, fmt.Errorf("failed to translate %s: %w", meta.Name, err)
		}
	}
	return out, nil
}

// Strip builds a name and description only fragment, without parameters
func (t Translator) Strip(meta tools.Meta) (json.RawMessage, error) {
	out, err := sjson.SetBytes([]byte(`{}`), "name", meta.Name)
	if err != nil {
		return nil, err
	}
	if meta.Description != "" {
		if out, err = sjson.SetBytes(out, "description", meta.Description); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// TranslateAll translates every meta, in order
func (t Translator) TranslateAll(metas []tools.Meta) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(metas))
	for _, m := range metas {
		fragment, err := t.Translate(m)
		if err != nil {
			return nil, err
		}
		out = append(out, fragment)
	}
	return out, nil
}

func narrowUnions(properties string) (string, error) {
	var names []string
	gjson.Parse(properties).ForEach(func(key, value gjson.Result) bool {
		if value.Get("type").IsArray() {
			names = append(names, key.String())
		}
		return true
	})

	out := properties
	for _, name := range names {
		path := escapeKey(name) + ".type"
		types := gjson.Get(out, path).Array()
		if len(types) == 0 {
			continue
		}
		var err error
		if out, err = sjson.SetRaw(out, path, types[0].Raw); err != nil {
			return "", err
		}
	}
	return out, nil
}

// escapeKey escapes gjson path syntax in a property name
func escapeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
