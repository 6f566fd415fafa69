package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type echoParams struct {
	Values []float64 `json:"values"`
	Label  *string   `json:"label,omitempty"`
}

type echoOutput struct {
	Value float64 `json:"value"`
}

// echoTool yields each input value
type echoTool struct {
	name string
	err  error
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes values" }

func (e *echoTool) Call(ctx context.Context, params echoParams) (iter.Seq[echoOutput], error) {
	if e.err != nil {
		return nil, e.err
	}
	return func(yield func(echoOutput) bool) {
		for _, v := range params.Values {
			if !yield(echoOutput{Value: v}) {
				return
			}
		}
	}, nil
}

func newEcho(name string) DynTool {
	return Erase[echoParams, echoOutput](&echoTool{name: name})
}

func collect(t *testing.T, seq iter.Seq[json.RawMessage]) []string {
	t.Helper()
	var out []string
	for item := range seq {
		out = append(out, string(item))
	}
	return out
}

func TestRegistry_DuplicateNamesPanic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("construction with a repeated name always fails", prop.ForAll(
		func(names []string, dupIndex int) bool {
			if len(names) == 0 {
				return true
			}
			tools := make([]DynTool, 0, len(names)+1)
			for i, n := range names {
				tools = append(tools, newEcho(fmt.Sprintf("%s_%d", n, i)))
			}
			dup := tools[dupIndex%len(tools)]
			tools = append(tools, newEcho(dup.Meta().Name))

			panicked := false
			func() {
				defer func() { panicked = recover() != nil }()
				NewRegistry(tools...)
			}()
			return panicked
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestRegistry_ListAndGet(t *testing.T) {
	r := NewRegistry(newEcho("zeta"), newEcho("alpha"))

	metas := r.List()
	require.Len(t, metas, 2)
	assert.Equal(t, "alpha", metas[0].Name)
	assert.Equal(t, "zeta", metas[1].Name)

	_, ok := r.Get("alpha")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry(newEcho("echo"))

	_, err := r.Invoke(context.Background(), "nope", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "tool 'nope' not found")
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	names := make([]string, 0)
	for _, m := range r.List() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"find_files", "find_processes"}, names)
}

func TestDynTool_Call(t *testing.T) {
	tool := newEcho("echo")

	seq, err := tool.Call(context.Background(), json.RawMessage(`{"values":[1,2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"value":1}`, `{"value":2.5}`}, collect(t, seq))
}

func TestDynTool_ParamsErrors(t *testing.T) {
	tool := newEcho("echo")

	tests := []struct {
		name   string
		params string
	}{
		{"malformed json", `{"values":`},
		{"wrong type", `{"values":"nope"}`},
		{"missing required", `{"label":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Call(context.Background(), json.RawMessage(tt.params))
			require.Error(t, err)

			var toolErr *Error
			require.True(t, errors.As(err, &toolErr))
			assert.Equal(t, CodeParams, toolErr.Code())
		})
	}
}

func TestDynTool_NullableOptional(t *testing.T) {
	tool := newEcho("echo")

	_, err := tool.Call(context.Background(), json.RawMessage(`{"values":[],"label":null}`))
	assert.NoError(t, err)
}

func TestDynTool_ToolErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	tool := Erase[echoParams, echoOutput](&echoTool{name: "echo", err: boom})

	_, err := tool.Call(context.Background(), json.RawMessage(`{"values":[]}`))
	assert.ErrorIs(t, err, boom)
}

// nanTool yields a value JSON cannot represent between two valid ones
type nanTool struct{}

func (nanTool) Name() string        { return "nan" }
func (nanTool) Description() string { return "" }
func (nanTool) Call(context.Context, echoParams) (iter.Seq[echoOutput], error) {
	return slices.Values([]echoOutput{{Value: 1}, {Value: math.NaN()}, {Value: 2}}), nil
}

func TestDynTool_SkipsUnserializableItems(t *testing.T) {
	tool := Erase[echoParams, echoOutput](nanTool{})

	seq, err := tool.Call(context.Background(), json.RawMessage(`{"values":[]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{`{"value":1}`, `{"value":2}`}, collect(t, seq))
}

func TestDynTool_EarlyBreak(t *testing.T) {
	tool := newEcho("echo")

	seq, err := tool.Call(context.Background(), json.RawMessage(`{"values":[1,2,3]}`))
	require.NoError(t, err)

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestGenerateSchema(t *testing.T) {
	schema, err := GenerateSchema[FindFilesParams]()
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(schema, "$schema").Exists())
	assert.Equal(t, "object", gjson.GetBytes(schema, "type").String())

	required := gjson.GetBytes(schema, "required").Array()
	require.Len(t, required, 1)
	assert.Equal(t, "in_directory", required[0].String())

	assert.Equal(t, "string", gjson.GetBytes(schema, "properties.in_directory.type").String())
	assert.Equal(t, `["boolean","null"]`, gjson.GetBytes(schema, "properties.is_directory.type").Raw)
	assert.Equal(t, `["string","null"]`, gjson.GetBytes(schema, "properties.min_time_created.type").Raw)
	assert.Equal(t, "Optional, RE2-compatible.", gjson.GetBytes(schema, "properties.name_regex.description").String())
}

func TestGenerateSchema_FlattensProcessDetails(t *testing.T) {
	schema, err := GenerateSchema[FindProcessesOutput]()
	require.NoError(t, err)

	props := gjson.GetBytes(schema, "properties")
	for _, name := range []string{"name", "pid", "cpu_usage", "tcp_ports", "exe"} {
		assert.True(t, props.Get(name).Exists(), name)
	}
	assert.False(t, props.Get("ProcessDetails").Exists())
}

// Every value built from the schema's own property types must be accepted by Call.
func TestSchemaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	samples := map[string]string{
		"string":  `"2024-01-01T00:00:00"`,
		"boolean": `true`,
		"integer": `1`,
		"number":  `1.5`,
	}
	// min and max bounds get the same value so they stay consistent
	overrides := map[string]string{
		"in_directory": fmt.Sprintf("%q", dir),
		"name_regex":   `".*"`,
	}

	r := NewRegistry(
		Erase[FindFilesParams, FindFilesOutput](NewFindFiles()),
		Erase[FindProcessesParams, FindProcessesOutput](NewFindProcessesWithSource(&fakeSource{})),
	)

	for _, meta := range r.List() {
		t.Run(meta.Name, func(t *testing.T) {
			var names []string
			gjson.GetBytes(meta.ParamsSchema, "properties").ForEach(func(key, prop gjson.Result) bool {
				names = append(names, key.String())
				return true
			})
			slices.Sort(names)

			fields := ""
			for _, name := range names {
				typ := gjson.GetBytes(meta.ParamsSchema, "properties."+name+".type")
				first := typ.String()
				if typ.IsArray() {
					first = typ.Array()[0].String()
				}
				value, ok := overrides[name]
				if !ok {
					value = samples[first]
				}
				if fields != "" {
					fields += ","
				}
				fields += fmt.Sprintf("%q:%s", name, value)
			}
			params := "{" + fields + "}"

			_, err := r.Invoke(context.Background(), meta.Name, json.RawMessage(params))
			assert.NoError(t, err, params)
		})
	}
}
