package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/hession/korah/internal/logger"
	"github.com/xeipuuv/gojsonschema"
)

// Tool is a strongly typed tool. Call validates its params and returns a
// lazy output sequence; the sequence stops early once ctx is cancelled.
type Tool[P, O any] interface {
	Name() string        // Unique tool name
	Description() string // Description for the LLM, empty for none
	Call(ctx context.Context, params P) (iter.Seq[O], error)
}

// Meta is the self-describing tool metadata
type Meta struct {
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	ParamsSchema json.RawMessage `json:"params_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
}

// DynTool is a type-erased tool taking and producing JSON
type DynTool interface {
	Meta() Meta
	Call(ctx context.Context, params json.RawMessage) (iter.Seq[json.RawMessage], error)
}

type erased[P, O any] struct {
	tool   Tool[P, O]
	meta   Meta
	schema *gojsonschema.Schema
}

// Erase wraps t as a DynTool. Schemas are derived and compiled once here;
// it panics if P or O cannot be described, which is a programming error.
func Erase[P, O any](t Tool[P, O]) DynTool {
	params, err := GenerateSchema[P]()
	if err != nil {
		panic(fmt.Sprintf("tool %s: params schema: %v", t.Name(), err))
	}
	output, err := GenerateSchema[O]()
	if err != nil {
		panic(fmt.Sprintf("tool %s: output schema: %v", t.Name(), err))
	}
	compiled, err := compileSchema(params)
	if err != nil {
		panic(fmt.Sprintf("tool %s: compile params schema: %v", t.Name(), err))
	}

	return &erased[P, O]{
		tool: t,
		meta: Meta{
			Name:         t.Name(),
			Description:  t.Description(),
			ParamsSchema: params,
			OutputSchema: output,
		},
		schema: compiled,
	}
}

func (e *erased[P, O]) Meta() Meta { return e.meta }

func (e *erased[P, O]) Call(ctx context.Context, raw json.RawMessage) (iter.Seq[json.RawMessage], error) {
	params, err := e.decode(raw)
	if err != nil {
		return nil, err
	}

	outputs, err := e.tool.Call(ctx, params)
	if err != nil {
		return nil, err
	}

	return func(yield func(json.RawMessage) bool) {
		for o := range outputs {
			data, err := json.Marshal(o)
			if err != nil {
				logger.Warn().Err(err).Str("tool", e.meta.Name).Msgf("failed to serialize tool output %+v", o)
				continue
			}
			if !yield(data) {
				return
			}
		}
	}, nil
}

// decode validates raw against the params schema, then unmarshals it
func (e *erased[P, O]) decode(raw json.RawMessage) (P, error) {
	var params P
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := validateParams(e.schema, raw); err != nil {
		return params, err
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, newError(CodeParams, "failed to decode params", err)
	}
	return params, nil
}
