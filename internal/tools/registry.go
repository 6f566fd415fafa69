package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
)

// Registry maps tool names to tools. It is read-only after construction.
type Registry struct {
	tools map[string]DynTool
	metas []Meta
}

// NewRegistry creates a registry of the given tools.
// It panics on a duplicate tool name.
func NewRegistry(tools ...DynTool) *Registry {
	r := &Registry{tools: make(map[string]DynTool, len(tools))}

	for _, tool := range tools {
		meta := tool.Meta()
		if _, exists := r.tools[meta.Name]; exists {
			panic(fmt.Sprintf("tool %s already exists", meta.Name))
		}
		r.tools[meta.Name] = tool
		r.metas = append(r.metas, meta)
	}

	sort.Slice(r.metas, func(i, j int) bool { return r.metas[i].Name < r.metas[j].Name })
	return r
}

// NewDefaultRegistry creates a registry with all built-in tools
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		Erase[FindFilesParams, FindFilesOutput](NewFindFiles()),
		Erase[FindProcessesParams, FindProcessesOutput](NewFindProcesses()),
	)
}

// Get gets a tool by name
func (r *Registry) Get(name string) (DynTool, bool) {
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns the metadata of all tools, sorted by name
func (r *Registry) List() []Meta {
	metas := make([]Meta, len(r.metas))
	copy(metas, r.metas)
	return metas
}

// Invoke calls a tool by name
func (r *Registry) Invoke(ctx context.Context, name string, params json.RawMessage) (iter.Seq[json.RawMessage], error) {
	tool, exists := r.Get(name)
	if !exists {
		return nil, NotFoundError(name)
	}
	return tool.Call(ctx, params)
}
