package agent

import (
	"encoding/json"
	"strings"

	"github.com/hession/korah/internal/llm"
	"github.com/tidwall/gjson"
)

// ParseLiteralCall reports whether query is itself a {"tool": ..., "params": {...}}
// object, and returns it as a ToolCall if so.
func ParseLiteralCall(query string) (*llm.ToolCall, bool) {
	query = strings.TrimSpace(query)
	if !strings.HasPrefix(query, "{") || !gjson.Valid(query) {
		return nil, false
	}

	parsed := gjson.Parse(query)
	tool := parsed.Get("tool")
	params := parsed.Get("params")
	if tool.Type != gjson.String || !params.IsObject() {
		return nil, false
	}
	return &llm.ToolCall{Tool: tool.String(), Params: json.RawMessage(params.Raw)}, true
}
