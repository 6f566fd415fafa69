package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/tools"
)

// requestTimeout bounds a single LLM round trip
const requestTimeout = 120 * time.Second

// ToolCall is a tool invocation derived by an LLM or given literally
type ToolCall struct {
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params"`
}

// Client derives tool calls from natural language queries
type Client interface {
	// DeriveToolCall asks the LLM to pick one of metas for query. It returns
	// nil without error when the LLM produced zero or several calls.
	DeriveToolCall(ctx context.Context, metas []tools.Meta, query string) (*ToolCall, error)
}

// New creates the client selected by cfg.API
func New(cfg *config.LLMConfig) (Client, error) {
	switch cfg.API {
	case config.APIOllama:
		if cfg.Ollama == nil {
			return nil, configMissing(config.APIOllama)
		}
		return NewOllama(*cfg.Ollama), nil
	case config.APIOpenAI:
		if cfg.OpenAI == nil {
			return nil, configMissing(config.APIOpenAI)
		}
		return NewOpenAI(*cfg.OpenAI), nil
	case config.APIAnthropic:
		if cfg.Anthropic == nil {
			return nil, configMissing(config.APIAnthropic)
		}
		return NewAnthropic(*cfg.Anthropic), nil
	default:
		return nil, fmt.Errorf("%w: unsupported llm api %q", config.ErrInvalid, cfg.API)
	}
}

func configMissing(api string) *Error {
	return newError(CodeConfigMissing, fmt.Sprintf("%s config missing", api), nil)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// single returns the only element of calls, or nil for zero or several
func single(calls []ToolCall) *ToolCall {
	if len(calls) != 1 {
		return nil
	}
	return &calls[0]
}
