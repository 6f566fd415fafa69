package llm

import (
	"context"
	"encoding/json"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI is a client of OpenAI compatible chat completion APIs
type OpenAI struct {
	cfg        config.OpenAIConfig
	translator Translator
}

// NewOpenAI creates a new OpenAI client
func NewOpenAI(cfg config.OpenAIConfig) *OpenAI {
	return &OpenAI{cfg: cfg, translator: Translator{NarrowUnions: true}}
}

// function is the decoded form of a translated fragment
type function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func decodeFunctions(fragments []json.RawMessage) ([]function, error) {
	out := make([]function, 0, len(fragments))
	for _, f := range fragments {
		var fn function
		if err := json.Unmarshal(f, &fn); err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, nil
}

// DeriveToolCall sends query with metas as tools to chat/completions.
// The key is expanded on every call so rotated secrets are picked up.
func (c *OpenAI) DeriveToolCall(ctx context.Context, metas []tools.Meta, query string) (*ToolCall, error) {
	key, err := config.ExpandSecret(c.cfg.Key)
	if err != nil {
		return nil, err
	}

	fragments, err := c.translator.TranslateAll(metas)
	if err != nil {
		return nil, err
	}
	functions, err := decodeFunctions(fragments)
	if err != nil {
		return nil, err
	}

	reqTools := make([]openai.ChatCompletionToolParam, 0, len(functions))
	for _, fn := range functions {
		reqTools = append(reqTools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        fn.Name,
				Description: openai.String(fn.Description),
				Parameters:  openai.FunctionParameters(fn.Parameters),
			},
		})
	}

	client := openai.NewClient(
		option.WithBaseURL(c.cfg.BaseURL),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithHTTPClient(newHTTPClient()),
	)

	response, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(query)},
		Tools:    reqTools,
	})
	if err != nil {
		return nil, transportError("chat completion failed", err)
	}

	if len(response.Choices) == 0 {
		return nil, nil
	}
	message := response.Choices[0].Message

	calls := make([]ToolCall, 0, len(message.ToolCalls))
	for _, tc := range message.ToolCalls {
		if !json.Valid([]byte(tc.Function.Arguments)) {
			// Retried like params the tool rejects
			logger.Warn().Str("tool", tc.Function.Name).Str("arguments", tc.Function.Arguments).Msg("tool call arguments are not valid JSON")
			return nil, nil
		}
		calls = append(calls, ToolCall{Tool: tc.Function.Name, Params: json.RawMessage(tc.Function.Arguments)})
	}
	logger.Debug().Int("calls", len(calls)).Str("content", message.Content).Msg("openai response")
	return single(calls), nil
}
