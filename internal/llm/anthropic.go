package llm

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
)

// defaultMaxTokens is used when max_tokens is not configured
const defaultMaxTokens = 1024

// Anthropic is a client of the Anthropic messages API
type Anthropic struct {
	cfg config.AnthropicConfig
	// The messages API accepts union types as is
	translator Translator
}

// NewAnthropic creates a new Anthropic client
func NewAnthropic(cfg config.AnthropicConfig) *Anthropic {
	return &Anthropic{cfg: cfg, translator: Translator{NarrowUnions: false}}
}

// DeriveToolCall sends query with metas as tools and picks tool_use blocks from the reply
func (c *Anthropic) DeriveToolCall(ctx context.Context, metas []tools.Meta, query string) (*ToolCall, error) {
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

	reqTools := make([]anthropic.ToolUnionParam, 0, len(functions))
	for _, fn := range functions {
		toolParam := anthropic.ToolParam{
			Name:        fn.Name,
			Description: anthropic.String(fn.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: fn.Parameters["properties"],
			},
		}
		if required, ok := fn.Parameters["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					toolParam.InputSchema.Required = append(toolParam.InputSchema.Required, s)
				}
			}
		}
		reqTools = append(reqTools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}

	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithHTTPClient(newHTTPClient()),
	}
	if c.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := c.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	response, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: maxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(query))},
		Tools:     reqTools,
	})
	if err != nil {
		return nil, transportError("messages request failed", err)
	}

	var calls []ToolCall
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			calls = append(calls, ToolCall{Tool: b.Name, Params: json.RawMessage(b.JSON.Input.Raw())})
		}
	}
	logger.Debug().Int("calls", len(calls)).Str("stop_reason", string(response.StopReason)).Msg("anthropic response")
	return single(calls), nil
}
