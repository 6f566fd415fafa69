package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
)

// Ollama is a client of the Ollama chat API
type Ollama struct {
	baseURL    string
	model      string
	translator Translator
	httpClient *http.Client
}

// ollamaMessage message structure
type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

// ollamaToolCall tool call structure; arguments are a JSON object
type ollamaToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ollamaTool tool definition (for Function Calling)
type ollamaTool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// chatRequest chat request
type chatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools"`
}

// chatResponse API response
type chatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// pullRequest model pull request
type pullRequest struct {
	Model    string `json:"model"`
	Insecure bool   `json:"insecure"`
	Stream   bool   `json:"stream"`
}

// NewOllama creates a new Ollama client
func NewOllama(cfg config.OllamaConfig) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		translator: Translator{NarrowUnions: true},
		httpClient: newHTTPClient(),
	}
}

// DeriveToolCall sends query with metas as tools to api/chat
func (c *Ollama) DeriveToolCall(ctx context.Context, metas []tools.Meta, query string) (*ToolCall, error) {
	functions, err := c.translator.TranslateAll(metas)
	if err != nil {
		return nil, err
	}
	reqTools := make([]ollamaTool, 0, len(functions))
	for _, fn := range functions {
		reqTools = append(reqTools, ollamaTool{Type: "function", Function: fn})
	}

	reqBody := chatRequest{
		Model:    c.model,
		Messages: []ollamaMessage{{Role: "user", Content: query}},
		Stream:   false,
		Tools:    reqTools,
	}

	var resp chatResponse
	if err := c.post(ctx, "/api/chat", reqBody, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, responseError("API error: "+resp.Error, nil)
	}

	calls := make([]ToolCall, 0, len(resp.Message.ToolCalls))
	for _, tc := range resp.Message.ToolCalls {
		calls = append(calls, ToolCall{Tool: tc.Function.Name, Params: tc.Function.Arguments})
	}
	logger.Debug().Int("calls", len(calls)).Str("content", resp.Message.Content).Msg("ollama response")
	return single(calls), nil
}

// PrepareModel makes the server pull model ahead of the first query
func (c *Ollama) PrepareModel(ctx context.Context, model string) error {
	return c.post(ctx, "/api/pull", pullRequest{Model: model, Insecure: false, Stream: false}, nil)
}

// post sends body as JSON to path and decodes the reply into out, unless nil
func (c *Ollama) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return transportError("failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError("failed to send request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return transportError(fmt.Sprintf("API returned error (status %d): %s", resp.StatusCode, string(data)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return responseError("failed to parse response", err)
	}
	return nil
}
