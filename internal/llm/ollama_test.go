package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newOllamaServer(t *testing.T, reply string, check func(body []byte)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if check != nil {
			check(body)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOllama_DeriveToolCall(t *testing.T) {
	reply := `{"message":{"role":"assistant","content":"","tool_calls":[
		{"function":{"name":"find_things","arguments":{"where":"/tmp","limit":3}}}
	]}}`
	server := newOllamaServer(t, reply, func(body []byte) {
		assert.Equal(t, "llama3.1", gjson.GetBytes(body, "model").String())
		assert.False(t, gjson.GetBytes(body, "stream").Bool())
		assert.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
		assert.Equal(t, "where is it", gjson.GetBytes(body, "messages.0.content").String())
		assert.Equal(t, "function", gjson.GetBytes(body, "tools.0.type").String())
		assert.Equal(t, "find_things", gjson.GetBytes(body, "tools.0.function.name").String())
		assert.Equal(t, `"integer"`, gjson.GetBytes(body, "tools.0.function.parameters.properties.limit.type").Raw)
	})

	client := NewOllama(config.OllamaConfig{BaseURL: server.URL + "/", Model: "llama3.1"})
	call, err := client.DeriveToolCall(context.Background(), []tools.Meta{testMeta()}, "where is it")
	require.NoError(t, err)
	require.NotNil(t, call)

	assert.Equal(t, "find_things", call.Tool)
	assert.JSONEq(t, `{"where":"/tmp","limit":3}`, string(call.Params))
}

func TestOllama_NoSingleCall(t *testing.T) {
	replies := map[string]string{
		"no calls":   `{"message":{"role":"assistant","content":"I cannot help"}}`,
		"two calls":  `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"a","arguments":{}}},{"function":{"name":"b","arguments":{}}}]}}`,
		"empty list": `{"message":{"role":"assistant","content":"","tool_calls":[]}}`,
	}

	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			server := newOllamaServer(t, reply, nil)
			client := NewOllama(config.OllamaConfig{BaseURL: server.URL, Model: "m"})

			call, err := client.DeriveToolCall(context.Background(), []tools.Meta{testMeta()}, "q")
			require.NoError(t, err)
			assert.Nil(t, call)
		})
	}
}

func TestOllama_Errors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error":"model not found"}`)
		}))
		defer server.Close()

		_, err := NewOllama(config.OllamaConfig{BaseURL: server.URL, Model: "m"}).DeriveToolCall(context.Background(), nil, "q")
		assertCode(t, err, CodeTransport)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("malformed body", func(t *testing.T) {
		server := newOllamaServer(t, `{"message":`, nil)

		_, err := NewOllama(config.OllamaConfig{BaseURL: server.URL, Model: "m"}).DeriveToolCall(context.Background(), nil, "q")
		assertCode(t, err, CodeResponse)
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		_, err := NewOllama(config.OllamaConfig{BaseURL: url, Model: "m"}).DeriveToolCall(context.Background(), nil, "q")
		assertCode(t, err, CodeTransport)
	})
}

func TestOllama_PrepareModel(t *testing.T) {
	var got pullRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pull", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"status":"success"}`)
	}))
	defer server.Close()

	err := NewOllama(config.OllamaConfig{BaseURL: server.URL + "/", Model: "m"}).PrepareModel(context.Background(), "llama3.1")
	require.NoError(t, err)
	assert.Equal(t, pullRequest{Model: "llama3.1", Insecure: false, Stream: false}, got)
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var llmErr *Error
	require.True(t, errors.As(err, &llmErr), "got %v", err)
	assert.Equal(t, code, llmErr.Code())
}
