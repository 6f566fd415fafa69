package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/store"
	"github.com/hession/korah/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
llm:
  api: ollama
  ollama: {base_url: "http://127.0.0.1:1/", model: "llama3.1"}
num_derive_tries: 2
log: {level: debug, dir: "", console: false}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(ctx, args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := execute(t, context.Background(), "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "korah v"+version+"\n", out)
}

func TestToolsCommand(t *testing.T) {
	code, out, _ := execute(t, context.Background(), "-c", writeConfig(t, testConfig), "tools")
	require.Equal(t, 0, code)

	var metas []tools.Meta
	require.NoError(t, json.Unmarshal([]byte(out), &metas))
	require.Len(t, metas, 2)
	assert.Equal(t, "find_files", metas[0].Name)
	assert.Equal(t, "find_processes", metas[1].Name)
}

func TestConfigCommand_FlagOverrides(t *testing.T) {
	path := writeConfig(t, testConfig)
	code, out, _ := execute(t, context.Background(), "-c", path, "-n", "5", "--double-pass", "config")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Derive Tries: 5")
	assert.Contains(t, out, "Double Pass: true")
	assert.Contains(t, out, filepath.Dir(path))
}

func TestLiteralQuery(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("x"), 0644))

	query, err := json.Marshal(map[string]any{
		"tool":   "find_files",
		"params": map[string]any{"in_directory": dir, "name_regex": `\.txt$`},
	})
	require.NoError(t, err)

	code, out, stderr := execute(t, context.Background(), "-c", writeConfig(t, testConfig), string(query))
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"path":"`+filepath.Join(dir, "notes.txt")+`"}`, lines[0])
}

func TestExitCodes(t *testing.T) {
	cfg := writeConfig(t, testConfig)

	t.Run("invalid api", func(t *testing.T) {
		code, _, stderr := execute(t, context.Background(), "-c", cfg, "-a", "bogus", "find my files")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "Error [config]")
	})

	t.Run("missing provider block", func(t *testing.T) {
		code, _, stderr := execute(t, context.Background(), "-c", cfg, "-a", "openai", "find my files")
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "llm_config_missing")
	})

	t.Run("unknown tool", func(t *testing.T) {
		code, _, stderr := execute(t, context.Background(), "-c", cfg, `{"tool":"rm","params":{}}`)
		assert.Equal(t, 1, code)
		assert.Contains(t, stderr, "tool_not_found")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		code, _, stderr := execute(t, ctx, "-c", cfg, "find my files")
		assert.Equal(t, exitCancelled, code)
		assert.Contains(t, stderr, "Error [cancelled]")
	})
}

func TestActiveModel(t *testing.T) {
	c := config.DefaultConfig().LLM
	assert.Equal(t, "llama3.1", activeModel(&c))

	setActiveModel(&c, "qwen2.5")
	assert.Equal(t, "qwen2.5", c.Ollama.Model)

	c.API = config.APIAnthropic
	assert.Empty(t, activeModel(&c))
	setActiveModel(&c, "ignored")
	assert.Nil(t, c.Anthropic)
}

func TestLogConfigInfo(t *testing.T) {
	// Should not panic with any provider block missing
	cfg := config.DefaultConfig()
	cfg.LLM.Ollama = nil
	logConfigInfo(cfg)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", config.FileName)

	code, out, stderr := execute(t, context.Background(), "-c", path, "config", "init")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig().LLM.Ollama, cfg.LLM.Ollama)

	code, _, stderr = execute(t, context.Background(), "-c", path, "config", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "already exists")

	code, _, stderr = execute(t, context.Background(), "-c", path, "config", "init", "--force")
	assert.Equal(t, 0, code, stderr)
}

func TestApplyStoreSettings(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLiteStore(store.InMemory)
	require.NoError(t, err)
	defer st.Close()

	cfg := config.DefaultConfig()
	addr, err := applyStoreSettings(ctx, cfg, st, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.Address, addr)

	// stored values win over the config file on later starts
	cfg = config.DefaultConfig()
	addr, err = applyStoreSettings(ctx, cfg, st, []string{"api_address=0.0.0.0:9000", "llm_model=qwen2.5"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", addr)
	assert.Equal(t, "qwen2.5", cfg.LLM.Ollama.Model)

	cfg = config.DefaultConfig()
	addr, err = applyStoreSettings(ctx, cfg, st, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", addr)
	assert.Equal(t, "qwen2.5", cfg.LLM.Ollama.Model)

	value, err := st.ConfigValue(ctx, store.KeyLLMModel)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", value)
}

func TestApplyStoreSettings_InvalidSet(t *testing.T) {
	st, err := store.NewSQLiteStore(store.InMemory)
	require.NoError(t, err)
	defer st.Close()

	for _, set := range []string{"api_address", "password=hunter2"} {
		_, err := applyStoreSettings(context.Background(), config.DefaultConfig(), st, []string{set})
		assert.ErrorIs(t, err, config.ErrInvalid, set)
	}
}
