package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file base name
const FileName = "korah.yaml"

// ErrInvalid marks configuration errors
var ErrInvalid = errors.New("config error")

// LLM API selectors
const (
	APIOllama    = "ollama"
	APIOpenAI    = "openai"
	APIAnthropic = "anthropic"
)

var (
	// configDir is the directory holding the loaded config and its .secrets file
	configDir     string
	configDirInit bool
)

// SetConfigDir sets a custom configuration directory
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// GetConfigDir returns the configuration directory
// Priority: 1. Set via SetConfigDir or Load, 2. current directory
func GetConfigDir() string {
	if !configDirInit {
		if cwd, err := os.Getwd(); err == nil {
			configDir = cwd
		}
		configDirInit = true
	}
	return configDir
}

// Config application configuration structure
type Config struct {
	LLM              LLMConfig    `yaml:"llm"`
	NumDeriveTries   int          `yaml:"num_derive_tries"`
	DoublePassDerive bool         `yaml:"double_pass_derive"`
	Log              LogConfig    `yaml:"log"`
	Server           ServerConfig `yaml:"server"`
}

// LLMConfig provider selection and per-provider settings
type LLMConfig struct {
	API       string           `yaml:"api"`
	QueryFmt  string           `yaml:"query_fmt"`
	Ollama    *OllamaConfig    `yaml:"ollama,omitempty"`
	OpenAI    *OpenAIConfig    `yaml:"openai,omitempty"`
	Anthropic *AnthropicConfig `yaml:"anthropic,omitempty"`
}

// OllamaConfig Ollama API settings
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAIConfig OpenAI compatible API settings.
// Key may reference ${ENV_VAR}; it is expanded on every request.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	Model   string `yaml:"model"`
}

// AnthropicConfig Anthropic messages API settings
type AnthropicConfig struct {
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level          string   `yaml:"level"`
	Dir            string   `yaml:"dir"`
	MaxDays        int      `yaml:"max_days"`
	Console        bool     `yaml:"console"`
	Pretty         bool     `yaml:"pretty"`
	Redaction      bool     `yaml:"redaction"`
	RedactPatterns []string `yaml:"redact_patterns,omitempty"` // extra regular expressions masked in log output
}

// ServerConfig HTTP front end configuration
type ServerConfig struct {
	Address string `yaml:"address"`
	DBPath  string `yaml:"db_path"`
}

// DefaultQueryFmt is the default query template
const DefaultQueryFmt = "Context: {context}\nQuery: {query}"

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		LLM: LLMConfig{
			API:      APIOllama,
			QueryFmt: DefaultQueryFmt,
			Ollama: &OllamaConfig{
				BaseURL: "http://localhost:11434/",
				Model:   "llama3.1",
			},
		},
		NumDeriveTries:   3,
		DoublePassDerive: false,
		Log: LogConfig{
			Level:     "info",
			Dir:       filepath.Join(homeDir, ".korah", "logs"),
			MaxDays:   7,
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Server: ServerConfig{
			Address: "127.0.0.1:8270",
			DBPath:  filepath.Join(homeDir, ".korah", "korah.db"),
		},
	}
}

// SearchDirs returns the directories searched for korah.yaml, in order
func SearchDirs() []string {
	dirs := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".config"))
	}
	return append(dirs, "/etc")
}

// FindConfigPath returns the first existing korah.yaml in SearchDirs,
// or FileName when none exists
func FindConfigPath() string {
	for _, dir := range SearchDirs() {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return FileName
}

// Load loads configuration from path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	SetConfigDir(filepath.Dir(path))

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Provider blocks come only from the file
	cfg.LLM.Ollama = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalid, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	content := "# korah configuration file\n\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.LLM.API {
	case APIOllama, APIOpenAI, APIAnthropic:
	default:
		return fmt.Errorf("%w: llm.api must be one of ollama, openai, anthropic (got %q)", ErrInvalid, c.LLM.API)
	}
	if strings.TrimSpace(c.LLM.QueryFmt) == "" {
		return fmt.Errorf("%w: llm.query_fmt cannot be empty", ErrInvalid)
	}
	if !strings.Contains(c.LLM.QueryFmt, "{query}") {
		return fmt.Errorf("%w: llm.query_fmt must contain {query}", ErrInvalid)
	}
	if c.NumDeriveTries < 1 {
		return fmt.Errorf("%w: num_derive_tries must be at least 1", ErrInvalid)
	}

	for _, pattern := range c.Log.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: log.redact_patterns: %v", ErrInvalid, err)
		}
	}

	if o := c.LLM.Ollama; o != nil && (o.BaseURL == "" || o.Model == "") {
		return fmt.Errorf("%w: llm.ollama needs base_url and model", ErrInvalid)
	}
	if o := c.LLM.OpenAI; o != nil && (o.BaseURL == "" || o.Model == "") {
		return fmt.Errorf("%w: llm.openai needs base_url and model", ErrInvalid)
	}
	if a := c.LLM.Anthropic; a != nil {
		if a.Model == "" {
			return fmt.Errorf("%w: llm.anthropic.model cannot be empty", ErrInvalid)
		}
		if a.MaxTokens < 0 {
			return fmt.Errorf("%w: llm.anthropic.max_tokens cannot be negative", ErrInvalid)
		}
	}
	return nil
}

// String returns string representation of config (hides sensitive info)
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "korah configuration:\n")
	fmt.Fprintf(&b, "  LLM:\n    API: %s\n    Query Format: %q\n", c.LLM.API, c.LLM.QueryFmt)
	if o := c.LLM.Ollama; o != nil {
		fmt.Fprintf(&b, "    Ollama: %s (model %s)\n", o.BaseURL, o.Model)
	}
	if o := c.LLM.OpenAI; o != nil {
		fmt.Fprintf(&b, "    OpenAI: %s (model %s, key %s)\n", o.BaseURL, o.Model, redactAPIKey(o.Key))
	}
	if a := c.LLM.Anthropic; a != nil {
		fmt.Fprintf(&b, "    Anthropic: %s (model %s, key %s)\n", a.BaseURL, a.Model, redactAPIKey(a.Key))
	}
	fmt.Fprintf(&b, "  Derive Tries: %d\n  Double Pass: %v\n", c.NumDeriveTries, c.DoublePassDerive)
	fmt.Fprintf(&b, "  Log: level %s, dir %s, keep %d days\n", c.Log.Level, c.Log.Dir, c.Log.MaxDays)
	fmt.Fprintf(&b, "  Server: %s (db %s)", c.Server.Address, c.Server.DBPath)
	return b.String()
}

// redactAPIKey keeps ${VAR} references readable and masks literal keys
func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if strings.HasPrefix(value, "$") {
		return value
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}
