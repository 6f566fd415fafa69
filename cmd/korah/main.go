package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/hession/korah/internal/agent"
	"github.com/hession/korah/internal/cli"
	"github.com/hession/korah/internal/config"
	"github.com/hession/korah/internal/llm"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/server"
	"github.com/hession/korah/internal/store"
	"github.com/hession/korah/internal/tools"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
)

// exitCancelled is the exit status of a cancelled query, as for SIGINT
const exitCancelled = 130

// logEnv overrides the configured log level
const logEnv = "KORAH_LOG"

// settingKeys are the server settings `serve --set` accepts
var settingKeys = []string{store.KeyAPIAddress, store.KeyLLMModel, store.KeyOllamaURL}

type options struct {
	configPath     string
	llmAPI         string
	numDeriveTries int
	doublePass     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.Close()
	os.Exit(code)
}

// run executes the command line and returns the process exit status
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	code := agent.Code(err)
	logger.Error().Err(err).Str("code", code).Msg("korah failed")
	fmt.Fprintf(stderr, "Error [%s]: %v\n", code, err)
	if errors.Is(err, agent.ErrCancelled) {
		return exitCancelled
	}
	return 1
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		opts options
		cfg  *config.Config
	)

	rootCmd := &cobra.Command{
		Use:   "korah [query]",
		Short: "korah - natural language queries over local tools",
		Long: `korah turns a natural language query into a call to one of its local tools
(find_files, find_processes) using an LLM, and prints the results as JSON lines.

A query that is a {"tool": ..., "params": {...}} object calls the tool directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = loadConfig(cmd, &opts)
			if err != nil {
				return err
			}
			return initLogger(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			o, err := newOrchestrator(cfg)
			if err != nil {
				return err
			}
			return o.Run(cmd.Context(), strings.Join(args, " "), cli.Emit(out))
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: first korah.yaml in ., ~/.config, /etc)")
	flags.StringVarP(&opts.llmAPI, "llm-api", "a", "", "LLM API to use: ollama, openai or anthropic")
	flags.IntVarP(&opts.numDeriveTries, "num-derive-tries", "n", agent.DefaultDeriveTries, "attempts to derive a working tool call")
	flags.BoolVar(&opts.doublePass, "double-pass", false, "pick the tool by name before deriving its params")

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "List tools with their JSON schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(tools.NewDefaultRegistry().List(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to serialize tools: %w", err)
			}
			fmt.Fprintln(out, string(data))
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(out, cfg.String())
			fmt.Fprintf(out, "\nConfig directory: %s\n", config.GetConfigDir())
			return nil
		},
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.FileName
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := writeDefaultConfig(path, force); err != nil {
				return err
			}
			fmt.Fprintf(out, "Config written to %s\n", path)
			return nil
		},
	}
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	var sets []string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve tools and queries over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, sets)
		},
	}
	serveCmd.Flags().StringArrayVar(&sets, "set", nil,
		"store a server setting before starting, key=value with key "+strings.Join(settingKeys, ", "))

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive shell, one query per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := newOrchestrator(cfg)
			if err != nil {
				return err
			}
			// Ctrl+C cancels the running query only; the shell handles it per line
			ctx, stop := signal.NotifyContext(context.WithoutCancel(cmd.Context()), syscall.SIGTERM)
			defer stop()
			return cli.New(o, tools.NewDefaultRegistry(), out).Run(ctx)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "korah v%s\n", version)
		},
	}

	rootCmd.AddCommand(toolsCmd, configCmd, serveCmd, shellCmd, versionCmd)
	return rootCmd
}

// loadConfig loads the config file and applies flag overrides
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = config.FindConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("llm-api") {
		cfg.LLM.API = opts.llmAPI
	}
	if flags.Changed("num-derive-tries") {
		cfg.NumDeriveTries = opts.numDeriveTries
	}
	if flags.Changed("double-pass") {
		cfg.DoublePassDerive = opts.doublePass
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogger(cfg *config.Config) error {
	level := cfg.Log.Level
	if env := os.Getenv(logEnv); env != "" {
		level = env
	}
	err := logger.Init(logger.Config{
		Dir:            cfg.Log.Dir,
		Level:          level,
		MaxDays:        cfg.Log.MaxDays,
		Console:        cfg.Log.Console,
		Pretty:         cfg.Log.Pretty,
		Redaction:      cfg.Log.Redaction,
		RedactPatterns: cfg.Log.RedactPatterns,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logConfigInfo(cfg)
	return nil
}

// logConfigInfo logs the effective configuration without secrets
func logConfigInfo(cfg *config.Config) {
	logger.Debug().
		Str("llm_api", cfg.LLM.API).
		Str("model", activeModel(&cfg.LLM)).
		Int("num_derive_tries", cfg.NumDeriveTries).
		Bool("double_pass", cfg.DoublePassDerive).
		Str("config_dir", config.GetConfigDir()).
		Msg("configuration loaded")
}

func newOrchestrator(cfg *config.Config) (*agent.Orchestrator, error) {
	client, err := llm.New(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	return agent.NewFromConfig(cfg, client, tools.NewDefaultRegistry()), nil
}

// serve seeds the store from the config, then serves with the stored settings
func serve(ctx context.Context, cfg *config.Config, sets []string) error {
	st, err := store.NewSQLiteStore(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	addr, err := applyStoreSettings(ctx, cfg, st, sets)
	if err != nil {
		return err
	}

	client, err := llm.New(&cfg.LLM)
	if err != nil {
		return err
	}
	if ollama, ok := client.(*llm.Ollama); ok {
		model := activeModel(&cfg.LLM)
		logger.Info().Str("model", model).Msg("preparing model")
		if err := ollama.PrepareModel(ctx, model); err != nil {
			logger.Warn().Err(err).Str("model", model).Msg("failed to prepare model")
		}
	}

	registry := tools.NewDefaultRegistry()
	o := agent.NewFromConfig(cfg, client, registry)
	return server.New(registry, o, st).ListenAndServe(ctx, addr)
}

// applyStoreSettings seeds st from cfg, stores each key=value of sets, then
// copies the stored settings back into cfg. It returns the listen address.
func applyStoreSettings(ctx context.Context, cfg *config.Config, st store.Store, sets []string) (string, error) {
	seed := map[string]string{store.KeyAPIAddress: cfg.Server.Address}
	if model := activeModel(&cfg.LLM); model != "" {
		seed[store.KeyLLMModel] = model
	}
	if o := cfg.LLM.Ollama; o != nil {
		seed[store.KeyOllamaURL] = o.BaseURL
	}
	if err := st.SeedConfig(ctx, seed); err != nil {
		return "", err
	}

	for _, set := range sets {
		key, value, ok := strings.Cut(set, "=")
		if !ok || !slices.Contains(settingKeys, key) {
			return "", fmt.Errorf("%w: --set wants key=value with key one of %s (got %q)",
				config.ErrInvalid, strings.Join(settingKeys, ", "), set)
		}
		if err := st.SetConfigValue(ctx, key, value); err != nil {
			return "", err
		}
		logger.Info().Str("key", key).Str("value", value).Msg("stored server setting")
	}

	addr, err := st.ConfigValue(ctx, store.KeyAPIAddress)
	if err != nil {
		return "", err
	}
	if model, err := st.ConfigValue(ctx, store.KeyLLMModel); err == nil {
		setActiveModel(&cfg.LLM, model)
	}
	if o := cfg.LLM.Ollama; o != nil {
		if url, err := st.ConfigValue(ctx, store.KeyOllamaURL); err == nil {
			o.BaseURL = url
		}
	}
	return addr, nil
}

// writeDefaultConfig writes the default configuration to path
func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s already exists, use --force to overwrite", config.ErrInvalid, path)
	}
	return config.Save(config.DefaultConfig(), path)
}

// activeModel returns the model of the selected API, empty without its block
func activeModel(c *config.LLMConfig) string {
	switch c.API {
	case config.APIOllama:
		if c.Ollama != nil {
			return c.Ollama.Model
		}
	case config.APIOpenAI:
		if c.OpenAI != nil {
			return c.OpenAI.Model
		}
	case config.APIAnthropic:
		if c.Anthropic != nil {
			return c.Anthropic.Model
		}
	}
	return ""
}

func setActiveModel(c *config.LLMConfig, model string) {
	switch c.API {
	case config.APIOllama:
		if c.Ollama != nil {
			c.Ollama.Model = model
		}
	case config.APIOpenAI:
		if c.OpenAI != nil {
			c.OpenAI.Model = model
		}
	case config.APIAnthropic:
		if c.Anthropic != nil {
			c.Anthropic.Model = model
		}
	}
}
