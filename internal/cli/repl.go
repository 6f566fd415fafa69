package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/hession/korah/internal/agent"
	"github.com/hession/korah/internal/logger"
	"github.com/hession/korah/internal/tools"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
)

// lineReader is the part of *readline.Instance the shell uses
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// Shell runs one independent query per input line
type Shell struct {
	orchestrator *agent.Orchestrator
	registry     *tools.Registry
	out          io.Writer
	// interrupts derives the per-query context cancelled by Ctrl+C
	interrupts func(context.Context) (context.Context, context.CancelFunc)
}

// New creates a new Shell writing to out
func New(orchestrator *agent.Orchestrator, registry *tools.Registry, out io.Writer) *Shell {
	return &Shell{
		orchestrator: orchestrator,
		registry:     registry,
		out:          out,
		interrupts: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Emit returns an emit function printing every item as one JSON line
func Emit(w io.Writer) func(json.RawMessage) error {
	return func(item json.RawMessage) error {
		_, err := fmt.Fprintf(w, "%s\n", item)
		return err
	}
}

// historyFilePath returns the readline history file path
func historyFilePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	historyDir := filepath.Join(homeDir, ".korah")
	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return ""
	}
	return filepath.Join(historyDir, "history")
}

// Run starts the interactive shell and returns on /exit, EOF or ctx done
func (s *Shell) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFilePath(),
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(s.out, "%skorah shell: one query per line, /help for commands%s\n", colorCyan, colorReset)
	return s.loop(ctx, rl)
}

const (
	prompt          = colorGreen + "korah> " + colorReset
	multiLinePrompt = colorGray + "...    " + colorReset
)

func (s *Shell) loop(ctx context.Context, rl lineReader) error {
	var buf strings.Builder
	inMultiLine := false

	for ctx.Err() == nil {
		if inMultiLine {
			rl.SetPrompt(multiLinePrompt)
		} else {
			rl.SetPrompt(prompt)
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if inMultiLine {
				buf.Reset()
				inMultiLine = false
				continue
			}
			fmt.Fprintf(s.out, "%sType /exit or press Ctrl+D to quit%s\n", colorYellow, colorReset)
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		// A trailing backslash continues the query until an empty line
		if inMultiLine {
			if line != "" {
				buf.WriteString(line)
				buf.WriteString("\n")
				continue
			}
			inMultiLine = false
			input := strings.TrimSpace(buf.String())
			buf.Reset()
			if input != "" {
				s.query(ctx, input)
			}
			continue
		}

		input := strings.TrimSpace(line)
		switch {
		case input == "":
		case strings.HasSuffix(input, "\\"):
			inMultiLine = true
			buf.WriteString(strings.TrimSuffix(input, "\\"))
			buf.WriteString("\n")
		case strings.HasPrefix(input, "/"):
			if !s.command(input) {
				return nil
			}
		default:
			s.query(ctx, input)
		}
	}
	return nil
}

// query runs one query; Ctrl+C cancels it without leaving the shell
func (s *Shell) query(ctx context.Context, input string) {
	qctx, stop := s.interrupts(ctx)
	defer stop()

	err := s.orchestrator.Run(qctx, input, Emit(s.out))
	switch {
	case errors.Is(err, agent.ErrCancelled):
		fmt.Fprintf(s.out, "%scancelled%s\n", colorYellow, colorReset)
	case err != nil:
		logger.Debug().Err(err).Msg("shell query failed")
		fmt.Fprintf(s.out, "%serror [%s]: %v%s\n", colorRed, agent.Code(err), err, colorReset)
	}
}

// command handles built-in commands, returns false to exit
func (s *Shell) command(input string) bool {
	parts := strings.Fields(input)
	switch strings.ToLower(parts[0]) {
	case "/help":
		s.printHelp()
	case "/tools":
		for _, m := range s.registry.List() {
			fmt.Fprintf(s.out, "%s%-16s%s %s\n", colorCyan, m.Name, colorReset, m.Description)
		}
	case "/history":
		if len(parts) > 1 && parts[1] == "clear" {
			if path := historyFilePath(); path != "" {
				if err := os.WriteFile(path, nil, 0644); err != nil {
					fmt.Fprintf(s.out, "%sfailed to clear history: %v%s\n", colorRed, err, colorReset)
					return true
				}
			}
			fmt.Fprintf(s.out, "%shistory cleared%s\n", colorGreen, colorReset)
		} else {
			fmt.Fprintf(s.out, "%sUse Up/Down to browse history, /history clear to clear it%s\n", colorGray, colorReset)
		}
	case "/exit", "/quit", "/q":
		return false
	default:
		fmt.Fprintf(s.out, "%sunknown command: %s%s\n", colorYellow, input, colorReset)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintf(s.out, `
%sCommands:%s
  /tools          - List available tools
  /history clear  - Clear input history
  /exit           - Exit the shell

%sQueries:%s
  Every line is an independent query, e.g. "files over 10MB in ~/Downloads"
  A {"tool": ..., "params": {...}} object calls the tool directly
  End a line with \ to continue on the next one; an empty line submits
  Ctrl+C cancels the running query

`, colorYellow, colorReset, colorYellow, colorReset)
}
