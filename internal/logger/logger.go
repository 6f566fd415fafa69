package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const filePrefix = "korah-"

// Config logger configuration
type Config struct {
	Dir            string   // Log directory, empty disables file output
	Level          string   // debug, info, warn, error
	MaxDays        int      // Max days to keep logs
	Console        bool     // Output to stderr as well
	Pretty         bool     // Human readable console output
	Redaction      bool     // Mask API keys and bearer tokens
	RedactPatterns []string // Extra regular expressions masked when Redaction is on
}

// Logger is a zerolog logger writing to daily rotated files
type Logger struct {
	zl       zerolog.Logger
	files    *dailyWriter
	redactor *Redactor
}

var (
	defaultLogger = &Logger{zl: zerolog.Nop()}
	once          sync.Once
)

// Init initializes the default logger
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *Logger
		l, err = New(cfg)
		if err == nil {
			defaultLogger = l
		}
	})
	return err
}

// New creates a new logger instance
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
		}
		writers = append(writers, console)
	}

	var files *dailyWriter
	if cfg.Dir != "" {
		files, err = newDailyWriter(cfg.Dir, cfg.MaxDays)
		if err != nil {
			return nil, err
		}
		writers = append(writers, files)
	}

	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		for _, pattern := range cfg.RedactPatterns {
			if err := redactor.AddPattern(pattern); err != nil {
				if files != nil {
					files.Close()
				}
				return nil, fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
		w = redactor.Wrap(w)
	}

	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{zl: zl, files: files, redactor: redactor}, nil
}

// Debug starts a debug event
func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }

// Info starts an info event
func (l *Logger) Info() *zerolog.Event { return l.zl.Info() }

// Warn starts a warning event
func (l *Logger) Warn() *zerolog.Event { return l.zl.Warn() }

// Error starts an error event
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }

// With creates a child logger context
func (l *Logger) With() zerolog.Context { return l.zl.With() }

// Close closes the current log file
func (l *Logger) Close() error {
	if l.files != nil {
		return l.files.Close()
	}
	return nil
}

// dailyWriter writes to <dir>/korah-YYYY-MM-DD.log and keeps at most maxDays files
type dailyWriter struct {
	mu          sync.Mutex
	dir         string
	maxDays     int
	currentFile *os.File
	currentDate string
	now         func() time.Time
}

func newDailyWriter(dir string, maxDays int) (*dailyWriter, error) {
	if maxDays <= 0 {
		maxDays = 7
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &dailyWriter{dir: dir, maxDays: maxDays, now: time.Now}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, err
	}
	return w, nil
}

// rotateIfNeeded opens the file for today, closing the previous one
func (w *dailyWriter) rotateIfNeeded() error {
	today := w.now().Format("2006-01-02")
	if w.currentDate == today && w.currentFile != nil {
		return nil
	}

	if w.currentFile != nil {
		w.currentFile.Close()
	}

	filename := filepath.Join(w.dir, filePrefix+today+".log")
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	w.currentFile = f
	w.currentDate = today

	w.cleanOldLogs()
	return nil
}

// cleanOldLogs removes log files beyond maxDays, oldest first
func (w *dailyWriter) cleanOldLogs() {
	files, err := filepath.Glob(filepath.Join(w.dir, filePrefix+"*.log"))
	if err != nil || len(files) <= w.maxDays {
		return
	}

	// Names sort by date
	sort.Strings(files)
	for i := 0; i < len(files)-w.maxDays; i++ {
		os.Remove(files[i])
	}
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return w.currentFile.Write(p)
}

func (w *dailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// Package-level functions using the default logger

// Debug starts a debug event on the default logger
func Debug() *zerolog.Event { return defaultLogger.Debug() }

// Info starts an info event on the default logger
func Info() *zerolog.Event { return defaultLogger.Info() }

// Warn starts a warning event on the default logger
func Warn() *zerolog.Event { return defaultLogger.Warn() }

// Error starts an error event on the default logger
func Error() *zerolog.Event { return defaultLogger.Error() }

// With creates a child context of the default logger
func With() zerolog.Context { return defaultLogger.With() }

// Close closes the default logger
func Close() error { return defaultLogger.Close() }
