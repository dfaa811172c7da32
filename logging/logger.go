package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a case-insensitive level name to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "", "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	default:
		return LogLevelInfo, fmt.Errorf("logging: unknown level %q", s)
	}
}

// Logger defines the minimal logging interface.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// LoggerConfig configures construction of a ThreadLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json, text or console
	Output    io.Writer
	AddSource bool
	// NoColor disables ANSI colors in console format.
	NoColor     bool
	Component   string
	CustomAttrs map[string]any
}

// DefaultLoggerConfig returns a baseline console info level configuration
// writing to stderr, leaving stdout to event output.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "console", Output: os.Stderr, CustomAttrs: map[string]any{}}
}

// ThreadLogger wraps slog.Logger adding component scoping. It is cheap to
// copy via the With* methods.
type ThreadLogger struct {
	logger    *slog.Logger
	component string
}

// NewLogger builds a ThreadLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *ThreadLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := slogLevel(cfg.Level)

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})
	case "text":
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})
	default:
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			AddSource:  cfg.AddSource,
			TimeFormat: time.TimeOnly,
			NoColor:    cfg.NoColor,
		})
	}

	logger := slog.New(handler)
	for k, v := range cfg.CustomAttrs {
		logger = logger.With(k, v)
	}
	return &ThreadLogger{logger: logger, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *ThreadLogger) clone() *ThreadLogger {
	nl := *l
	return &nl
}

// Slog exposes the underlying *slog.Logger.
func (l *ThreadLogger) Slog() *slog.Logger { return l.logger }

// WithComponent sets the logical component (registry, thread, cliproc, ...).
func (l *ThreadLogger) WithComponent(c string) *ThreadLogger {
	nl := l.clone()
	nl.component = c
	return nl
}

// With returns a logger that always adds args.
func (l *ThreadLogger) With(args ...any) *ThreadLogger {
	nl := l.clone()
	nl.logger = l.logger.With(args...)
	return nl
}

func (l *ThreadLogger) scope() []any {
	attrs := make([]any, 0, 2)
	if l.component != "" {
		attrs = append(attrs, "component", l.component)
	}
	return attrs
}

func (l *ThreadLogger) log(level slog.Level, msg string, args ...any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, msg, append(l.scope(), args...)...)
}

// Debug logs at debug level.
func (l *ThreadLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs at info level.
func (l *ThreadLogger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs at warn level.
func (l *ThreadLogger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs at error level.
func (l *ThreadLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// LogRun records the outcome of one thread run on l. Interrupted runs are
// logged at info level with their reason, failures at error level.
func LogRun(l Logger, outcome string, dur time.Duration, events int, err error, args ...any) {
	args = append(args, "outcome", outcome, "duration", dur, "events", events)
	switch {
	case err == nil:
		l.Info("Run finished", args...)
	case outcome == "cancelled" || outcome == "abandoned":
		l.Info("Run cancelled", append(args, "reason", err.Error())...)
	default:
		l.Error("Run failed", append(args, tint.Err(err))...)
	}
}

// LogProcess records the exit of a backend subprocess on l.
func LogProcess(l Logger, binary string, pid int, dur time.Duration, exitCode int, err error) {
	args := []any{"binary", binary, "pid", pid, "duration", dur, "exit_code", exitCode}
	if err != nil {
		l.Warn("Process exited with error", append(args, tint.Err(err))...)
		return
	}
	l.Debug("Process exited", args...)
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// OrNop returns l, or a NoOpLogger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return l
}

// With scopes l with args when it is a ThreadLogger or SlogAdapter; other
// implementations are returned unchanged.
func With(l Logger, args ...any) Logger {
	switch v := l.(type) {
	case *ThreadLogger:
		return v.With(args...)
	case *SlogAdapter:
		return &SlogAdapter{Logger: v.Logger.With(args...)}
	default:
		return l
	}
}
