// Package logging provides a minimal logging interface and adapters for
// headless coder threads.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the registry, threads and adapters use for diagnostics. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping any *slog.Logger
//   - ThreadLogger with component / provider / thread scoping and run helpers
//   - NoOpLogger for silent operation (tests, library default)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "console"})
//	coder, err := sdk.CreateCoder("codex", core.StartOptions{Logger: logger})
//
// Arguments follow the slog convention of alternating keys and values.
package logging
