// Package cli provides the terminal-facing logger for the ct-cppdeps
// command: progress, per-file status, and summary lines. It is distinct
// from o11y/clog, which carries library-internal diagnostics (analyzer,
// preprocessor, hunter) tagged with trace/span context; this package is
// what a user watches scroll by in their terminal.
package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New creates a terminal logger writing to stderr at the given level.
// Valid levels: "debug", "info", "warn", "error" (default "info").
func New(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
		ReportCaller:    false,
	})
	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(log.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(log.WarnLevel)
	case "error":
		logger.SetLevel(log.ErrorLevel)
	default:
		logger.SetLevel(log.InfoLevel)
	}
	return logger
}
