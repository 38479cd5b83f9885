// Package app runs the two sides of nslite: the supervising parent and the
// isolated child it re-executes.
package app

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/nslite/config"
)

// ParseLogLevel maps a level name to a slog level, defaulting to warn.
func ParseLogLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "error":
		return slog.LevelError
	case "warn":
		return slog.LevelWarn
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	default:
		return slog.LevelWarn // Default to warn if invalid level
	}
}

// SetupLogging creates a slog logger with the configured level, writing to
// stderr or to a new file in the configured log directory.
func SetupLogging(cfg config.AppConfig) (*slog.Logger, error) {
	logTarget := os.Stderr

	if cfg.LogDir != "" {
		// Set up the logging directory if it doesn't exist yet
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("could not set up log dir %s: %v", cfg.LogDir, err)
		}

		// Timestamp and pid keep concurrent runs, and the parent and child of
		// one run, in separate files.
		logFilePath := fmt.Sprintf("nslite-%s-%d.log",
			time.Now().Format("2006-01-02_15-04-05"),
			os.Getpid())

		logFile, err := os.Create(filepath.Join(cfg.LogDir, logFilePath))
		if err != nil {
			return nil, fmt.Errorf("could not create log file %s: %v", logFilePath, err)
		}

		logTarget = logFile
	}

	handler := slog.NewTextHandler(logTarget, &slog.HandlerOptions{
		Level: ParseLogLevel(cfg.LogLevel),
	})

	return slog.New(handler), nil
}
