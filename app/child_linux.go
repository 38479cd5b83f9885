//go:build linux

package app

import (
	"log/slog"
	"os"

	"github.com/coder/nslite/config"
	"github.com/coder/nslite/jail"
	"github.com/coder/nslite/pipes"
)

// RunChild turns the re-executed binary into the target program. It only
// returns if that fails.
func RunChild(logger *slog.Logger, cfg config.AppConfig) error {
	logger.Debug("Isolated child started",
		"pid", os.Getpid(),
		"root", cfg.Root,
		"command", cfg.Command)

	return jail.Init(jail.Config{
		Logger:       logger,
		Root:         cfg.Root,
		Command:      cfg.Command,
		Args:         cfg.Args,
		Hostname:     cfg.Hostname,
		DenySyscalls: cfg.DenySyscalls,
	}, pipes.Inherited())
}
