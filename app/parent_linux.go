//go:build linux

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/coder/nslite/audit"
	"github.com/coder/nslite/config"
	"github.com/coder/nslite/jail"
	"github.com/coder/nslite/privilege"
	"github.com/coder/nslite/supervisor"
	"github.com/coder/nslite/telemetry"
)

// Run supervises the isolated child until it exits or a signal arrives. A
// child that exits non-zero on its own makes Run fail.
//
// The re-executed child runs the same path: forker reports the child branch
// and the supervisor hands over to RunChild.
func Run(ctx context.Context, logger *slog.Logger, cfg config.AppConfig, forker supervisor.Forker) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Fail on a bad root or deny list before anything else happens.
	if err := supervisor.ValidateRoot(cfg.Root); err != nil {
		return err
	}
	if err := jail.ValidateSyscalls(cfg.DenySyscalls); err != nil {
		return err
	}

	// sudo may prompt for a password, which must not consume the
	// controller's framed input.
	if canPrompt(os.Stdin) {
		if err := privilege.EnsurePrivileges(); err != nil {
			logger.Warn("Could not acquire privileges, continuing", "error", err)
		}
	} else {
		logger.Debug("Stdin is not a terminal, not escalating privileges")
	}

	auditor, closeAuditors, err := setupAuditors(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeAuditors()

	// Setup signal handling BEFORE the child starts
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	onChildBranch := func() error {
		return RunChild(logger, cfg)
	}
	sup := supervisor.New(supervisor.Config{
		Logger:        logger,
		Root:          cfg.Root,
		Command:       cfg.Command,
		Args:          cfg.Args,
		Namespaces:    cfg.Namespaces,
		Forker:        forker,
		Auditor:       auditor,
		PollTimeout:   cfg.PollTimeout,
		RelayMode:     cfg.RelayMode,
		OnParseError:  cfg.OnParseError,
		ChildEnv:      cfg.ChildEnv(),
		OnChildBranch: onChildBranch,
	})

	logger.Debug("Starting isolated child",
		"root", cfg.Root,
		"command", cfg.Command,
		"args", supervisor.FlattenArgs(cfg.Args),
		"namespaces", cfg.Namespaces.String())

	if err := sup.Run(ctx); err != nil {
		return err
	}

	child := sup.Child()
	if ctx.Err() == nil && child.ExitCode != 0 {
		return fmt.Errorf("'%s' exited with code %d", child.Command, child.ExitCode)
	}
	return nil
}

// canPrompt reports whether f is a terminal a password prompt can use.
func canPrompt(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// setupAuditors combines the log auditor with the optional socket and
// OpenTelemetry auditors. The returned func flushes and stops them.
func setupAuditors(ctx context.Context, logger *slog.Logger, cfg config.AppConfig) (audit.Auditor, func(), error) {
	auditors := []audit.Auditor{audit.NewLogAuditor(logger)}
	var closers []func()

	if cfg.OTLPEndpoint != "" {
		provider, err := telemetry.NewOTLP(ctx, cfg.OTLPEndpoint, telemetry.Resource(os.Getpid()))
		if err != nil {
			return nil, nil, err
		}
		auditors = append(auditors, audit.NewOTelAuditor(provider.LoggerProvider()))
		closers = append(closers, func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logger.Warn("Failed to flush telemetry", "error", err)
			}
		})
	}

	if cfg.AuditSocket != "" {
		socketAuditor := audit.NewSocketAuditor(logger, cfg.AuditSocket)
		loopCtx, stop := context.WithCancel(context.Background())
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			socketAuditor.Loop(loopCtx)
		}()
		auditors = append(auditors, socketAuditor)
		closers = append(closers, func() {
			// Cancelling flushes whatever is still queued.
			stop()
			wg.Wait()
		})
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	return audit.NewMultiAuditor(auditors...), closeAll, nil
}
