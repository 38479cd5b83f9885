package cli

import (
	"fmt"

	"github.com/coder/serpent"

	"github.com/coder/nslite/app"
	"github.com/coder/nslite/config"
	"github.com/coder/nslite/namespace"
	"github.com/coder/nslite/run"
)

// Usage is the command line synopsis.
const Usage = "nslite [flags] <chroot-path> <executable> [-- executable-args...]"

// NewCommand creates and returns the root serpent command
func NewCommand() *serpent.Command {
	var cliConfig config.CliConfig

	return &serpent.Command{
		Use:   Usage,
		Short: "Run a program in new namespaces under a changed root and supervise it",
		Long: `nslite starts an executable inside fresh mount, IPC, PID and UTS namespaces
(and optionally a network namespace) with <chroot-path> as its filesystem
root and an empty environment.

The supervisor reads length-prefixed JSON commands on its stdin and relays the
child's stdout and stderr, one frame per payload, to its own stdout and
stderr. Each frame is a 2-byte big-endian length followed by the payload.

Logs are unframed and share stderr with the relayed frames unless --log-dir
is set. Errors the child reports before its stdio is redirected, such as a
missing executable, are always written to stderr unframed.

Executable arguments that start with a dash must follow "--".

Examples:
  # Run a shell under a prepared root filesystem
  sudo nslite /srv/rootfs /bin/sh -- -c 'echo hello'

  # Isolate the network as well and refuse a few syscalls
  sudo nslite --isolate-network --deny-syscall mount --deny-syscall reboot /srv/rootfs /bin/app`,
		Options: serpent.OptionSet{
			{
				Name:        "config",
				Flag:        "config",
				Env:         config.EnvConfig,
				Description: "Path to YAML config file (default: $XDG_CONFIG_HOME/nslite/config.yaml).",
				Value:       &cliConfig.Config,
			},
			{
				Name:        "log-level",
				Flag:        "log-level",
				Env:         config.EnvLogLevel,
				Description: "Set log level (error, warn, info, debug). Defaults to warn.",
				Value:       &cliConfig.LogLevel,
			},
			{
				Name:        "log-dir",
				Flag:        "log-dir",
				Env:         config.EnvLogDir,
				Description: "Set a directory to write logs to rather than stderr.",
				Value:       &cliConfig.LogDir,
			},
			{
				Name:        "isolate-network",
				Flag:        "isolate-network",
				Env:         config.EnvIsolateNetwork,
				Description: "Also create a new network namespace for the child.",
				Value:       &cliConfig.IsolateNetwork,
			},
			{
				Name:        "hostname",
				Flag:        "hostname",
				Env:         config.EnvHostname,
				Description: "Hostname to set inside the child's UTS namespace.",
				Value:       &cliConfig.Hostname,
			},
			{
				Name:        "deny-syscall",
				Flag:        "deny-syscall",
				Env:         config.EnvDenySyscall,
				Description: "Syscall the child may not make; it fails with EPERM (can be specified multiple times).",
				Value:       &cliConfig.DenySyscalls,
			},
			{
				Name:        "poll-timeout",
				Flag:        "poll-timeout",
				Env:         config.EnvPollTimeout,
				Description: "How long one control loop step waits for input. Defaults to 5s.",
				Value:       &cliConfig.PollTimeout,
			},
			{
				Name:        "relay-mode",
				Flag:        "relay-mode",
				Env:         config.EnvRelayMode,
				Description: "How the child's output is read: framed (one frame per read) or raw (whatever is available). Defaults to framed.",
				Value:       &cliConfig.RelayMode,
			},
			{
				Name:        "on-parse-error",
				Flag:        "on-parse-error",
				Env:         config.EnvOnParseError,
				Description: "What a malformed controller command does: fatal or log. Defaults to fatal.",
				Value:       &cliConfig.OnParseError,
			},
			{
				Name:        "audit-socket",
				Flag:        "audit-socket",
				Env:         config.EnvAuditSocket,
				Description: "Unix socket to send audit events to.",
				Value:       &cliConfig.AuditSocket,
			},
			{
				Name:        "otlp-endpoint",
				Flag:        "otlp-endpoint",
				Env:         config.EnvOTLPEndpoint,
				Description: "OTLP/HTTP endpoint to export audit events to, e.g. http://localhost:4318.",
				Value:       &cliConfig.OTLPEndpoint,
			},
		},
		Handler: func(inv *serpent.Invocation) error {
			if len(inv.Args) < 2 {
				return fmt.Errorf("expected <chroot-path> and <executable>, got %d argument(s)\nUsage: %s", len(inv.Args), Usage)
			}

			merged := cliConfig
			// The child gets its settings from the parent's environment.
			if !namespace.IsChild() {
				var err error
				merged, err = applyConfigFile(cliConfig)
				if err != nil {
					return err
				}
			}

			appConfig, err := config.NewAppConfigFromCliConfig(merged, inv.Args)
			if err != nil {
				return err
			}

			logger, err := app.SetupLogging(appConfig)
			if err != nil {
				return fmt.Errorf("could not set up logging: %v", err)
			}

			return run.Run(inv.Context(), logger, appConfig)
		},
	}
}
