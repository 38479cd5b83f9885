package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/coder/serpent"

	"github.com/coder/nslite/namespace"
	"github.com/coder/nslite/supervisor"
)

// Environment variables bound to the CLI options. The parent hands its
// resolved settings to the re-executed child through the same variables.
const (
	EnvLogLevel       = "NSLITE_LOG_LEVEL"
	EnvLogDir         = "NSLITE_LOG_DIR"
	EnvIsolateNetwork = "NSLITE_ISOLATE_NETWORK"
	EnvHostname       = "NSLITE_HOSTNAME"
	EnvDenySyscall    = "NSLITE_DENY_SYSCALL"
	EnvPollTimeout    = "NSLITE_POLL_TIMEOUT"
	EnvRelayMode      = "NSLITE_RELAY_MODE"
	EnvOnParseError   = "NSLITE_ON_PARSE_ERROR"
	EnvAuditSocket    = "NSLITE_AUDIT_SOCKET"
	EnvOTLPEndpoint   = "NSLITE_OTLP_ENDPOINT"
	EnvConfig         = "NSLITE_CONFIG"
)

const defaultLogLevel = "warn"

// CliConfig holds the raw option values. Fields left at their zero value
// can be filled from the config file.
type CliConfig struct {
	Config         serpent.String
	LogLevel       serpent.String
	LogDir         serpent.String
	IsolateNetwork serpent.Bool
	Hostname       serpent.String
	DenySyscalls   serpent.StringArray
	PollTimeout    serpent.Duration
	RelayMode      serpent.String
	OnParseError   serpent.String
	AuditSocket    serpent.String
	OTLPEndpoint   serpent.String
}

// AppConfig is the validated configuration of one nslite run.
type AppConfig struct {
	LogLevel     string
	LogDir       string
	Namespaces   namespace.Set
	Hostname     string
	DenySyscalls []string
	PollTimeout  time.Duration
	RelayMode    supervisor.RelayMode
	OnParseError supervisor.ParseErrorPolicy
	AuditSocket  string
	OTLPEndpoint string

	// Root, Command and Args come from the positional arguments.
	Root    string
	Command string
	Args    []string
}

// NewAppConfigFromCliConfig validates cfg and the positional arguments
// <chroot-path> <executable> [executable-args...].
func NewAppConfigFromCliConfig(cfg CliConfig, args []string) (AppConfig, error) {
	if len(args) < 2 {
		return AppConfig{}, fmt.Errorf("expected <chroot-path> <executable> [-- executable-args...], got %d argument(s)", len(args))
	}

	relayMode, err := supervisor.NewRelayModeFromString(cfg.RelayMode.Value())
	if err != nil {
		return AppConfig{}, err
	}
	onParseError, err := supervisor.NewParseErrorPolicyFromString(cfg.OnParseError.Value())
	if err != nil {
		return AppConfig{}, err
	}

	pollTimeout := cfg.PollTimeout.Value()
	if pollTimeout < 0 {
		return AppConfig{}, fmt.Errorf("invalid poll timeout: %s", pollTimeout)
	}
	if pollTimeout == 0 {
		pollTimeout = supervisor.DefaultPollTimeout
	}

	logLevel := strings.ToLower(cfg.LogLevel.Value())
	if logLevel == "" {
		logLevel = defaultLogLevel
	}

	namespaces := namespace.DefaultSet()
	if cfg.IsolateNetwork.Value() {
		namespaces = namespaces.WithNetwork()
	}

	return AppConfig{
		LogLevel:     logLevel,
		LogDir:       cfg.LogDir.Value(),
		Namespaces:   namespaces,
		Hostname:     cfg.Hostname.Value(),
		DenySyscalls: cfg.DenySyscalls.Value(),
		PollTimeout:  pollTimeout,
		RelayMode:    relayMode,
		OnParseError: onParseError,
		AuditSocket:  cfg.AuditSocket.Value(),
		OTLPEndpoint: cfg.OTLPEndpoint.Value(),
		Root:         args[0],
		Command:      args[1],
		Args:         args[2:],
	}, nil
}

// ChildEnv returns the environment that carries the settings the isolated
// child needs. Only non-empty values are included.
func (c AppConfig) ChildEnv() []string {
	var env []string
	add := func(key, value string) {
		if value != "" {
			env = append(env, key+"="+value)
		}
	}
	add(EnvLogLevel, c.LogLevel)
	add(EnvLogDir, c.LogDir)
	add(EnvHostname, c.Hostname)
	add(EnvDenySyscall, strings.Join(c.DenySyscalls, ","))
	return env
}
