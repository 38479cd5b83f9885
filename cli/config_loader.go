package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/serpent"
	"gopkg.in/yaml.v3"

	"github.com/coder/nslite/config"
	"github.com/coder/nslite/util"
)

type fileConfig struct {
	LogLevel       string   `yaml:"log_level"`
	LogDir         string   `yaml:"log_dir"`
	IsolateNetwork bool     `yaml:"isolate_network"`
	Hostname       string   `yaml:"hostname"`
	DenySyscalls   []string `yaml:"deny_syscalls"`
	PollTimeout    string   `yaml:"poll_timeout"`
	RelayMode      string   `yaml:"relay_mode"`
	OnParseError   string   `yaml:"on_parse_error"`
	AuditSocket    string   `yaml:"audit_socket"`
	OTLPEndpoint   string   `yaml:"otlp_endpoint"`
}

func applyConfigFile(cliCfg config.CliConfig) (config.CliConfig, error) {
	file, _, err := loadConfigFile(cliCfg.Config.Value())
	if err != nil {
		return cliCfg, err
	}
	return mergeConfig(file, cliCfg)
}

func loadConfigFile(configPath string) (fileConfig, string, error) {
	var cfg fileConfig
	path := resolveConfigPath(configPath)
	if path == "" {
		return cfg, "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", fmt.Errorf("failed to read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, "", fmt.Errorf("failed to parse YAML in %s: %v", path, err)
	}
	return cfg, path, nil
}

// resolveConfigPath returns configPath if set, otherwise the invoking user's
// config.yaml if it exists.
func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	configDir := util.GetUserInfo().ConfigDir
	if configDir == "" {
		return ""
	}
	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

// mergeConfig applies CLI over file config (CLI wins): file values only fill
// options the command line and environment left unset.
func mergeConfig(file fileConfig, cliCfg config.CliConfig) (config.CliConfig, error) {
	final := cliCfg

	fillString := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
		}
	}

	fillString((*string)(&final.LogLevel), file.LogLevel)
	fillString((*string)(&final.LogDir), file.LogDir)
	fillString((*string)(&final.Hostname), file.Hostname)
	fillString((*string)(&final.RelayMode), file.RelayMode)
	fillString((*string)(&final.OnParseError), file.OnParseError)
	fillString((*string)(&final.AuditSocket), file.AuditSocket)
	fillString((*string)(&final.OTLPEndpoint), file.OTLPEndpoint)

	if !final.IsolateNetwork.Value() && file.IsolateNetwork {
		final.IsolateNetwork = true
	}
	if len(final.DenySyscalls) == 0 && len(file.DenySyscalls) > 0 {
		final.DenySyscalls = file.DenySyscalls
	}
	if final.PollTimeout == 0 && file.PollTimeout != "" {
		d, err := time.ParseDuration(file.PollTimeout)
		if err != nil {
			return config.CliConfig{}, fmt.Errorf("invalid poll_timeout %q in config file: %v", file.PollTimeout, err)
		}
		final.PollTimeout = serpent.Duration(d)
	}

	return final, nil
}
