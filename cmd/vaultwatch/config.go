package main

import (
	"bytes"
	stderrors "errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	vaultclient "github.com/input-output-hk/catalyst-forge-libs/vaultclient"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/backoff"
	"github.com/input-output-hk/catalyst-forge-libs/vaultclient/errors"
)

// configRelPath is the config location under the XDG config directories.
const configRelPath = "vaultwatch/config.yaml"

// Config is the vaultwatch configuration file.
type Config struct {
	Vault         VaultConfig              `yaml:"vault"`
	Login         vaultclient.LoginOptions `yaml:"login"`
	Retry         *backoff.Config          `yaml:"retry"`
	RenewFraction float64                  `yaml:"renew_fraction"`
	AWSSecrets    *AWSSecretsConfig        `yaml:"aws_secrets"`
	Secrets       []vaultclient.Entry      `yaml:"secrets"`
	MetricsAddr   string                   `yaml:"metrics_addr"`
	LogLevel      string                   `yaml:"log_level"`
}

// VaultConfig selects the server. Empty fields fall back to the VAULT_*
// environment variables.
type VaultConfig struct {
	Address    string `yaml:"address"`
	Namespace  string `yaml:"namespace"`
	MinVersion string `yaml:"min_version"`
}

// AWSSecretsConfig enables *_aws_secret login options.
type AWSSecretsConfig struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// defaultConfigPath returns the first existing config file in the XDG
// config directories, or the path in XDG_CONFIG_HOME when none exists.
func defaultConfigPath() string {
	if p, err := xdg.SearchConfigFile(configRelPath); err == nil {
		return p
	}
	return xdg.ConfigHome + "/" + configRelPath
}

// loadConfig reads and validates the configuration at path.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		code := errors.CodeInvalidInput
		if stderrors.Is(err, fs.ErrNotExist) {
			code = errors.CodeNotFound
		}
		return nil, errors.WrapWithContext(err, code, "failed to read configuration",
			map[string]any{"path": path})
	}
	cfg, err := parseConfig(data)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeInvalidInput, "invalid configuration",
			map[string]any{"path": path})
	}
	return cfg, nil
}

func parseConfig(data []byte) (*Config, error) {
	cfg := &Config{
		RenewFraction: backoff.DefaultRenewFraction,
		LogLevel:      "info",
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	if cfg.Login.Backend == "" {
		return nil, errors.New(errors.CodeInvalidInput, "login.backend is required")
	}
	if len(cfg.Secrets) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "at least one secret must be listed")
	}
	for _, s := range cfg.Secrets {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Retry != nil {
		if err := cfg.Retry.Validate(); err != nil {
			return nil, err
		}
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, errors.Newf(errors.CodeInvalidInput, "unknown log level %q", s)
	}
	return level, nil
}
