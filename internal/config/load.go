package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values set directly via command-line flags — the
// highest-priority layer.
type CLIOverrides struct {
	ConfigPath        string
	ClientID          string
	ClientSecret      string
	RepoPath          string
	ListenAddr        string
	DatabasePath      string
	ForceCacheRebuild bool
}

// defaultConfigPath is where Load looks for a config file if none is given
// by CLI flag or environment variable.
const defaultConfigPath = "restic-pan123.toml"

// Resolve applies the four-layer override chain: CLI flags > environment
// variables > TOML config file > built-in defaults. A missing config file
// is not an error — defaults and overrides still apply.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg := DefaultConfig()

	path := firstNonEmpty(cli.ConfigPath, env.ConfigPath, defaultConfigPath)

	if _, err := os.Stat(path); err == nil {
		if _, decodeErr := toml.DecodeFile(path, cfg); decodeErr != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, decodeErr)
		}
	}

	if env.ClientID != "" {
		cfg.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.ClientSecret = env.ClientSecret
	}

	if env.RepoPath != "" {
		cfg.RepoPath = env.RepoPath
	}

	applyCLIOverrides(cfg, cli)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyCLIOverrides(cfg *Config, cli CLIOverrides) {
	if cli.ClientID != "" {
		cfg.ClientID = cli.ClientID
	}

	if cli.ClientSecret != "" {
		cfg.ClientSecret = cli.ClientSecret
	}

	if cli.RepoPath != "" {
		cfg.RepoPath = cli.RepoPath
	}

	if cli.ListenAddr != "" {
		cfg.ListenAddr = cli.ListenAddr
	}

	if cli.DatabasePath != "" {
		cfg.DatabasePath = cli.DatabasePath
	}

	if cli.ForceCacheRebuild {
		cfg.ForceCacheRebuild = true
	}
}

func validate(cfg *Config) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required (set via --client-id, %s, or config file)", EnvClientID)
	}

	if cfg.ClientSecret == "" {
		return fmt.Errorf("client_secret is required (set via --client-secret, %s, or config file)", EnvClientSecret)
	}

	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}

	return ""
}
