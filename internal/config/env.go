package config

import "os"

// Environment variable names for overrides.
const (
	EnvClientID     = "PAN123_CLIENT_ID"
	EnvClientSecret = "PAN123_CLIENT_SECRET"
	EnvConfigPath   = "PAN123_CONFIG"
	EnvRepoPath     = "PAN123_REPO_PATH"
)

// EnvOverrides holds values derived from environment variables. These are
// resolved by ReadEnvOverrides and layered over the config file by Load.
type EnvOverrides struct {
	ClientID     string
	ClientSecret string
	ConfigPath   string
	RepoPath     string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		ConfigPath:   os.Getenv(EnvConfigPath),
		RepoPath:     os.Getenv(EnvRepoPath),
	}
}
