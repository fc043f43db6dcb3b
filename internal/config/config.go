// Package config holds the small set of ambient settings this server
// needs beyond its CLI positional arguments: logging destination/level,
// actor mailbox sizing, and the optional monitor dashboard toggle.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the server's ambient configuration. PORT and THREADS are
// deliberately not here: they remain CLI positional arguments, and
// config never overrides them.
type Config struct {
	LogLevel string `json:"logLevel"`
	LogPath  string `json:"logPath"`

	// MailboxSize bounds every actor's mailbox (hasher, store, registry)
	// and every session's outbound queue.
	MailboxSize int `json:"mailboxSize"`

	// Monitor toggles the optional read-only dashboard on PORT+1.
	Monitor bool `json:"monitor"`
}

// DefaultConfig returns the configuration used when no file is present
// and no environment overrides apply.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		LogPath:     "",
		MailboxSize: 256,
		Monitor:     false,
	}
}

// Load reads path as JSON over the default config, so a config file only
// needs to specify the fields it wants to override. A missing file is not
// an error: it just yields the defaults. Environment variables are
// applied last, so they win over both the file and the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides lets deployment environments override log level, log
// path, and mailbox size without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHAREDSTATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SHAREDSTATE_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
	if v := os.Getenv("SHAREDSTATE_MAILBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MailboxSize = n
		}
	}
}

// GetConfigPath returns the default config file location, following the
// XDG base directory convention.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "sharedstate", "config.json")
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return xdg
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}
