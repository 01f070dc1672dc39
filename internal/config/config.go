// Package config loads the shared configuration for the watcher and
// uploader processes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings both processes read. One file configures
// the pair; each process ignores the keys it has no use for.
type Config struct {
	// WatchPath is the device document root (xochitl data directory).
	WatchPath string `mapstructure:"watch_path"`

	// CachePath is the sync store file shared by both processes.
	CachePath string `mapstructure:"cache_path"`

	// LogPath is the rotating log file; empty logs to stderr.
	LogPath string `mapstructure:"log_path"`

	// ServerURL is the upload endpoint.
	ServerURL string `mapstructure:"server_url"`

	// APIKey authenticates uploads.
	APIKey string `mapstructure:"api_key"`

	// SharedPath restricts uploads to virtual paths under this prefix;
	// "*" syncs everything.
	SharedPath string `mapstructure:"shared_path"`

	// UploadInterval is the wait between uploader cycles.
	UploadInterval time.Duration `mapstructure:"upload_interval"`

	// MaxRetries is the per-page attempt ceiling.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryDelay is the hold-down after a failed attempt.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// Timeout bounds a single upload request.
	Timeout time.Duration `mapstructure:"timeout"`

	// BatchSize caps pages per uploader cycle.
	BatchSize int `mapstructure:"batch_size"`
}

// Load reads configuration from the YAML file at path, with
// REMSYNC_-prefixed environment variables taking precedence. A missing
// file is not an error; defaults apply. An empty path searches the
// working directory and /etc/remsync for remsync.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("watch_path", "/home/root/.local/share/remarkable/xochitl")
	v.SetDefault("cache_path", "/home/root/remsync/cache/.sync_cache")
	v.SetDefault("log_path", "")
	v.SetDefault("server_url", "http://192.168.1.100:8080/upload")
	v.SetDefault("api_key", "")
	v.SetDefault("shared_path", "*")
	v.SetDefault("upload_interval", 30*time.Second)
	v.SetDefault("max_retries", 5)
	v.SetDefault("retry_delay", 20*time.Second)
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("batch_size", 10)

	v.SetEnvPrefix("REMSYNC")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("remsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/remsync")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file degrades to defaults; with an explicit path
		// viper reports a plain fs error rather than its own type.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive (got %d)", c.BatchSize)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive (got %d)", c.MaxRetries)
	}
	if c.UploadInterval <= 0 {
		return fmt.Errorf("upload_interval must be positive (got %s)", c.UploadInterval)
	}
	return nil
}
