package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const DefaultIndexURL = "http://data.gdeltproject.org/events/index.html"

type Config struct {
	IndexURL     string `mapstructure:"index_url" yaml:"index_url"`
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	DestPrefix   string `mapstructure:"dest_prefix" yaml:"dest_prefix"`
	DownloadsDir string `mapstructure:"downloads_dir" yaml:"downloads_dir"`
	Tool         string `mapstructure:"tool" yaml:"tool"`
	DryRun       bool   `mapstructure:"dry_run" yaml:"dry_run"`
	Cleanup      bool   `mapstructure:"cleanup" yaml:"cleanup"`
	MaxItems     int    `mapstructure:"max_items" yaml:"max_items"`

	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`

	v *viper.Viper
}

type HTTPConfig struct {
	IndexTimeout    time.Duration `mapstructure:"index_timeout" yaml:"index_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Load builds the configuration from defaults, an optional YAML file and
// GDELTSYNC_* environment variables. An empty path means "no config file";
// a non-empty path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("index_url", DefaultIndexURL)
	v.SetDefault("bucket", "")
	v.SetDefault("dest_prefix", "")
	v.SetDefault("downloads_dir", "downloads")
	v.SetDefault("tool", "gsutil")
	v.SetDefault("dry_run", false)
	v.SetDefault("cleanup", false)
	v.SetDefault("max_items", 0)
	v.SetDefault("http.index_timeout", 30*time.Second)
	v.SetDefault("http.download_timeout", 60*time.Second)
	v.SetDefault("log.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "gdeltsync.db")

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("GDELTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{v: v}
	if err := cfg.Reload(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Viper exposes the underlying viper instance so the CLI can bind flags
// on top of file and env values.
func (c *Config) Viper() *viper.Viper { return c.v }

// Reload re-unmarshals the viper state into the struct. Called again after
// flag binding so flag values win.
func (c *Config) Reload() error {
	if err := c.v.Unmarshal(c); err != nil {
		return err
	}
	return c.validate()
}

// ValidateForRun checks the fields only a sync run needs.
func (c *Config) ValidateForRun() error {
	if c.Bucket == "" {
		return errors.New("bucket is required (e.g. --bucket gs://my-bucket)")
	}
	return nil
}

func (c *Config) validate() error {
	if c.IndexURL == "" {
		c.IndexURL = DefaultIndexURL
	}
	if c.DownloadsDir == "" {
		c.DownloadsDir = "downloads"
	}
	if c.Tool == "" {
		c.Tool = "gsutil"
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max_items must be >= 0, got %d", c.MaxItems)
	}
	if c.HTTP.IndexTimeout <= 0 {
		c.HTTP.IndexTimeout = 30 * time.Second
	}
	if c.HTTP.DownloadTimeout <= 0 {
		c.HTTP.DownloadTimeout = 60 * time.Second
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		c.Journal.Path = "gdeltsync.db"
	}
	return nil
}
