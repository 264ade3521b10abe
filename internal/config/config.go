package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	StorageType string `mapstructure:"storage_type"`
	DBPath      string `mapstructure:"db_path"`

	SinksFile string `mapstructure:"sinks_file"`

	UserAgent string `mapstructure:"user_agent"`

	FetchTimeoutSeconds  int64         `mapstructure:"fetch_timeout_seconds"`
	SubmitTimeoutSeconds int64         `mapstructure:"submit_timeout_seconds"`
	WatchIntervalSeconds int64         `mapstructure:"watch_interval_seconds"`
	FetchTimeout         time.Duration `mapstructure:"-"`
	SubmitTimeout        time.Duration `mapstructure:"-"`
	WatchInterval        time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "sitepulse-notifier")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage_type", "sqlite")
	v.SetDefault("db_path", "./data/notifier.db")
	v.SetDefault("sinks_file", "")
	v.SetDefault("user_agent", "sitepulse-notifier/1.0 (+https://github.com/sitepulse-hq/sitepulse-notifier)")
	v.SetDefault("fetch_timeout_seconds", 60)
	v.SetDefault("submit_timeout_seconds", 30)
	v.SetDefault("watch_interval_seconds", 0) // 0 = single run, no watch loop

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.FetchTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid fetch_timeout_seconds (must be positive seconds)")
	}
	if cfg.SubmitTimeoutSeconds <= 0 {
		return nil, fmt.Errorf("invalid submit_timeout_seconds (must be positive seconds)")
	}
	if cfg.WatchIntervalSeconds < 0 {
		return nil, fmt.Errorf("invalid watch_interval_seconds (must be zero or positive seconds)")
	}
	cfg.FetchTimeout = time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	cfg.SubmitTimeout = time.Duration(cfg.SubmitTimeoutSeconds) * time.Second
	cfg.WatchInterval = time.Duration(cfg.WatchIntervalSeconds) * time.Second

	return &cfg, nil
}
