package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "DEFISYNC"

// Config holds all configuration for the defisync application.
type Config struct {
	// Backend API
	BackendURL        string        `mapstructure:"backend_url"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	PollMaxInterval   time.Duration `mapstructure:"poll_max_interval"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout"`

	// Task polling budget, 0 means twice requests_per_second
	PollRequestsPerSecond float64 `mapstructure:"poll_requests_per_second"`

	// Entitlement to the premium-only history data
	Premium bool `mapstructure:"premium"`

	// Fetch orchestration
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	// Prices kept up to date by the refresher
	PriceAssets []string `mapstructure:"price_assets"`
	TargetAsset string   `mapstructure:"target_asset"`

	// Control surface
	ListenAddress  string `mapstructure:"listen_address"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	LogLevel       string `mapstructure:"log_level"`
}

var defaults = map[string]any{
	"backend_url":              "http://127.0.0.1:4242/api/1",
	"requests_per_second":      20.0,
	"poll_requests_per_second": 0.0,
	"poll_interval":            time.Second,
	"poll_max_interval":        10 * time.Second,
	"task_timeout":             5 * time.Minute,
	"premium":                  false,
	"max_concurrency":          8,
	"refresh_interval":         time.Duration(0),
	"price_assets":             []string{},
	"target_asset":             "USD",
	"listen_address":           ":8484",
	"metrics_enabled":          false,
	"log_level":                "info",
}

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over config file values.
//
// Every key can be set with an environment variable named after it, e.g.
//   - DEFISYNC_BACKEND_URL
//   - DEFISYNC_PREMIUM
//   - DEFISYNC_MAX_CONCURRENCY
//   - DEFISYNC_REFRESH_INTERVAL (Go duration, 0 disables the refresher)
//
// When configFile is empty, config.yaml is looked up in the working directory
// and in $HOME/.defisync and ignored if missing.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.defisync")

		// Read config file (ignore if not found)
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration and reports every invalid key at once
func (c *Config) Validate() error {
	var invalid []string

	if c.BackendURL == "" {
		invalid = append(invalid, "backend_url is required")
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		invalid = append(invalid, fmt.Sprintf("backend_url %q is not an absolute URL", c.BackendURL))
	}
	if c.MaxConcurrency <= 0 {
		invalid = append(invalid, "max_concurrency must be positive")
	}
	if c.PollInterval <= 0 {
		invalid = append(invalid, "poll_interval must be positive")
	}
	if c.PollMaxInterval < c.PollInterval {
		invalid = append(invalid, "poll_max_interval must not be shorter than poll_interval")
	}
	if c.TaskTimeout <= 0 {
		invalid = append(invalid, "task_timeout must be positive")
	}
	if c.RequestsPerSecond < 0 {
		invalid = append(invalid, "requests_per_second must not be negative")
	}
	if c.PollRequestsPerSecond < 0 {
		invalid = append(invalid, "poll_requests_per_second must not be negative")
	}
	if c.RefreshInterval < 0 {
		invalid = append(invalid, "refresh_interval must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		invalid = append(invalid, err.Error())
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// ParseLogLevel maps a log level name to its slog level
func ParseLogLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log_level %q is not one of debug, info, warn, error", name)
	}
	return level, nil
}
