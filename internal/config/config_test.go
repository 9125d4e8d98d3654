package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"BackendURL", cfg.BackendURL, "http://127.0.0.1:4242/api/1"},
		{"RequestsPerSecond", cfg.RequestsPerSecond, 20.0},
		{"PollRequestsPerSecond", cfg.PollRequestsPerSecond, 0.0},
		{"PollInterval", cfg.PollInterval, time.Second},
		{"PollMaxInterval", cfg.PollMaxInterval, 10 * time.Second},
		{"TaskTimeout", cfg.TaskTimeout, 5 * time.Minute},
		{"Premium", cfg.Premium, false},
		{"MaxConcurrency", cfg.MaxConcurrency, 8},
		{"RefreshInterval", cfg.RefreshInterval, time.Duration(0)},
		{"TargetAsset", cfg.TargetAsset, "USD"},
		{"ListenAddress", cfg.ListenAddress, ":8484"},
		{"MetricsEnabled", cfg.MetricsEnabled, false},
		{"LogLevel", cfg.LogLevel, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	envVars := map[string]string{
		"DEFISYNC_BACKEND_URL":      "http://backend.test:4242/api/1",
		"DEFISYNC_PREMIUM":          "true",
		"DEFISYNC_MAX_CONCURRENCY":  "3",
		"DEFISYNC_POLL_INTERVAL":    "250ms",
		"DEFISYNC_REFRESH_INTERVAL": "15m",
		"DEFISYNC_PRICE_ASSETS":     "ETH,BTC",
		"DEFISYNC_LOG_LEVEL":        "debug",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.BackendURL != "http://backend.test:4242/api/1" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if !cfg.Premium {
		t.Error("Premium = false, want true")
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency = %d, want 3", cfg.MaxConcurrency)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %s, want 250ms", cfg.PollInterval)
	}
	if cfg.RefreshInterval != 15*time.Minute {
		t.Errorf("RefreshInterval = %s, want 15m", cfg.RefreshInterval)
	}
	if strings.Join(cfg.PriceAssets, ",") != "ETH,BTC" {
		t.Errorf("PriceAssets = %v, want [ETH BTC]", cfg.PriceAssets)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "defisync.yaml")
	content := `
backend_url: http://file.test/api/1
premium: true
listen_address: 127.0.0.1:9000
price_assets:
  - ETH
  - DAI
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// environment wins over the file
	t.Setenv("DEFISYNC_LISTEN_ADDRESS", ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.BackendURL != "http://file.test/api/1" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if !cfg.Premium {
		t.Error("Premium = false, want true")
	}
	if cfg.ListenAddress != ":9100" {
		t.Errorf("ListenAddress = %q, want :9100", cfg.ListenAddress)
	}
	if len(cfg.PriceAssets) != 2 {
		t.Errorf("PriceAssets = %v", cfg.PriceAssets)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for an explicit missing file")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantErrText string
	}{
		{
			name:        "relative backend url",
			env:         map[string]string{"DEFISYNC_BACKEND_URL": "/api/1"},
			wantErrText: "backend_url",
		},
		{
			name:        "zero concurrency",
			env:         map[string]string{"DEFISYNC_MAX_CONCURRENCY": "0"},
			wantErrText: "max_concurrency",
		},
		{
			name:        "poll max below interval",
			env:         map[string]string{"DEFISYNC_POLL_INTERVAL": "20s", "DEFISYNC_POLL_MAX_INTERVAL": "5s"},
			wantErrText: "poll_max_interval",
		},
		{
			name:        "negative refresh",
			env:         map[string]string{"DEFISYNC_REFRESH_INTERVAL": "-1m"},
			wantErrText: "refresh_interval",
		},
		{
			name:        "negative poll rate",
			env:         map[string]string{"DEFISYNC_POLL_REQUESTS_PER_SECOND": "-2"},
			wantErrText: "poll_requests_per_second",
		},
		{
			name:        "unknown log level",
			env:         map[string]string{"DEFISYNC_LOG_LEVEL": "chatty"},
			wantErrText: "log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv("HOME", t.TempDir())
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			_, err := Load("")
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), "invalid configuration") || !strings.Contains(err.Error(), tt.wantErrText) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrText)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("warn")
	if err != nil {
		t.Fatal(err)
	}
	if level != slog.LevelWarn {
		t.Errorf("level = %v, want warn", level)
	}
}
