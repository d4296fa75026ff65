package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dl-alexandre/ocsync/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DefaultConnection != "default" {
		t.Errorf("Expected default connection 'default', got '%s'", cfg.DefaultConnection)
	}

	if cfg.DefaultOutputFormat != types.OutputFormatTable {
		t.Errorf("Expected default output format 'table', got '%s'", cfg.DefaultOutputFormat)
	}

	if cfg.FullSyncEvery != 10 {
		t.Errorf("Expected full sync every 10 runs, got %d", cfg.FullSyncEvery)
	}

	if cfg.PollInterval != 2000 {
		t.Errorf("Expected poll interval 2000ms, got %d", cfg.PollInterval)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level 'info', got '%s'", cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:   "valid default config",
			mutate: func(*Config) {},
		},
		{
			name:     "invalid output format",
			mutate:   func(c *Config) { c.DefaultOutputFormat = "xml" },
			errorMsg: "invalid output format",
		},
		{
			name: "connection url without host",
			mutate: func(c *Config) {
				c.Connections["default"] = &Connection{URL: "https://"}
			},
			errorMsg: "invalid url",
		},
		{
			name: "connection url with unsupported scheme",
			mutate: func(c *Config) {
				c.Connections["default"] = &Connection{URL: "ftp://cloud.example.com"}
			},
			errorMsg: "must use http or https",
		},
		{
			name:     "poll interval too low",
			mutate:   func(c *Config) { c.PollInterval = 10 },
			errorMsg: "poll interval",
		},
		{
			name:     "full sync interval zero",
			mutate:   func(c *Config) { c.FullSyncEvery = 0 },
			errorMsg: "full sync interval",
		},
		{
			name:     "negative time skew",
			mutate:   func(c *Config) { c.MaxTimeSkew = -1 },
			errorMsg: "max time skew",
		},
		{
			name:     "concurrency too high",
			mutate:   func(c *Config) { c.Concurrency = 100 },
			errorMsg: "concurrency",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.LogLevel = "verbose" },
			errorMsg: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigDurationGetters(t *testing.T) {
	cfg := &Config{
		PollInterval:   1500,
		MaxTimeSkew:    10,
		RequestTimeout: 60,
	}

	if d := cfg.GetPollInterval(); d != 1500*time.Millisecond {
		t.Errorf("Expected poll interval 1.5s, got %v", d)
	}

	if d := cfg.GetMaxTimeSkew(); d != 10*time.Second {
		t.Errorf("Expected max time skew 10s, got %v", d)
	}

	if d := cfg.GetRequestTimeout(); d != 60*time.Second {
		t.Errorf("Expected request timeout 60s, got %v", d)
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("OCSYNC_CONFIG_DIR", tempDir)

	cfg := DefaultConfig()
	cfg.Connections["home"] = &Connection{
		URL:                 "https://cloud.example.com/owncloud",
		User:                "alice",
		TrustedFingerprints: []string{"ab:cd"},
	}
	cfg.DefaultConnection = "home"
	cfg.FullSyncEvery = 5
	cfg.UseWatcher = true

	if err := cfg.Save(""); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(tempDir, ConfigFileName)); err != nil {
		t.Fatalf("Config file not written: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.DefaultConnection != "home" {
		t.Errorf("Expected connection 'home', got '%s'", loaded.DefaultConnection)
	}
	if loaded.FullSyncEvery != 5 || !loaded.UseWatcher {
		t.Errorf("Scheduling settings not restored: %+v", loaded)
	}
	conn, err := loaded.Connection("")
	if err != nil {
		t.Fatalf("Connection() error = %v", err)
	}
	if conn.User != "alice" || len(conn.TrustedFingerprints) != 1 {
		t.Errorf("Unexpected connection %+v", conn)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OCSYNC_CONFIG_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != DefaultConfig().PollInterval {
		t.Errorf("Expected default poll interval, got %d", cfg.PollInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OCSYNC_DEFAULT_CONNECTION", "work")
	t.Setenv("OCSYNC_URL", "http://dav.example.org")
	t.Setenv("OCSYNC_USER", "bob")
	t.Setenv("OCSYNC_OUTPUT_FORMAT", "json")
	t.Setenv("OCSYNC_POLL_INTERVAL", "5000")
	t.Setenv("OCSYNC_FULL_SYNC_EVERY", "3")
	t.Setenv("OCSYNC_USE_WATCHER", "yes")
	t.Setenv("OCSYNC_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	cfg.loadFromEnv()

	if cfg.DefaultConnection != "work" {
		t.Errorf("Expected connection 'work', got '%s'", cfg.DefaultConnection)
	}
	conn, err := cfg.Connection("")
	if err != nil {
		t.Fatalf("Connection() error = %v", err)
	}
	if conn.URL != "http://dav.example.org" || conn.User != "bob" {
		t.Errorf("Unexpected connection %+v", conn)
	}
	if cfg.DefaultOutputFormat != types.OutputFormatJSON {
		t.Errorf("Expected output format 'json', got '%s'", cfg.DefaultOutputFormat)
	}
	if cfg.PollInterval != 5000 || cfg.FullSyncEvery != 3 || !cfg.UseWatcher {
		t.Errorf("Scheduling env overrides not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", cfg.LogLevel)
	}
}

func TestServerURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Connections["default"] = &Connection{URL: "https://cloud.example.com/owncloud"}

	tests := []struct {
		webdav bool
		want   string
	}{
		{false, "https://cloud.example.com/owncloud/"},
		{true, "https://cloud.example.com/owncloud/remote.php/webdav/"},
	}
	for _, tt := range tests {
		got, err := cfg.ServerURL("", tt.webdav)
		if err != nil {
			t.Fatalf("ServerURL() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("ServerURL(webdav=%v) = %q, want %q", tt.webdav, got, tt.want)
		}
	}

	if _, err := cfg.ServerURL("missing", false); err == nil {
		t.Error("Expected error for unknown connection")
	}
	if !cfg.IsConfigured("") {
		t.Error("Expected default connection to be configured")
	}
	if cfg.IsConfigured("missing") {
		t.Error("Expected unknown connection to be unconfigured")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"", false},
		{"invalid", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseBool(tt.input)
			if got != tt.want {
				t.Errorf("parseBool(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
