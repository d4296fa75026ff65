package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/mitchellh/go-homedir"
)

const (
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// FoldersFileName holds the folder definitions
	FoldersFileName = "folders.yaml"
	// EnvPrefix is the prefix for environment variables
	EnvPrefix = "OCSYNC_"
	// DefaultConnectionName is used when no connection is named
	DefaultConnectionName = "default"
)

// Connection describes one server account.
type Connection struct {
	// URL is the server root, e.g. https://cloud.example.com/owncloud/
	URL string `json:"url"`

	// User is the login name; the password lives in credential storage
	User string `json:"user"`

	// AuthHeader replaces the computed Basic authorization header when set
	AuthHeader string `json:"authHeader,omitempty"`

	// UseToken sends a stored app token as a bearer token instead of Basic auth
	UseToken bool `json:"useToken,omitempty"`

	// TrustedFingerprints are SHA-256 certificate fingerprints accepted without prompting
	TrustedFingerprints []string `json:"trustedFingerprints,omitempty"`
}

// Config holds application configuration
type Config struct {
	// DefaultConnection names the connection used when none is given
	DefaultConnection string `json:"defaultConnection"`

	// Connections maps connection names to server accounts
	Connections map[string]*Connection `json:"connections"`

	// DefaultOutputFormat is the default output format (json, table)
	DefaultOutputFormat types.OutputFormat `json:"defaultOutputFormat"`

	// ExcludeFile is a file of glob patterns skipped by the sync engine
	ExcludeFile string `json:"excludeFile,omitempty"`

	// PollInterval is the local poll interval in milliseconds
	PollInterval int `json:"pollInterval"`

	// FullSyncEvery forces a full remote sync after this many local-only runs
	FullSyncEvery int `json:"fullSyncEvery"`

	// UseWatcher switches folders to filesystem notifications; every run is then a full sync
	UseWatcher bool `json:"useWatcher"`

	// MaxTimeSkew is the tolerated server clock difference in seconds
	MaxTimeSkew int `json:"maxTimeSkew"`

	// Concurrency bounds parallel transfers during propagation
	Concurrency int `json:"concurrency"`

	// RequestTimeout is the per-request timeout in seconds
	RequestTimeout int `json:"requestTimeout"`

	// LogLevel sets the logging verbosity (debug, info, warn, error)
	LogLevel string `json:"logLevel"`

	// LogFile receives JSON log lines when set
	LogFile string `json:"logFile,omitempty"`

	// ColorOutput enables color output for console logs
	ColorOutput bool `json:"colorOutput"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultConnection:   DefaultConnectionName,
		Connections:         map[string]*Connection{},
		DefaultOutputFormat: types.OutputFormatTable,
		PollInterval:        utils.DefaultPollIntervalMs,
		FullSyncEvery:       utils.DefaultFullSyncEvery,
		MaxTimeSkew:         utils.DefaultMaxTimeSkewSec,
		Concurrency:         utils.DefaultConcurrency,
		RequestTimeout:      60,
		LogLevel:            "info",
		ColorOutput:         true,
	}
}

// Load loads configuration from the default location.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration with precedence: env vars > config file > defaults.
// An empty path means the default config location.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromFile(path); err != nil {
		// Config file not existing is not an error
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}
	if c.Connections == nil {
		c.Connections = map[string]*Connection{}
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvPrefix + "DEFAULT_CONNECTION"); v != "" {
		c.DefaultConnection = v
	}
	if v := os.Getenv(EnvPrefix + "URL"); v != "" {
		c.ensureDefaultConnection().URL = v
	}
	if v := os.Getenv(EnvPrefix + "USER"); v != "" {
		c.ensureDefaultConnection().User = v
	}
	if v := os.Getenv(EnvPrefix + "OUTPUT_FORMAT"); v != "" {
		c.DefaultOutputFormat = types.OutputFormat(v)
	}
	if v := os.Getenv(EnvPrefix + "EXCLUDE_FILE"); v != "" {
		c.ExcludeFile = v
	}
	if v := os.Getenv(EnvPrefix + "POLL_INTERVAL"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.PollInterval = ms
		}
	}
	if v := os.Getenv(EnvPrefix + "FULL_SYNC_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FullSyncEvery = n
		}
	}
	if v := os.Getenv(EnvPrefix + "USE_WATCHER"); v != "" {
		c.UseWatcher = parseBool(v)
	}
	if v := os.Getenv(EnvPrefix + "MAX_TIME_SKEW"); v != "" {
		if s, err := strconv.Atoi(v); err == nil {
			c.MaxTimeSkew = s
		}
	}
	if v := os.Getenv(EnvPrefix + "CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Concurrency = n
		}
	}
	if v := os.Getenv(EnvPrefix + "REQUEST_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = timeout
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "COLOR_OUTPUT"); v != "" {
		c.ColorOutput = parseBool(v)
	}
}

func (c *Config) ensureDefaultConnection() *Connection {
	if c.Connections == nil {
		c.Connections = map[string]*Connection{}
	}
	name := c.DefaultConnection
	if name == "" {
		name = DefaultConnectionName
	}
	conn, ok := c.Connections[name]
	if !ok {
		conn = &Connection{}
		c.Connections[name] = conn
	}
	return conn
}

// Save writes the configuration to path, or the default location when empty.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultOutputFormat != types.OutputFormatJSON &&
		c.DefaultOutputFormat != types.OutputFormatTable {
		return fmt.Errorf("invalid output format: %s (must be 'json' or 'table')", c.DefaultOutputFormat)
	}

	for name, conn := range c.Connections {
		if conn == nil {
			return fmt.Errorf("connection %q is empty", name)
		}
		if conn.URL == "" {
			continue
		}
		u, err := url.Parse(conn.URL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("connection %q has an invalid url: %s", name, conn.URL)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("connection %q url must use http or https, got: %s", name, u.Scheme)
		}
	}

	if c.PollInterval < 100 || c.PollInterval > 3600000 {
		return fmt.Errorf("poll interval must be between 100ms and 3600000ms, got: %d", c.PollInterval)
	}

	if c.FullSyncEvery < 1 {
		return fmt.Errorf("full sync interval must be at least 1, got: %d", c.FullSyncEvery)
	}

	if c.MaxTimeSkew < 0 {
		return fmt.Errorf("max time skew must be non-negative, got: %d", c.MaxTimeSkew)
	}

	if c.Concurrency < 1 || c.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 1 and 64, got: %d", c.Concurrency)
	}

	if c.RequestTimeout < 1 || c.RequestTimeout > 3600 {
		return fmt.Errorf("request timeout must be between 1 and 3600 seconds, got: %d", c.RequestTimeout)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	isValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValid = true
			break
		}
	}
	if !isValid {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// Connection returns the named connection; an empty name selects the default.
func (c *Config) Connection(name string) (*Connection, error) {
	if name == "" {
		name = c.DefaultConnection
	}
	conn, ok := c.Connections[name]
	if !ok || conn == nil {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}
	return conn, nil
}

// IsConfigured reports whether the named connection has a server URL.
func (c *Config) IsConfigured(name string) bool {
	conn, err := c.Connection(name)
	return err == nil && conn.URL != ""
}

// ServerURL returns the connection's base URL with a trailing slash,
// extended by the WebDAV root when webdav is set.
func (c *Config) ServerURL(name string, webdav bool) (string, error) {
	conn, err := c.Connection(name)
	if err != nil {
		return "", err
	}
	if conn.URL == "" {
		return "", fmt.Errorf("connection %q has no url", name)
	}
	base := conn.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if webdav {
		base += utils.WebDAVPath
	}
	return base, nil
}

// GetPollInterval returns the local poll interval as a duration
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// GetMaxTimeSkew returns the tolerated clock skew as a duration
func (c *Config) GetMaxTimeSkew() time.Duration {
	return time.Duration(c.MaxTimeSkew) * time.Second
}

// GetRequestTimeout returns the request timeout as a duration
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, ConfigFileName), nil
}

// GetFoldersPath returns the path to the folder definitions file
func GetFoldersPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, FoldersFileName), nil
}

// GetConfigDir returns the path to the config directory
func GetConfigDir() (string, error) {
	if dir := os.Getenv(EnvPrefix + "CONFIG_DIR"); dir != "" {
		return homedir.Expand(dir)
	}
	homeDir, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "ocsync"), nil
}

// parseBool parses a boolean value from a string
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
