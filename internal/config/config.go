package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Worker    WorkerConfig    `yaml:"worker"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`
	Companion CompanionConfig `yaml:"companion"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// Timezone names the IANA zone whose calendar day defines "today".
	// Empty means the host's local zone.
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains authoritative store settings.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	URL    string `yaml:"-"` // env-only, may carry credentials
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	BackupInterval Duration `yaml:"backup_interval"`
}

// BackupConfig contains S3-compatible object storage settings for store
// backups. An empty Bucket disables uploads.
type BackupConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    *bool  `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CompanionConfig contains settings for the companion-side sync client.
type CompanionConfig struct {
	ServerURL      string   `yaml:"server_url"`
	SourceID       string   `yaml:"source_id"`
	OutboxBackend  string   `yaml:"outbox_backend"`
	OutboxPath     string   `yaml:"outbox_path"`
	SendTimeout    Duration `yaml:"send_timeout"`
	ProbeInterval  Duration `yaml:"probe_interval"`
	BatchLimit     int      `yaml:"batch_limit"`
	MailboxSize    int      `yaml:"mailbox_size"`
	GuaranteedEcho bool     `yaml:"guaranteed_echo"`
}

// Location resolves Server.Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Server.Timezone == "" || c.Server.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Server.Timezone, err)
	}
	return loc, nil
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("NAILGUARD_CONFIG_PATH", "config/nailguard.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOffline loads configuration like Load but does not require an API
// key. Used by CLI commands that read the store directly.
func LoadOffline() (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, getEnv("NAILGUARD_CONFIG_PATH", "config/nailguard.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/nailguard.db",
		},
		Worker: WorkerConfig{
			BackupInterval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Companion: CompanionConfig{
			ServerURL:      "http://localhost:8080",
			OutboxBackend:  "file",
			OutboxPath:     "data/outbox.json",
			SendTimeout:    Duration(10 * time.Second),
			ProbeInterval:  Duration(15 * time.Second),
			BatchLimit:     500,
			MailboxSize:    64,
			GuaranteedEcho: true,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("NAILGUARD_PORT", &cfg.Server.Port)
	envDuration("NAILGUARD_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("NAILGUARD_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("NAILGUARD_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envString("NAILGUARD_TIMEZONE", &cfg.Server.Timezone)

	// Database
	envString("NAILGUARD_DB_DRIVER", &cfg.Database.Driver)
	envString("NAILGUARD_DB_PATH", &cfg.Database.Path)
	envString("NAILGUARD_DATABASE_URL", &cfg.Database.URL)

	// Auth
	envString("NAILGUARD_API_KEY", &cfg.Auth.APIKey)

	// Worker
	envDuration("NAILGUARD_BACKUP_INTERVAL", &cfg.Worker.BackupInterval)

	// Backup storage
	envString("NAILGUARD_BACKUP_BUCKET", &cfg.Backup.Bucket)
	envString("NAILGUARD_S3_ENDPOINT", &cfg.Backup.Endpoint)
	envString("NAILGUARD_S3_REGION", &cfg.Backup.Region)
	envString("NAILGUARD_S3_ACCESS_KEY", &cfg.Backup.AccessKey)
	envString("NAILGUARD_S3_SECRET_KEY", &cfg.Backup.SecretKey)
	envString("NAILGUARD_BACKUP_PREFIX", &cfg.Backup.Prefix)
	if v := os.Getenv("NAILGUARD_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.UseSSL = &useSSL
	}

	// Log
	envString("NAILGUARD_LOG_LEVEL", &cfg.Log.Level)
	envString("NAILGUARD_LOG_FORMAT", &cfg.Log.Format)

	// Companion
	envString("NAILGUARD_SERVER_URL", &cfg.Companion.ServerURL)
	envString("NAILGUARD_SOURCE_ID", &cfg.Companion.SourceID)
	envString("NAILGUARD_OUTBOX_BACKEND", &cfg.Companion.OutboxBackend)
	envString("NAILGUARD_OUTBOX_PATH", &cfg.Companion.OutboxPath)
	envDuration("NAILGUARD_SEND_TIMEOUT", &cfg.Companion.SendTimeout)
	envDuration("NAILGUARD_PROBE_INTERVAL", &cfg.Companion.ProbeInterval)
	envInt("NAILGUARD_BATCH_LIMIT", &cfg.Companion.BatchLimit)
	envInt("NAILGUARD_MAILBOX_SIZE", &cfg.Companion.MailboxSize)
	if v := os.Getenv("NAILGUARD_GUARANTEED_ECHO"); v != "" {
		cfg.Companion.GuaranteedEcho = v == "true" || v == "1"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (NAILGUARD_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}

	if os.Getenv("NAILGUARD_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("NAILGUARD_API_KEY is required")
	}
	return nil
}

// validateSettings checks everything except credentials.
func (c *Config) validateSettings() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("NAILGUARD_DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Companion.OutboxBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown outbox backend %q", c.Companion.OutboxBackend)
	}

	if c.Companion.BatchLimit <= 0 {
		return errors.New("companion.batch_limit must be positive")
	}
	if c.Companion.MailboxSize <= 0 {
		return errors.New("companion.mailbox_size must be positive")
	}

	_, err := c.Location()
	return err
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
