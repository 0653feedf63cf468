package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// CloudMode selects which backend implementation is active.
type CloudMode string

const (
	ModeOfficial CloudMode = "official"
	ModeSelfHost CloudMode = "selfhost"
	ModeOff      CloudMode = "off"
)

// AuthMode selects how requests are authenticated against the backend.
type AuthMode string

const (
	AuthAPIKey    AuthMode = "api_key"
	AuthAccessKey AuthMode = "access_key"
)

// Retention bounds offered to the settings surface. RetentionLimit is
// clamped into this range at load time.
const (
	RetentionMin = 1
	RetentionMax = 200
)

// officialBaseURL is the managed backend. Self-host deployments must
// configure their own base URL.
const officialBaseURL = "https://api.emusync.app"

// Config holds all environment-based configuration for emusync.
type Config struct {
	// Cloud settings.
	CloudModeRaw   string `env:"EMUSYNC_CLOUD_MODE" envDefault:"off"`
	BaseURL        string `env:"EMUSYNC_BASE_URL"`
	AuthModeRaw    string `env:"EMUSYNC_AUTH_MODE" envDefault:"api_key"`
	APIKey         string `env:"EMUSYNC_API_KEY"`
	AccessKey      string `env:"EMUSYNC_ACCESS_KEY"`
	DeviceID       string `env:"EMUSYNC_DEVICE_ID"`
	DeviceName     string `env:"EMUSYNC_DEVICE_NAME"`
	TimeoutSeconds int    `env:"EMUSYNC_TIMEOUT_SECONDS" envDefault:"30"`

	// Local history settings.
	DataDir        string `env:"EMUSYNC_DATA_DIR"`
	ProfilesPath   string `env:"EMUSYNC_PROFILES"`
	HistoryDir     string `env:"EMUSYNC_HISTORY_DIR"`
	RetentionLimit int    `env:"EMUSYNC_RETENTION_LIMIT" envDefault:"20"`
	AutoDelete     bool   `env:"EMUSYNC_AUTO_DELETE" envDefault:"true"`

	// Orchestrator tuning.
	DebounceMillis   int `env:"EMUSYNC_DEBOUNCE_MS" envDefault:"750"`
	ReconcileSeconds int `env:"EMUSYNC_RECONCILE_SECONDS" envDefault:"300"`

	// Retry policy for transient cloud failures.
	RetryMaxAttempts int     `env:"EMUSYNC_RETRY_MAX_ATTEMPTS" envDefault:"5"`
	RetryBaseMillis  int     `env:"EMUSYNC_RETRY_BASE_MS" envDefault:"500"`
	RetryMaxSeconds  int     `env:"EMUSYNC_RETRY_MAX_SECONDS" envDefault:"30"`
	RetryMultiplier  float64 `env:"EMUSYNC_RETRY_MULTIPLIER" envDefault:"2.0"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// CloudConfig is the cloud-facing subset handed to backend constructors.
// Exactly one is active per process; switching mode swaps the backend
// behind the orchestrator's handle.
type CloudConfig struct {
	Mode       CloudMode
	BaseURL    string
	AuthMode   AuthMode
	APIKey     string
	AccessKey  string
	DeviceID   string
	DeviceName string
	Timeout    time.Duration
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. Group or world readable files risk
// exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "emusync"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills the derived directory paths and resolves them to
// absolute paths. Downstream code compares path prefixes when checking
// that extracted archive entries stay inside the history root, which
// only works reliably with absolute paths.
func (c *Config) applyDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("determining home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".emusync")
	}

	absData, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir to absolute path: %w", err)
	}
	c.DataDir = absData

	if c.HistoryDir == "" {
		c.HistoryDir = filepath.Join(c.DataDir, "history")
	}

	if c.ProfilesPath == "" {
		c.ProfilesPath = filepath.Join(c.DataDir, "profiles.json")
	}

	absHistory, err := filepath.Abs(c.HistoryDir)
	if err != nil {
		return fmt.Errorf("resolving history dir to absolute path: %w", err)
	}
	c.HistoryDir = absHistory

	if c.CloudModeRaw == string(ModeOfficial) && c.BaseURL == "" {
		c.BaseURL = officialBaseURL
	}

	if c.RetentionLimit < RetentionMin {
		c.RetentionLimit = RetentionMin
	}
	if c.RetentionLimit > RetentionMax {
		c.RetentionLimit = RetentionMax
	}

	return nil
}

func (c *Config) validate() error {
	switch CloudMode(c.CloudModeRaw) {
	case ModeOfficial, ModeSelfHost, ModeOff:
	default:
		return fmt.Errorf("EMUSYNC_CLOUD_MODE must be official, selfhost, or off (got %q)", c.CloudModeRaw)
	}

	switch AuthMode(c.AuthModeRaw) {
	case AuthAPIKey, AuthAccessKey:
	default:
		return fmt.Errorf("EMUSYNC_AUTH_MODE must be api_key or access_key (got %q)", c.AuthModeRaw)
	}

	if c.Mode() == ModeOfficial && c.AuthModeRaw == string(AuthAPIKey) && c.APIKey == "" {
		return fmt.Errorf("EMUSYNC_API_KEY is required in official mode")
	}

	if c.Mode() == ModeSelfHost {
		if c.BaseURL == "" {
			return fmt.Errorf("EMUSYNC_BASE_URL is required in selfhost mode")
		}
		if c.AuthModeRaw == string(AuthAccessKey) && c.AccessKey == "" {
			return fmt.Errorf("EMUSYNC_ACCESS_KEY is required in selfhost mode with access_key auth")
		}
	}

	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("EMUSYNC_TIMEOUT_SECONDS must be positive")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("EMUSYNC_RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.RetryMultiplier < 1.0 {
		return fmt.Errorf("EMUSYNC_RETRY_MULTIPLIER must be at least 1.0")
	}

	return nil
}

// Mode returns the validated cloud mode.
func (c *Config) Mode() CloudMode {
	return CloudMode(c.CloudModeRaw)
}

// Cloud projects the cloud-facing configuration subset.
func (c *Config) Cloud() CloudConfig {
	return CloudConfig{
		Mode:       c.Mode(),
		BaseURL:    c.BaseURL,
		AuthMode:   AuthMode(c.AuthModeRaw),
		APIKey:     c.APIKey,
		AccessKey:  c.AccessKey,
		DeviceID:   c.DeviceID,
		DeviceName: c.DeviceName,
		Timeout:    time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

// Debounce returns the watcher-event debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// ReconcileInterval returns the period between reconciliation passes.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileSeconds) * time.Second
}

// StatePath returns the bbolt database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
