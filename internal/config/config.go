// ABOUTME: Configuration loading and parsing for coven-leads
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// MinSecretLength is the shortest accepted auth.jwt_secret.
const MinSecretLength = 32

// Config represents the complete coven-leads configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	FollowUp     FollowUpConfig     `yaml:"followup"`
	Conversation ConversationConfig `yaml:"conversation"`
	Dedupe       DedupeConfig       `yaml:"dedupe"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve HTTP on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel"` // Expose the HTTP API publicly (implies HTTPS)
}

// DatabaseConfig holds ledger database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (pure Go) or "sqlite3" (cgo)
	Path   string `yaml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// FollowUpConfig holds follow-up scheduler timing
type FollowUpConfig struct {
	Delay         time.Duration `yaml:"-"`
	CheckInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DelayRaw         string `yaml:"delay"`
	CheckIntervalRaw string `yaml:"check_interval"`
}

// ConversationConfig points at the conversation script.
// An empty ScriptPath uses the built-in script.
type ConversationConfig struct {
	ScriptPath string `yaml:"script"`
}

// DedupeConfig sizes the inbound delivery dedupe cache
type DedupeConfig struct {
	TTL        time.Duration `yaml:"-"`
	TTLRaw     string        `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied for unset values.
const (
	DefaultFollowUpDelay    = 24 * time.Hour
	DefaultCheckInterval    = 30 * time.Minute
	DefaultDedupeTTL        = 10 * time.Minute
	DefaultDedupeMaxEntries = 10000
	DefaultDriver           = "sqlite"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.FollowUp.Delay == 0 {
		c.FollowUp.Delay = DefaultFollowUpDelay
	}
	if c.FollowUp.CheckInterval == 0 {
		c.FollowUp.CheckInterval = DefaultCheckInterval
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxEntries == 0 {
		c.Dedupe.MaxEntries = DefaultDedupeMaxEntries
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Driver != "sqlite" && c.Database.Driver != "sqlite3" {
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinSecretLength)
	}

	if c.FollowUp.Delay < 0 || c.FollowUp.CheckInterval < 0 {
		return fmt.Errorf("followup durations must be positive")
	}
	if c.FollowUp.CheckInterval >= c.FollowUp.Delay {
		return fmt.Errorf("followup.check_interval (%s) must be smaller than followup.delay (%s)",
			c.FollowUp.CheckInterval, c.FollowUp.Delay)
	}

	if c.Dedupe.MaxEntries < 0 {
		return fmt.Errorf("dedupe.max_entries must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.FollowUp.DelayRaw != "" {
		cfg.FollowUp.Delay, err = time.ParseDuration(cfg.FollowUp.DelayRaw)
		if err != nil {
			return fmt.Errorf("parsing followup.delay %q: %w", cfg.FollowUp.DelayRaw, err)
		}
	}

	if cfg.FollowUp.CheckIntervalRaw != "" {
		cfg.FollowUp.CheckInterval, err = time.ParseDuration(cfg.FollowUp.CheckIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing followup.check_interval %q: %w", cfg.FollowUp.CheckIntervalRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe.ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}
