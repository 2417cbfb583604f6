package escrowd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses a duration such as "1m30s". TOML decoding uses it.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for escrowd.
type Config struct {
	ListenAddress string           `yaml:"listen" toml:"listen"`
	Environment   string           `yaml:"env" toml:"env"`
	Storage       StorageConfig    `yaml:"storage" toml:"storage"`
	Audit         AuditConfig      `yaml:"audit" toml:"audit"`
	Auth          AuthConfig       `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit" toml:"rate_limit"`
	Dispatcher    DispatcherConfig `yaml:"dispatcher" toml:"dispatcher"`
	Wallet        WalletConfig     `yaml:"wallet" toml:"wallet"`
	Mailbox       MailboxConfig    `yaml:"mailbox" toml:"mailbox"`
	Logging       LoggingConfig    `yaml:"logging" toml:"logging"`
	Telemetry     TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
}

// StorageConfig selects the trade state backend.
type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

// AuditConfig selects the audit log database.
type AuditConfig struct {
	Driver  string `yaml:"driver" toml:"driver"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	DSNFile string `yaml:"dsn_file" toml:"dsn_file"`
	DSNEnv  string `yaml:"dsn_env" toml:"dsn_env"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file" toml:"hmac_secret_file"`
	HMACSecretEnv  string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer         string   `yaml:"issuer" toml:"issuer"`
	Audience       string   `yaml:"audience" toml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew" toml:"clock_skew"`
	TransportScope string   `yaml:"transport_scope" toml:"transport_scope"`
	OperatorScope  string   `yaml:"operator_scope" toml:"operator_scope"`
}

// RateLimitConfig bounds requests per authenticated caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// DispatcherConfig tunes outbound transfer delivery.
type DispatcherConfig struct {
	Workers       int      `yaml:"workers" toml:"workers"`
	Confirmations int      `yaml:"confirmations" toml:"confirmations"`
	PollInterval  Duration `yaml:"poll_interval" toml:"poll_interval"`
	ReportTimeout Duration `yaml:"report_timeout" toml:"report_timeout"`
	PauseOnStart  bool     `yaml:"pause" toml:"pause"`
}

// WalletConfig selects the disbursement transport.
type WalletConfig struct {
	Mode string `yaml:"mode" toml:"mode"`
}

// MailboxConfig tunes the per-trade workers.
type MailboxConfig struct {
	IdleTimeout Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	QueueSize   int      `yaml:"queue_size" toml:"queue_size"`
}

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

const (
	walletModeLedger = "ledger"
	walletModeReject = "reject"
)

// LoadConfig reads configuration from the supplied path. Files ending in
// .toml are decoded as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	if env := strings.TrimSpace(os.Getenv("ESCROWD_ENV")); env != "" {
		cfg.Environment = env
	}
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := cfg.Audit.normalise(); err != nil {
		return cfg, fmt.Errorf("audit: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Path == "" && cfg.Storage.Backend != "memory" {
		cfg.Storage.Path = "data/escrowd"
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.DSNFile == "" && cfg.Audit.DSNEnv == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "file:escrowd-audit.db"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Auth.TransportScope == "" {
		cfg.Auth.TransportScope = "escrow.transport"
	}
	if cfg.Auth.OperatorScope == "" {
		cfg.Auth.OperatorScope = "escrow.operator"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Dispatcher.Workers <= 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.Confirmations <= 0 {
		cfg.Dispatcher.Confirmations = 1
	}
	if cfg.Dispatcher.PollInterval.Duration == 0 {
		cfg.Dispatcher.PollInterval.Duration = 3 * time.Second
	}
	if cfg.Dispatcher.ReportTimeout.Duration == 0 {
		cfg.Dispatcher.ReportTimeout.Duration = 10 * time.Second
	}
	if cfg.Wallet.Mode == "" {
		cfg.Wallet.Mode = walletModeLedger
	}
	if cfg.Mailbox.IdleTimeout.Duration == 0 {
		cfg.Mailbox.IdleTimeout.Duration = 30 * time.Second
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Backend {
	case "memory", "leveldb", "bolt":
	default:
		return fmt.Errorf("unsupported storage backend %q", cfg.Storage.Backend)
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported audit driver %q", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit dsn must be configured")
	}
	if len(cfg.Auth.HMACSecret) < 16 {
		return fmt.Errorf("auth hmac secret must be at least 16 bytes")
	}
	if cfg.Auth.TransportScope == cfg.Auth.OperatorScope {
		return fmt.Errorf("transport and operator scopes must differ")
	}
	switch cfg.Wallet.Mode {
	case walletModeLedger, walletModeReject:
	default:
		return fmt.Errorf("unsupported wallet mode %q", cfg.Wallet.Mode)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0,1]")
	}
	return nil
}

// resolveSecret returns value, or the contents of the named environment
// variable or file when value is empty.
func resolveSecret(name, value, env, file string) (string, error) {
	value = strings.TrimSpace(value)
	if value != "" {
		return value, nil
	}
	env = strings.TrimSpace(env)
	file = strings.TrimSpace(file)
	switch {
	case env != "":
		resolved := strings.TrimSpace(os.Getenv(env))
		if resolved == "" {
			return "", fmt.Errorf("%s_env %s is empty", name, env)
		}
		return resolved, nil
	case file != "":
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s_file: %w", name, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

func (a *AuthConfig) normalise() error {
	secret, err := resolveSecret("hmac_secret", a.HMACSecret, a.HMACSecretEnv, a.HMACSecretFile)
	if err != nil {
		return err
	}
	a.HMACSecret = secret
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	a.TransportScope = strings.TrimSpace(a.TransportScope)
	a.OperatorScope = strings.TrimSpace(a.OperatorScope)
	return nil
}

func (a *AuditConfig) normalise() error {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	dsn, err := resolveSecret("dsn", a.DSN, a.DSNEnv, a.DSNFile)
	if err != nil {
		return err
	}
	a.DSN = dsn
	return nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return level, fmt.Errorf("logging level: %w", err)
	}
	return level, nil
}
