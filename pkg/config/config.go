// Package config provides configuration structures and loading logic for the
// payment service.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds configuration for the HTTP transport.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             *TLSConfig    `yaml:"tls,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Sink selects the invocation log backend: console, pretty or telemetry.
	Sink string `yaml:"sink"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// StorageConfig selects the balance repository.
type StorageConfig struct {
	Driver         string               `yaml:"driver"`
	DSN            string               `yaml:"dsn"`
	MaxConns       int32                `yaml:"max_conns"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breaker around the repository.
type CircuitBreakerConfig struct {
	// MaxFailures of zero disables the breaker.
	MaxFailures int           `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// AuthConfig configures credential verification and authorization.
type AuthConfig struct {
	JWT     JWTConfig      `yaml:"jwt"`
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	Policy  PolicyConfig   `yaml:"policy"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Audience string        `yaml:"audience"`
	Leeway   time.Duration `yaml:"leeway"`
}

// APIKeyConfig is one accepted API key, stored as its SHA-256 hash.
type APIKeyConfig struct {
	Subject string   `yaml:"subject"`
	Hash    string   `yaml:"hash"`
	Scopes  []string `yaml:"scopes"`
}

// PolicyConfig configures the authorization policy.
type PolicyConfig struct {
	// Disabled skips authorization: every authenticated caller may debit.
	Disabled bool `yaml:"disabled"`
	// File is a rego module; empty selects the built-in policy.
	File       string `yaml:"file"`
	Entrypoint string `yaml:"entrypoint"`
	// Watch reloads File when it changes.
	Watch bool `yaml:"watch"`
}

// PipelineConfig holds configuration for invocation processing.
type PipelineConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Sink:   "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-pay",
		},
		Storage: StorageConfig{
			Driver: "memory",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		Pipeline: PipelineConfig{
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads configuration from a file, applies environment variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation. Tooling that only touches one section
// validates that section itself.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files without overriding
// variables already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("PAY_SERVER_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("PAY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PAY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("PAY_LOG_SINK"); val != "" {
		cfg.Logging.Sink = val
	}

	if val := os.Getenv("PAY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("PAY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("PAY_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("PAY_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("PAY_DATABASE_URL"); val != "" {
		cfg.Storage.DSN = val
	}

	if val := os.Getenv("PAY_JWT_SECRET"); val != "" {
		cfg.Auth.JWT.Secret = val
	}
	if val := os.Getenv("PAY_JWT_ISSUER"); val != "" {
		cfg.Auth.JWT.Issuer = val
	}
	if val := os.Getenv("PAY_JWT_AUDIENCE"); val != "" {
		cfg.Auth.JWT.Audience = val
	}
	// Format: "subject=hash,subject2=hash2".
	if val := os.Getenv("PAY_API_KEYS"); val != "" {
		keys, err := parseAPIKeys(val)
		if err != nil {
			return fmt.Errorf("PAY_API_KEYS: %w", err)
		}
		cfg.Auth.APIKeys = append(cfg.Auth.APIKeys, keys...)
	}

	if val := os.Getenv("PAY_POLICY_FILE"); val != "" {
		cfg.Auth.Policy.File = val
	}
	if val := os.Getenv("PAY_POLICY_DISABLED"); val == "true" {
		cfg.Auth.Policy.Disabled = true
	}

	if val := os.Getenv("PAY_PIPELINE_TIMEOUT"); val != "" {
		timeout, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("PAY_PIPELINE_TIMEOUT: %w", err)
		}
		cfg.Pipeline.Timeout = timeout
	}
	if val := os.Getenv("PAY_STORAGE_MAX_CONNS"); val != "" {
		n, err := strconv.ParseInt(val, 10, 32)
		if err != nil {
			return fmt.Errorf("PAY_STORAGE_MAX_CONNS: %w", err)
		}
		cfg.Storage.MaxConns = int32(n)
	}

	return nil
}

func parseAPIKeys(val string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	for _, pair := range strings.Split(val, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		subject, hash, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("entry %q is not subject=hash", pair)
		}
		keys = append(keys, APIKeyConfig{Subject: strings.TrimSpace(subject), Hash: strings.TrimSpace(hash)})
	}
	return keys, nil
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth configuration: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8080"
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return NewConfigValidationError("timeouts", nil, "server timeouts must not be negative")
	}
	if c.TLS != nil {
		if err := c.TLS.Validate(); err != nil {
			return fmt.Errorf("TLS configuration: %w", err)
		}
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}
	if strings.TrimSpace(c.Sink) == "" {
		c.Sink = "console"
	}

	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewConfigValidationError("level", c.Level, "invalid log level").
			WithSuggestion("Use one of: debug, info, warn, error")
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	if c.Format != "json" && c.Format != "text" {
		return NewConfigValidationError("format", c.Format, "invalid log format").
			WithSuggestion("Use json or text")
	}

	c.Sink = strings.ToLower(strings.TrimSpace(c.Sink))
	switch c.Sink {
	case "console", "pretty", "telemetry":
	default:
		return NewConfigValidationError("sink", c.Sink, "invalid log sink").
			WithSuggestion("Use one of: console, pretty, telemetry")
	}
	return nil
}

// Validate performs validation of storage configuration.
func (c *StorageConfig) Validate() error {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	switch c.Driver {
	case "", "memory":
		c.Driver = "memory"
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.DSN) == "" {
			return NewConfigMissingError("dsn").
				WithSuggestion("Set storage.dsn or PAY_DATABASE_URL to a postgres connection string")
		}
	default:
		return NewConfigValidationError("driver", c.Driver, "unsupported storage driver").
			WithSuggestion("Use one of: memory, sqlite, postgres")
	}
	if c.MaxConns < 0 {
		return NewConfigValidationError("max_conns", c.MaxConns, "must not be negative")
	}
	if c.CircuitBreaker.MaxFailures < 0 {
		return NewConfigValidationError("circuit_breaker.max_failures", c.CircuitBreaker.MaxFailures, "must not be negative")
	}
	return nil
}

// Validate performs validation of auth configuration.
func (c *AuthConfig) Validate() error {
	if c.JWT.Secret == "" && len(c.APIKeys) == 0 {
		return NewConfigMissingError("jwt.secret").
			WithSuggestion("Configure auth.jwt.secret (PAY_JWT_SECRET) or at least one auth.api_keys entry")
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return NewConfigValidationError("jwt.secret", "[REDACTED]", "secret must be at least 32 bytes")
	}
	for i, key := range c.APIKeys {
		if strings.TrimSpace(key.Subject) == "" {
			return NewConfigMissingError(fmt.Sprintf("api_keys[%d].subject", i))
		}
		if len(strings.TrimSpace(key.Hash)) != 64 {
			return NewConfigValidationError(fmt.Sprintf("api_keys[%d].hash", i), key.Hash, "hash must be a hex sha256 digest").
				WithSuggestion("Generate keys with `polis-pay keygen`")
		}
	}
	if c.Policy.Watch && c.Policy.File == "" {
		return NewConfigValidationError("policy.watch", true, "watch requires policy.file")
	}
	return nil
}

// Validate performs validation of pipeline configuration.
func (c *PipelineConfig) Validate() error {
	if c.Timeout < 0 {
		return NewConfigValidationError("timeout", c.Timeout, "must not be negative")
	}
	return nil
}
