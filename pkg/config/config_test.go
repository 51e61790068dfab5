package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  read_timeout: 2s
logging:
  level: DEBUG
  format: text
  sink: pretty
storage:
  driver: sqlite
  dsn: /tmp/pay.db
  circuit_breaker:
    max_failures: 3
    open_timeout: 5s
auth:
  jwt:
    secret: `+testSecret+`
    issuer: https://issuer.example
  api_keys:
    - subject: svc-billing
      hash: `+strings.Repeat("a", 64)+`
      scopes: [payments:write]
  policy:
    entrypoint: payments/authz/decision
pipeline:
  timeout: 3s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "pretty", cfg.Logging.Sink)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Storage.CircuitBreaker.MaxFailures)
	assert.Equal(t, 5*time.Second, cfg.Storage.CircuitBreaker.OpenTimeout)
	assert.Equal(t, "https://issuer.example", cfg.Auth.JWT.Issuer)
	require.Len(t, cfg.Auth.APIKeys, 1)
	assert.Equal(t, []string{"payments:write"}, cfg.Auth.APIKeys[0].Scopes)
	assert.Equal(t, 3*time.Second, cfg.Pipeline.Timeout)
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("PAY_JWT_SECRET", testSecret)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "console", cfg.Logging.Sink)
	assert.Equal(t, "polis-pay", cfg.Telemetry.ServiceName)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.Timeout)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
auth:
  jwt:
    secret: `+testSecret+`
`)
	hash := strings.Repeat("b", 64)
	t.Setenv("PAY_SERVER_ADDR", "127.0.0.1:7000")
	t.Setenv("PAY_LOG_LEVEL", "warn")
	t.Setenv("PAY_STORAGE_DRIVER", "postgres")
	t.Setenv("PAY_DATABASE_URL", "postgres://localhost/pay")
	t.Setenv("PAY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("PAY_OTLP_INSECURE", "true")
	t.Setenv("PAY_API_KEYS", "svc-a="+hash+", svc-b="+hash)
	t.Setenv("PAY_PIPELINE_TIMEOUT", "750ms")
	t.Setenv("PAY_STORAGE_MAX_CONNS", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/pay", cfg.Storage.DSN)
	assert.Equal(t, int32(4), cfg.Storage.MaxConns)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 750*time.Millisecond, cfg.Pipeline.Timeout)
	require.Len(t, cfg.Auth.APIKeys, 2)
	assert.Equal(t, "svc-b", cfg.Auth.APIKeys[1].Subject)
}

func TestEnvOverrideErrors(t *testing.T) {
	t.Setenv("PAY_JWT_SECRET", testSecret)

	t.Run("bad timeout", func(t *testing.T) {
		t.Setenv("PAY_PIPELINE_TIMEOUT", "soon")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PAY_PIPELINE_TIMEOUT")
	})

	t.Run("bad api keys", func(t *testing.T) {
		t.Setenv("PAY_API_KEYS", "no-separator")
		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subject=hash")
	})
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	_, err = Load(writeConfig(t, "server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "no credentials configured",
			mutate: func(c *Config) { c.Auth.JWT.Secret = "" },
			field:  "jwt.secret",
		},
		{
			name:   "short secret",
			mutate: func(c *Config) { c.Auth.JWT.Secret = "short" },
			field:  "jwt.secret",
		},
		{
			name: "api key without subject",
			mutate: func(c *Config) {
				c.Auth.APIKeys = []APIKeyConfig{{Hash: strings.Repeat("c", 64)}}
			},
			field: "api_keys[0].subject",
		},
		{
			name: "api key with bad hash",
			mutate: func(c *Config) {
				c.Auth.APIKeys = []APIKeyConfig{{Subject: "svc", Hash: "abc"}}
			},
			field: "api_keys[0].hash",
		},
		{
			name:   "watch without file",
			mutate: func(c *Config) { c.Auth.Policy.Watch = true },
			field:  "policy.watch",
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			field:  "level",
		},
		{
			name:   "invalid log sink",
			mutate: func(c *Config) { c.Logging.Sink = "syslog" },
			field:  "sink",
		},
		{
			name:   "invalid log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			field:  "format",
		},
		{
			name:   "unknown driver",
			mutate: func(c *Config) { c.Storage.Driver = "mongo" },
			field:  "driver",
		},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Storage.Driver = "postgres" },
			field:  "dsn",
		},
		{
			name:   "negative pipeline timeout",
			mutate: func(c *Config) { c.Pipeline.Timeout = -time.Second },
			field:  "timeout",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.Server.TLS = &TLSConfig{Enabled: true, KeyFile: "key.pem"}
			},
			field: "cert_file",
		},
		{
			name: "tls with old version",
			mutate: func(c *Config) {
				c.Server.TLS = &TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", MinVersion: "1.0"}
			},
			field: "min_version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWT.Secret = testSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestValidateNormalizes(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWT.Secret = testSecret
	cfg.Logging = LoggingConfig{Level: " WARN "}
	cfg.Storage.Driver = ""

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "console", cfg.Logging.Sink)
	assert.Equal(t, "memory", cfg.Storage.Driver)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PAY_TEST_DOTENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PAY_TEST_DOTENV_VALUE") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("PAY_TEST_DOTENV_VALUE"))
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PAY_TEST_DOTENV_KEEP=from-file\n"), 0o600))
	t.Setenv("PAY_TEST_DOTENV_KEEP", "from-env")

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from-env", os.Getenv("PAY_TEST_DOTENV_KEEP"))
}

func TestParseTLSVersion(t *testing.T) {
	v, err := ParseTLSVersion("")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0303), v)

	v, err = ParseTLSVersion("1.3")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0304), v)

	_, err = ParseTLSVersion("1.1")
	require.Error(t, err)
}

func TestServerTLSDisabled(t *testing.T) {
	var nilCfg *TLSConfig
	tlsCfg, err := nilCfg.ServerTLS()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)

	tlsCfg, err = (&TLSConfig{}).ServerTLS()
	require.NoError(t, err)
	assert.Nil(t, tlsCfg)
}

func TestConfigErrorMessage(t *testing.T) {
	err := NewConfigMissingError("dsn").WithSuggestion("set it")
	assert.Equal(t, "configuration error in field 'dsn': required field 'dsn' is missing", err.Error())
	assert.Equal(t, []string{"set it"}, err.Suggestions)
}

func TestReadSkipsValidation(t *testing.T) {
	t.Setenv("PAY_JWT_SECRET", "")
	t.Setenv("PAY_API_KEYS", "")
	path := writeConfig(t, "storage:\n  driver: sqlite\n")

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	require.NoError(t, cfg.Storage.Validate())

	_, err = Load(path)
	require.Error(t, err, "auth section is still required by Load")
}
