package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envMap(nil))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Payment.Window)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.Commission.Seller))
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
http:
  addr: ":9090"
store:
  driver: postgres
  database_url: postgres://file
  max_attempts: 3
commission:
  seller_rate: "0.10"
  buyer_rate: "0.02"
payment:
  window: 30m
  upi_vpa: shop@upi
kafka:
  brokers: [a:9092, b:9092]
`)

	cfg, err := load(path, envMap(map[string]string{
		"DATABASE_URL": "postgres://env",
		"LOG_LEVEL":    "debug",
	}))

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "postgres://env", cfg.Store.DatabaseURL)
	assert.Equal(t, 3, cfg.Store.MaxAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, decimal.RequireFromString("0.10").Equal(cfg.Commission.Seller))
	assert.True(t, decimal.RequireFromString("0.02").Equal(cfg.Commission.Buyer))
	assert.Equal(t, 30*time.Minute, cfg.Payment.Window)
	assert.Equal(t, "shop@upi", cfg.Payment.UPIVPA)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestLoad_EnvParsing(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{
		"KAFKA_BROKERS":          "k1:9092, k2:9092,",
		"SELLER_COMMISSION_RATE": "0",
		"PAYMENT_WINDOW":         "5m",
		"SWEEP_INTERVAL":         "10s",
		"SMTP_HOST":              "smtp.local",
		"SMTP_PORT":              "2525",
		"OPERATOR_EMAIL":         "ops@example.com",
		"MAX_COMMIT_ATTEMPTS":    "16",
	}))

	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Commission.Seller.IsZero())
	assert.Equal(t, 5*time.Minute, cfg.Payment.Window)
	assert.Equal(t, 10*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.True(t, cfg.SMTP.Enabled())
	assert.Equal(t, 16, cfg.Store.MaxAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"PAYMENT_WINDOW": "soon"}},
		{"bad port", map[string]string{"SMTP_PORT": "smtp"}},
		{"bad rate", map[string]string{"BUYER_COMMISSION_RATE": "five"}},
		{"rate above one", map[string]string{"BUYER_COMMISSION_RATE": "1.5"}},
		{"negative rate", map[string]string{"SELLER_COMMISSION_RATE": "-0.1"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres"}},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}},
		{"zero attempts", map[string]string{"MAX_COMMIT_ATTEMPTS": "0"}},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load("", envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), envMap(nil))

	assert.Error(t, err)
}

func TestRequireJWTSecret(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireJWTSecret())

	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.RequireJWTSecret())
	assert.NoError(t, cfg.Validate())
}

func TestFlags_OverrideFileAndEnv(t *testing.T) {
	path := writeFile(t, "http:\n  addr: \":7000\"\n")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--config", path, "--addr", ":6000", "--store", "badger"}))

	cfg, err := flags.Load()

	require.NoError(t, err)
	assert.Equal(t, ":6000", cfg.HTTP.Addr)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
}
