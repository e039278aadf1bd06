// Package config loads settings for the ledger commands.
//
// Values come from defaults, then an optional YAML file, then environment
// variables, then command-line flags, each layer overriding the last.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/ticket-ledger/internal/domain/commission"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	DriverBadger   = "badger"
)

// MinJWTSecretLength is the shortest accepted signing secret.
const MinJWTSecretLength = 32

type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Store      StoreConfig      `yaml:"store"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Auth       AuthConfig       `yaml:"auth"`
	Commission commission.Rates `yaml:"commission"`
	Payment    PaymentConfig    `yaml:"payment"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Sweeper    SweeperConfig    `yaml:"sweeper"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	// Level is a logrus level name.
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Driver              string `yaml:"driver"`
	DatabaseURL         string `yaml:"database_url"`
	BadgerDir           string `yaml:"badger_dir"`
	DynamoTable         string `yaml:"dynamo_table"`
	DynamoSnapshotTable string `yaml:"dynamo_snapshot_table"`
	// DynamoEndpoint points the client at a local DynamoDB when set.
	DynamoEndpoint string `yaml:"dynamo_endpoint"`
	// MaxAttempts bounds retries after version conflicts.
	MaxAttempts int `yaml:"max_attempts"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// Enabled reports whether events go through Kafka rather than being
// projected in process.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type PaymentConfig struct {
	Window       time.Duration `yaml:"window"`
	UPIVPA       string        `yaml:"upi_vpa"`
	MerchantName string        `yaml:"merchant_name"`
	Currency     string        `yaml:"currency"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	// OperatorEmail receives settlement receipts.
	OperatorEmail string `yaml:"operator_email"`
}

// Enabled reports whether mail can be sent.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.OperatorEmail != ""
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used before any file or environment
// is applied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Driver:              DriverMemory,
			BadgerDir:           "./data/events",
			DynamoTable:         "ticket-ledger-events",
			DynamoSnapshotTable: "ticket-ledger-snapshots",
			MaxAttempts:         8,
		},
		Kafka: KafkaConfig{
			Topic:   "ticket-ledger-events",
			GroupID: "ticket-ledger-projector",
		},
		Commission: commission.DefaultRates(),
		Payment: PaymentConfig{
			Window:       15 * time.Minute,
			MerchantName: "Ticket Ledger",
			Currency:     "INR",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Sweeper: SweeperConfig{
			Interval: time.Minute,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := read(path, lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// read applies the file and environment layers without validating.
func read(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	rate := func(key string, dst *decimal.Decimal) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := decimal.NewFromString(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("HTTP_ADDR", &c.HTTP.Addr)
	list("CORS_ORIGINS", &c.HTTP.CORSOrigins)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	str("STORE_DRIVER", &c.Store.Driver)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("BADGER_DIR", &c.Store.BadgerDir)
	str("DYNAMODB_TABLE", &c.Store.DynamoTable)
	str("DYNAMODB_SNAPSHOT_TABLE", &c.Store.DynamoSnapshotTable)
	str("DYNAMODB_ENDPOINT", &c.Store.DynamoEndpoint)
	integer("MAX_COMMIT_ATTEMPTS", &c.Store.MaxAttempts)

	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	str("JWT_SECRET", &c.Auth.JWTSecret)

	rate("SELLER_COMMISSION_RATE", &c.Commission.Seller)
	rate("BUYER_COMMISSION_RATE", &c.Commission.Buyer)

	duration("PAYMENT_WINDOW", &c.Payment.Window)
	str("UPI_VPA", &c.Payment.UPIVPA)
	str("UPI_MERCHANT_NAME", &c.Payment.MerchantName)
	str("PAYMENT_CURRENCY", &c.Payment.Currency)

	str("SMTP_HOST", &c.SMTP.Host)
	integer("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	str("SMTP_FROM", &c.SMTP.From)
	str("OPERATOR_EMAIL", &c.SMTP.OperatorEmail)

	duration("SWEEP_INTERVAL", &c.Sweeper.Interval)

	return errors.Join(errs...)
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory, DriverBadger, DriverDynamo:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverBadger && c.Store.BadgerDir == "" {
		errs = append(errs, errors.New("store.badger_dir is required for the badger driver"))
	}
	if c.Store.Driver == DriverDynamo && c.Store.DynamoTable == "" {
		errs = append(errs, errors.New("store.dynamo_table is required for the dynamodb driver"))
	}
	if c.Store.MaxAttempts < 1 {
		errs = append(errs, errors.New("store.max_attempts must be at least 1"))
	}
	if err := c.Commission.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Payment.Window <= 0 {
		errs = append(errs, errors.New("payment.window must be positive"))
	}
	if c.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("sweeper.interval must be positive"))
	}
	if s := c.Auth.JWTSecret; s != "" && len(s) < MinJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT secret must be at least %d characters long", MinJWTSecretLength))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

// RequireJWTSecret fails when no signing secret is configured.
func (c *Config) RequireJWTSecret() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
