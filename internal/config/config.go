package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backend names accepted by ROOMSYNC_BACKEND.
const (
	BackendMemory   = "memory"
	BackendSurreal  = "surreal"
	BackendPostgres = "postgres"
)

// Provider exposes the database settings consumed by the SurrealDB connection.
type Provider interface {
	GetDBURL() string
	GetDBNs() string
	GetDBDb() string
	GetDBUser() string
	GetDBPass() string
	GetDBQueryTimeout() time.Duration
	GetDBExecuteTimeout() time.Duration
}

// Config holds all configuration for the application.
type Config struct {
	Backend string `env:"ROOMSYNC_BACKEND" envDefault:"memory"`
	UserID  string `env:"ROOMSYNC_USER_ID"`

	DBUrl            string        `env:"SURREAL_URL"`
	DBNs             string        `env:"SURREAL_NS"`
	DBDb             string        `env:"SURREAL_DB"`
	DBUser           string        `env:"SURREAL_USER"`
	DBPass           string        `env:"SURREAL_PASS"`
	DBQueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s"`
	DBExecuteTimeout time.Duration `env:"DB_EXECUTE_TIMEOUT" envDefault:"10s"`

	PostgresDSN string `env:"POSTGRES_DSN"`

	TypingPollInterval time.Duration `env:"TYPING_POLL_INTERVAL" envDefault:"2s"`
	TypingStaleAfter   time.Duration `env:"TYPING_STALE_AFTER" envDefault:"5s"`
	TypingRetention    time.Duration `env:"TYPING_RETENTION" envDefault:"1h"`
	JanitorCron        string        `env:"JANITOR_CRON" envDefault:"*/10 * * * *"`

	BlobDir      string `env:"BLOB_DIR" envDefault:"./uploads"`
	BlobBaseURL  string `env:"BLOB_BASE_URL" envDefault:"http://localhost:8080/files"`
	BlobMaxBytes int64  `env:"BLOB_MAX_BYTES" envDefault:"10485760"`

	HTTPAddr       string  `env:"HTTP_ADDR" envDefault:":8080"`
	TypingMarkRate float64 `env:"TYPING_MARK_RATE" envDefault:"1"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	TracingEnabled     bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"TRACING_SERVICE_NAME" envDefault:"roomsync"`
	TracingZipkinURL   string `env:"TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`
}

// Load reads an optional .env file, then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
	return Parse()
}

// Parse builds a Config from the process environment without touching .env.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendMemory:
	case BackendSurreal:
		if c.DBUrl == "" || c.DBNs == "" || c.DBDb == "" {
			errs = append(errs, errors.New("SURREAL_URL, SURREAL_NS and SURREAL_DB are required for the surreal backend"))
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ROOMSYNC_BACKEND %q", c.Backend))
	}

	if c.TypingPollInterval <= 0 || c.TypingPollInterval >= c.TypingStaleAfter {
		errs = append(errs, fmt.Errorf("TYPING_POLL_INTERVAL (%s) must be positive and shorter than TYPING_STALE_AFTER (%s)",
			c.TypingPollInterval, c.TypingStaleAfter))
	}
	if c.TypingRetention < c.TypingStaleAfter {
		errs = append(errs, fmt.Errorf("TYPING_RETENTION (%s) must not be shorter than TYPING_STALE_AFTER (%s)",
			c.TypingRetention, c.TypingStaleAfter))
	}
	if !gronx.New().IsValid(c.JanitorCron) {
		errs = append(errs, fmt.Errorf("invalid JANITOR_CRON %q", c.JanitorCron))
	}
	if c.BlobMaxBytes <= 0 {
		errs = append(errs, errors.New("BLOB_MAX_BYTES must be positive"))
	}
	if c.TypingMarkRate <= 0 {
		errs = append(errs, errors.New("TYPING_MARK_RATE must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) GetDBURL() string                   { return c.DBUrl }
func (c *Config) GetDBNs() string                    { return c.DBNs }
func (c *Config) GetDBDb() string                    { return c.DBDb }
func (c *Config) GetDBUser() string                  { return c.DBUser }
func (c *Config) GetDBPass() string                  { return c.DBPass }
func (c *Config) GetDBQueryTimeout() time.Duration   { return c.DBQueryTimeout }
func (c *Config) GetDBExecuteTimeout() time.Duration { return c.DBExecuteTimeout }
