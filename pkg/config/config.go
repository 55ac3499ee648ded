package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	EnvPrefix = "TALKSCRIBE"

	AppEnvDev  = "development"
	AppEnvProd = "production"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Engine     EngineConfig
	Ledger     LedgerConfig
	Assignment AssignmentConfig
	StatusSync StatusSyncConfig
	Payment    PaymentConfig
	Metrics    MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TALKSCRIBE_APP_ENV" required:"true"`
	Port         string `envconfig:"TALKSCRIBE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"TALKSCRIBE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TALKSCRIBE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"TALKSCRIBE_DB_DSN"`

	Host     string `envconfig:"TALKSCRIBE_DB_HOST"`
	Port     int    `envconfig:"TALKSCRIBE_DB_PORT" default:"5432"`
	User     string `envconfig:"TALKSCRIBE_DB_USER"`
	Password string `envconfig:"TALKSCRIBE_DB_PASSWORD"`
	Name     string `envconfig:"TALKSCRIBE_DB_NAME"`
	SSLMode  string `envconfig:"TALKSCRIBE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TALKSCRIBE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TALKSCRIBE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TALKSCRIBE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TALKSCRIBE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either TALKSCRIBE_DB_DSN or host/user/name parts are required")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.Name,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"TALKSCRIBE_REDIS_URL"`
	Address      string        `envconfig:"TALKSCRIBE_REDIS_ADDR"`
	Password     string        `envconfig:"TALKSCRIBE_REDIS_PASSWORD"`
	DB           int           `envconfig:"TALKSCRIBE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TALKSCRIBE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TALKSCRIBE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TALKSCRIBE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TALKSCRIBE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TALKSCRIBE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"TALKSCRIBE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TALKSCRIBE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TALKSCRIBE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// EngineConfig points at the external transcription engine.
type EngineConfig struct {
	BaseURL        string        `envconfig:"TALKSCRIBE_ENGINE_BASE_URL" required:"true"`
	APIKey         string        `envconfig:"TALKSCRIBE_ENGINE_API_KEY" required:"true"`
	CallbackSecret string        `envconfig:"TALKSCRIBE_ENGINE_CALLBACK_SECRET" required:"true"`
	RequestTimeout time.Duration `envconfig:"TALKSCRIBE_ENGINE_REQUEST_TIMEOUT" default:"30s"`
}

// LedgerConfig fixes the per-mode wallet rates and the trial allotment.
type LedgerConfig struct {
	AutomatedRate    decimal.Decimal `envconfig:"TALKSCRIBE_RATE_AUTOMATED" default:"0.40"`
	HybridRate       decimal.Decimal `envconfig:"TALKSCRIBE_RATE_HYBRID" default:"0.80"`
	ManualRate       decimal.Decimal `envconfig:"TALKSCRIBE_RATE_MANUAL" default:"1.20"`
	TrialMinutes     int             `envconfig:"TALKSCRIBE_TRIAL_MINUTES" default:"180"`
	DeductMaxRetries int             `envconfig:"TALKSCRIBE_LEDGER_DEDUCT_MAX_RETRIES" default:"5"`
	DeductRetryDelay time.Duration   `envconfig:"TALKSCRIBE_LEDGER_DEDUCT_RETRY_DELAY" default:"25ms"`
}

type AssignmentConfig struct {
	ReviewOverheadFactor decimal.Decimal `envconfig:"TALKSCRIBE_REVIEW_OVERHEAD_FACTOR" default:"3.5"`
}

type StatusSyncConfig struct {
	PollInterval    time.Duration `envconfig:"TALKSCRIBE_STATUS_POLL_INTERVAL" default:"30s"`
	MaxPollAttempts int           `envconfig:"TALKSCRIBE_STATUS_MAX_POLL_ATTEMPTS" default:"60"`
	LockTTL         time.Duration `envconfig:"TALKSCRIBE_STATUS_LOCK_TTL" default:"2m"`
	BatchSize       int           `envconfig:"TALKSCRIBE_STATUS_BATCH_SIZE" default:"100"`
}

type PaymentConfig struct {
	WebhookSecret  string        `envconfig:"TALKSCRIBE_PAYMENT_WEBHOOK_SECRET" required:"true"`
	IdempotencyTTL time.Duration `envconfig:"TALKSCRIBE_PAYMENT_IDEMPOTENCY_TTL" default:"168h"`
}

type MetricsConfig struct {
	Port string `envconfig:"TALKSCRIBE_METRICS_PORT" default:"9090"`
}
