package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	PayPal       PayPalConfig
	Bot          BotConfig
	Settlement   SettlementConfig
	Cron         CronConfig
	FeatureFlags FeatureFlagsConfig
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
	Env          string `envconfig:"BEATSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"BEATSTORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BEATSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BEATSTORE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BEATSTORE_DB_DSN"`
	Driver string `envconfig:"BEATSTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BEATSTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"BEATSTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BEATSTORE_DB_USER"`
	LegacyPassword string `envconfig:"BEATSTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BEATSTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BEATSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BEATSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BEATSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BEATSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BEATSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BEATSTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BEATSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"BEATSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BEATSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BEATSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BEATSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BEATSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BEATSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BEATSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type PayPalConfig struct {
	ClientID     string        `envconfig:"BEATSTORE_PAYPAL_CLIENT_ID"`
	ClientSecret string        `envconfig:"BEATSTORE_PAYPAL_CLIENT_SECRET"`
	WebhookID    string        `envconfig:"BEATSTORE_PAYPAL_WEBHOOK_ID"`
	Env          string        `envconfig:"BEATSTORE_PAYPAL_ENV" default:"sandbox"`
	Timeout      time.Duration `envconfig:"BEATSTORE_PAYPAL_TIMEOUT" default:"10s"`
	SkipVerify   bool          `envconfig:"BEATSTORE_PAYPAL_SKIP_VERIFY" default:"false"`
}

// Environment returns the normalized PayPal environment (sandbox/live).
func (p PayPalConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(p.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type BotConfig struct {
	InternalURL   string        `envconfig:"BEATSTORE_BOT_INTERNAL_URL" default:"http://localhost:8080"`
	InternalToken string        `envconfig:"BEATSTORE_BOT_INTERNAL_TOKEN"`
	Timeout       time.Duration `envconfig:"BEATSTORE_BOT_TIMEOUT" default:"10s"`
	MaxAttempts   int           `envconfig:"BEATSTORE_BOT_MAX_ATTEMPTS" default:"3"`
}

type SettlementConfig struct {
	LedgerTTL           time.Duration `envconfig:"BEATSTORE_SETTLEMENT_LEDGER_TTL" default:"5m"`
	StaleOrderThreshold time.Duration `envconfig:"BEATSTORE_SETTLEMENT_STALE_ORDER_THRESHOLD" default:"5m"`
	ReservationTTL      time.Duration `envconfig:"BEATSTORE_SETTLEMENT_RESERVATION_TTL" default:"30m"`
	ReservationFailOpen bool          `envconfig:"BEATSTORE_SETTLEMENT_RESERVATION_FAIL_OPEN" default:"true"`
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"BEATSTORE_CRON_INTERVAL" default:"1h"`
	LockTTL              time.Duration `envconfig:"BEATSTORE_CRON_LOCK_TTL" default:"55m"`
	FailureRetentionDays int           `envconfig:"BEATSTORE_CRON_FAILURE_RETENTION_DAYS" default:"30"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BEATSTORE_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
