package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix  = ""
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Consumer     ConsumerConfig
	Clients      ClientsConfig
	Ops          OpsConfig
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
	Env          string `envconfig:"VERDANT_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"VERDANT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VERDANT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	// Kind identifies the process (outbox-publisher, scheduling-worker, migrate).
	Kind string `envconfig:"VERDANT_SERVICE_KIND" default:"scheduling-worker"`
	// Name is the logical service identity used as the event source field.
	Name string `envconfig:"VERDANT_SERVICE_NAME" default:"scheduling"`
}

type DBConfig struct {
	DSN string `envconfig:"VERDANT_DB_DSN"`

	Host     string `envconfig:"VERDANT_DB_HOST"`
	Port     int    `envconfig:"VERDANT_DB_PORT" default:"5432"`
	User     string `envconfig:"VERDANT_DB_USER"`
	Password string `envconfig:"VERDANT_DB_PASSWORD"`
	Name     string `envconfig:"VERDANT_DB_NAME"`
	SSLMode  string `envconfig:"VERDANT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VERDANT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VERDANT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VERDANT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VERDANT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDSN builds a postgres DSN from discrete fields when one is not given.
func (d *DBConfig) ensureDSN() error {
	if d.DSN != "" {
		return nil
	}
	if d.Host == "" || d.User == "" || d.Name == "" {
		return fmt.Errorf("either VERDANT_DB_DSN or host/user/name fields are required")
	}
	d.DSN = fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		d.SSLMode,
	)
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"VERDANT_REDIS_URL"`
	Address      string        `envconfig:"VERDANT_REDIS_ADDR"`
	Password     string        `envconfig:"VERDANT_REDIS_PASSWORD"`
	DB           int           `envconfig:"VERDANT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VERDANT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VERDANT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VERDANT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VERDANT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VERDANT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"VERDANT_GCP_PROJECT_ID" required:"true"`
}

type PubSubConfig struct {
	SchedulingTopic          string `envconfig:"VERDANT_PUBSUB_SCHEDULING_TOPIC" default:"verdant-scheduling-events"`
	SchedulingSubscription   string `envconfig:"VERDANT_PUBSUB_SCHEDULING_SUBSCRIPTION" required:"true"`
	WeatherTopic             string `envconfig:"VERDANT_PUBSUB_WEATHER_TOPIC" default:"verdant-weather-events"`
	WeatherSubscription      string `envconfig:"VERDANT_PUBSUB_WEATHER_SUBSCRIPTION" required:"true"`
	UserTopic                string `envconfig:"VERDANT_PUBSUB_USER_TOPIC" default:"verdant-user-events"`
	UserSubscription         string `envconfig:"VERDANT_PUBSUB_USER_SUBSCRIPTION" required:"true"`
	NotificationTopic        string `envconfig:"VERDANT_PUBSUB_NOTIFICATION_TOPIC" default:"verdant-notification-events"`
	NotificationSubscription string `envconfig:"VERDANT_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"VERDANT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"VERDANT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"VERDANT_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetryBackoff   time.Duration `envconfig:"VERDANT_OUTBOX_RETRY_BACKOFF" default:"2s"`
}

type ConsumerConfig struct {
	MaxAttempts    int           `envconfig:"VERDANT_CONSUMER_MAX_ATTEMPTS" default:"5"`
	IdempotencyTTL time.Duration `envconfig:"VERDANT_CONSUMER_IDEMPOTENCY_TTL" default:"720h"`
	AttemptsTTL    time.Duration `envconfig:"VERDANT_CONSUMER_ATTEMPTS_TTL" default:"24h"`
}

type ClientsConfig struct {
	UserServiceURL    string        `envconfig:"VERDANT_USER_SERVICE_URL"`
	CatalogServiceURL string        `envconfig:"VERDANT_CATALOG_SERVICE_URL"`
	RequestTimeout    time.Duration `envconfig:"VERDANT_CLIENTS_TIMEOUT" default:"5s"`
}

type OpsConfig struct {
	Addr string `envconfig:"VERDANT_OPS_ADDR" default:":9090"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"VERDANT_FEATURE_AUTO_MIGRATE" default:"false"`
}
