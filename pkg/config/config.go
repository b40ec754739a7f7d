package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "ORDERLEDGER_DB_DSN"
	EnvDBHost = "ORDERLEDGER_DB_HOST"
	EnvDBUser = "ORDERLEDGER_DB_USER"
	EnvDBName = "ORDERLEDGER_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	PubSub       PubSubConfig
	GCP          GCPConfig
	Gateway      GatewayConfig
	Orders       OrdersConfig
	Dispatcher   DispatcherConfig
	Outbox       OutboxConfig
	Eventing     EventingConfig
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
	Env          string `envconfig:"ORDERLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"ORDERLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ORDERLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ORDERLEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"ORDERLEDGER_DB_DSN"`
	Driver string `envconfig:"ORDERLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ORDERLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"ORDERLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ORDERLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"ORDERLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"ORDERLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"ORDERLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ORDERLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ORDERLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ORDERLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ORDERLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	TxTimeout       time.Duration `envconfig:"ORDERLEDGER_DB_TX_TIMEOUT" default:"10s"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ORDERLEDGER_REDIS_URL"`
	Address      string        `envconfig:"ORDERLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"ORDERLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ORDERLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ORDERLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ORDERLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ORDERLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ORDERLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ORDERLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ORDERLEDGER_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"ORDERLEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ORDERLEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PaymentEventsTopic        string `envconfig:"ORDERLEDGER_PUBSUB_PAYMENT_EVENTS_TOPIC" required:"true"`
	PaymentEventsSubscription string `envconfig:"ORDERLEDGER_PUBSUB_PAYMENT_EVENTS_SUBSCRIPTION" required:"true"`
	OrdersTopic               string `envconfig:"ORDERLEDGER_PUBSUB_ORDERS_TOPIC" required:"true"`
	PaymentsTopic             string `envconfig:"ORDERLEDGER_PUBSUB_PAYMENTS_TOPIC" required:"true"`
	OpsAlertTopic             string `envconfig:"ORDERLEDGER_PUBSUB_OPS_ALERT_TOPIC" default:"ol-ops-alerts"`
}

// GatewayConfig covers the payment provider webhook contract.
type GatewayConfig struct {
	WebhookSecret   string `envconfig:"ORDERLEDGER_GATEWAY_WEBHOOK_SECRET" required:"true"`
	SignatureHeader string `envconfig:"ORDERLEDGER_GATEWAY_SIGNATURE_HEADER" default:"X-Gateway-Signature"`
}

// OrdersConfig carries order lifecycle policy knobs.
type OrdersConfig struct {
	// CodSettleFrom is the earliest status at which a cash-on-delivery order
	// may be marked paid.
	CodSettleFrom string `envconfig:"ORDERLEDGER_ORDERS_COD_SETTLE_FROM" default:"shipping"`
}

type DispatcherConfig struct {
	MaxAttempts    int           `envconfig:"ORDERLEDGER_DISPATCH_MAX_ATTEMPTS" default:"5"`
	InitialBackoff time.Duration `envconfig:"ORDERLEDGER_DISPATCH_INITIAL_BACKOFF" default:"200ms"`
	MaxBackoff     time.Duration `envconfig:"ORDERLEDGER_DISPATCH_MAX_BACKOFF" default:"5s"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ORDERLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ORDERLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ORDERLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"ORDERLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ORDERLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ORDERLEDGER_AUTO_MIGRATE" default:"false"`
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
