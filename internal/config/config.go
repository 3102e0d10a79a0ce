package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Queue full policies
const (
	QueuePolicyReject = "reject-on-full"
	QueuePolicyBlock  = "block-with-timeout"
)

// Dedup store backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	Queue      Queue      `envconfig:"QUEUE"`
	Consumer   Consumer   `envconfig:"CONSUMER"`
	Dedup      Dedup      `envconfig:"DEDUP"`
	Postgres   Postgres   `envconfig:"POSTGRES"`
	Valkey     Valkey     `envconfig:"VALKEY"`
	SQS        SQS        `envconfig:"SQS"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	Archive    Archive    `envconfig:"ARCHIVE"`
}

type Service struct {
	Environment     string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	APIPort         string        `envconfig:"API_PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

type Queue struct {
	MaxSize      int           `envconfig:"MAX_SIZE" default:"10000"`
	FullPolicy   string        `envconfig:"FULL_POLICY" default:"reject-on-full"`
	BlockTimeout time.Duration `envconfig:"BLOCK_TIMEOUT" default:"100ms"`
}

type Consumer struct {
	Workers         int           `envconfig:"WORKERS" default:"4"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryBackoff    time.Duration `envconfig:"RETRY_BACKOFF" default:"50ms"`
	RetryMaxBackoff time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"2s"`
}

type Dedup struct {
	Backend string `envconfig:"BACKEND" default:"sqlite"`
	DataDir string `envconfig:"DATA_DIR" default:"./data"`
	DBFile  string `envconfig:"DB_FILE" default:"dedup_store.db"`
}

type Postgres struct {
	DSN      string `envconfig:"DSN"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
}

type Valkey struct {
	Host                string        `envconfig:"HOST"`
	Port                string        `envconfig:"PORT" default:"6379"`
	Password            string        `envconfig:"PASSWORD"`
	IdempotencyEnabled  bool          `envconfig:"IDEMPOTENCY_ENABLED" default:"false"`
	IdempotencyFailOpen bool          `envconfig:"IDEMPOTENCY_FAIL_OPEN" default:"true"`
	KeyPrefix           string        `envconfig:"KEY_PREFIX" default:"dedup:"`
	KeyTTL              time.Duration `envconfig:"KEY_TTL" default:"0"`
}

type SQS struct {
	Endpoint               string `envconfig:"ENDPOINT"`
	QueueURL               string `envconfig:"QUEUE_URL"`
	Region                 string `envconfig:"REGION" default:"eu-central-1"`
	MaxMessages            int32  `envconfig:"MAX_MESSAGES" default:"10"`
	WaitTimeSeconds        int32  `envconfig:"WAIT_TIME_SECONDS" default:"20"`
	BufferSize             int    `envconfig:"BUFFER_SIZE" default:"100"`
	RetryVisibilitySeconds int32  `envconfig:"RETRY_VISIBILITY_SECONDS" default:"5"`
}

type ClickHouse struct {
	Host            string `envconfig:"HOST"`
	Port            string `envconfig:"PORT" default:"9000"`
	Database        string `envconfig:"DB" default:"default"`
	User            string `envconfig:"USER" default:""`
	Password        string `envconfig:"PASSWORD" default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type Archive struct {
	BatchSize    int           `envconfig:"BATCH_SIZE" default:"500"`
	FlushTimeout time.Duration `envconfig:"FLUSH_TIMEOUT" default:"5s"`
	BufferSize   int           `envconfig:"BUFFER_SIZE" default:"1000"`
}

// SQSEnabled reports whether the SQS ingress pipeline should run
func (c *Config) SQSEnabled() bool {
	return c.SQS.QueueURL != ""
}

// ArchiveEnabled reports whether processed records are mirrored to ClickHouse
func (c *Config) ArchiveEnabled() bool {
	return c.ClickHouse.Host != ""
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Queue.FullPolicy {
	case QueuePolicyReject, QueuePolicyBlock:
	default:
		return fmt.Errorf("invalid QUEUE_FULL_POLICY %q (supported: %s, %s)",
			c.Queue.FullPolicy, QueuePolicyReject, QueuePolicyBlock)
	}

	if c.Queue.MaxSize <= 0 {
		return fmt.Errorf("QUEUE_MAX_SIZE must be positive, got %d", c.Queue.MaxSize)
	}

	if c.Consumer.Workers <= 0 {
		return fmt.Errorf("CONSUMER_WORKERS must be positive, got %d", c.Consumer.Workers)
	}

	if c.Consumer.MaxRetries < 0 {
		return fmt.Errorf("CONSUMER_MAX_RETRIES must not be negative, got %d", c.Consumer.MaxRetries)
	}

	switch c.Dedup.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when DEDUP_BACKEND=%s", BackendPostgres)
		}
	default:
		return fmt.Errorf("invalid DEDUP_BACKEND %q (supported: %s, %s)",
			c.Dedup.Backend, BackendSQLite, BackendPostgres)
	}

	if c.Valkey.IdempotencyEnabled && c.Valkey.Host == "" {
		return fmt.Errorf("VALKEY_HOST is required when VALKEY_IDEMPOTENCY_ENABLED=true")
	}

	return nil
}
