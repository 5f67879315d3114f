package config

import (
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the engine service. Every
// component receives the parts it needs through its constructor; nothing
// reads the environment after startup. Defaults target local development.
type Config struct {
	ServiceName string // e.g. "engine"
	Env         string // e.g. "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.
	Port        int    // HTTP API + metrics port

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	HTTPBodyLimit    int

	DatabaseURL string // Postgres; empty disables durable writes
	RedisAddr   string // e.g. localhost:6379
	RedisDB     int
	RedisPass   string

	PGMaxConns          int
	PGMinConns          int
	PGMaxConnLifetime   time.Duration
	PGMaxConnIdleTime   time.Duration
	PGHealthCheckPeriod time.Duration

	StreamAddr string // websocket order stream listener, e.g. ":9041"

	NATSURL          string // e.g. nats://localhost:4222
	TelemetrySubject string // subject root for telemetry events
	TelemetryBuffer  int    // bounded publish queue capacity
	EnqueueTimeout   time.Duration
	PublishRetryMax  int

	AMQPURL         string // RabbitMQ; empty disables fraud alert fan-out
	FraudAlertQueue string

	// Fraud scoring oracle. Empty base URL switches the gate to the local
	// threshold-rule engine.
	FraudOracleURL     string
	FraudOracleTimeout time.Duration
	FraudFailClosed    bool // default fail-open (availability over strictness)
	FraudModelVersion  string

	// Account-level risk limits (dev defaults; per-account overrides come
	// from the limits resolver).
	MaxPositionSize string // decimal
	MinConfidence   float64
	LimitsCacheTTL  time.Duration

	AWSRegion    string
	SecretPrefix string // Secrets Manager prefix for account limit overrides

	AdminToken string // dev-only static admin bearer token
	UserTokens string // dev-only "token:userId" pairs, comma separated
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName: GetEnv("SERVICE_NAME", "engine"),
		Env:         GetEnv("ENV", "dev"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		Port:        GetEnvInt("ENGINE_PORT", 9040),

		HTTPReadTimeout:  GetEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout: GetEnvDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		HTTPIdleTimeout:  GetEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		HTTPBodyLimit:    GetEnvInt("HTTP_BODY_LIMIT", 1*1024*1024),

		DatabaseURL: GetEnv("DATABASE_URL", ""),
		RedisAddr:   GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     GetEnvInt("REDIS_DB", 0),
		RedisPass:   GetEnv("REDIS_PASS", ""),

		PGMaxConns:          GetEnvInt("PG_MAX_CONNS", 10),
		PGMinConns:          GetEnvInt("PG_MIN_CONNS", 2),
		PGMaxConnLifetime:   GetEnvDuration("PG_MAX_CONN_LIFETIME", 30*time.Minute),
		PGMaxConnIdleTime:   GetEnvDuration("PG_MAX_CONN_IDLE_TIME", 5*time.Minute),
		PGHealthCheckPeriod: GetEnvDuration("PG_HEALTH_CHECK_PERIOD", 1*time.Minute),

		StreamAddr: GetEnv("STREAM_ADDR", ":9041"),

		NATSURL:          GetEnv("NATS_URL", "nats://localhost:4222"),
		TelemetrySubject: GetEnv("TELEMETRY_SUBJECT", "evt.telemetry"),
		TelemetryBuffer:  GetEnvInt("TELEMETRY_BUFFER", 1024),
		EnqueueTimeout:   GetEnvDuration("TELEMETRY_ENQUEUE_TIMEOUT", 50*time.Millisecond),
		PublishRetryMax:  GetEnvInt("TELEMETRY_RETRY_MAX", 3),

		AMQPURL:         GetEnv("AMQP_URL", ""),
		FraudAlertQueue: GetEnv("FRAUD_ALERT_QUEUE", "fraud.alerts"),

		FraudOracleURL:     GetEnv("FRAUD_ORACLE_URL", ""),
		FraudOracleTimeout: GetEnvDuration("FRAUD_ORACLE_TIMEOUT", 800*time.Millisecond),
		FraudFailClosed:    GetEnvBool("FRAUD_FAIL_CLOSED", false),
		FraudModelVersion:  GetEnv("FRAUD_MODEL_VERSION", "1.0"),

		MaxPositionSize: GetEnv("MAX_POSITION_SIZE", "10000"),
		MinConfidence:   GetEnvFloat("MIN_CONFIDENCE", 0.5),
		LimitsCacheTTL:  GetEnvDuration("LIMITS_CACHE_TTL", 5*time.Minute),

		AWSRegion:    GetEnv("AWS_REGION", "us-east-2"),
		SecretPrefix: GetEnv("SECRET_PREFIX", ""),

		AdminToken: GetEnv("ADMIN_TOKEN", ""),
		UserTokens: GetEnv("USER_TOKENS", ""),
	}
}
