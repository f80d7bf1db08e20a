package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AMQPURL     string
	NotifyQueue string

	// Shared secret for verifying connection bearer tokens (HS256, >= 32 bytes).
	JWTSecret string

	// If true:
	// - /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("TUMA_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("TUMA_LOG_LEVEL", "info"),
		LogFormat: EnvString("TUMA_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("TUMA_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("TUMA_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("TUMA_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("TUMA_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("TUMA_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("TUMA_DATABASE_URL", ""),
		DBSchema:    EnvString("TUMA_DB_SCHEMA", "tuma"),
		DBMaxConns:  EnvInt32("TUMA_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("TUMA_DB_MIN_CONNS", 0),

		RedisAddr:     EnvString("TUMA_REDIS_ADDR", ""),
		RedisPassword: EnvString("TUMA_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("TUMA_REDIS_DB", 0),

		AMQPURL:     EnvString("TUMA_AMQP_URL", ""),
		NotifyQueue: EnvString("TUMA_NOTIFY_QUEUE", "tuma.notifications"),

		JWTSecret: EnvString("TUMA_JWT_SECRET", ""),

		ReadinessRequireDB: EnvBool("TUMA_READINESS_REQUIRE_DB", false),
	}
}
