package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Webhook      WebhookConfig
	Queue        QueueConfig
	RateLimit    RateLimitConfig
	Breaker      BreakerConfig
	Tracker      TrackerConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines service token parameters for the internal endpoints.
type AuthConfig struct {
	JWTSecret       string
	TokenTTLMinutes int
}

// WebhookConfig controls inbound delivery verification.
type WebhookConfig struct {
	SigningSecret    string
	FreshnessSeconds int
}

// QueueConfig controls claim, retry and worker behavior.
type QueueConfig struct {
	BatchSize          int
	LeaseSeconds       int
	MaxAttempts        int
	BackoffBaseSeconds int
	BackoffCapSeconds  int
	WorkerConcurrency  int
	WorkerIntervalSecs int
	InProcessWorker    bool
	TriageTTLHours     int
}

// RateLimitConfig sets the per-tenant sliding window.
type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// BreakerConfig sets the automatic trip threshold. Zero disables auto-trip.
type BreakerConfig struct {
	TripThreshold int
}

// TrackerConfig points at the downstream ticket system.
type TrackerConfig struct {
	BaseURL        string
	Token          string
	TimeoutSeconds int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "issue-bridge"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Webhook: WebhookConfig{
			SigningSecret:    os.Getenv("WEBHOOK_SIGNING_SECRET"),
			FreshnessSeconds: getEnvAsInt("WEBHOOK_FRESHNESS_SECONDS", 300),
		},
		Queue: QueueConfig{
			BatchSize:          getEnvAsInt("QUEUE_BATCH_SIZE", 25),
			LeaseSeconds:       getEnvAsInt("QUEUE_LEASE_SECONDS", 120),
			MaxAttempts:        getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
			BackoffBaseSeconds: getEnvAsInt("QUEUE_BACKOFF_BASE_SECONDS", 30),
			BackoffCapSeconds:  getEnvAsInt("QUEUE_BACKOFF_CAP_SECONDS", 3600),
			WorkerConcurrency:  getEnvAsInt("QUEUE_WORKER_CONCURRENCY", 4),
			WorkerIntervalSecs: getEnvAsInt("WORKER_INTERVAL_SECONDS", 60),
			InProcessWorker:    getEnvAsBool("WORKER_IN_PROCESS", false),
			TriageTTLHours:     getEnvAsInt("TRIAGE_TTL_HOURS", 72),
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 120),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		Breaker: BreakerConfig{
			TripThreshold: getEnvAsInt("BREAKER_TRIP_THRESHOLD", 10),
		},
		Tracker: TrackerConfig{
			BaseURL:        getEnv("GITLAB_BASE_URL", "https://gitlab.com"),
			Token:          os.Getenv("GITLAB_TOKEN"),
			TimeoutSeconds: getEnvAsInt("TRACKER_TIMEOUT_SECONDS", 15),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bridge cannot run safely with.
func (c *Config) Validate() error {
	if c.App.IsProduction() {
		if c.Webhook.SigningSecret == "" {
			return errors.New("WEBHOOK_SIGNING_SECRET is required in production")
		}
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-secret" {
			return errors.New("AUTH_JWT_SECRET must be set in production")
		}
	}
	if c.Queue.BatchSize <= 0 || c.Queue.LeaseSeconds <= 0 || c.Queue.MaxAttempts <= 0 {
		return errors.New("QUEUE_BATCH_SIZE, QUEUE_LEASE_SECONDS and QUEUE_MAX_ATTEMPTS must be positive")
	}
	if c.Queue.BackoffCapSeconds < c.Queue.BackoffBaseSeconds {
		return fmt.Errorf("QUEUE_BACKOFF_CAP_SECONDS (%d) is below QUEUE_BACKOFF_BASE_SECONDS (%d)",
			c.Queue.BackoffCapSeconds, c.Queue.BackoffBaseSeconds)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// IsProduction reports whether APP_ENV is production.
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// FreshnessWindow is the accepted clock skew for signed deliveries.
func (w WebhookConfig) FreshnessWindow() time.Duration {
	return time.Duration(w.FreshnessSeconds) * time.Second
}

func (q QueueConfig) Lease() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

func (q QueueConfig) BackoffBase() time.Duration {
	return time.Duration(q.BackoffBaseSeconds) * time.Second
}

func (q QueueConfig) BackoffCap() time.Duration {
	return time.Duration(q.BackoffCapSeconds) * time.Second
}

func (q QueueConfig) WorkerInterval() time.Duration {
	return time.Duration(q.WorkerIntervalSecs) * time.Second
}

func (q QueueConfig) TriageTTL() time.Duration {
	return time.Duration(q.TriageTTLHours) * time.Hour
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (t TrackerConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
