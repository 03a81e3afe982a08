package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort  string
	AppEnv   string
	LogLevel string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
	RecipientTTL   time.Duration

	Queue  QueueConfig
	Worker WorkerConfig

	SMTPHost     string
	SMTPPort     int
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string

	ChatProvider       string // "whatsapp" | "telegram"
	WhatsAppAPIVersion string
	WhatsAppPhoneID    string
	WhatsAppToken      string
	TelegramToken      string
	ProviderTimeout    time.Duration

	EnrichURL     string
	EnrichAPIKey  string
	EnrichModel   string
	EnrichTimeout time.Duration

	JWTPublicKeyPath string
	AllowedOrigins   []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users         string
	Reminders     string
	Notifications string
}

// QueueConfig controls the delayed job queue.
type QueueConfig struct {
	Disabled        bool
	Backend         string // "redis" | "memory"
	Prefix          string
	MaxAttempts     int
	BackoffDelay    time.Duration
	RecurInterval   time.Duration
	RecurStaleAfter time.Duration
}

// WorkerConfig controls a dispatch worker instance.
type WorkerConfig struct {
	// Embedded runs the workers inside the API process. Forced on for the
	// memory queue, which cannot be shared between processes.
	Embedded        bool
	Concurrency     int
	StalledInterval time.Duration
	PollInterval    time.Duration
	// MetricsAddr is where a standalone worker serves /metrics. Empty
	// disables the listener.
	MetricsAddr string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	appEnv := getEnv("APP_ENV", "development")
	return &Config{
		AppPort:  getEnv("APP_PORT", "3000"),
		AppEnv:   appEnv,
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			Reminders:     getEnv("DYNAMO_TABLE_REMINDERS", "reminders"),
			Notifications: getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
		},

		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisNamespace: getEnv("REDIS_NAMESPACE", "reminders"),
		RecipientTTL:   getEnvDuration("REDIS_TTL", 5*time.Minute),

		Queue: QueueConfig{
			// Test environments never talk to a live broker.
			Disabled:        appEnv == "test" || getEnvBool("QUEUE_DISABLED", false),
			Backend:         getEnv("QUEUE_BACKEND", "redis"),
			Prefix:          getEnv("QUEUE_PREFIX", "queue:"+appEnv),
			MaxAttempts:     getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffDelay:    getEnvDuration("QUEUE_BACKOFF_DELAY", 60*time.Second),
			RecurInterval:   getEnvDuration("RECUR_CHECK_INTERVAL", 60*time.Second),
			RecurStaleAfter: getEnvDuration("RECUR_STALE_AFTER", time.Hour),
		},
		Worker: WorkerConfig{
			Embedded:        getEnvBool("WORKER_EMBEDDED", false),
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 5),
			StalledInterval: getEnvDuration("WORKER_STALLED_INTERVAL", 30*time.Second),
			PollInterval:    getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
			MetricsAddr:     getEnv("WORKER_METRICS_ADDR", ""),
		},

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SNSRegion:    getEnv("SNS_REGION", "us-east-1"),

		ChatProvider:       strings.ToLower(getEnv("CHAT_PROVIDER", "whatsapp")),
		WhatsAppAPIVersion: getEnv("WHATSAPP_API_VERSION", "v23.0"),
		WhatsAppPhoneID:    getEnv("WHATSAPP_PHONE_ID", ""),
		WhatsAppToken:      getEnv("WHATSAPP_TOKEN", ""),
		TelegramToken:      getEnv("TELEGRAM_TOKEN", ""),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second),

		EnrichURL:     getEnv("ENRICH_URL", ""),
		EnrichAPIKey:  getEnv("ENRICH_API_KEY", ""),
		EnrichModel:   getEnv("ENRICH_MODEL", "gpt-4o-mini"),
		EnrichTimeout: getEnvDuration("ENRICH_TIMEOUT", 1500*time.Millisecond),

		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		AllowedOrigins:   strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
