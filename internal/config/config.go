// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	Env            string `mapstructure:"APP_ENV"`
	FeatureFlags   string `mapstructure:"FEATURE_FLAGS"`

	DBMaxOpenConns           int `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns           int `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMinutes int `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`

	// Federation
	CollectionPageSize int    `mapstructure:"COLLECTION_PAGE_SIZE"`
	FeedPageSize       int    `mapstructure:"FEED_PAGE_SIZE"`
	SkipSignatureCheck bool   `mapstructure:"SKIP_SIGNATURE_CHECK"`
	UserAgent          string `mapstructure:"FEDERATION_USER_AGENT"`
	FetchTimeoutSecs   int    `mapstructure:"FEDERATION_FETCH_TIMEOUT_SECONDS"`
	InboxRateLimit     int    `mapstructure:"INBOX_RATE_LIMIT_PER_MINUTE"`
	ActorCacheTTLMins  int    `mapstructure:"ACTOR_CACHE_TTL_MINUTES"`

	// Queue
	QueueEnabled      bool   `mapstructure:"QUEUE_ENABLED"`
	QueueInboxStream  string `mapstructure:"QUEUE_INBOX_STREAM"`
	QueueOutboxStream string `mapstructure:"QUEUE_OUTBOX_STREAM"`
	QueueGroup        string `mapstructure:"QUEUE_GROUP"`
	QueueConsumer     string `mapstructure:"QUEUE_CONSUMER"`
	QueueMaxRetries   int    `mapstructure:"QUEUE_MAX_RETRIES"`
	QueueBackoffBase  string `mapstructure:"QUEUE_BACKOFF_BASE"`
	QueueBackoffMax   string `mapstructure:"QUEUE_BACKOFF_MAX"`

	// Ghost webhooks
	WebhookTolerance string `mapstructure:"WEBHOOK_SIGNATURE_TOLERANCE"`

	// Jobs
	TopicSourcePath   string `mapstructure:"TOPIC_SOURCE_PATH"`
	TopicSyncSchedule string `mapstructure:"TOPIC_SYNC_SCHEDULE"`

	// Tracing
	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracingSampler  float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "outpost")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("FEATURE_FLAGS", "")

	viper.SetDefault("COLLECTION_PAGE_SIZE", 20)
	viper.SetDefault("FEED_PAGE_SIZE", 20)
	viper.SetDefault("SKIP_SIGNATURE_CHECK", false)
	viper.SetDefault("FEDERATION_USER_AGENT", "outpost/1.0 (+https://github.com/outpost)")
	viper.SetDefault("FEDERATION_FETCH_TIMEOUT_SECONDS", 10)
	viper.SetDefault("INBOX_RATE_LIMIT_PER_MINUTE", 300)
	viper.SetDefault("ACTOR_CACHE_TTL_MINUTES", 30)

	viper.SetDefault("QUEUE_ENABLED", true)
	viper.SetDefault("QUEUE_INBOX_STREAM", "outpost:inbox")
	viper.SetDefault("QUEUE_OUTBOX_STREAM", "outpost:outbox")
	viper.SetDefault("QUEUE_GROUP", "outpost")
	viper.SetDefault("QUEUE_CONSUMER", "outpost-1")
	viper.SetDefault("QUEUE_MAX_RETRIES", 8)
	viper.SetDefault("QUEUE_BACKOFF_BASE", "2s")
	viper.SetDefault("QUEUE_BACKOFF_MAX", "5m")

	viper.SetDefault("WEBHOOK_SIGNATURE_TOLERANCE", "5m")

	viper.SetDefault("TOPIC_SOURCE_PATH", "")
	viper.SetDefault("TOPIC_SYNC_SCHEDULE", "@every 60m")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// BackoffBase parses QUEUE_BACKOFF_BASE, falling back to two seconds.
func (c *Config) BackoffBase() time.Duration {
	return parseDuration(c.QueueBackoffBase, 2*time.Second)
}

// BackoffMax parses QUEUE_BACKOFF_MAX, falling back to five minutes.
func (c *Config) BackoffMax() time.Duration {
	return parseDuration(c.QueueBackoffMax, 5*time.Minute)
}

// SignatureTolerance is the maximum accepted age of a webhook signature timestamp.
func (c *Config) SignatureTolerance() time.Duration {
	return parseDuration(c.WebhookTolerance, 5*time.Minute)
}

// FetchTimeout is the timeout for remote actor and object fetches.
func (c *Config) FetchTimeout() time.Duration {
	if c.FetchTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.CollectionPageSize < 1 || c.CollectionPageSize > 100 {
		return errors.New("COLLECTION_PAGE_SIZE must be between 1 and 100")
	}
	if c.QueueMaxRetries < 1 {
		return errors.New("QUEUE_MAX_RETRIES must be at least 1")
	}
	if c.BackoffBase() > c.BackoffMax() {
		return errors.New("QUEUE_BACKOFF_BASE must not exceed QUEUE_BACKOFF_MAX")
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.SkipSignatureCheck {
			return errors.New("SKIP_SIGNATURE_CHECK cannot be enabled in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
