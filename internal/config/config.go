package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is read from the environment once at startup by every command.
type Config struct {
	// Storage is "postgres" or "memory".
	Storage string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// KafkaBrokers is a comma separated list. Empty disables event publishing.
	KafkaBrokers  string
	ConsumerGroup string

	APIPort       string
	NotifierPort  string
	AllowedOrigin string
	LogLevel      string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string

	WebhookURL            string
	WebhookSecret         string
	WebhookMaxFailures    int
	WebhookBreakerTimeout time.Duration

	BackfillBatchSize    int
	BackfillConcurrency  int
	BackfillDelay        time.Duration
	BackfillDryRun       bool
	BackfillSkipExisting bool
}

func Load() (Config, error) {
	cfg := Config{
		Storage:       getEnv("STORAGE", "postgres"),
		DBHost:        getEnv("DB_HOST", "localhost"),
		DBPort:        getEnv("DB_PORT", "5432"),
		DBUser:        getEnv("DB_USER", "hoken"),
		DBPassword:    getEnv("DB_PASSWORD", "hoken"),
		DBName:        getEnv("DB_NAME", "service_manager"),
		DBSSLMode:     getEnv("DB_SSLMODE", "disable"),
		KafkaBrokers:  getEnv("KAFKA_BROKERS", ""),
		ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "service-order-notifier"),
		APIPort:       getEnv("API_PORT", "8080"),
		NotifierPort:  getEnv("NOTIFIER_PORT", "8083"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:      getEnv("SMTP_FROM", ""),
		SMTPTo:        splitList(getEnv("SMTP_TO", "")),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
	}

	if cfg.Storage != "postgres" && cfg.Storage != "memory" {
		return cfg, fmt.Errorf("invalid STORAGE: %q", cfg.Storage)
	}

	var err error
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		return cfg, err
	}
	if cfg.WebhookMaxFailures, err = getEnvInt("WEBHOOK_MAX_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.WebhookBreakerTimeout, err = getEnvDuration("WEBHOOK_BREAKER_TIMEOUT", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BackfillBatchSize, err = getEnvInt("BACKFILL_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.BackfillConcurrency, err = getEnvInt("BACKFILL_CONCURRENCY", 5); err != nil {
		return cfg, err
	}
	if cfg.BackfillDelay, err = getEnvDuration("BACKFILL_DELAY", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.BackfillDryRun, err = getEnvBool("BACKFILL_DRY_RUN", false); err != nil {
		return cfg, err
	}
	if cfg.BackfillSkipExisting, err = getEnvBool("BACKFILL_SKIP_EXISTING", true); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// NewLogger returns the JSON logger shared by all commands. An unknown
// level falls back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
