package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && c.To != ""
}

type Config struct {
	Environment string

	GeminiAPIKey    string
	ChatModel       string
	EmbeddingModel  string
	ProviderTimeout time.Duration

	DatabaseURL string
	HTTPPort    string
	LogLevel    string
	LogFormat   string
	JWTSecret   string
	SentryDSN   string

	RedisURL              string
	CustomizationCacheTTL time.Duration

	ScoringRulesPath string

	SMTP SMTPConfig
}

var AppConfig Config

// LoadConfig populates AppConfig from the environment (and a .env file if one
// exists) and returns an error when a required setting is missing.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on environment variables")
	}

	cfg := Config{
		Environment:     getEnv("ENVIRONMENT", "development"),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		ChatModel:       getEnv("CHAT_MODEL", "gemini-1.5-flash-latest"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-004"),
		ProviderTimeout: time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 45)) * time.Second,

		DatabaseURL: getEnv("DATABASE_URL", "concierge.db"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "INFO"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		SentryDSN:   getEnv("SENTRY_DSN", ""),

		RedisURL:              getEnv("REDIS_URL", ""),
		CustomizationCacheTTL: time.Duration(getEnvAsInt("CUSTOMIZATION_CACHE_TTL_SECONDS", 300)) * time.Second,

		ScoringRulesPath: getEnv("SCORING_RULES_PATH", ""),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("NOTIFY_FROM", ""),
			To:       getEnv("NOTIFY_TO", ""),
		},
	}

	if cfg.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	AppConfig = cfg
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
