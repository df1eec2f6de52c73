package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	SQLitePath  string

	RabbitMQURL          string
	GenerateQueue        string
	ResultQueue          string
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	DeadLetterQueue      string
	ConsumerPrefetch     int
	MaxDeliveryAttempts  int
	PublishTimeout       time.Duration
	PublishMaxRetries    int
	ConnectMaxRetries    int

	GeneratorURL     string
	GeneratorTimeout time.Duration

	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads the API configuration from environment variables and
// applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg, err := LoadWorkerConfig()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	return cfg, nil
}

// LoadWorkerConfig is LoadConfig without the job store requirement.
func LoadWorkerConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),

		RabbitMQURL:          os.Getenv("RABBITMQ_URL"),
		GenerateQueue:        getEnv("GENERATE_QUEUE", "generate"),
		ResultQueue:          getEnv("RESULT_QUEUE", "result"),
		DeadLetterExchange:   getEnv("DEAD_LETTER_EXCHANGE", "generate.dlx"),
		DeadLetterRoutingKey: getEnv("DEAD_LETTER_ROUTING_KEY", "result.dead"),
		DeadLetterQueue:      getEnv("DEAD_LETTER_QUEUE", "result.dead"),
		ConsumerPrefetch:     getEnvInt("CONSUMER_PREFETCH", 8),
		MaxDeliveryAttempts:  getEnvInt("MAX_DELIVERY_ATTEMPTS", 3),
		PublishTimeout:       getEnvSeconds("PUBLISH_TIMEOUT_SECONDS", 30),
		PublishMaxRetries:    getEnvInt("PUBLISH_MAX_RETRIES", 3),
		ConnectMaxRetries:    getEnvInt("CONNECT_MAX_RETRIES", 10),

		GeneratorURL:     getEnv("GENERATOR_URL", "http://generator:8000"),
		GeneratorTimeout: getEnvSeconds("GENERATOR_TIMEOUT_SECONDS", 300),

		HTTPReadTimeout:    getEnvSeconds("HTTP_READ_TIMEOUT_SECONDS", 15),
		HTTPWriteTimeout:   getEnvSeconds("HTTP_WRITE_TIMEOUT_SECONDS", 30),
		HTTPIdleTimeout:    getEnvSeconds("HTTP_IDLE_TIMEOUT_SECONDS", 60),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required")
	}
	if cfg.MaxDeliveryAttempts < 1 {
		return nil, fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if cfg.ConsumerPrefetch < 1 {
		cfg.ConsumerPrefetch = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Second * time.Duration(getEnvInt(key, fallback))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
