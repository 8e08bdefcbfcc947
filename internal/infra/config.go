package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	AuthSecret     string
	StoragePath    string
	StorageBaseURL string

	ImageAPIKey  string
	ImageBaseURL string
	ImageModel   string

	MeshAPIKey  string
	MeshBaseURL string

	PaymentAPIKey        string
	PaymentWebhookSecret string
	CheckoutSuccessURL   string
	CheckoutCancelURL    string

	CallbackSecret     string
	WorkflowWebhookURL string

	HTTPReadTimeout       time.Duration
	HTTPReadHeaderTimeout time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
	RateLimitPerMin       int

	PollInterval      time.Duration
	StaleJobSweepSpec string
	StaleJobMaxAge    time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),

		ImageAPIKey:  os.Getenv("IMAGE_API_KEY"),
		ImageBaseURL: getEnv("IMAGE_BASE_URL", "https://api.openai.com/v1"),
		ImageModel:   getEnv("IMAGE_MODEL", "gpt-image-1"),

		MeshAPIKey:  os.Getenv("MESH_API_KEY"),
		MeshBaseURL: getEnv("MESH_BASE_URL", "https://api.meshy.ai/v1"),

		PaymentAPIKey:        os.Getenv("PAYMENT_API_KEY"),
		PaymentWebhookSecret: os.Getenv("PAYMENT_WEBHOOK_SECRET"),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", "http://localhost:8080/credits/success"),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", "http://localhost:8080/credits"),

		CallbackSecret:     os.Getenv("CALLBACK_SECRET"),
		WorkflowWebhookURL: os.Getenv("WORKFLOW_WEBHOOK_URL"),

		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPReadHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:       getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		StaleJobSweepSpec: getEnv("STALE_JOB_SWEEP_SPEC", "*/10 * * * *"),
		StaleJobMaxAge:    time.Minute * time.Duration(getEnvInt("STALE_JOB_MAX_AGE_MINUTES", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
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
