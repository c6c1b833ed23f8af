package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool

	InferenceBaseURL string
	InferenceToken   string
	InferenceVersion string
	WebhookSecret    string
	CallbackBaseURL  string

	BillingBaseURL string
	BillingAPIKey  string

	FreeDailyLimit int
	UploadURLTTL   time.Duration
	ResultURLTTL   time.Duration

	GeoIPDBPath string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StorageEndpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
		StorageAccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		StorageSecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		StorageBucket:    getEnv("STORAGE_BUCKET", "petdance"),
		StorageUseSSL:    getEnvBool("STORAGE_USE_SSL", false),

		InferenceBaseURL: getEnv("INFERENCE_BASE_URL", "https://api.replicate.com/v1"),
		InferenceToken:   os.Getenv("INFERENCE_API_TOKEN"),
		InferenceVersion: os.Getenv("INFERENCE_MODEL_VERSION"),
		WebhookSecret:    os.Getenv("WEBHOOK_SECRET"),
		CallbackBaseURL:  getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),

		BillingBaseURL: getEnv("BILLING_BASE_URL", "https://api.revenuecat.com/v1"),
		BillingAPIKey:  os.Getenv("BILLING_API_KEY"),

		FreeDailyLimit: getEnvInt("FREE_DAILY_LIMIT", 2),
		UploadURLTTL:   time.Minute * time.Duration(getEnvInt("UPLOAD_URL_TTL_MINUTES", 15)),
		ResultURLTTL:   time.Minute * time.Duration(getEnvInt("RESULT_URL_TTL_MINUTES", 60)),

		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
