package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config holds process configuration read from the environment.
type Config struct {
	AppEnv   string
	Port     string
	RunLocal bool

	StoreBackend     string
	CartsTable       string
	SettingsTable    string
	IdempotencyTable string
	WebhookQueueURL  string

	CloudWatchEnabled   bool
	CloudWatchNamespace string

	NotifyRetryInterval time.Duration
	IdempotencyTTL      time.Duration

	// ScanRatePerMinute bounds manual scan triggers per shop.
	ScanRatePerMinute int
}

// Load reads an optional .env file and then the environment.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppEnv:   getEnv("APP_ENV", "dev"),
		Port:     getEnv("PORT", "8080"),
		RunLocal: getEnvBool("RUN_LOCAL", false),

		StoreBackend:     strings.ToLower(getEnv("STORE_BACKEND", BackendDynamoDB)),
		CartsTable:       getEnv("CARTS_TABLE", "carts"),
		SettingsTable:    getEnv("SETTINGS_TABLE", "shop_settings"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "webhook_deliveries"),
		WebhookQueueURL:  os.Getenv("WEBHOOK_QUEUE_URL"),

		CloudWatchEnabled:   getEnvBool("CLOUDWATCH_ENABLED", false),
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "CartRecovery"),

		NotifyRetryInterval: time.Duration(getEnvInt("NOTIFY_RETRY_MINUTES", 30)) * time.Minute,
		IdempotencyTTL:      time.Duration(getEnvInt("IDEMPOTENCY_TTL_HOURS", 48)) * time.Hour,

		ScanRatePerMinute: getEnvInt("SCAN_RATE_PER_MINUTE", 6),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
