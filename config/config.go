package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"cryptoSignalBot/internal/adapters/logger" // Import the logger package for ParseLevel
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	// HTTP
	HTTPAddr        string
	WebhookToken    string // Empty disables the webhook token check
	AdminJWTSecret  string // Empty disables the admin API
	DispatchTimeout time.Duration

	// Storage
	DBDriver      string
	DBPath        string
	DatabaseURL   string
	UsersFile     string // YAML user directory; overrides the DB users table when set
	EncryptionKey string // base64 AES-256 key for credentials at rest

	// Execution
	Leverage        int
	RiskPercent     decimal.Decimal // Fraction of balance per entry (0.05 = 5%)
	MarginBuffer    decimal.Decimal
	LegDelay        time.Duration
	EntrySettle     time.Duration
	Workers         int
	BreakevenEvery  time.Duration // Zero disables the breakeven watcher
	BreakevenOffset decimal.Decimal

	// Exchange transport
	RequestTimeout    time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
	BingXBaseURL      string
	OKXBaseURL        string
	OKXDemo           bool
	BybitBaseURL      string
	BitgetBaseURL     string

	// Notifications
	TelegramBotToken string
	SupportContact   string
	KafkaBrokers     []string
	KafkaTopic       string
	NotifyQueueSize  int

	// Logging
	LogLevel  logrus.Level
	LogFormat string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// HTTP
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.WebhookToken = getEnv("WEBHOOK_TOKEN", "")
	cfg.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", "")
	dispatchSeconds, err := getEnvAsIntRequired("DISPATCH_TIMEOUT_SECONDS", 120)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DISPATCH_TIMEOUT_SECONDS: %v", err))
	} else if dispatchSeconds <= 0 {
		errs = append(errs, "DISPATCH_TIMEOUT_SECONDS must be positive")
	}
	cfg.DispatchTimeout = time.Duration(dispatchSeconds) * time.Second

	// Storage
	cfg.DBDriver = strings.ToLower(getEnv("DB_DRIVER", DriverSQLite))
	cfg.DBPath = getEnv("DB_PATH", "./data/signals.db")
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.UsersFile = getEnv("USERS_FILE", "")
	cfg.EncryptionKey = getEnv("ENCRYPTION_KEY", "")
	switch cfg.DBDriver {
	case DriverSQLite:
		if cfg.DBPath == "" {
			errs = append(errs, "DB_PATH must be set for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL must be set for the postgres driver")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("unknown DB_DRIVER %q (want sqlite, postgres or memory)", cfg.DBDriver))
	}

	// Execution
	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage < 1 {
		errs = append(errs, "LEVERAGE must be at least 1")
	}

	cfg.RiskPercent, err = getEnvAsDecimalRequired("RISK_PERCENT", "0.05")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_PERCENT: %v", err))
	} else if !cfg.RiskPercent.IsPositive() || cfg.RiskPercent.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, "RISK_PERCENT must be between 0 (exclusive) and 1 (inclusive)")
	}

	cfg.MarginBuffer, err = getEnvAsDecimalRequired("MARGIN_BUFFER", "0.001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARGIN_BUFFER: %v", err))
	} else if cfg.MarginBuffer.IsNegative() {
		errs = append(errs, "MARGIN_BUFFER cannot be negative")
	}

	legDelayMs := getEnvAsInt("LEG_DELAY_MS", 500)
	if legDelayMs < 0 {
		errs = append(errs, "LEG_DELAY_MS cannot be negative")
	}
	cfg.LegDelay = time.Duration(legDelayMs) * time.Millisecond

	settleMs := getEnvAsInt("ENTRY_SETTLE_MS", 2000)
	if settleMs < 0 {
		errs = append(errs, "ENTRY_SETTLE_MS cannot be negative")
	}
	cfg.EntrySettle = time.Duration(settleMs) * time.Millisecond

	cfg.Workers, err = getEnvAsIntRequired("WORKERS", 8)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid WORKERS: %v", err))
	} else if cfg.Workers < 1 {
		errs = append(errs, "WORKERS must be at least 1")
	}

	breakevenSeconds := getEnvAsInt("BREAKEVEN_INTERVAL_SECONDS", 60)
	if breakevenSeconds < 0 {
		errs = append(errs, "BREAKEVEN_INTERVAL_SECONDS cannot be negative")
	}
	cfg.BreakevenEvery = time.Duration(breakevenSeconds) * time.Second

	cfg.BreakevenOffset, err = getEnvAsDecimalRequired("BREAKEVEN_OFFSET", "0.001")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BREAKEVEN_OFFSET: %v", err))
	} else if !cfg.BreakevenOffset.IsPositive() || cfg.BreakevenOffset.GreaterThanOrEqual(decimal.RequireFromString("0.1")) {
		errs = append(errs, "BREAKEVEN_OFFSET must be between 0 and 0.1 (exclusive)")
	}

	// Exchange transport
	timeoutSeconds := getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 10)
	if timeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.MaxAttempts, err = getEnvAsIntRequired("MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ATTEMPTS: %v", err))
	} else if cfg.MaxAttempts < 1 {
		errs = append(errs, "MAX_ATTEMPTS must be at least 1")
	}

	cfg.RequestsPerSecond, err = getEnvAsFloatRequired("REQUESTS_PER_SECOND", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUESTS_PER_SECOND: %v", err))
	} else if cfg.RequestsPerSecond <= 0 {
		errs = append(errs, "REQUESTS_PER_SECOND must be positive")
	}

	cfg.BingXBaseURL = getEnv("BINGX_BASE_URL", "https://open-api.bingx.com")
	cfg.OKXBaseURL = getEnv("OKX_BASE_URL", "https://www.okx.com")
	cfg.OKXDemo = getEnvAsBool("OKX_DEMO", false)
	cfg.BybitBaseURL = getEnv("BYBIT_BASE_URL", "https://api.bybit.com")
	cfg.BitgetBaseURL = getEnv("BITGET_BASE_URL", "https://api.bitget.com")

	// Notifications
	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.SupportContact = getEnv("SUPPORT_CONTACT", "@SupportBot")
	cfg.KafkaBrokers = getEnvAsList("KAFKA_BROKERS")
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", "trade-events")
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		errs = append(errs, "KAFKA_TOPIC must be set when KAFKA_BROKERS is set")
	}
	cfg.NotifyQueueSize = getEnvAsInt("NOTIFY_QUEUE_SIZE", 256)
	if cfg.NotifyQueueSize <= 0 {
		errs = append(errs, "NOTIFY_QUEUE_SIZE must be positive")
	}

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO")) // Use the parser from the logger package
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be text or json")
	}

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsDecimalRequired parses money-like values without float rounding.
func getEnvAsDecimalRequired(key, defaultValue string) (decimal.Decimal, error) {
	valueStr := getEnv(key, defaultValue)
	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
