// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Security
	AdminSecret  string // Superadmin API secret
	RateLimitRPM int

	// Notification gateway (WhatsApp bridge)
	WhatsAppGatewayURL string
	NotifyTimeout      time.Duration

	// AI assistant
	LLMAPIURL string
	LLMAPIKey string
	LLMModel  string

	// Platform billing
	StripeSecretKey     string
	StripeWebhookSecret string
	PublicBaseURL       string
	TrialDays           int

	// Scheduled jobs, wall-clock "HH:MM" in Timezone
	InvoiceJobAt string
	SweepJobAt   string
	Timezone     string

	// Tracing
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "json"
	DefaultRateLimitRPM  = 120
	DefaultNotifyTimeout = 20 * time.Second
	DefaultLLMAPIURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultLLMModel      = "gemini-1.5-flash"
	DefaultTrialDays     = 30
	DefaultInvoiceJobAt  = "03:00"
	DefaultSweepJobAt    = "10:00"
	DefaultTimezone      = "America/Sao_Paulo"
	DefaultPublicBaseURL = "http://localhost:8080"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AdminSecret:         os.Getenv("ADMIN_SECRET"),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		WhatsAppGatewayURL:  os.Getenv("WHATSAPP_GATEWAY_URL"),
		NotifyTimeout:       getEnvDuration("NOTIFY_TIMEOUT", DefaultNotifyTimeout),
		LLMAPIURL:           getEnv("LLM_API_URL", DefaultLLMAPIURL),
		LLMAPIKey:           os.Getenv("LLM_API_KEY"),
		LLMModel:            getEnv("LLM_MODEL", DefaultLLMModel),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PublicBaseURL:       getEnv("PUBLIC_BASE_URL", DefaultPublicBaseURL),
		TrialDays:           int(getEnvInt64("TRIAL_DAYS", DefaultTrialDays)),
		InvoiceJobAt:        getEnv("INVOICE_JOB_AT", DefaultInvoiceJobAt),
		SweepJobAt:          getEnv("SWEEP_JOB_AT", DefaultSweepJobAt),
		Timezone:            getEnv("TIMEZONE", DefaultTimezone),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if c.TrialDays < 0 {
		return fmt.Errorf("TRIAL_DAYS must not be negative")
	}
	for name, v := range map[string]string{"INVOICE_JOB_AT": c.InvoiceJobAt, "SWEEP_JOB_AT": c.SweepJobAt} {
		if _, _, err := ParseJobTime(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseJobTime parses a wall-clock "HH:MM" job time.
func ParseJobTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid job time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
