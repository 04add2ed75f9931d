package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port string
	Env  string
	// TrustProxy turns on forwarded-header handling; only safe when the
	// service is reachable exclusively through a proxy that sets them.
	TrustProxy bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MigrationsPath  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type SecurityConfig struct {
	MaxAttemptsPerIP    int
	RateLimitWindow     time.Duration
	SuspiciousThreshold int
	SuspiciousBlockFor  time.Duration
}

type PaymentConfig struct {
	Provider        string
	APIBaseURL      string
	SecretKey       string
	PublishableKey  string
	WebhookSecret   string
	AppBaseURL      string
	Currency        string
	SessionTTL      time.Duration
	CleanupInterval time.Duration
}

type InvoiceConfig struct {
	DefaultTaxRate string
	DueDays        int
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Security SecurityConfig
	Payment  PaymentConfig
	Invoice  InvoiceConfig
	AMQPURL  string
}

// Load reads an optional .env file, then the environment. Only the
// database settings are mandatory; everything else has a default.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}

	cfg.App.Port = getenv("APP_PORT", "8080")
	cfg.App.Env = getenv("APP_ENV", "dev")
	cfg.App.TrustProxy = getenvBool("APP_TRUST_PROXY", false)

	cfg.Postgres.Host = os.Getenv("DB_HOST")
	cfg.Postgres.Port = getenv("DB_PORT", "5432")
	cfg.Postgres.User = os.Getenv("DB_USER")
	cfg.Postgres.Password = os.Getenv("DB_PASSWORD")
	cfg.Postgres.DBName = os.Getenv("DB_NAME")
	cfg.Postgres.SSLMode = getenv("DB_SSLMODE", "disable")
	cfg.Postgres.MigrationsPath = getenv("DB_MIGRATIONS_PATH", "migrations")
	cfg.Postgres.MaxConns = int32(getenvInt("DB_MAX_CONNS", 10))
	cfg.Postgres.MinConns = int32(getenvInt("DB_MIN_CONNS", 2))
	cfg.Postgres.MaxConnLifetime = getenvDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute)

	for _, req := range []struct{ key, val string }{
		{"DB_HOST", cfg.Postgres.Host},
		{"DB_USER", cfg.Postgres.User},
		{"DB_PASSWORD", cfg.Postgres.Password},
		{"DB_NAME", cfg.Postgres.DBName},
	} {
		if req.val == "" {
			return nil, fmt.Errorf("%s is required", req.key)
		}
	}

	cfg.Security.MaxAttemptsPerIP = getenvInt("SECURITY_MAX_ATTEMPTS_PER_IP", 50)
	cfg.Security.RateLimitWindow = getenvDuration("SECURITY_RATE_LIMIT_WINDOW", 300*time.Second)
	cfg.Security.SuspiciousThreshold = getenvInt("SECURITY_SUSPICIOUS_THRESHOLD", 100)
	cfg.Security.SuspiciousBlockFor = getenvDuration("SECURITY_SUSPICIOUS_BLOCK_FOR", 24*time.Hour)

	cfg.Payment.Provider = getenv("PAYMENT_PROVIDER", "STRIPE")
	cfg.Payment.APIBaseURL = getenv("PAYMENT_API_BASE_URL", "https://api.stripe.com")
	cfg.Payment.SecretKey = os.Getenv("PAYMENT_SECRET_KEY")
	cfg.Payment.PublishableKey = os.Getenv("PAYMENT_PUBLISHABLE_KEY")
	cfg.Payment.WebhookSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	cfg.Payment.AppBaseURL = getenv("APP_BASE_URL", "http://localhost:8080")
	cfg.Payment.Currency = getenv("PAYMENT_CURRENCY", "EUR")
	cfg.Payment.SessionTTL = getenvDuration("PAYMENT_SESSION_TTL", time.Hour)
	cfg.Payment.CleanupInterval = getenvDuration("PAYMENT_CLEANUP_INTERVAL", time.Hour)

	cfg.Invoice.DefaultTaxRate = getenv("INVOICE_DEFAULT_TAX_RATE", "20")
	cfg.Invoice.DueDays = getenvInt("INVOICE_DUE_DAYS", 30)

	cfg.AMQPURL = os.Getenv("AMQP_URL")

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
