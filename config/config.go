package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Gateway names accepted by PAYMENT_GATEWAY.
const (
	GatewayRazorpay = "razorpay"
	GatewayCashfree = "cashfree"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Payments  PaymentsConfig
	Razorpay  RazorpayConfig
	Cashfree  CashfreeConfig
	Webhook   WebhookConfig
	Reconcile ReconcileConfig
	AWS       AWSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the identity provider's token signing secret.
type JWTConfig struct {
	Secret      string
	Audience    string
	ExpireHours int // only used when minting tokens (paymentsctl, tests)
}

// PaymentsConfig holds gateway-independent checkout settings.
type PaymentsConfig struct {
	Gateway         string
	DefaultCurrency string
	ReuseWindow     time.Duration // a pending order younger than this is handed back instead of creating a new one
	OrderRateLimit  int           // order creations per user per minute
}

// RazorpayConfig for India payments.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

// CashfreeConfig for the Cashfree PG REST API.
type CashfreeConfig struct {
	AppID       string
	SecretKey   string
	Environment string // sandbox | production
	APIVersion  string
}

// WebhookConfig holds inbound webhook handling settings.
type WebhookConfig struct {
	DedupeTTL    time.Duration
	ClaimTTL     time.Duration
	MaxBodyBytes int64
	Archive      bool
}

// ReconcileConfig controls the stale payment sweep.
type ReconcileConfig struct {
	Interval     time.Duration
	StaleAfter   time.Duration
	AbandonAfter time.Duration
	BatchSize    int
}

// AWSConfig holds AWS credentials, the webhook archive bucket and the payment events topic.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	Endpoint             string // optional override, e.g. LocalStack
	ArchiveBucket        string
	PaymentEventsTopic   string
	PresignExpireMinutes int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// WebhookSecret returns the shared secret for the configured gateway's webhooks.
func (c *Config) WebhookSecret() string {
	return c.Razorpay.WebhookSecret
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "hackportal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", ""),
			Audience:    getEnv("JWT_AUDIENCE", "authenticated"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Payments: PaymentsConfig{
			Gateway:         strings.ToLower(getEnv("PAYMENT_GATEWAY", GatewayRazorpay)),
			DefaultCurrency: strings.ToUpper(getEnv("PAYMENT_DEFAULT_CURRENCY", "INR")),
			ReuseWindow:     getEnvDuration("PAYMENT_REUSE_WINDOW", 30*time.Minute),
			OrderRateLimit:  getEnvInt("PAYMENT_ORDER_RATE_PER_MIN", 10),
		},
		Razorpay: RazorpayConfig{
			KeyID:         getEnv("RAZORPAY_KEY_ID", ""),
			KeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		},
		Cashfree: CashfreeConfig{
			AppID:       getEnv("CASHFREE_APP_ID", ""),
			SecretKey:   getEnv("CASHFREE_SECRET_KEY", ""),
			Environment: getEnv("CASHFREE_ENV", "sandbox"),
			APIVersion:  getEnv("CASHFREE_API_VERSION", "2023-08-01"),
		},
		Webhook: WebhookConfig{
			DedupeTTL:    getEnvDuration("WEBHOOK_DEDUPE_TTL", 72*time.Hour),
			ClaimTTL:     getEnvDuration("WEBHOOK_CLAIM_TTL", 5*time.Minute),
			MaxBodyBytes: int64(getEnvInt("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
			Archive:      getEnvBool("WEBHOOK_ARCHIVE", false),
		},
		Reconcile: ReconcileConfig{
			Interval:     getEnvDuration("RECONCILE_INTERVAL", 15*time.Minute),
			StaleAfter:   getEnvDuration("RECONCILE_STALE_AFTER", 2*time.Hour),
			AbandonAfter: getEnvDuration("RECONCILE_ABANDON_AFTER", 24*time.Hour),
			BatchSize:    getEnvInt("RECONCILE_BATCH_SIZE", 100),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:             getEnv("AWS_ENDPOINT", ""),
			ArchiveBucket:        getEnv("AWS_S3_WEBHOOK_ARCHIVE_BUCKET", ""),
			PaymentEventsTopic:   getEnv("AWS_SNS_PAYMENT_EVENTS_TOPIC", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Payments.Gateway {
	case GatewayRazorpay, GatewayCashfree:
	default:
		return fmt.Errorf("unsupported PAYMENT_GATEWAY %q", c.Payments.Gateway)
	}
	if c.Reconcile.AbandonAfter < c.Reconcile.StaleAfter {
		return fmt.Errorf("RECONCILE_ABANDON_AFTER (%s) must not be shorter than RECONCILE_STALE_AFTER (%s)",
			c.Reconcile.AbandonAfter, c.Reconcile.StaleAfter)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
