package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Gateway   GatewayConfig
	Booking   BookingConfig
	Email     EmailConfig
	RabbitMQ  RabbitMQConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // this service, used to build the gateway callback URL
	FrontendBaseURL    string // browser is redirected here after the payment callback
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/clinic?sslmode=disable)
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

// JWTConfig holds validation settings for operator tokens issued by the clinic's auth service.
type JWTConfig struct {
	Secret string
	Issuer string // optional; when set the iss claim must match
}

// AWSConfig holds AWS credentials and the payment receipt bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	ReceiptsBucket  string // empty disables receipt archiving
}

// GatewayConfig holds the tokenized checkout credentials of the payment gateway.
type GatewayConfig struct {
	BaseURL   string // e.g. https://tokenized.sandbox.bka.sh/v1.2.0-beta
	Username  string
	Password  string
	AppKey    string
	AppSecret string
	Currency  string
	Timeout   time.Duration
	// SessionTTL is how long a hosted checkout page stays payable after it is opened.
	SessionTTL time.Duration
}

// BookingConfig holds slot and reservation lifecycle settings.
type BookingConfig struct {
	SlotLabels      []string
	PendingTTL      time.Duration // Pending reservations older than this are swept
	SweepSchedule   string        // asynq cron spec for the sweep
	SubmitLockTTL   time.Duration
	OperatorEmail   string
	ReferencePrefix string
}

// EmailConfig for SMTP delivery of confirmations.
type EmailConfig struct {
	FromAddress string
	FromName    string
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
}

// RabbitMQConfig for domain events. Empty URL disables publishing.
type RabbitMQConfig struct {
	URL string
}

// RateLimitConfig bounds checkout creation per client IP.
type RateLimitConfig struct {
	CreatePerMinute int
	CreateBurst     int
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

// Enabled reports whether SMTP delivery is configured.
func (c EmailConfig) Enabled() bool {
	return c.SMTPHost != ""
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
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			FrontendBaseURL:    strings.TrimRight(getEnv("FRONTEND_BASE_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "clinic"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Issuer: getEnv("JWT_ISSUER", ""),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "ap-south-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ReceiptsBucket:  getEnv("AWS_S3_RECEIPTS_BUCKET", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:    strings.TrimRight(getEnv("BKASH_BASE_URL", "https://tokenized.sandbox.bka.sh/v1.2.0-beta"), "/"),
			Username:   getEnv("BKASH_USERNAME", ""),
			Password:   getEnv("BKASH_PASSWORD", ""),
			AppKey:     getEnv("BKASH_APP_KEY", ""),
			AppSecret:  getEnv("BKASH_APP_SECRET", ""),
			Currency:   getEnv("BKASH_CURRENCY", "BDT"),
			Timeout:    time.Duration(getEnvInt("BKASH_TIMEOUT_SEC", 8)) * time.Second,
			SessionTTL: time.Duration(getEnvInt("BKASH_SESSION_TTL_MIN", 10)) * time.Minute,
		},
		Booking: BookingConfig{
			SlotLabels:      splitTrim(getEnv("BOOKING_SLOT_LABELS", "10:00 AM,11:00 AM,12:00 PM,02:00 PM,03:00 PM,04:00 PM,05:00 PM,06:00 PM"), ","),
			PendingTTL:      time.Duration(getEnvInt("BOOKING_PENDING_TTL_MIN", 30)) * time.Minute,
			SweepSchedule:   getEnv("BOOKING_SWEEP_SCHEDULE", "@every 5m"),
			SubmitLockTTL:   time.Duration(getEnvInt("BOOKING_SUBMIT_LOCK_SEC", 60)) * time.Second,
			OperatorEmail:   getEnv("BOOKING_OPERATOR_EMAIL", "appointments@example.com"),
			ReferencePrefix: getEnv("BOOKING_REFERENCE_PREFIX", "WBC-"),
		},
		Email: EmailConfig{
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Wellbeing Clinic"),
			SMTPHost:    getEnv("SMTP_HOST", ""),
			SMTPPort:    getEnvInt("SMTP_PORT", 587),
			SMTPUser:    getEnv("SMTP_USER", ""),
			SMTPPass:    getEnv("SMTP_PASS", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL: getEnv("RABBITMQ_URL", ""),
		},
		RateLimit: RateLimitConfig{
			CreatePerMinute: getEnvInt("RATE_LIMIT_CREATE_PER_MIN", 10),
			CreateBurst:     getEnvInt("RATE_LIMIT_CREATE_BURST", 3),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings the booking flow cannot run without.
func (c *Config) Validate() error {
	if len(c.Booking.SlotLabels) == 0 {
		return fmt.Errorf("BOOKING_SLOT_LABELS must list at least one slot")
	}
	if c.Booking.PendingTTL <= 0 {
		return fmt.Errorf("BOOKING_PENDING_TTL_MIN must be positive")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("BKASH_TIMEOUT_SEC must be positive")
	}
	if c.Server.PublicBaseURL == "" {
		return fmt.Errorf("PUBLIC_BASE_URL is required")
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

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
