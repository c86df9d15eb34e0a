package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the order service.
type Config struct {
	Port           string
	Env            string
	RequestTimeout time.Duration
	CORSOrigins    []string
	RateLimit      int

	DB    DBConfig
	Redis RedisConfig

	KafkaBrokers    []string
	KafkaOrderTopic string

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	GatewayTimeout      time.Duration

	JWTSecret string

	ShippingFee decimal.Decimal
	CODLimit    decimal.Decimal

	ReconcileInterval   time.Duration
	ReconcileStaleAfter time.Duration

	OTelEnabled bool
}

type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
	SSLMode  string
}

// DSN builds a pgx connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&search_path=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
}

// Load reads configuration from the environment, after loading a .env file
// when one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shipping, err := getDecimal("SHIPPING_FEE", "100")
	if err != nil {
		return nil, err
	}
	codLimit, err := getDecimal("COD_LIMIT", "2000")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("APP_ENV", "development"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 30*time.Second),
		CORSOrigins:    splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		RateLimit:      getInt("RATE_LIMIT_PER_MINUTE", 30),
		DB: DBConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     getEnv("DB_PORT", "5432"),
			Username: os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_DATABASE"),
			Schema:   getEnv("DB_SCHEMA", "public"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		KafkaBrokers:        splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaOrderTopic:     getEnv("KAFKA_ORDER_TOPIC", "order-events"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(getEnv("PAYMENT_CURRENCY", "inr")),
		GatewayTimeout:      getDuration("GATEWAY_TIMEOUT", 10*time.Second),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		ShippingFee:         shipping,
		CODLimit:            codLimit,
		ReconcileInterval:   getDuration("RECONCILE_INTERVAL", 0),
		ReconcileStaleAfter: getDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
		OTelEnabled:         getEnv("OTEL_ENABLED", "false") == "true",
	}

	if cfg.DB.Host == "" || cfg.DB.Username == "" || cfg.DB.Database == "" {
		return nil, errors.New("database config incomplete")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.ShippingFee.IsNegative() {
		return nil, errors.New("SHIPPING_FEE cannot be negative")
	}
	if cfg.CODLimit.IsNegative() {
		return nil, errors.New("COD_LIMIT cannot be negative")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
