package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string
	LogLevel    string
	PublicURL   string
	FrontendURL string

	// Storage
	DatabaseDSN string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUserID       string

	// Payment configuration
	PaymentTimeout   time.Duration // intent TTL and slot hold window
	PaymentMinAmount int64
	PaymentCurrency  string
	DefaultGateway   string

	// Sweeper configuration
	SweepSchedule  string
	SweepLeaseTTL  time.Duration
	SweepBatchSize int

	// Auth
	JWTSecret       string
	OperatorKeyHash string

	// Rate limits, requests per minute
	WebhookRateLimit int
	APIRateLimit     int

	// ePayco
	EPaycoPublicKey  string
	EPaycoPKey       string
	EPaycoCustomerID string
	EPaycoTest       bool

	// Mercado Pago
	MercadoPagoAccessToken   string
	MercadoPagoWebhookSecret string
	MercadoPagoBaseURL       string
	GatewayTimeout           time.Duration

	// Monitoring
	EnableMetrics   bool
	MetricsPort     string
	MetricsInterval time.Duration
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8090"), "/"),
		FrontendURL: strings.TrimRight(getEnv("FRONTEND_URL", "http://localhost:3000"), "/"),

		// Storage
		DatabaseDSN: getEnv("DATABASE_DSN",
			"file:parish.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "parish-server"),

		// Payments
		PaymentTimeout:   getEnvAsDuration("PAYMENT_TIMEOUT", "10m"),
		PaymentMinAmount: int64(getEnvAsInt("PAYMENT_MIN_AMOUNT", 5000)),
		PaymentCurrency:  getEnv("PAYMENT_CURRENCY", "COP"),
		DefaultGateway:   getEnv("DEFAULT_GATEWAY", "epayco"),

		// Sweeper
		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "*/2 * * * *"),
		SweepLeaseTTL:  getEnvAsDuration("SWEEP_LEASE_TTL", "1m"),
		SweepBatchSize: getEnvAsInt("SWEEP_BATCH_SIZE", 100),

		// Auth
		JWTSecret:       getEnv("JWT_SECRET", ""),
		OperatorKeyHash: getEnv("OPERATOR_KEY_HASH", ""),

		// Rate limits
		WebhookRateLimit: getEnvAsInt("WEBHOOK_RATE_LIMIT", 120),
		APIRateLimit:     getEnvAsInt("API_RATE_LIMIT", 60),

		// ePayco
		EPaycoPublicKey:  getEnv("EPAYCO_PUBLIC_KEY", ""),
		EPaycoPKey:       getEnv("EPAYCO_P_KEY", ""),
		EPaycoCustomerID: getEnv("EPAYCO_CUSTOMER_ID", ""),
		EPaycoTest:       getEnvAsBool("EPAYCO_TEST", true),

		// Mercado Pago
		MercadoPagoAccessToken:   getEnv("MERCADOPAGO_ACCESS_TOKEN", ""),
		MercadoPagoWebhookSecret: getEnv("MERCADOPAGO_WEBHOOK_SECRET", ""),
		MercadoPagoBaseURL:       getEnv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
		GatewayTimeout:           getEnvAsDuration("GATEWAY_TIMEOUT", "10s"),

		// Monitoring
		EnableMetrics:   getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:     getEnv("METRICS_PORT", "9090"),
		MetricsInterval: getEnvAsDuration("METRICS_INTERVAL", "30s"),
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects settings the service cannot run safely with.
func (c *Config) Validate() error {
	var errs []error
	if c.PaymentTimeout <= 0 {
		errs = append(errs, errors.New("config: PAYMENT_TIMEOUT must be positive"))
	}
	if c.PaymentMinAmount <= 0 {
		errs = append(errs, errors.New("config: PAYMENT_MIN_AMOUNT must be positive"))
	}
	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("config: DATABASE_DSN is required"))
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("config: JWT_SECRET is required in production"))
		}
		if c.OperatorKeyHash == "" {
			errs = append(errs, errors.New("config: OPERATOR_KEY_HASH is required in production"))
		}
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
