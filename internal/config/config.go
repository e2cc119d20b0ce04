package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Checkout CheckoutConfig
	S3       S3Config
	Kafka    KafkaConfig
	OTEL     OTELConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        string
	ProxyHeader string // e.g. X-Forwarded-For when running behind a proxy
}

// MongoDBConfig holds MongoDB connection configuration.
// Checkout and settlement use multi-document transactions, so the URI must point at a replica set.
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the shared secret used to verify shopper tokens
type JWTConfig struct {
	Secret string
}

// GatewayConfig holds ZarinPal configuration
type GatewayConfig struct {
	MerchantID  string
	RequestURL  string
	VerifyURL   string
	StartPayURL string
	Currency    string
	CallbackURL string // absolute URL of GET /verify; derived from the request when empty
	Timeout     time.Duration
}

// CheckoutConfig holds pricing and settlement tunables
type CheckoutConfig struct {
	VATRate        float64
	SessionTTL     time.Duration
	PaymentTTL     time.Duration // pending payments older than this are expired by the sweeper
	SweepInterval  time.Duration
	IdempotencyTTL time.Duration
}

// S3Config holds receipt archive configuration (S3 compatible, e.g. SeaweedFS or MinIO)
type S3Config struct {
	Endpoint string
	Region   string
	Bucket   string
}

// KafkaConfig holds settlement event publishing configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// OTELConfig holds OpenTelemetry exporter configuration
type OTELConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	InstanceID     string
	Token          string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			ProxyHeader: getEnv("PROXY_HEADER", ""),
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
			Database: getEnv("MONGODB_DATABASE", "storefront"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       int(getEnvAsInt64("REDIS_DB", 0)),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
		Gateway: GatewayConfig{
			MerchantID:  getEnv("ZARINPAL_MERCHANT_ID", ""),
			RequestURL:  getEnv("ZARINPAL_REQUEST_URL", "https://sandbox.zarinpal.com/pg/v4/payment/request.json"),
			VerifyURL:   getEnv("ZARINPAL_VERIFY_URL", "https://sandbox.zarinpal.com/pg/v4/payment/verify.json"),
			StartPayURL: getEnv("ZARINPAL_START_PAY_URL", "https://sandbox.zarinpal.com/pg/StartPay/"),
			Currency:    getEnv("ZARINPAL_CURRENCY", "IRT"),
			CallbackURL: getEnv("PAYMENT_CALLBACK_URL", ""),
			Timeout:     getEnvAsDuration("ZARINPAL_TIMEOUT", 30*time.Second),
		},
		Checkout: CheckoutConfig{
			VATRate:        getEnvAsFloat("VAT_RATE", 9),
			SessionTTL:     getEnvAsDuration("SESSION_TTL", 14*24*time.Hour),
			PaymentTTL:     getEnvAsDuration("PAYMENT_TTL", 30*time.Minute),
			SweepInterval:  getEnvAsDuration("PAYMENT_SWEEP_INTERVAL", 5*time.Minute),
			IdempotencyTTL: getEnvAsDuration("IDEMPOTENCY_TTL", 10*time.Minute),
		},
		S3: S3Config{
			Endpoint: getEnv("S3_ENDPOINT", ""),
			Region:   getEnv("S3_REGION", "us-east-1"),
			Bucket:   getEnv("S3_BUCKET", "receipts"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS"),
			Topic:   getEnv("KAFKA_SETTLEMENT_TOPIC", "invoice.settled"),
		},
		OTEL: OTELConfig{
			Enabled:        getEnv("OTEL_ENABLED", "false") == "true",
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "storefront-api"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Environment:    getEnv("OTEL_ENVIRONMENT", "development"),
			InstanceID:     getEnv("OTEL_INSTANCE_ID", ""),
			Token:          getEnv("OTEL_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnv("LOG_PRETTY", "false") == "true",
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Checkout.VATRate < 0 {
		return fmt.Errorf("VAT_RATE must not be negative")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("ZARINPAL_TIMEOUT must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 retrieves an environment variable as int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings such as "30s" or "15m"
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
