package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (JEWEL_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (JEWEL_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Idempotency IdempotencyConfig
	Settlement  SettlementConfig
	Gateway     GatewayConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret shared with the identity service (JEWEL_AUTH_JWT_SECRET)" flag:"jwt-secret"`
	Issuer    string `default:"" usage:"Expected token issuer; empty accepts any" flag:"jwt-issuer"`
}

// RedisConfig selects the idempotency store. An empty address keeps replay
// records in process memory.
type RedisConfig struct {
	Addr     string `default:"" usage:"Redis address host:port (or REDIS_URL)" flag:"redis-addr"`
	Password string `default:"" usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// KafkaConfig controls domain event publishing. Without brokers events are
// dropped.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers" flag:"kafka-brokers"`
	Topic   string   `default:"jewellery.events" usage:"Topic for order and payment events"`
}

// IdempotencyConfig controls Idempotency-Key replay.
type IdempotencyConfig struct {
	TTL time.Duration `default:"24h" usage:"How long responses are replayed for a repeated key"`
}

// SettlementConfig controls the background poller for asynchronous gateways.
type SettlementConfig struct {
	Enabled  bool          `default:"true" usage:"Run the settlement worker"`
	Interval time.Duration `default:"30s" usage:"Settlement poll interval"`
	MinAge   time.Duration `default:"10s" usage:"Minimum payment age before it is polled"`
}

// GatewayConfig controls the asynchronous gateways.
type GatewayConfig struct {
	Async       []string      `default:"stripe,paypal,razorpay" usage:"Gateways that settle asynchronously"`
	SettleAfter time.Duration `default:"30s" usage:"Delay before an asynchronous charge reports completion"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables,
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	return loadConfig(aconfig.Config{
		EnvPrefix: "JEWEL",
		Files:     []string{"config.yaml", "/etc/jewellery/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set JEWEL_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("jwt secret is required: set JEWEL_AUTH_JWT_SECRET")
	case c.Settlement.Enabled && c.Settlement.Interval <= 0:
		return errors.New("settlement interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, PORT and REDIS_URL
// to the application's JEWEL_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if c.Redis.Addr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.Redis.Addr = v
		}
	}
}
