package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Currency    string `default:"INR" usage:"ISO currency code all orders are charged in"`

	// RedisAddr switches hot stock counters onto Redis when set; empty keeps
	// them in PostgreSQL.
	RedisAddr string `default:"" usage:"Redis address for stock counters (host:port); empty uses PostgreSQL" flag:"redis-addr"`

	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`

	Gateway   GatewayConfig
	Kafka     KafkaConfig
	Stock     StockConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// GatewayConfig configures the payment gateway client.
type GatewayConfig struct {
	BaseURL string        `usage:"Payment gateway base URL" flag:"gateway-base-url"`
	KeyID   string        `usage:"Gateway API key id" flag:"gateway-key-id"`
	Secret  string        `usage:"Gateway API secret, also the payment signature key" flag:"gateway-secret"`
	Timeout time.Duration `default:"10s" usage:"Gateway request timeout" flag:"gateway-timeout"`
}

// KafkaConfig configures order event publishing. Empty brokers disable
// publishing entirely.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka broker addresses; empty disables event publishing"`
	Topic   string   `default:"fulfillment.events" usage:"Topic for order lifecycle events"`
}

// StockConfig tunes the inventory ledger's contention handling.
type StockConfig struct {
	Attempts      int           `default:"3" usage:"Compare-and-swap attempts per stock mutation" flag:"stock-attempts"`
	BackoffBase   time.Duration `default:"5ms" usage:"Base backoff between contended attempts" flag:"stock-backoff-base"`
	BackoffSpread time.Duration `default:"10ms" usage:"Random backoff spread between contended attempts" flag:"stock-backoff-spread"`
}

// RateLimitConfig controls the per-client rate limiter.
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shopforge/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.Secret == "" {
		return nil, errors.New("gateway secret is required: set SHOP_GATEWAY_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// onto the SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.RedisAddr == "" {
		if v := os.Getenv("REDIS_URL"); v != "" {
			c.RedisAddr = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
