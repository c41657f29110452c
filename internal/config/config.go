// Package config loads service configuration from defaults, an optional
// YAML file and the environment (SHIPPING_EMAIL, DATABASE_URL, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string         `mapstructure:"port"`
	Log      LogConfig      `mapstructure:"log"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Shipping ShippingConfig `mapstructure:"shipping"`
	Package  PackageConfig  `mapstructure:"package"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminConfig guards operator endpoints. An empty token leaves them open.
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ShippingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Email          string        `mapstructure:"email"`
	Password       string        `mapstructure:"password"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	PickupLocation string        `mapstructure:"pickup_location"`
	PickupPincode  string        `mapstructure:"pickup_pincode"`
	WebhookToken   string        `mapstructure:"webhook_token"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	PageSize       int           `mapstructure:"page_size"`
	MaxPages       int           `mapstructure:"max_pages"`
}

// PackageConfig holds the defaults used when an order lacks its own values.
type PackageConfig struct {
	Length     float64 `mapstructure:"length"`
	Breadth    float64 `mapstructure:"breadth"`
	Height     float64 `mapstructure:"height"`
	ItemWeight float64 `mapstructure:"item_weight"`
	HSN        int     `mapstructure:"hsn"`
	Category   string  `mapstructure:"category"`
	Notes      string  `mapstructure:"notes"`
	Country    string  `mapstructure:"country"`
}

type PaymentConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	KeyID           string        `mapstructure:"key_id"`
	KeySecret       string        `mapstructure:"key_secret"`
	WebhookSecret   string        `mapstructure:"webhook_secret"`
	SignaturePolicy string        `mapstructure:"signature_policy"`
	Currency        string        `mapstructure:"currency"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Frequency time.Duration `mapstructure:"frequency"`
	Autostart bool          `mapstructure:"autostart"`
}

type ThrottleConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("admin.token", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis.url", "")

	v.SetDefault("shipping.base_url", "https://apiv2.shiprocket.in/v1/external")
	v.SetDefault("shipping.email", "")
	v.SetDefault("shipping.password", "")
	v.SetDefault("shipping.token_ttl", 240*time.Hour)
	v.SetDefault("shipping.pickup_location", "warehouse-1")
	v.SetDefault("shipping.pickup_pincode", "110001")
	v.SetDefault("shipping.webhook_token", "")
	v.SetDefault("shipping.timeout", 10*time.Second)
	v.SetDefault("shipping.retries", 3)
	v.SetDefault("shipping.retry_delay", 5*time.Second)
	v.SetDefault("shipping.page_size", 100)
	v.SetDefault("shipping.max_pages", 50)

	v.SetDefault("package.length", 30.0)
	v.SetDefault("package.breadth", 20.0)
	v.SetDefault("package.height", 5.0)
	v.SetDefault("package.item_weight", 0.49)
	v.SetDefault("package.hsn", 6204)
	v.SetDefault("package.category", "Silk Sarees")
	v.SetDefault("package.notes", "")
	v.SetDefault("package.country", "India")

	v.SetDefault("payment.base_url", "https://api.razorpay.com/v1")
	v.SetDefault("payment.key_id", "")
	v.SetDefault("payment.key_secret", "")
	v.SetDefault("payment.webhook_secret", "")
	v.SetDefault("payment.signature_policy", "block")
	v.SetDefault("payment.currency", "INR")
	v.SetDefault("payment.timeout", 10*time.Second)

	v.SetDefault("sync.frequency", 5*time.Minute)
	v.SetDefault("sync.autostart", true)

	v.SetDefault("throttle.limit", 10)
	v.SetDefault("throttle.window", time.Minute)
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Payment.SignaturePolicy) {
	case "block", "warn":
	default:
		return fmt.Errorf("payment.signature_policy must be block or warn, got %q", c.Payment.SignaturePolicy)
	}
	if c.Sync.Frequency < time.Second {
		return fmt.Errorf("sync.frequency must be at least 1s")
	}
	if c.Shipping.Retries < 0 {
		return fmt.Errorf("shipping.retries must be >= 0")
	}
	if c.Shipping.Timeout <= 0 {
		return fmt.Errorf("shipping.timeout must be > 0")
	}
	if c.Shipping.TokenTTL <= 0 {
		return fmt.Errorf("shipping.token_ttl must be > 0")
	}
	if c.Throttle.Limit <= 0 || c.Throttle.Window <= 0 {
		return fmt.Errorf("throttle.limit and throttle.window must be > 0")
	}
	if c.Shipping.PageSize <= 0 || c.Shipping.MaxPages <= 0 {
		return fmt.Errorf("shipping.page_size and shipping.max_pages must be > 0")
	}
	return nil
}
