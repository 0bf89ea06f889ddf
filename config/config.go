package config

import (
	"fmt"
	"strings"
	"time"

	"cart-order-service/upstream"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string `mapstructure:"PORT"`
	GinMode   string `mapstructure:"GIN_MODE"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	DBDriver string `mapstructure:"DB_DRIVER"`
	DBSource string `mapstructure:"DB_SOURCE"`

	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	CatalogBaseURL        string        `mapstructure:"CATALOG_BASE_URL"`
	CatalogTimeout        time.Duration `mapstructure:"CATALOG_TIMEOUT"`
	CatalogRetryAttempts  int           `mapstructure:"CATALOG_RETRY_ATTEMPTS"`
	CatalogRetryBaseDelay time.Duration `mapstructure:"CATALOG_RETRY_BASE_DELAY"`
	CatalogRetryMaxDelay  time.Duration `mapstructure:"CATALOG_RETRY_MAX_DELAY"`

	RedisAddr       string        `mapstructure:"REDIS_ADDR"`
	CatalogCacheTTL time.Duration `mapstructure:"CATALOG_CACHE_TTL"`

	AMQPURL              string `mapstructure:"AMQP_URL"`
	PaymentQueue         string `mapstructure:"PAYMENT_QUEUE"`
	PaymentWebhookSecret string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`

	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	OrderEventsTopic string   `mapstructure:"ORDER_EVENTS_TOPIC"`

	ConfigFile string `mapstructure:"CONFIG_FILE"`

	v *viper.Viper
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"GIN_MODE":                 "debug",
	"LOG_LEVEL":                "info",
	"LOG_PRETTY":               false,
	"DB_DRIVER":                "sqlite",
	"DB_SOURCE":                "cart_order.db",
	"JWT_SECRET":               "cart_order_dev_secret",
	"CORS_ORIGINS":             "*",
	"CATALOG_BASE_URL":         "http://localhost:3001",
	"CATALOG_TIMEOUT":          "3s",
	"CATALOG_RETRY_ATTEMPTS":   3,
	"CATALOG_RETRY_BASE_DELAY": "100ms",
	"CATALOG_RETRY_MAX_DELAY":  "1s",
	"REDIS_ADDR":               "",
	"CATALOG_CACHE_TTL":        "30s",
	"AMQP_URL":                 "",
	"PAYMENT_QUEUE":            "payment_confirmations",
	"PAYMENT_WEBHOOK_SECRET":   "",
	"KAFKA_BROKERS":            "",
	"ORDER_EVENTS_TOPIC":       "order-events",
	"CONFIG_FILE":              "",
}

// Load reads defaults, then the optional CONFIG_FILE, then the environment.
// Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.CatalogRetryAttempts < 1 {
		return fmt.Errorf("CATALOG_RETRY_ATTEMPTS must be at least 1")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// CatalogPolicy is the retry policy for calls to the restaurant service.
func (c *Config) CatalogPolicy() upstream.Policy {
	return upstream.Policy{
		Attempts:  c.CatalogRetryAttempts,
		Timeout:   c.CatalogTimeout,
		BaseDelay: c.CatalogRetryBaseDelay,
		MaxDelay:  c.CatalogRetryMaxDelay,
	}
}

// Watch reloads LOG_LEVEL whenever the config file changes. It is a no-op
// when no file was loaded.
func (c *Config) Watch(log zerolog.Logger) {
	if c.v == nil || c.ConfigFile == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		raw := c.v.GetString("LOG_LEVEL")
		lvl, err := zerolog.ParseLevel(raw)
		if err != nil {
			log.Warn().Str("file", e.Name).Str("level", raw).Msg("ignoring invalid LOG_LEVEL on reload")
			return
		}
		zerolog.SetGlobalLevel(lvl)
		log.Info().Str("file", e.Name).Str("level", lvl.String()).Msg("config reloaded")
	})
	c.v.WatchConfig()
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
