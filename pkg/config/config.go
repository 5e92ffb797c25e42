package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration shared by the services.
// Empty URLs disable the corresponding integration.
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`

	Server struct {
		Addr            string        `yaml:"addr" default:":8080"`
		MetricsPort     string        `yaml:"metrics_port" default:":9091"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimit       int           `yaml:"rate_limit" default:"100"`
		RateWindow      time.Duration `yaml:"rate_window" default:"1m"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Binance struct {
		BaseURL     string        `yaml:"base_url" default:"https://api.binance.com"`
		StreamURL   string        `yaml:"stream_url" default:"wss://stream.binance.com:9443/ws/!miniTicker@arr"`
		Enabled     bool          `yaml:"enabled" default:"true"`
		MaxPriceAge time.Duration `yaml:"max_price_age" default:"30s"`
	} `yaml:"binance"`

	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`

	Postgres struct {
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"max_conns" default:"10"`
	} `yaml:"postgres"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Alerts struct {
		WebhookURLs []string `yaml:"webhook_urls"`
	} `yaml:"alerts"`

	Refresh struct {
		Interval time.Duration `yaml:"interval"`
		Horizon  string        `yaml:"horizon" default:"1h"`
		Symbols  []string      `yaml:"symbols"`
		Timeout  time.Duration `yaml:"timeout" default:"15s"`
	} `yaml:"refresh"`

	Generator struct {
		Seed int64 `yaml:"seed"`
	} `yaml:"generator"`
}

// Load applies struct defaults, then the YAML file at path (if non-empty),
// then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// applyEnv overrides fields from the environment using lookup
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.Server.Addr)
	str("METRICS_PORT", &c.Server.MetricsPort)
	str("BINANCE_BASE_URL", &c.Binance.BaseURL)
	str("BINANCE_STREAM_URL", &c.Binance.StreamURL)
	str("NATS_URL", &c.NATS.URL)
	str("POSTGRES_URL", &c.Postgres.URL)
	str("REDIS_URL", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("REFRESH_HORIZON", &c.Refresh.Horizon)
	list("WEBHOOK_URLS", &c.Alerts.WebhookURLs)
	list("WATCH_SYMBOLS", &c.Refresh.Symbols)
	list("ALLOWED_ORIGINS", &c.Server.AllowedOrigins)

	if v, ok := lookup("REFRESH_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REFRESH_INTERVAL: %w", err)
		}
		c.Refresh.Interval = d
	}
	if v, ok := lookup("BINANCE_ENABLED"); ok && v != "" {
		c.Binance.Enabled = v != "false" && v != "0"
	}

	// REDIS_URL=disabled is an explicit opt-out
	if c.Redis.Addr == "disabled" {
		c.Redis.Addr = ""
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("server.rate_limit must be positive, got %d", c.Server.RateLimit)
	}
	if c.Refresh.Interval < 0 {
		return fmt.Errorf("refresh.interval cannot be negative")
	}
	if c.Refresh.Interval > 0 && len(c.Refresh.Symbols) == 0 {
		return fmt.Errorf("refresh.symbols cannot be empty when refresh.interval is set")
	}
	switch c.Refresh.Horizon {
	case "1h", "4h", "1d", "1w", "1m":
	default:
		return fmt.Errorf("refresh.horizon must be one of 1h, 4h, 1d, 1w, 1m, got '%s'", c.Refresh.Horizon)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
