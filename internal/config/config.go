package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StoreBackendFile     = "file"
	StoreBackendPostgres = "postgres"
)

type Config struct {
	Env                   string        `mapstructure:"ENV"`
	LogLevel              string        `mapstructure:"LOG_LEVEL"`
	APIURL                string        `mapstructure:"API_URL"`
	HTTPTimeout           time.Duration `mapstructure:"HTTP_TIMEOUT"`
	ListenAddr            string        `mapstructure:"LISTEN_ADDR"`
	StoreBackend          string        `mapstructure:"STORE_BACKEND"`
	StorePath             string        `mapstructure:"STORE_PATH"`
	DatabaseURL           string        `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32         `mapstructure:"DB_MIN_CONNS"`
	NotificationsEnabled  bool          `mapstructure:"NOTIFICATIONS_ENABLED"`
	ReminderDefaultHour   int           `mapstructure:"REMINDER_DEFAULT_HOUR"`
	ReminderDefaultMinute int           `mapstructure:"REMINDER_DEFAULT_MINUTE"`
	ReminderResync        string        `mapstructure:"REMINDER_RESYNC"`
	Timezone              string        `mapstructure:"TIMEZONE"`
	PushToken             string        `mapstructure:"PUSH_TOKEN"`
	PushPlatform          string        `mapstructure:"PUSH_PLATFORM"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"ENV", "LOG_LEVEL", "API_URL", "HTTP_TIMEOUT", "LISTEN_ADDR",
	"STORE_BACKEND", "STORE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"NOTIFICATIONS_ENABLED", "REMINDER_DEFAULT_HOUR", "REMINDER_DEFAULT_MINUTE",
	"REMINDER_RESYNC", "TIMEZONE", "PUSH_TOKEN", "PUSH_PLATFORM",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win over the file.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_TIMEOUT", "10s")
	v.SetDefault("LISTEN_ADDR", "127.0.0.1:8090")
	v.SetDefault("STORE_BACKEND", StoreBackendFile)
	v.SetDefault("STORE_PATH", "./data/companion.yaml")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("NOTIFICATIONS_ENABLED", true)
	v.SetDefault("REMINDER_DEFAULT_HOUR", 21)
	v.SetDefault("REMINDER_DEFAULT_MINUTE", 0)
	v.SetDefault("REMINDER_RESYNC", "@every 6h")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("PUSH_PLATFORM", "linux")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location returns the time zone reminders fire in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is usable. API_URL is required by
// every command.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API_URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}

	switch c.StoreBackend {
	case StoreBackendFile:
		if c.StorePath == "" {
			return fmt.Errorf("STORE_PATH is required when STORE_BACKEND is %q", StoreBackendFile)
		}
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", StoreBackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendFile, StoreBackendPostgres, c.StoreBackend)
	}

	if c.ReminderDefaultHour < 0 || c.ReminderDefaultHour > 23 {
		return fmt.Errorf("REMINDER_DEFAULT_HOUR must be 0-23, got %d", c.ReminderDefaultHour)
	}
	if c.ReminderDefaultMinute < 0 || c.ReminderDefaultMinute > 59 {
		return fmt.Errorf("REMINDER_DEFAULT_MINUTE must be 0-59, got %d", c.ReminderDefaultMinute)
	}
	if c.ReminderResync != "" {
		if _, err := cron.ParseStandard(c.ReminderResync); err != nil {
			return fmt.Errorf("REMINDER_RESYNC: %w", err)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
