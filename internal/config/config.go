package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	Tracking TrackingConfig `yaml:"tracking"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the dispatch queue backend settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SMTPConfig holds SMTP transport credentials.
type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the SMTP dial/transaction timeout.
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether SMTP credentials are present.
func (c SMTPConfig) Configured() bool {
	return c.Host != ""
}

// SendGridConfig holds HTTP mail API credentials. When an API key is set it
// takes precedence over SMTP.
type SendGridConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the API request timeout.
func (c SendGridConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Configured reports whether an API key is present.
func (c SendGridConfig) Configured() bool {
	return c.APIKey != ""
}

// TrackingConfig holds the public tracking endpoint settings.
type TrackingConfig struct {
	// BaseURL is the public origin links and pixels point at,
	// e.g. "https://mail.example.com".
	BaseURL string `yaml:"base_url"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the host:port listen address for the tracking server.
func (c TrackingConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DispatchConfig holds queue pacing and worker settings.
type DispatchConfig struct {
	EmailsPerMinute        int `yaml:"emails_per_minute"`
	MaxAttempts            int `yaml:"max_attempts"`
	BackoffBaseSeconds     int `yaml:"backoff_base_seconds"`
	Workers                int `yaml:"workers"`
	PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
	StaleAgeSeconds        int `yaml:"stale_age_seconds"`
	RecoveryIntervalSecond int `yaml:"recovery_interval_seconds"`
}

// BackoffBase returns the first-retry backoff duration.
func (c DispatchConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// PollInterval returns how often idle workers look for due jobs.
func (c DispatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StaleAge returns how long a claimed job may sit before it is considered
// stalled.
func (c DispatchConfig) StaleAge() time.Duration {
	return time.Duration(c.StaleAgeSeconds) * time.Second
}

// RecoveryInterval returns how often the stalled-job sweep runs.
func (c DispatchConfig) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSecond) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.TimeoutSeconds == 0 {
		cfg.SMTP.TimeoutSeconds = 30
	}
	if cfg.SendGrid.BaseURL == "" {
		cfg.SendGrid.BaseURL = "https://api.sendgrid.com"
	}
	if cfg.SendGrid.TimeoutSeconds == 0 {
		cfg.SendGrid.TimeoutSeconds = 30
	}
	if cfg.Tracking.Port == 0 {
		cfg.Tracking.Port = 8081
	}
	if cfg.Tracking.Host == "" {
		cfg.Tracking.Host = "localhost"
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8081"
	}
	if cfg.Dispatch.EmailsPerMinute == 0 {
		cfg.Dispatch.EmailsPerMinute = 60
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.BackoffBaseSeconds == 0 {
		cfg.Dispatch.BackoffBaseSeconds = 2
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.PollIntervalSeconds == 0 {
		cfg.Dispatch.PollIntervalSeconds = 1
	}
	if cfg.Dispatch.StaleAgeSeconds == 0 {
		cfg.Dispatch.StaleAgeSeconds = 300
	}
	if cfg.Dispatch.RecoveryIntervalSecond == 0 {
		cfg.Dispatch.RecoveryIntervalSecond = 120
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		cfg.SendGrid.APIKey = v
	}
	if v := os.Getenv("SENDGRID_BASE_URL"); v != "" {
		cfg.SendGrid.BaseURL = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("EMAILS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.EmailsPerMinute = n
		}
	}

	return cfg, nil
}
