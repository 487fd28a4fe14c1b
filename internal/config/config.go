package config

import (
	"errors"
	"fmt"
	"os"

	"mindbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig        `yaml:"app"`
	Database       DatabaseConfig   `yaml:"database"`
	Redis          RedisConfig      `yaml:"redis"`
	Gateway        GatewayConfig    `yaml:"gateway"`
	Meeting        MeetingConfig    `yaml:"meeting"`
	Booking        BookingConfig    `yaml:"booking"`
	API            APIConfig        `yaml:"api"`
	Monitoring     MonitoringConfig `yaml:"monitoring"`
	Logging        LoggingConfig    `yaml:"logging"`
	TherapistsFile string           `yaml:"therapists_file"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	SecretKey      string `yaml:"secret_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type MeetingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// BookingConfig is the orchestration policy: how long a payment may hold a
// slot, how the client poller paces itself, and the cancellation window.
type BookingConfig struct {
	HoldTimeoutMinutes int `yaml:"hold_timeout_minutes"`
	SweepSeconds       int `yaml:"sweep_seconds"`
	CancelWindowHours  int `yaml:"cancel_window_hours"`
	PollSeconds        int `yaml:"poll_seconds"`
	PollMaxAttempts    int `yaml:"poll_max_attempts"`
	VerifyMaxRetries   int `yaml:"verify_max_retries"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional outside local development.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment variables can be referenced from YAML values.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Gateway.BaseURL == "" {
		return errors.New("gateway base_url is required")
	}
	if c.Gateway.SecretKey == "" || c.Gateway.SecretKey == "YOUR_SECRET_KEY_HERE" {
		return errors.New("gateway secret_key is required")
	}
	if c.Booking.CancelWindowHours < 0 {
		return errors.New("booking cancel_window_hours must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	if c.Booking.HoldTimeoutMinutes == 0 {
		c.Booking.HoldTimeoutMinutes = models.DefaultHoldTimeoutMinutes
	}
	if c.Booking.SweepSeconds == 0 {
		c.Booking.SweepSeconds = models.DefaultSweepSeconds
	}
	if c.Booking.CancelWindowHours == 0 {
		c.Booking.CancelWindowHours = models.DefaultCancelWindowHours
	}
	if c.Booking.PollSeconds == 0 {
		c.Booking.PollSeconds = models.DefaultPollSeconds
	}
	if c.Booking.PollMaxAttempts == 0 {
		c.Booking.PollMaxAttempts = models.DefaultPollMaxAttempts
	}
	if c.Booking.VerifyMaxRetries == 0 {
		c.Booking.VerifyMaxRetries = 3
	}

	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}
	if c.Meeting.TimeoutSeconds == 0 {
		c.Meeting.TimeoutSeconds = 5
	}
}
