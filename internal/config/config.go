// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// SecurityConfig holds the key used to seal provider tokens cached in Redis.
// Tokens are cached in plaintext when TokenKey is empty.
type SecurityConfig struct {
	TokenKey string `yaml:"token_key"`
}

type AppConfig struct {
	URL string `yaml:"url"` // public URL of the web app, used for PayPal return links
}

type MpesaConfig struct {
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	ShortCode      string        `yaml:"shortcode"`
	PassKey        string        `yaml:"passkey"`
	CallbackURL    string        `yaml:"callback_url"`
	Environment    string        `yaml:"environment"` // sandbox|production
	Timeout        time.Duration `yaml:"timeout"`
}

type PayPalConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Mode         string        `yaml:"mode"` // sandbox|production
	Timeout      time.Duration `yaml:"timeout"`
}

type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	StaleAfter   time.Duration `yaml:"stale_after"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	Workers    int           `yaml:"workers"`
}

type SweepConfig struct {
	TierSweepCron string `yaml:"tier_sweep_cron"`
}

type RateLimitConfig struct {
	InitiatePerWindow int           `yaml:"initiate_per_window"`
	Window            time.Duration `yaml:"window"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Security   SecurityConfig   `yaml:"security"`
	App        AppConfig        `yaml:"app"`
	Mpesa      MpesaConfig      `yaml:"mpesa"`
	PayPal     PayPalConfig     `yaml:"paypal"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Sweep      SweepConfig      `yaml:"sweep"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads an optional .env next to the working directory, then the
// YAML file at path with ${VAR} references expanded from the environment.
func LoadConfig(path string, dev bool) (*Config, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

// Parse decodes and validates a YAML document.
func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 64 << 10
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if cfg.App.URL == "" {
		cfg.App.URL = "http://localhost:3000"
	}
	if cfg.Mpesa.Environment == "" {
		cfg.Mpesa.Environment = "sandbox"
	}
	if cfg.Mpesa.Timeout <= 0 {
		cfg.Mpesa.Timeout = 15 * time.Second
	}
	if cfg.PayPal.Mode == "" {
		cfg.PayPal.Mode = "sandbox"
	}
	if cfg.PayPal.Timeout <= 0 {
		cfg.PayPal.Timeout = 15 * time.Second
	}
	if cfg.Outbox.PollInterval <= 0 {
		cfg.Outbox.PollInterval = 1200 * time.Millisecond
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 50
	}
	if cfg.Outbox.StaleAfter <= 0 {
		cfg.Outbox.StaleAfter = 2 * time.Minute
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if cfg.Sweep.TierSweepCron == "" {
		cfg.Sweep.TierSweepCron = "@every 15m"
	}
	if cfg.RateLimit.InitiatePerWindow <= 0 {
		cfg.RateLimit.InitiatePerWindow = 5
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
}

func (cfg *Config) validate() error {
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if n := len(cfg.Security.TokenKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return fmt.Errorf("security.token_key must be 16, 24 or 32 bytes, got %d", n)
	}
	if cfg.Runtime.Dev {
		return nil
	}
	if !cfg.MpesaConfigured() {
		return errors.New("mpesa consumer_key, consumer_secret, shortcode, passkey and callback_url are required")
	}
	if !cfg.PayPalConfigured() {
		return errors.New("paypal client_id and client_secret are required")
	}
	if cfg.RabbitMQ.URL == "" {
		return errors.New("rabbitmq.url is required")
	}
	return nil
}

func (cfg *Config) MpesaConfigured() bool {
	m := cfg.Mpesa
	return m.ConsumerKey != "" && m.ConsumerSecret != "" && m.ShortCode != "" && m.PassKey != "" && m.CallbackURL != ""
}

func (cfg *Config) PayPalConfigured() bool {
	return cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != ""
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
