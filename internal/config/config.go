// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`   // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"LOG_FORMAT"` // json|console
	Sampling bool   `yaml:"sampling"`                // enable sampling in prod
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// WebhookAllowlist holds CIDRs allowed to call /webhooks/*. Empty allows all.
	WebhookAllowlist []string `yaml:"webhook_allowlist" env:"WEBHOOK_ALLOWLIST" envSeparator:","`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" env:"METRICS_ADDR"`
}

type DatabaseConfig struct {
	URL            string        `yaml:"url" env:"DATABASE_URL"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // plan cache ttl
}

type YooKassaConfig struct {
	ShopID    string        `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey string        `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	BaseURL   string        `yaml:"base_url" env:"YOOKASSA_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout"`
	RetryMax  int           `yaml:"retry_max"`
}

type ProvidersConfig struct {
	YooKassa YooKassaConfig `yaml:"yookassa"`
	// Sandbox registers the in-memory gateway instead of real providers.
	Sandbox bool `yaml:"sandbox" env:"PROVIDERS_SANDBOX"`
}

// JobConfig is the schedule of one periodic worker.
type JobConfig struct {
	Interval    time.Duration `yaml:"interval"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
}

type WorkersConfig struct {
	// Provider is the gateway name the matchers reconcile against.
	Provider string `yaml:"provider" env:"WORKERS_PROVIDER"`

	SuccessWindow   time.Duration `yaml:"success_window"`
	PendingLookback time.Duration `yaml:"pending_lookback"`
	WaitingDays     int           `yaml:"waiting_days" env:"PAYMENT_WAITING_DAYS"`
	GracePeriod     time.Duration `yaml:"grace_period" env:"SUBSCRIPTION_GRACE_PERIOD"`

	MatchSucceeded      JobConfig `yaml:"match_succeeded"`
	MatchPending        JobConfig `yaml:"match_pending"`
	ExpirePayments      JobConfig `yaml:"expire_payments"`
	Autopayments        JobConfig `yaml:"autopayments"`
	ExpireSubscriptions JobConfig `yaml:"expire_subscriptions"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type Config struct {
	Log         LogConfig         `yaml:"log"`
	HTTP        HTTPConfig        `yaml:"http"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Workers     WorkersConfig     `yaml:"workers"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads -config and -dev from the command line and loads the file.
// Commands that need extra flags register them before calling it.
func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads the yaml file, then applies a .env file (if any) and environment
// overrides, fills defaults and validates.
func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// a missing .env is fine
	_ = godotenv.Load()
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	cfg.Runtime.Dev = dev
	if err := cfg.Validate(); err != nil {
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
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	cfg.HTTP.ReadTimeout = orDefault(cfg.HTTP.ReadTimeout, 10*time.Second)
	cfg.HTTP.WriteTimeout = orDefault(cfg.HTTP.WriteTimeout, 15*time.Second)
	cfg.HTTP.RequestTimeout = orDefault(cfg.HTTP.RequestTimeout, 10*time.Second)
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Database.ConnectTimeout = orDefault(cfg.Database.ConnectTimeout, time.Minute)
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.Providers.YooKassa.BaseURL == "" {
		cfg.Providers.YooKassa.BaseURL = "https://api.yookassa.ru/v3"
	}
	cfg.Providers.YooKassa.Timeout = orDefault(cfg.Providers.YooKassa.Timeout, 15*time.Second)
	if cfg.Providers.YooKassa.RetryMax <= 0 {
		cfg.Providers.YooKassa.RetryMax = 2
	}

	w := &cfg.Workers
	if w.Provider == "" {
		w.Provider = "yookassa"
		if cfg.Providers.Sandbox {
			w.Provider = "sandbox"
		}
	}
	w.SuccessWindow = orDefault(w.SuccessWindow, time.Hour)
	w.PendingLookback = orDefault(w.PendingLookback, 30*24*time.Hour)
	if w.WaitingDays <= 0 {
		w.WaitingDays = 7
	}
	w.GracePeriod = orDefault(w.GracePeriod, 3*24*time.Hour)
	w.MatchSucceeded.applyDefaults(5 * time.Minute)
	w.MatchPending.applyDefaults(15 * time.Minute)
	w.ExpirePayments.applyDefaults(time.Hour)
	w.Autopayments.applyDefaults(10 * time.Minute)
	w.ExpireSubscriptions.applyDefaults(time.Hour)

	cfg.Idempotency.TTL = orDefault(cfg.Idempotency.TTL, 1200*time.Second)
}

func (j *JobConfig) applyDefaults(interval time.Duration) {
	j.Interval = orDefault(j.Interval, interval)
	j.RunTimeout = orDefault(j.RunTimeout, 5*time.Minute)
	if j.BatchSize <= 0 {
		j.BatchSize = 200
	}
	if j.Concurrency <= 0 {
		j.Concurrency = 4
	}
}

// Validate performs minimal validation.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if cfg.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if !cfg.Providers.Sandbox {
		if cfg.Providers.YooKassa.ShopID == "" || cfg.Providers.YooKassa.SecretKey == "" {
			errs = append(errs, errors.New("providers.yookassa.shop_id and secret_key are required"))
		}
	}
	if cfg.Workers.PendingLookback < time.Duration(cfg.Workers.WaitingDays)*24*time.Hour {
		errs = append(errs, errors.New("workers.pending_lookback must cover workers.waiting_days"))
	}
	return errors.Join(errs...)
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
