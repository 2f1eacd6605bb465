// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

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
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | sqlite
	URL      string `yaml:"url"`
	Path     string `yaml:"path"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ProviderConfig struct {
	Kind      string        `yaml:"kind"` // http | mock
	BaseURL   string        `yaml:"base_url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	PageSize  int           `yaml:"page_size"`

	BreakerMaxRequests uint32        `yaml:"breaker_max_requests"`
	BreakerInterval    time.Duration `yaml:"breaker_interval"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

type PipelineConfig struct {
	RateLimitDelay    time.Duration `yaml:"rate_limit_delay"`
	RateLimiter       string        `yaml:"rate_limiter"` // local | redis
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	BatchSize         int           `yaml:"batch_size"`
	BufferCapacity    int           `yaml:"buffer_capacity"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	ReaperInterval    time.Duration `yaml:"reaper_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryCooldown     time.Duration `yaml:"retry_cooldown"`
	RetryScanInterval time.Duration `yaml:"retry_scan_interval"`
	ETAWindow         int           `yaml:"eta_window"`
	ETAFallback       time.Duration `yaml:"eta_fallback"`
	PageRetries       int           `yaml:"page_retries"`
	PageRetryBackoff  time.Duration `yaml:"page_retry_backoff"`
	LimitCap          int           `yaml:"limit_cap"`
	HistorySize       int           `yaml:"history_size"`
	CacheScanLimit    int           `yaml:"cache_scan_limit"`
}

type AutoIngestConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Cron           string        `yaml:"cron"`
	Keywords       []string      `yaml:"keywords"`
	Limit          int           `yaml:"limit"`
	MinSubscribers int64         `yaml:"min_subscribers"`
	IdleCheckCron  string        `yaml:"idle_check_cron"`
	IdleAfter      time.Duration `yaml:"idle_after"`
	RandomWordURL  string        `yaml:"random_word_url"`
}

type SecurityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	APIKey    string `yaml:"api_key"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	AutoIngest AutoIngestConfig `yaml:"auto_ingest"`
	Security   SecurityConfig   `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path, expands ${ENV} placeholders,
// applies defaults and validates the result.
func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/records.db"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	c.Redis.TTL = normalizeTTL(c.Redis.TTL)

	p := &c.Provider
	if p.Kind == "" {
		p.Kind = "http"
	}
	if p.UserAgent == "" {
		p.UserAgent = "subsearch-pipeline/1.0"
	}
	if p.Timeout <= 0 {
		p.Timeout = 20 * time.Second
	}
	if p.PageSize <= 0 || p.PageSize > 100 {
		p.PageSize = 100
	}
	if p.BreakerMaxRequests == 0 {
		p.BreakerMaxRequests = 1
	}
	if p.BreakerInterval <= 0 {
		p.BreakerInterval = time.Minute
	}
	if p.BreakerTimeout <= 0 {
		p.BreakerTimeout = 30 * time.Second
	}

	pl := &c.Pipeline
	if pl.RateLimitDelay <= 0 {
		pl.RateLimitDelay = 150 * time.Millisecond
	}
	if pl.RateLimiter == "" {
		pl.RateLimiter = "local"
	}
	if pl.MaxConcurrentJobs <= 0 {
		pl.MaxConcurrentJobs = 1
	}
	if pl.BatchSize <= 0 {
		pl.BatchSize = 32
	}
	if pl.BufferCapacity < pl.BatchSize {
		pl.BufferCapacity = pl.BatchSize * 4
	}
	if pl.FlushInterval <= 0 {
		pl.FlushInterval = 2 * time.Second
	}
	if pl.JobTimeout <= 0 {
		pl.JobTimeout = time.Hour
	}
	if pl.ReaperInterval <= 0 {
		pl.ReaperInterval = 5 * time.Minute
	}
	if pl.MaxAttempts <= 0 {
		pl.MaxAttempts = 3
	}
	if pl.RetryCooldown <= 0 {
		pl.RetryCooldown = 10 * time.Minute
	}
	if pl.RetryScanInterval <= 0 {
		pl.RetryScanInterval = 30 * time.Second
	}
	if pl.ETAWindow <= 0 {
		pl.ETAWindow = 10
	}
	if pl.ETAFallback <= 0 {
		pl.ETAFallback = 60 * time.Second
	}
	if pl.PageRetries < 0 {
		pl.PageRetries = 0
	} else if pl.PageRetries == 0 {
		pl.PageRetries = 2
	}
	if pl.PageRetryBackoff <= 0 {
		pl.PageRetryBackoff = time.Second
	}
	if pl.LimitCap <= 0 {
		pl.LimitCap = 2000
	}
	if pl.HistorySize <= 0 {
		pl.HistorySize = 500
	}
	if pl.CacheScanLimit <= 0 {
		pl.CacheScanLimit = 5000
	}

	a := &c.AutoIngest
	if a.Cron == "" {
		a.Cron = "@every 3h"
	}
	if a.Limit <= 0 {
		a.Limit = 1000
	}
	if a.IdleCheckCron == "" {
		a.IdleCheckCron = "@every 1m"
	}
	if a.IdleAfter <= 0 {
		a.IdleAfter = 7 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	switch c.Provider.Kind {
	case "http":
		if c.Provider.BaseURL == "" {
			return errors.New("provider.base_url is required")
		}
	case "mock":
	default:
		return fmt.Errorf("provider.kind %q not supported", c.Provider.Kind)
	}
	switch c.Pipeline.RateLimiter {
	case "local":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required for the redis rate limiter")
		}
	default:
		return fmt.Errorf("pipeline.rate_limiter %q not supported", c.Pipeline.RateLimiter)
	}
	if c.Security.APIKey != "" && c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required when api_key is set")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
