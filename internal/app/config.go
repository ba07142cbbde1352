package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/planforge-backend/internal/data/db"
	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/generation/provider/anthropic"
	"github.com/yungbote/planforge-backend/internal/generation/provider/chain"
	"github.com/yungbote/planforge-backend/internal/generation/provider/oaihttp"
	"github.com/yungbote/planforge-backend/internal/generation/reservation"
	"github.com/yungbote/planforge-backend/internal/generation/timeout"
	httpMW "github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/jobs/worker"
	"github.com/yungbote/planforge-backend/internal/observability"
	"github.com/yungbote/planforge-backend/internal/temporalx"
)

const (
	LockRow    = "row"
	LockMemory = "memory"
	LockRedis  = "redis"
)

type Config struct {
	Env     string
	LogMode string
	// LogSalt keys the hash applied to user identifiers in logs.
	LogSalt string
	Version string

	HTTPAddr    string
	CORSOrigins []string

	DB        db.Config
	Lock      LockConfig
	Redis     RedisConfig
	Providers chain.Config
	Timeout   timeout.Config
	Limits    reservation.Config
	Worker    worker.Config
	Temporal  temporalx.Config
	Auth      httpMW.AuthConfig
	Metrics   observability.MetricsConfig
	Otel      observability.OtelConfig
}

type LockConfig struct {
	Backend string
	TTL     time.Duration
	MaxWait time.Duration
}

type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return len(c.Addrs) > 0 }

func SetDefaults(v *viper.Viper) {
	limits := reservation.DefaultConfig()
	retry := provider.DefaultRetryConfig()
	wk := worker.DefaultConfig()

	v.SetDefault("env", "development")
	v.SetDefault("log.mode", "development")
	v.SetDefault("log.salt", "")
	v.SetDefault("version", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("db.driver", db.DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.log_level", "warn")

	v.SetDefault("lock.backend", LockRow)
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.max_wait", "5s")

	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("generation.providers", []string{})
	v.SetDefault("generation.requests_per_second", 0.0)
	v.SetDefault("generation.retry.max_retries", retry.MaxRetries)
	v.SetDefault("generation.retry.initial_backoff", retry.InitialBackoff.String())
	v.SetDefault("generation.retry.max_backoff", retry.MaxBackoff.String())
	v.SetDefault("generation.anthropic.api_key", "")
	v.SetDefault("generation.anthropic.base_url", "")
	v.SetDefault("generation.anthropic.model", "")
	v.SetDefault("generation.anthropic.max_tokens", 0)
	v.SetDefault("generation.openai.api_key", "")
	v.SetDefault("generation.openai.base_url", "")
	v.SetDefault("generation.openai.model", "")
	v.SetDefault("generation.openai.connect_timeout", "10s")
	v.SetDefault("generation.timeout.base", "10s")
	v.SetDefault("generation.timeout.extension", "10s")

	v.SetDefault("generation.attempt_cap", limits.AttemptCap)
	v.SetDefault("generation.window", limits.Window.String())
	v.SetDefault("generation.window_limit", limits.WindowLimit)
	v.SetDefault("generation.max_modules", limits.MaxModules)
	v.SetDefault("generation.max_tasks_per_module", limits.MaxTasksPerModule)

	v.SetDefault("worker.concurrency", wk.Concurrency)
	v.SetDefault("worker.poll_interval", wk.PollInterval.String())
	v.SetDefault("worker.heartbeat_interval", wk.HeartbeatInterval.String())
	v.SetDefault("worker.stale_running", wk.StaleRunning.String())
	v.SetDefault("worker.reconcile_interval", wk.ReconcileInterval.String())
	v.SetDefault("worker.stale_attempt", wk.StaleAttempt.String())

	v.SetDefault("temporal.address", "")
	v.SetDefault("temporal.namespace", "planforge")
	v.SetDefault("temporal.task_queue", "planforge")
	v.SetDefault("temporal.client_cert_path", "")
	v.SetDefault("temporal.client_key_path", "")
	v.SetDefault("temporal.client_ca_path", "")
	v.SetDefault("temporal.auto_register_namespace", false)
	v.SetDefault("temporal.concurrency", 8)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "planforge")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.leeway", "30s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.scrape_interval", "15s")

	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "planforge")
	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.headers", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)
}

// NewViper returns a viper instance with defaults registered and env binding
// enabled, so generation.attempt_cap reads GENERATION_ATTEMPT_CAP.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// LoadConfig reads the optional YAML file at path and resolves every key.
func LoadConfig(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = NewViper()
	}
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		Env:         v.GetString("env"),
		LogMode:     v.GetString("log.mode"),
		LogSalt:     v.GetString("log.salt"),
		Version:     v.GetString("version"),
		HTTPAddr:    v.GetString("http.addr"),
		CORSOrigins: stringList(v, "http.cors_origins"),
		DB: db.Config{
			Driver:       v.GetString("db.driver"),
			DSN:          v.GetString("db.dsn"),
			MaxOpenConns: v.GetInt("db.max_open_conns"),
			MaxIdleConns: v.GetInt("db.max_idle_conns"),
			LogLevel:     v.GetString("db.log_level"),
		},
		Lock: LockConfig{
			Backend: strings.ToLower(strings.TrimSpace(v.GetString("lock.backend"))),
			TTL:     v.GetDuration("lock.ttl"),
			MaxWait: v.GetDuration("lock.max_wait"),
		},
		Redis: RedisConfig{
			Addrs:    stringList(v, "redis.addrs"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Providers: chain.Config{
			Providers:         stringList(v, "generation.providers"),
			RequestsPerSecond: v.GetFloat64("generation.requests_per_second"),
			Retry: provider.RetryConfig{
				MaxRetries:     v.GetInt("generation.retry.max_retries"),
				InitialBackoff: v.GetDuration("generation.retry.initial_backoff"),
				MaxBackoff:     v.GetDuration("generation.retry.max_backoff"),
			},
			Anthropic: anthropic.Config{
				APIKey:    v.GetString("generation.anthropic.api_key"),
				BaseURL:   v.GetString("generation.anthropic.base_url"),
				Model:     v.GetString("generation.anthropic.model"),
				MaxTokens: v.GetInt("generation.anthropic.max_tokens"),
			},
			OpenAI: oaihttp.Config{
				APIKey:         v.GetString("generation.openai.api_key"),
				BaseURL:        v.GetString("generation.openai.base_url"),
				Model:          v.GetString("generation.openai.model"),
				ConnectTimeout: v.GetDuration("generation.openai.connect_timeout"),
			},
		},
		Timeout: timeout.Config{
			Base:      v.GetDuration("generation.timeout.base"),
			Extension: v.GetDuration("generation.timeout.extension"),
		},
		Limits: reservation.Config{
			Window:            v.GetDuration("generation.window"),
			WindowLimit:       v.GetInt("generation.window_limit"),
			AttemptCap:        v.GetInt("generation.attempt_cap"),
			MaxModules:        v.GetInt("generation.max_modules"),
			MaxTasksPerModule: v.GetInt("generation.max_tasks_per_module"),
		},
		Worker: worker.Config{
			Concurrency:       v.GetInt("worker.concurrency"),
			PollInterval:      v.GetDuration("worker.poll_interval"),
			HeartbeatInterval: v.GetDuration("worker.heartbeat_interval"),
			StaleRunning:      v.GetDuration("worker.stale_running"),
			ReconcileInterval: v.GetDuration("worker.reconcile_interval"),
			StaleAttempt:      v.GetDuration("worker.stale_attempt"),
		},
		Temporal: temporalx.Config{
			Address:               v.GetString("temporal.address"),
			Namespace:             v.GetString("temporal.namespace"),
			TaskQueue:             v.GetString("temporal.task_queue"),
			ClientCertPath:        v.GetString("temporal.client_cert_path"),
			ClientKeyPath:         v.GetString("temporal.client_key_path"),
			ClientCAPath:          v.GetString("temporal.client_ca_path"),
			AutoRegisterNamespace: v.GetBool("temporal.auto_register_namespace"),
			Concurrency:           v.GetInt("temporal.concurrency"),
		},
		Auth: httpMW.AuthConfig{
			Secret:   v.GetString("auth.secret"),
			Issuer:   v.GetString("auth.issuer"),
			Audience: v.GetString("auth.audience"),
			Leeway:   v.GetDuration("auth.leeway"),
		},
		Metrics: observability.MetricsConfig{
			Enabled:        v.GetBool("metrics.enabled"),
			Addr:           v.GetString("metrics.addr"),
			ScrapeInterval: v.GetDuration("metrics.scrape_interval"),
		},
		Otel: observability.OtelConfig{
			Enabled:     v.GetBool("otel.enabled"),
			ServiceName: v.GetString("otel.service_name"),
			Endpoint:    v.GetString("otel.endpoint"),
			Headers:     observability.ParseHeaders(v.GetString("otel.headers")),
			Insecure:    v.GetBool("otel.insecure"),
			SampleRatio: v.GetFloat64("otel.sample_ratio"),
		},
	}
	cfg.Otel.Environment = cfg.Env
	cfg.Otel.Version = cfg.Version
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Lock.Backend {
	case LockRow, LockMemory:
	case LockRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("lock.backend=redis requires redis.addrs")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	if c.Limits.AttemptCap < 1 {
		return fmt.Errorf("generation.attempt_cap must be at least 1")
	}
	if c.Limits.WindowLimit < 1 || c.Limits.Window <= 0 {
		return fmt.Errorf("generation.window and generation.window_limit must be positive")
	}
	if c.Timeout.Base <= 0 || c.Timeout.Extension < 0 {
		return fmt.Errorf("generation.timeout.base must be positive")
	}
	return nil
}

// stringList accepts both YAML lists and comma-separated env values.
func stringList(v *viper.Viper, key string) []string {
	raw := v.GetStringSlice(key)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
