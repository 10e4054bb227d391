package config

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_minutes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WebhookConfig holds signing secrets per environment. The webhook endpoint
// selects a secret with the ?env= query parameter; "default" is used when
// the parameter is absent.
type WebhookConfig struct {
	Secrets          map[string]string `mapstructure:"secrets"`
	ToleranceSeconds int               `mapstructure:"tolerance_seconds"`
}

type StripeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type NotificationConfig struct {
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

type SchedulerConfig struct {
	IntervalSeconds          int `mapstructure:"interval_seconds"`
	FailedEventRetentionDays int `mapstructure:"failed_event_retention_days"`
}

type ObservabilityConfig struct {
	Environment  string `mapstructure:"environment"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

type Config struct {
	HTTP          HTTPConfig          `mapstructure:"http"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Stripe        StripeConfig        `mapstructure:"stripe"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Observability ObservabilityConfig `mapstructure:"observability"`

	// APIKeys authorize the internal command API. Compared constant-time.
	APIKeys []string `mapstructure:"api_keys"`

	MachineID int64 `mapstructure:"machine_id"`

	// secrets is the live secret store behind SecretFor. Config travels by
	// value through fx, so rotation has to land in shared state every copy
	// points at; the pointer is what makes the file watcher visible to
	// consumers. Nil outside Load, where SecretFor falls back to the
	// unmarshalled map.
	secrets *secretStore
}

// secretStore guards the webhook signing secrets against concurrent reads
// from request handlers while the watcher swaps the map underneath them.
type secretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func (s *secretStore) get(env string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.secrets[env]
	return secret, ok
}

func (s *secretStore) replace(secrets map[string]string) {
	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()
}

var ErrMissingWebhookSecret = errors.New("missing_webhook_secret")

// SecretFor resolves the signing secret for an environment selector.
func (c Config) SecretFor(env string) (string, error) {
	env = strings.TrimSpace(env)
	if env == "" {
		env = "default"
	}
	var secret string
	var ok bool
	if c.secrets != nil {
		secret, ok = c.secrets.get(env)
	} else {
		secret, ok = c.Webhook.Secrets[env]
	}
	if !ok || strings.TrimSpace(secret) == "" {
		return "", ErrMissingWebhookSecret
	}
	return secret, nil
}

func (c Config) Tolerance() time.Duration {
	if c.Webhook.ToleranceSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Webhook.ToleranceSeconds) * time.Second
}

func Load() (Config, error) {
	// Best effort; env vars may come from the real environment.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("paygate")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/paygate")

	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	// Secrets rotate without restarts. The store pointer is shared by every
	// Config copy fx hands out, so the swap here reaches all of them.
	cfg.secrets = &secretStore{secrets: cfg.Webhook.Secrets}
	v.OnConfigChange(func(fsnotify.Event) {
		var next Config
		if err := v.Unmarshal(&next); err == nil {
			cfg.secrets.replace(next.Webhook.Secrets)
		}
	})
	v.WatchConfig()

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_minutes", 30)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("webhook.tolerance_seconds", 300)
	v.SetDefault("scheduler.interval_seconds", 60)
	v.SetDefault("scheduler.failed_event_retention_days", 30)
	v.SetDefault("observability.environment", "development")
	v.SetDefault("machine_id", 1)
}
