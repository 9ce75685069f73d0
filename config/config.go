package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	FulfillBox FulfillBoxConfig `yaml:"fulfillbox"`

	Storefronts []StorefrontConfig `yaml:"storefronts" validate:"dive"`
	Suppliers   []SupplierConfig   `yaml:"suppliers" validate:"dive"`

	// StatusTranslations overrides the sweep's supplier status tables:
	// supplier type -> supplier status code -> track state.
	StatusTranslations map[string]map[string]string `yaml:"status_translations"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host           string `yaml:"host" validate:"required"`
	Port           int    `yaml:"port" validate:"required,min=1,max=65535"`
	TasksTopicName string `yaml:"tasks_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type FulfillBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	LogLevel           string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	TrackListTTLSeconds    int `yaml:"track_list_ttl_seconds" validate:"min=0"`
	RemoteCacheBatchSize   int `yaml:"remote_cache_batch_size" validate:"min=0,max=200"`
	RemoteCacheConcurrency int `yaml:"remote_cache_concurrency" validate:"min=0"`

	NoteLockTTLSeconds   int `yaml:"note_lock_ttl_seconds" validate:"min=0"`
	NoteLockWaitSeconds  int `yaml:"note_lock_wait_seconds" validate:"min=0"`
	NoteLimit            int `yaml:"note_limit" validate:"min=0"`
	NoteDelaySeconds     int `yaml:"note_delay_seconds" validate:"min=0"`
	TaskMaxAttempts      int `yaml:"task_max_attempts" validate:"min=0,max=20"`
	TaskRetryStepSeconds int `yaml:"task_retry_step_seconds" validate:"min=0"`

	WorkerHTTPAddr              string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds   int    `yaml:"worker_poll_interval_seconds" validate:"min=0"`
	WorkerBatchSize             int    `yaml:"worker_batch_size" validate:"min=0"`
	WorkerConcurrency           int    `yaml:"worker_concurrency" validate:"min=0"`
	WorkerLeaseSeconds          int    `yaml:"worker_lease_seconds" validate:"min=0"`
	WorkerBudgetSeconds         int    `yaml:"worker_budget_seconds" validate:"min=0"`
	WorkerRateLimitPerMinute    int    `yaml:"worker_rate_limit_per_minute" validate:"min=0"`
	WorkerMaxFailures           int    `yaml:"worker_max_failures" validate:"min=0"`
	WorkerWriteBackDelaySeconds int    `yaml:"worker_write_back_delay_seconds" validate:"min=0"`

	// Worker scheduling (optional). If not set: ORDERED 30..90 minutes,
	// PARTIALLY_SHIPPED 60 minutes, NEW/PENDING 15 minutes, backoff 5/15/30/60 minutes.
	WorkerNextCheckOrderedMinSeconds int `yaml:"worker_next_check_ordered_min_seconds" validate:"min=0"`
	WorkerNextCheckOrderedMaxSeconds int `yaml:"worker_next_check_ordered_max_seconds" validate:"min=0"`
	WorkerNextCheckPartialSeconds    int `yaml:"worker_next_check_partial_seconds" validate:"min=0"`
	WorkerNextCheckPendingSeconds    int `yaml:"worker_next_check_pending_seconds" validate:"min=0"`
	WorkerBackoff1Seconds            int `yaml:"worker_backoff_1_seconds" validate:"min=0"`
	WorkerBackoff2Seconds            int `yaml:"worker_backoff_2_seconds" validate:"min=0"`
	WorkerBackoff3Seconds            int `yaml:"worker_backoff_3_seconds" validate:"min=0"`
	WorkerBackoff4Seconds            int `yaml:"worker_backoff_4_seconds" validate:"min=0"`
}

// SlogLevel maps log_level to a slog level; unset means info.
func (f FulfillBoxConfig) SlogLevel() slog.Level {
	switch f.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Seconds converts a *_seconds setting, falling back to def when unset.
func Seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// StorefrontConfig registers an adapter for one storefront platform.
type StorefrontConfig struct {
	Platform string `yaml:"platform" validate:"required"`
	Kind     string `yaml:"kind" validate:"required,oneof=restv1 fake"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
	Token    string `yaml:"token"`
}

// SupplierConfig registers an adapter for one supplier type.
type SupplierConfig struct {
	Type               string `yaml:"type" validate:"required"`
	Kind               string `yaml:"kind" validate:"required,oneof=restv1 eventfeed fake"`
	BaseURL            string `yaml:"base_url" validate:"omitempty,url"`
	APIKey             string `yaml:"api_key"`
	Domain             string `yaml:"domain"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"min=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fb := c.FulfillBox
	if fb.WorkerNextCheckOrderedMaxSeconds > 0 && fb.WorkerNextCheckOrderedMaxSeconds < fb.WorkerNextCheckOrderedMinSeconds {
		return fmt.Errorf("invalid config: worker_next_check_ordered_max_seconds is below the min")
	}
	seen := map[string]bool{}
	for _, s := range c.Suppliers {
		if seen[s.Type] {
			return fmt.Errorf("invalid config: supplier type %q listed twice", s.Type)
		}
		seen[s.Type] = true
	}
	seen = map[string]bool{}
	for _, s := range c.Storefronts {
		if seen[s.Platform] {
			return fmt.Errorf("invalid config: storefront platform %q listed twice", s.Platform)
		}
		seen[s.Platform] = true
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
