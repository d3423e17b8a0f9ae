package config

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	Log        LogConfig      `mapstructure:"log"`
	HTTP       HTTPConfig     `mapstructure:"http"`
	MySQL      DatabaseConfig `mapstructure:"mysql"`
	ClickHouse DatabaseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Kafka      KafkaConfig    `mapstructure:"kafka"`
	Outbox     OutboxConfig   `mapstructure:"outbox"`
	Consumer   ConsumerConfig `mapstructure:"consumer"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
	BatchTimeout   int      `mapstructure:"batch_timeout_ms"`
}

// OutboxConfig tunes the producer side: how the runner polls, how entries
// are fetched, how partition keys default.
type OutboxConfig struct {
	// Namespace prefixes distributed lock names, e.g. "dionysus".
	Namespace string `mapstructure:"namespace"`
	// Topics the runner drains, in order.
	Topics    []string `mapstructure:"topics"`
	BatchSize int      `mapstructure:"batch_size"`
	// PollInterval is the sleep between empty polls of a topic.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// PublishingDelay shifts the retry_at comparison so a freshly retried
	// entry is not picked up again by an overlapping drain.
	PublishingDelay time.Duration `mapstructure:"publishing_delay"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
	// DefaultPartitionKey is the process-wide fallback attribute used when
	// a topic declares no partition-key spec of its own.
	DefaultPartitionKey string `mapstructure:"default_partition_key"`
	// RemoveConsecutiveDuplicates collapses back-to-back entries for the
	// same resource before publishing.
	RemoveConsecutiveDuplicates bool `mapstructure:"remove_consecutive_duplicates"`
	// InlineObserverThreshold is the default fan-out size above which
	// observer publishes go through the async genesis job.
	InlineObserverThreshold int `mapstructure:"inline_observer_threshold"`
	// GenesisBatchSize is how many records one genesis streaming step loads.
	GenesisBatchSize int `mapstructure:"genesis_batch_size"`
}

// ConsumerConfig tunes the consumer side.
type ConsumerConfig struct {
	GroupID string   `mapstructure:"group_id"`
	Topics  []string `mapstructure:"topics"`
	// MutexTTL bounds the per-message keyed mutex held in redis.
	MutexTTL time.Duration `mapstructure:"mutex_ttl"`
	// JobWorkers sizes the async job runner pool.
	JobWorkers int `mapstructure:"job_workers"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (DIONYSUS_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (DIONYSUS_*)
	v.SetEnvPrefix("DIONYSUS")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
