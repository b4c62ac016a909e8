// Package config loads engine settings from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	latest "telemetry-engine/internal/latest/domain"
)

// EnvPrefix prefixes every bound environment variable.
const EnvPrefix = "TELEMETRY"

// Config is the full engine configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Composites CompositesConfig `mapstructure:"composites"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
	// Migrate applies pending migrations on serve.
	Migrate bool `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CacheConfig selects the latest-value and subscription store backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Ordering string `mapstructure:"ordering"`
}

// RetentionConfig holds purge windows. Zero keeps a store forever.
type RetentionConfig struct {
	Raw        time.Duration `mapstructure:"raw"`
	FiveMinute time.Duration `mapstructure:"five_minute"`
	Daily      time.Duration `mapstructure:"daily"`
	BatchSize  int           `mapstructure:"batch_size"`
	ArchiveDir string        `mapstructure:"archive_dir"`
	// Interval runs purge and the catch-up sweep from serve; zero disables it.
	Interval time.Duration `mapstructure:"interval"`
}

type RelayConfig struct {
	Driver       string   `mapstructure:"driver"`
	NATSURL      string   `mapstructure:"nats_url"`
	NATSPrefix   string   `mapstructure:"nats_prefix"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroup   string   `mapstructure:"kafka_group"`
}

// CompositesConfig selects where composite definitions come from.
type CompositesConfig struct {
	Source string `mapstructure:"source"`
	File   string `mapstructure:"file"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Backends and drivers.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	RelayNone       = "none"
	RelayNATS       = "nats"
	RelayKafka      = "kafka"
	SourceNone      = "none"
	SourceFile      = "file"
	SourcePostgres  = "postgres"
	defaultHTTPAddr = ":8080"
)

// New returns a viper instance with defaults and env bindings applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("http.addr", defaultHTTPAddr)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 60*time.Second)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.ordering", string(latest.LastWriteWins))
	v.SetDefault("retention.batch_size", 1000)
	v.SetDefault("relay.driver", RelayNone)
	v.SetDefault("relay.nats_prefix", "telemetry")
	v.SetDefault("relay.kafka_group", "telemetry-engine")
	v.SetDefault("composites.source", SourceNone)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL", "PG_DSN")
	_ = v.BindEnv("redis.url", EnvPrefix+"_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("http.addr", EnvPrefix+"_HTTP_ADDR", "HTTP_ADDR")
	_ = v.BindEnv("relay.nats_url", EnvPrefix+"_RELAY_NATS_URL", "NATS_URL")
	_ = v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL", "LOG_LEVEL")
	return v
}

// Load reads file (when set) on top of defaults and env, then validates.
func Load(v *viper.Viper, file string) (Config, error) {
	if v == nil {
		v = New()
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if len(cfg.Relay.KafkaBrokers) == 1 && strings.Contains(cfg.Relay.KafkaBrokers[0], ",") {
		cfg.Relay.KafkaBrokers = strings.Split(cfg.Relay.KafkaBrokers[0], ",")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	if _, err := latest.ParseOrderingPolicy(c.Cache.Ordering); err != nil {
		errs = append(errs, err)
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("config: redis.url is required for the redis cache backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: cache.backend %q must be memory or redis", c.Cache.Backend))
	}
	switch c.Relay.Driver {
	case "", RelayNone:
	case RelayNATS:
		if c.Relay.NATSURL == "" {
			errs = append(errs, errors.New("config: relay.nats_url is required for the nats relay"))
		}
	case RelayKafka:
		if len(c.Relay.KafkaBrokers) == 0 || c.Relay.KafkaTopic == "" {
			errs = append(errs, errors.New("config: relay.kafka_brokers and relay.kafka_topic are required for the kafka relay"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: relay.driver %q must be none, nats or kafka", c.Relay.Driver))
	}
	switch c.Composites.Source {
	case "", SourceNone, SourcePostgres:
	case SourceFile:
		if c.Composites.File == "" {
			errs = append(errs, errors.New("config: composites.file is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: composites.source %q must be none, file or postgres", c.Composites.Source))
	}
	if c.Retention.Raw < 0 || c.Retention.FiveMinute < 0 || c.Retention.Daily < 0 {
		errs = append(errs, errors.New("config: retention windows must not be negative"))
	}
	return errors.Join(errs...)
}
