// Package config loads the zacharie configuration from a YAML file and
// ZACHARIE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"zacharie/internal/blob"
	"zacharie/internal/core"
	"zacharie/internal/logging"
	"zacharie/internal/reconcile"
)

// EnvPrefix prefixes environment overrides, e.g. ZACHARIE_STORAGE_DRIVER.
const EnvPrefix = "ZACHARIE"

type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Blob    BlobConfig    `mapstructure:"blob"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Rules   RulesConfig   `mapstructure:"rules"`
	Audit   AuditConfig   `mapstructure:"audit"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	Outbox      bool   `mapstructure:"outbox"`
}

type BlobConfig struct {
	Driver string       `mapstructure:"driver"`
	FSRoot string       `mapstructure:"fs_root"`
	S3     BlobS3Config `mapstructure:"s3"`
}

type BlobS3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
	PathStyle       bool   `mapstructure:"path_style"`
}

// RedisConfig enables custody event relay when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type SyncConfig struct {
	UserID              string        `mapstructure:"user_id"`
	RemoteDSN           string        `mapstructure:"remote_dsn"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig serves Prometheus metrics on Addr when set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// TracingConfig appends one JSON line per service operation to File when
// set.
type TracingConfig struct {
	File string `mapstructure:"file"`
}

// RulesConfig.Strict blocks writes whose stored status disagrees with the
// derived one instead of warning.
type RulesConfig struct {
	Strict bool `mapstructure:"strict"`
}

type AuditConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load reads path, or zacharie.yaml from the working directory and
// ./configs when path is empty, then applies environment overrides. A
// missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zacharie")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", string(core.StorageSQLite))
	v.SetDefault("storage.sqlite_path", "zacharie.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.outbox", false)

	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.fs_root", "./archive")
	v.SetDefault("blob.s3.region", "eu-west-3")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("blob.s3.path_style", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "zacharie:custody")

	def := reconcile.DefaultWorkerConfig()
	v.SetDefault("sync.user_id", "")
	v.SetDefault("sync.remote_dsn", "")
	v.SetDefault("sync.poll_interval", def.PollInterval)
	v.SetDefault("sync.initial_interval", def.InitialInterval)
	v.SetDefault("sync.max_interval", def.MaxInterval)
	v.SetDefault("sync.multiplier", def.Multiplier)
	v.SetDefault("sync.randomization_factor", def.RandomizationFactor)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.file", "")
	v.SetDefault("rules.strict", true)
	v.SetDefault("audit.flush_interval", 30*time.Second)
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch core.StorageDriver(c.Storage.Driver) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch blob.Driver(c.Blob.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket: required for the s3 driver")
		}
	default:
		return fmt.Errorf("blob.driver: unknown driver %q", c.Blob.Driver)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func (c *Config) StorageConfig() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		Outbox:      c.Storage.Outbox,
	}
}

func (c *Config) BlobConfig() blob.Config {
	s3 := c.Blob.S3
	return blob.Config{
		Driver: blob.Driver(c.Blob.Driver),
		FSRoot: c.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          s3.Region,
			Bucket:          s3.Bucket,
			Prefix:          s3.Prefix,
			Endpoint:        s3.Endpoint,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			SessionToken:    s3.SessionToken,
			PathStyle:       s3.PathStyle,
		},
	}
}

func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: c.Logging.Output}
}

func (c *Config) WorkerConfig() reconcile.WorkerConfig {
	return reconcile.WorkerConfig{
		PollInterval:        c.Sync.PollInterval,
		InitialInterval:     c.Sync.InitialInterval,
		MaxInterval:         c.Sync.MaxInterval,
		Multiplier:          c.Sync.Multiplier,
		RandomizationFactor: c.Sync.RandomizationFactor,
	}
}

// RedisOptions returns nil when no redis address is configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB}
}
