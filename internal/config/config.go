// Package config loads the ingestion pipeline's configuration from built-in
// defaults, a YAML file, and environment variables, in that order of
// increasing precedence, and validates the result before the process is
// allowed to start.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cnabflow/ingestor/internal/api"
	"github.com/cnabflow/ingestor/internal/ingestionfront"
	"github.com/cnabflow/ingestor/internal/metrics"
	"github.com/cnabflow/ingestor/internal/processingengine"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	"github.com/cnabflow/ingestor/internal/registry/postgres"
	"github.com/cnabflow/ingestor/internal/telemetry"
)

// Config is the ingestion pipeline's root configuration.
//
// Configuration sources, in order of precedence (highest first):
//  1. Environment variables (CNABFLOW_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Profiling controls continuous Pyroscope profiling.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`

	// ShutdownTimeout bounds how long the process waits for in-flight
	// work to drain on SIGTERM.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// API configures the HTTP front door (spec.md §6).
	API api.Config `mapstructure:"api" validate:"required" yaml:"api"`

	// Metrics configures the standalone Prometheus /metrics endpoint.
	Metrics metrics.Config `mapstructure:"metrics" yaml:"metrics"`

	// Database configures the upload registry's PostgreSQL backing store.
	Database postgres.Config `mapstructure:"database" validate:"required" yaml:"database"`

	// ObjectStore configures the S3-compatible blob store.
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" validate:"required" yaml:"object_store"`

	// Redis configures the shared connection used by both the upload
	// queue (Redis Streams) and the distributed lock (SET NX PX).
	Redis RedisConfig `mapstructure:"redis" validate:"required" yaml:"redis"`

	// IngestionFront configures the upload intake pipeline (spec.md §4.7).
	IngestionFront ingestionfront.Config `mapstructure:"ingestion_front" yaml:"ingestion_front"`

	// ProcessingEngine configures the line-processing worker pool
	// (spec.md §4.8).
	ProcessingEngine processingengine.Config `mapstructure:"processing_engine" yaml:"processing_engine"`

	// Recovery configures the stuck-upload scanner (spec.md §4.9).
	Recovery recoveryloop.Config `mapstructure:"recovery" yaml:"recovery"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output encoding: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether spans are exported at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ServiceName is reported to the trace backend.
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// ServiceVersion is reported to the trace backend.
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether the OTLP connection skips TLS.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	// Enabled controls whether the profiler is started at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect. See
	// telemetry.ProfilingConfig for valid values.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ObjectStoreConfig configures the S3-compatible blob store used to hold
// uploaded CNAB files (spec.md §4.3).
type ObjectStoreConfig struct {
	// Bucket is the bucket uploads are written to.
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// Region is the AWS region (optional, SDK default applies if empty).
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO/LocalStack.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ForcePathStyle is required by MinIO/LocalStack.
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// RedisConfig configures the Redis connection shared by the upload queue
// and the distributed lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0" yaml:"db"`
}

// Telemetry converts TelemetryConfig into the telemetry package's own
// Config shape, stamping in the build-time service version.
func (c TelemetryConfig) Telemetry(serviceVersion string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    c.ServiceName,
		ServiceVersion: serviceVersion,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// Profiling converts ProfilingConfig into telemetry.ProfilingConfig.
func (c ProfilingConfig) Profiling(serviceName, serviceVersion string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Endpoint:       c.Endpoint,
		ProfileTypes:   c.ProfileTypes,
	}
}

// envPrefix is the environment variable prefix for all settings
// (e.g. CNABFLOW_LOGGING_LEVEL).
const envPrefix = "CNABFLOW"

// Load reads configuration from configPath (if non-empty and present),
// layers environment variables and defaults on top, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	applyEnvOverrides(cfg)

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated entirely from built-in defaults.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "cnabflow-ingestor",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Profiling: ProfilingConfig{
			Enabled:      false,
			Endpoint:     "http://localhost:4040",
			ProfileTypes: []string{"cpu", "alloc_objects", "inuse_objects"},
		},
		ShutdownTimeout:  30 * time.Second,
		API:              api.Config{Port: 8080, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, IdleTimeout: 60 * time.Second},
		Metrics:          metrics.Config{Enabled: false, Port: 9090},
		Database:         postgres.Config{Port: 5432, SSLMode: "disable", MaxOpenConns: 25, MaxIdleConns: 5},
		ObjectStore:      ObjectStoreConfig{Bucket: "cnab-uploads"},
		Redis:            RedisConfig{Addr: "localhost:6379"},
		IngestionFront:   ingestionfront.DefaultConfig(),
		ProcessingEngine: processingengine.DefaultConfig(),
		Recovery:         recoveryloop.DefaultConfig(),
	}
	return cfg
}

// applyDefaults fills in zero-valued fields after unmarshalling, so a
// partial config file or partial environment override set still ends up
// complete. Mirrors the teacher's ApplyDefaults-after-unmarshal ordering.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = def.Logging.Output
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = def.Telemetry.Endpoint
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = def.Telemetry.SampleRate
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = def.Profiling.Endpoint
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = def.Profiling.ProfileTypes
	}

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.API.Port == 0 {
		cfg.API.Port = def.API.Port
	}
	if cfg.API.ReadTimeout == 0 {
		cfg.API.ReadTimeout = def.API.ReadTimeout
	}
	if cfg.API.WriteTimeout == 0 {
		cfg.API.WriteTimeout = def.API.WriteTimeout
	}
	if cfg.API.IdleTimeout == 0 {
		cfg.API.IdleTimeout = def.API.IdleTimeout
	}

	cfg.Database.ApplyDefaults()
	if cfg.Database.Port == 0 {
		cfg.Database.Port = def.Database.Port
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = def.Metrics.Port
	}

	if cfg.ObjectStore.Bucket == "" {
		cfg.ObjectStore.Bucket = def.ObjectStore.Bucket
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}

	if cfg.IngestionFront.MaxBytes == 0 {
		cfg.IngestionFront.MaxBytes = def.IngestionFront.MaxBytes
	}
	// IngestionFront.Strategy's zero value is StrategyAsync, already the
	// default, so no fill-in is needed here.

	if cfg.ProcessingEngine.ParallelWorkers == 0 {
		cfg.ProcessingEngine.ParallelWorkers = def.ProcessingEngine.ParallelWorkers
	}
	if cfg.ProcessingEngine.CheckpointInterval == 0 {
		cfg.ProcessingEngine.CheckpointInterval = def.ProcessingEngine.CheckpointInterval
	}
	if cfg.ProcessingEngine.MaxRetryPerLine == 0 {
		cfg.ProcessingEngine.MaxRetryPerLine = def.ProcessingEngine.MaxRetryPerLine
	}
	if cfg.ProcessingEngine.RetryDelayMs == 0 {
		cfg.ProcessingEngine.RetryDelayMs = def.ProcessingEngine.RetryDelayMs
	}
	if cfg.ProcessingEngine.ProcessingTTL == 0 {
		cfg.ProcessingEngine.ProcessingTTL = def.ProcessingEngine.ProcessingTTL
	}
	if cfg.ProcessingEngine.MaxAttempts == 0 {
		cfg.ProcessingEngine.MaxAttempts = def.ProcessingEngine.MaxAttempts
	}
	if cfg.ProcessingEngine.Bucket == "" {
		cfg.ProcessingEngine.Bucket = cfg.ObjectStore.Bucket
	}
	if cfg.ProcessingEngine.ConsumerGroup == "" {
		cfg.ProcessingEngine.ConsumerGroup = def.ProcessingEngine.ConsumerGroup
	}
	if cfg.ProcessingEngine.ConsumerID == "" {
		cfg.ProcessingEngine.ConsumerID = def.ProcessingEngine.ConsumerID
	}
	if cfg.ProcessingEngine.BatchSize == 0 {
		cfg.ProcessingEngine.BatchSize = def.ProcessingEngine.BatchSize
	}
	if cfg.ProcessingEngine.BlockDuration == 0 {
		cfg.ProcessingEngine.BlockDuration = def.ProcessingEngine.BlockDuration
	}

	if cfg.Recovery.RecoveryCheckInterval == 0 {
		cfg.Recovery.RecoveryCheckInterval = def.Recovery.RecoveryCheckInterval
	}
	if cfg.Recovery.StuckUploadTimeout == 0 {
		cfg.Recovery.StuckUploadTimeout = def.Recovery.StuckUploadTimeout
	}
}

// Validate checks cfg against its `validate` struct tags using
// go-playground/validator, returning a combined error describing every
// violation found.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed on %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if v.ConfigFileUsed() == "" {
		return false, nil
	}
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides layers CNABFLOW_*-prefixed environment variables on
// top of whatever was read from the config file, using a fresh viper
// instance bound only to the env so unset variables never clobber
// file-provided values with zero values.
func applyEnvOverrides(cfg *Config) {
	ev := viper.New()
	ev.SetEnvPrefix(envPrefix)
	ev.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	ev.AutomaticEnv()

	bind := func(key string, dst *string) {
		if val := ev.GetString(key); val != "" {
			*dst = val
		}
	}
	bindInt := func(key string, dst *int) {
		if raw := os.Getenv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); raw != "" {
			*dst = ev.GetInt(key)
		}
	}
	bindBool := func(key string, dst *bool) {
		if raw := os.Getenv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); raw != "" {
			*dst = ev.GetBool(key)
		}
	}
	bindDuration := func(key string, dst *time.Duration) {
		if raw := os.Getenv(envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); raw != "" {
			*dst = ev.GetDuration(key)
		}
	}

	bind("logging.level", &cfg.Logging.Level)
	bind("logging.format", &cfg.Logging.Format)
	bind("logging.output", &cfg.Logging.Output)

	bindBool("telemetry.enabled", &cfg.Telemetry.Enabled)
	bind("telemetry.endpoint", &cfg.Telemetry.Endpoint)
	bindBool("telemetry.insecure", &cfg.Telemetry.Insecure)

	bindBool("profiling.enabled", &cfg.Profiling.Enabled)
	bind("profiling.endpoint", &cfg.Profiling.Endpoint)

	bindDuration("shutdown_timeout", &cfg.ShutdownTimeout)

	bindInt("api.port", &cfg.API.Port)

	bind("database.host", &cfg.Database.Host)
	bindInt("database.port", &cfg.Database.Port)
	bind("database.database", &cfg.Database.Database)
	bind("database.user", &cfg.Database.User)
	bind("database.password", &cfg.Database.Password)
	bind("database.sslmode", &cfg.Database.SSLMode)

	bind("object_store.bucket", &cfg.ObjectStore.Bucket)
	bind("object_store.endpoint", &cfg.ObjectStore.Endpoint)
	bind("object_store.region", &cfg.ObjectStore.Region)

	bind("redis.addr", &cfg.Redis.Addr)
	bind("redis.password", &cfg.Redis.Password)
	bindInt("redis.db", &cfg.Redis.DB)

	bindInt("processing_engine.parallel_workers", &cfg.ProcessingEngine.ParallelWorkers)
	bindInt("processing_engine.max_retry_per_line", &cfg.ProcessingEngine.MaxRetryPerLine)
	bindDuration("processing_engine.processing_ttl", &cfg.ProcessingEngine.ProcessingTTL)

	bindDuration("recovery.recovery_check_interval", &cfg.Recovery.RecoveryCheckInterval)
	bindDuration("recovery.stuck_upload_timeout", &cfg.Recovery.StuckUploadTimeout)
}

// durationDecodeHook lets YAML/env values like "5m" decode straight into
// time.Duration fields, the same way the teacher's config package does.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		default:
			return data, nil
		}
	}
}
