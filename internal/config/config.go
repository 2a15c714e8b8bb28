// Package config provides configuration management for mtx-toolkit using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultRelayAPITimeout = 10 * time.Second

	defaultMinFPS          = 10.0
	defaultMaxLatencyMs    = 5000
	defaultFreezeDuration  = 5 * time.Second
	defaultProbeTimeout    = 30 * time.Second
	defaultDetectorTimeout = 15 * time.Second
	defaultDeepSampleLimit = 50

	defaultRemediationCooldown  = 5 * time.Minute
	defaultRemediationAttempts  = 5
	defaultBackoffBase          = 1 * time.Second
	defaultBackoffJitter        = 0.3
	defaultBackoffMax           = 60 * time.Second
	defaultBreakerThreshold     = 10
	defaultBreakerWindow        = time.Hour
	defaultRelayRestartTimeout  = 60 * time.Second
	defaultSidecarRestartPause  = 2 * time.Second
	defaultContinuousRetention  = 7
	defaultEventRetention       = 30
	defaultDiskUsageThreshold   = 0.85
	defaultMinFreeSpaceGB       = 50.0
	defaultEvictionBatchLimit   = 100
	defaultCaptureDuration      = 30 * time.Second
	defaultFastHealthInterval   = 10 * time.Second
	defaultDeepHealthInterval   = 5 * time.Minute
	defaultFleetSyncInterval    = 5 * time.Minute
	defaultRetentionInterval    = time.Hour
	defaultBlocklistSweepPeriod = 10 * time.Minute
	defaultWorkerCount          = 4
	defaultFanoutConcurrency    = 8
	defaultProbeDeadline        = 60 * time.Second
	defaultCleanupDeadline      = 600 * time.Second
	defaultRollingBatchSize     = 1
	defaultRollingBatchDelay    = 10 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Relay       RelayConfig       `mapstructure:"relay"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Health      HealthConfig      `mapstructure:"health"`
	Remediation RemediationConfig `mapstructure:"remediation"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Blocklist   BlocklistConfig   `mapstructure:"blocklist"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RelayConfig holds settings for talking to managed relay nodes.
type RelayConfig struct {
	// APITimeout bounds each control API call to a node.
	APITimeout time.Duration `mapstructure:"api_timeout"`
	// RetryAttempts applies to idempotent GET calls only.
	RetryAttempts int `mapstructure:"retry_attempts"`
	// CircuitBreakerThreshold is consecutive failures before a node's
	// breaker opens.
	CircuitBreakerThreshold int `mapstructure:"circuit_breaker_threshold"`
	// CircuitBreakerTimeout is how long an open breaker stays open before
	// probing with a half-open request.
	CircuitBreakerTimeout time.Duration `mapstructure:"circuit_breaker_timeout"`
}

// FFmpegConfig holds external media tool configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = "ffmpeg" on PATH)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = "ffprobe" on PATH)
}

// HealthConfig holds stream health classification thresholds.
type HealthConfig struct {
	MinFPS          float64       `mapstructure:"min_fps"`
	MaxLatencyMs    int           `mapstructure:"max_latency_ms"`
	FreezeDuration  time.Duration `mapstructure:"freeze_duration"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
	// DeepSampleLimit caps how many streams a single deep-health pass probes.
	DeepSampleLimit int `mapstructure:"deep_sample_limit"`
}

// RemediationConfig holds tiered recovery policy knobs.
type RemediationConfig struct {
	Cooldown            time.Duration `mapstructure:"cooldown"`
	MaxAttemptsPerTier  int           `mapstructure:"max_attempts_per_tier"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
	BackoffJitter       float64       `mapstructure:"backoff_jitter"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	BreakerThreshold    int           `mapstructure:"breaker_threshold"`
	BreakerWindow       time.Duration `mapstructure:"breaker_window"`
	SidecarRestartPause time.Duration `mapstructure:"sidecar_restart_pause"`
	// RelayRestartCommand is the operator-managed argv used for tier 4.
	// {node} is replaced with the node's container name.
	RelayRestartCommand []string      `mapstructure:"relay_restart_command"`
	RelayRestartTimeout time.Duration `mapstructure:"relay_restart_timeout"`
}

// RetentionConfig holds recording retention and archival configuration.
type RetentionConfig struct {
	RecordingRoot           string        `mapstructure:"recording_root"`
	ArchiveRoot             string        `mapstructure:"archive_root"`
	ContinuousRetentionDays int           `mapstructure:"continuous_retention_days"`
	EventRetentionDays      int           `mapstructure:"event_retention_days"`
	DiskUsageThreshold      float64       `mapstructure:"disk_usage_threshold"`
	MinFreeSpaceGB          float64       `mapstructure:"min_free_space_gb"`
	EvictionBatchLimit      int           `mapstructure:"eviction_batch_limit"`
	CaptureDuration         time.Duration `mapstructure:"capture_duration"`
}

// SchedulerConfig holds background job cadences and the worker pool size.
type SchedulerConfig struct {
	FastHealthInterval time.Duration `mapstructure:"fast_health_interval"`
	DeepHealthInterval time.Duration `mapstructure:"deep_health_interval"`
	FleetSyncInterval  time.Duration `mapstructure:"fleet_sync_interval"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
	// ArchiveCron is a 6-field cron expression for the daily archive sweep.
	ArchiveCron       string        `mapstructure:"archive_cron"`
	Workers           int           `mapstructure:"workers"`
	FanoutConcurrency int           `mapstructure:"fanout_concurrency"`
	ProbeDeadline     time.Duration `mapstructure:"probe_deadline"`
	CleanupDeadline   time.Duration `mapstructure:"cleanup_deadline"`
	RollingBatchSize  int           `mapstructure:"rolling_batch_size"`
	RollingBatchDelay time.Duration `mapstructure:"rolling_batch_delay"`
}

// BlocklistConfig holds IP blocklist configuration.
type BlocklistConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with MTX_ and use underscores for nesting.
// Example: MTX_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mtx-toolkit")
		v.AddConfigPath("$HOME/.mtx-toolkit")
	}

	v.SetEnvPrefix("MTX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mtx-toolkit.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Relay defaults
	v.SetDefault("relay.api_timeout", defaultRelayAPITimeout)
	v.SetDefault("relay.retry_attempts", 2)
	v.SetDefault("relay.circuit_breaker_threshold", 5)
	v.SetDefault("relay.circuit_breaker_timeout", 30*time.Second)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Health defaults
	v.SetDefault("health.min_fps", defaultMinFPS)
	v.SetDefault("health.max_latency_ms", defaultMaxLatencyMs)
	v.SetDefault("health.freeze_duration", defaultFreezeDuration)
	v.SetDefault("health.probe_timeout", defaultProbeTimeout)
	v.SetDefault("health.detector_timeout", defaultDetectorTimeout)
	v.SetDefault("health.deep_sample_limit", defaultDeepSampleLimit)

	// Remediation defaults
	v.SetDefault("remediation.cooldown", defaultRemediationCooldown)
	v.SetDefault("remediation.max_attempts_per_tier", defaultRemediationAttempts)
	v.SetDefault("remediation.backoff_base", defaultBackoffBase)
	v.SetDefault("remediation.backoff_jitter", defaultBackoffJitter)
	v.SetDefault("remediation.backoff_max", defaultBackoffMax)
	v.SetDefault("remediation.breaker_threshold", defaultBreakerThreshold)
	v.SetDefault("remediation.breaker_window", defaultBreakerWindow)
	v.SetDefault("remediation.sidecar_restart_pause", defaultSidecarRestartPause)
	v.SetDefault("remediation.relay_restart_command", []string{"docker", "restart", "{node}"})
	v.SetDefault("remediation.relay_restart_timeout", defaultRelayRestartTimeout)

	// Retention defaults
	v.SetDefault("retention.recording_root", "/recordings")
	v.SetDefault("retention.archive_root", "/mnt/nas/archive")
	v.SetDefault("retention.continuous_retention_days", defaultContinuousRetention)
	v.SetDefault("retention.event_retention_days", defaultEventRetention)
	v.SetDefault("retention.disk_usage_threshold", defaultDiskUsageThreshold)
	v.SetDefault("retention.min_free_space_gb", defaultMinFreeSpaceGB)
	v.SetDefault("retention.eviction_batch_limit", defaultEvictionBatchLimit)
	v.SetDefault("retention.capture_duration", defaultCaptureDuration)

	// Scheduler defaults
	v.SetDefault("scheduler.fast_health_interval", defaultFastHealthInterval)
	v.SetDefault("scheduler.deep_health_interval", defaultDeepHealthInterval)
	v.SetDefault("scheduler.fleet_sync_interval", defaultFleetSyncInterval)
	v.SetDefault("scheduler.retention_interval", defaultRetentionInterval)
	v.SetDefault("scheduler.archive_cron", "0 0 3 * * *") // Daily at 3 AM (6-field cron)
	v.SetDefault("scheduler.workers", defaultWorkerCount)
	v.SetDefault("scheduler.fanout_concurrency", defaultFanoutConcurrency)
	v.SetDefault("scheduler.probe_deadline", defaultProbeDeadline)
	v.SetDefault("scheduler.cleanup_deadline", defaultCleanupDeadline)
	v.SetDefault("scheduler.rolling_batch_size", defaultRollingBatchSize)
	v.SetDefault("scheduler.rolling_batch_delay", defaultRollingBatchDelay)

	// Blocklist defaults
	v.SetDefault("blocklist.sweep_interval", defaultBlocklistSweepPeriod)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.MinFPS <= 0 {
		return fmt.Errorf("health.min_fps must be positive")
	}
	if c.Health.DeepSampleLimit < 1 {
		return fmt.Errorf("health.deep_sample_limit must be at least 1")
	}

	if c.Remediation.MaxAttemptsPerTier < 1 {
		return fmt.Errorf("remediation.max_attempts_per_tier must be at least 1")
	}
	if c.Remediation.BackoffJitter < 0 || c.Remediation.BackoffJitter > 1 {
		return fmt.Errorf("remediation.backoff_jitter must be in [0, 1]")
	}
	if c.Remediation.BackoffBase <= 0 || c.Remediation.BackoffMax < c.Remediation.BackoffBase {
		return fmt.Errorf("remediation backoff bounds are invalid")
	}
	if len(c.Remediation.RelayRestartCommand) == 0 {
		return fmt.Errorf("remediation.relay_restart_command is required")
	}

	if c.Retention.RecordingRoot == "" {
		return fmt.Errorf("retention.recording_root is required")
	}
	if c.Retention.DiskUsageThreshold <= 0 || c.Retention.DiskUsageThreshold > 1 {
		return fmt.Errorf("retention.disk_usage_threshold must be in (0, 1]")
	}
	if c.Retention.ContinuousRetentionDays < 1 || c.Retention.EventRetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1")
	}

	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1")
	}
	if c.Scheduler.FanoutConcurrency < 1 {
		return fmt.Errorf("scheduler.fanout_concurrency must be at least 1")
	}
	if c.Scheduler.RollingBatchSize < 1 {
		return fmt.Errorf("scheduler.rolling_batch_size must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FFmpegBinary returns the configured ffmpeg path or the bare binary name.
func (c *FFmpegConfig) FFmpegBinary() string {
	if c.BinaryPath != "" {
		return c.BinaryPath
	}
	return "ffmpeg"
}

// FFprobeBinary returns the configured ffprobe path or the bare binary name.
func (c *FFmpegConfig) FFprobeBinary() string {
	if c.ProbePath != "" {
		return c.ProbePath
	}
	return "ffprobe"
}
