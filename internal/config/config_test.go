package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10.0, cfg.Health.MinFPS)
	assert.Equal(t, 5000, cfg.Health.MaxLatencyMs)
	assert.Equal(t, 5*time.Second, cfg.Health.FreezeDuration)
	assert.Equal(t, 50, cfg.Health.DeepSampleLimit)
	assert.Equal(t, 5*time.Minute, cfg.Remediation.Cooldown)
	assert.Equal(t, 5, cfg.Remediation.MaxAttemptsPerTier)
	assert.Equal(t, time.Second, cfg.Remediation.BackoffBase)
	assert.Equal(t, 0.3, cfg.Remediation.BackoffJitter)
	assert.Equal(t, 60*time.Second, cfg.Remediation.BackoffMax)
	assert.Equal(t, 10, cfg.Remediation.BreakerThreshold)
	assert.Equal(t, 0.85, cfg.Retention.DiskUsageThreshold)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.FastHealthInterval)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.DeepHealthInterval)
	assert.Equal(t, time.Hour, cfg.Scheduler.RetentionInterval)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
health:
  min_fps: 15
retention:
  recording_root: /srv/recordings
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15.0, cfg.Health.MinFPS)
	assert.Equal(t, "/srv/recordings", cfg.Retention.RecordingRoot)
	// Untouched values keep defaults.
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestValidate_Errors(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		var cfg Config
		require.NoError(t, v.Unmarshal(&cfg))
		return &cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad min fps", func(c *Config) { c.Health.MinFPS = 0 }, "health.min_fps"},
		{"bad jitter", func(c *Config) { c.Remediation.BackoffJitter = 1.5 }, "backoff_jitter"},
		{"bad disk threshold", func(c *Config) { c.Retention.DiskUsageThreshold = 1.5 }, "disk_usage_threshold"},
		{"no restart command", func(c *Config) { c.Remediation.RelayRestartCommand = nil }, "relay_restart_command"},
		{"bad rolling batch", func(c *Config) { c.Scheduler.RollingBatchSize = 0 }, "rolling_batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8554}
	assert.Equal(t, "127.0.0.1:8554", c.Address())
}

func TestFFmpegConfig_BinaryFallbacks(t *testing.T) {
	var c FFmpegConfig
	assert.Equal(t, "ffmpeg", c.FFmpegBinary())
	assert.Equal(t, "ffprobe", c.FFprobeBinary())

	c = FFmpegConfig{BinaryPath: "/opt/ffmpeg", ProbePath: "/opt/ffprobe"}
	assert.Equal(t, "/opt/ffmpeg", c.FFmpegBinary())
	assert.Equal(t, "/opt/ffprobe", c.FFprobeBinary())
}
