package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "itrack.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[tracker]
throttle_interval = "20ms"
send_interval = "10s"

[transport]
endpoint = "http://collector.local:9000/metrics"
queue = false

[server]
listen = "0.0.0.0:9000"

[storage]
db_path = "/tmp/itrack-test.db"
batch_size = 8
`)
	t.Setenv("ITRACK_CONFIG", path)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20*time.Millisecond, cfg.Tracker.ThrottleInterval)
	assert.Equal(t, 10*time.Second, cfg.Tracker.SendInterval)
	assert.InDelta(t, config.DefaultVisibility, cfg.Tracker.VisibilityThreshold, 1e-9)
	assert.Equal(t, "http://collector.local:9000/metrics", cfg.Transport.Endpoint)
	assert.False(t, cfg.Transport.Queue)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "/tmp/itrack-test.db", cfg.Storage.DBPath)
	assert.Equal(t, 8, cfg.Storage.BatchSize)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ITRACK_CONFIG", "")

	cfg, err := config.Load(nil, config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.DefaultThrottleInterval, cfg.Tracker.ThrottleInterval)
	assert.Equal(t, config.DefaultSendInterval, cfg.Tracker.SendInterval)
	assert.Equal(t, config.DefaultEndpoint, cfg.Transport.Endpoint)
	assert.True(t, cfg.Transport.Queue)
	assert.Equal(t, config.DefaultQueueSize, cfg.Transport.QueueSize)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, config.DefaultBatchSize, cfg.Storage.BatchSize)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	path := writeConfig(t, "This is not a valid TOML file\n")
	t.Setenv("ITRACK_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `log_level = "invalid"`)
	t.Setenv("ITRACK_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_log_level")
}

func TestInvalidEndpoint(t *testing.T) {
	path := writeConfig(t, `
[transport]
endpoint = "ftp://nowhere"
`)
	t.Setenv("ITRACK_CONFIG", path)

	_, err := config.Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_endpoint")
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("ITRACK_CONFIG", "")
	t.Setenv("ITRACK_TRANSPORT_ENDPOINT", "https://telemetry.example.com/metrics")

	cfg, err := config.Load(nil, config.WithSearchDirs(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "https://telemetry.example.com/metrics", cfg.Transport.Endpoint)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, `log_level = "error"`)
	t.Setenv("ITRACK_CONFIG", path)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--log-level", "debug", "--throttle", "75ms", "--no-storage"}))

	cfg, err := config.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 75*time.Millisecond, cfg.Tracker.ThrottleInterval)
	assert.False(t, cfg.Storage.Enabled)
}

func TestUnchangedFlagsKeepFileValues(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "127.0.0.1:7000"
`)
	t.Setenv("ITRACK_CONFIG", path)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg, err := config.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)
}
