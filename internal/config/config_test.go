package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "./data", cfg.Storage.OutRoot)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 2*time.Second, cfg.Relay.TargetDuration)
	assert.Equal(t, 6, cfg.Relay.WindowSegments)
	assert.Equal(t, 100, cfg.Relay.MaxSegmentsPerChannel)
	assert.Equal(t, 3.0, cfg.Relay.StallFactor)
	assert.Equal(t, 6, cfg.Relay.RestartMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.BackoffBase)
	assert.Equal(t, 2.0, cfg.Relay.BackoffFactor)
	assert.Equal(t, 30*time.Second, cfg.Relay.BackoffCap)
	assert.Equal(t, 10, cfg.Relay.MaxChannels)

	assert.True(t, cfg.Standby.Enabled)
	assert.True(t, cfg.Cleanup.Enabled)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
storage:
  out_root: "/var/lib/caupolican"
relay:
  window_segments: 10
  max_segments_per_channel: 50
  stall_factor: 5
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/caupolican", cfg.Storage.OutRoot)
	assert.Equal(t, 10, cfg.Relay.WindowSegments)
	assert.Equal(t, 50, cfg.Relay.MaxSegmentsPerChannel)
	assert.Equal(t, 5.0, cfg.Relay.StallFactor)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CAUPOLICAN_RELAY_WINDOW_SEGMENTS", "12")
	t.Setenv("CAUPOLICAN_STORAGE_OUT_ROOT", "/tmp/caupolican-out")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Relay.WindowSegments)
	assert.Equal(t, "/tmp/caupolican-out", cfg.Storage.OutRoot)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty out_root", func(c *Config) { c.Storage.OutRoot = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"zero target duration", func(c *Config) { c.Relay.TargetDuration = 0 }, true},
		{"zero window segments", func(c *Config) { c.Relay.WindowSegments = 0 }, true},
		{"zero max segments", func(c *Config) { c.Relay.MaxSegmentsPerChannel = 0 }, true},
		{"zero stall factor", func(c *Config) { c.Relay.StallFactor = 0 }, true},
		{"negative restart max", func(c *Config) { c.Relay.RestartMax = -1 }, true},
		{"backoff factor below one", func(c *Config) { c.Relay.BackoffFactor = 0.5 }, true},
		{"zero max channels", func(c *Config) { c.Relay.MaxChannels = 0 }, true},
		{"disk threshold out of range", func(c *Config) { c.Cleanup.DiskUsageThreshold = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStorageConfig_Paths(t *testing.T) {
	c := StorageConfig{OutRoot: "/data"}
	assert.Equal(t, "/data/in", c.InDir())
	assert.Equal(t, "/data/out", c.OutDir())
	assert.Equal(t, "/data/in/standby", c.StandbyInDir())
	assert.Equal(t, "/data/in/news1", c.ChannelInDir("news1"))
	assert.Equal(t, "/data/out/news1", c.ChannelOutDir("news1"))
}

func TestServerConfig_Address(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, "127.0.0.1:9000", c.Address())
}
