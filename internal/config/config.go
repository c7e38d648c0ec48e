// Package config provides configuration management for caupolican using Viper.
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
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultTargetDuration      = 2 * time.Second
	defaultWindowSegments      = 6
	defaultMaxSegmentsPerChan  = 100
	defaultStallFactor         = 3.0
	defaultRestartMax          = 6
	defaultBackoffBase         = 500 * time.Millisecond
	defaultBackoffFactor       = 2.0
	defaultBackoffCap          = 30 * time.Second
	defaultTickInterval        = 500 * time.Millisecond
	defaultProcessGrace        = 5 * time.Second
	defaultMaxChannels         = 10
	defaultCleanupInterval     = "*/30 * * * * *" // every 30s, 6-field cron
	defaultDiskUsageThreshold  = 0.9
	defaultStandbyResolution   = "1920x1080"
	defaultStandbyFrameRate    = 30
)

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Standby StandbyConfig `mapstructure:"standby"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

// ServerConfig holds the peripheral control-plane HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RouterToken is read from configuration but not enforced: no
	// control-plane route checks a Bearer token. Authentication and
	// authorization are a Non-goal.
	RouterToken string `mapstructure:"router_token"`
}

// StorageConfig holds the OUT_ROOT filesystem layout configuration.
type StorageConfig struct {
	// OutRoot is the directory containing the in/ and out/ trees (spec.md §6).
	OutRoot string `mapstructure:"out_root"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// RelayConfig holds the per-channel relay worker tunables from spec.md §6.
type RelayConfig struct {
	TargetDuration        time.Duration `mapstructure:"target_duration"`
	WindowSegments        int           `mapstructure:"window_segments"`
	MaxSegmentsPerChannel int           `mapstructure:"max_segments_per_channel"`
	StallFactor           float64       `mapstructure:"stall_factor"`
	RestartMax            int           `mapstructure:"restart_max"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffFactor         float64       `mapstructure:"backoff_factor"`
	BackoffCap            time.Duration `mapstructure:"backoff_cap"`
	TickInterval          time.Duration `mapstructure:"tick_interval"`
	ProcessGrace          time.Duration `mapstructure:"process_grace"`
	MaxChannels           int           `mapstructure:"max_channels"`
	TranscoderBinary      string        `mapstructure:"transcoder_binary"`
}

// StandbyConfig holds the global standby (fallback) transcoder configuration.
type StandbyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Image      string `mapstructure:"image"`      // static image path; empty = synthetic test pattern
	Text       string `mapstructure:"text"`       // overlay text drawn over the image; unused by the test pattern
	Resolution string `mapstructure:"resolution"` // e.g. "1920x1080"
	FrameRate  int    `mapstructure:"frame_rate"`
}

// CleanupConfig holds the disk-pressure cleanup sweep configuration.
type CleanupConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Cron               string   `mapstructure:"cron"` // 6-field robfig/cron expression
	DiskUsageThreshold float64  `mapstructure:"disk_usage_threshold"`
	MinFreeBytes       ByteSize `mapstructure:"min_free_bytes"`
	ChannelsPerSweep   int      `mapstructure:"channels_per_sweep"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CAUPOLICAN_ and use underscores
// for nesting, e.g. CAUPOLICAN_RELAY_WINDOW_SEGMENTS=8.
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
		v.AddConfigPath("/etc/caupolican")
		v.AddConfigPath("$HOME/.caupolican")
	}

	v.SetEnvPrefix("CAUPOLICAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars.
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
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.router_token", "")

	v.SetDefault("storage.out_root", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("relay.target_duration", defaultTargetDuration)
	v.SetDefault("relay.window_segments", defaultWindowSegments)
	v.SetDefault("relay.max_segments_per_channel", defaultMaxSegmentsPerChan)
	v.SetDefault("relay.stall_factor", defaultStallFactor)
	v.SetDefault("relay.restart_max", defaultRestartMax)
	v.SetDefault("relay.backoff_base", defaultBackoffBase)
	v.SetDefault("relay.backoff_factor", defaultBackoffFactor)
	v.SetDefault("relay.backoff_cap", defaultBackoffCap)
	v.SetDefault("relay.tick_interval", defaultTickInterval)
	v.SetDefault("relay.process_grace", defaultProcessGrace)
	v.SetDefault("relay.max_channels", defaultMaxChannels)
	v.SetDefault("relay.transcoder_binary", "ffmpeg")

	v.SetDefault("standby.enabled", true)
	v.SetDefault("standby.image", "")
	v.SetDefault("standby.text", "Standby")
	v.SetDefault("standby.resolution", defaultStandbyResolution)
	v.SetDefault("standby.frame_rate", defaultStandbyFrameRate)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.cron", defaultCleanupInterval)
	v.SetDefault("cleanup.disk_usage_threshold", defaultDiskUsageThreshold)
	v.SetDefault("cleanup.min_free_bytes", 0)
	v.SetDefault("cleanup.channels_per_sweep", 2)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Storage.OutRoot == "" {
		return fmt.Errorf("storage.out_root is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Relay.TargetDuration <= 0 {
		return fmt.Errorf("relay.target_duration must be positive")
	}
	if c.Relay.WindowSegments < 1 {
		return fmt.Errorf("relay.window_segments must be at least 1")
	}
	if c.Relay.MaxSegmentsPerChannel < 1 {
		return fmt.Errorf("relay.max_segments_per_channel must be at least 1")
	}
	if c.Relay.StallFactor <= 0 {
		return fmt.Errorf("relay.stall_factor must be positive")
	}
	if c.Relay.RestartMax < 0 {
		return fmt.Errorf("relay.restart_max must be non-negative")
	}
	if c.Relay.BackoffFactor < 1 {
		return fmt.Errorf("relay.backoff_factor must be at least 1")
	}
	if c.Relay.MaxChannels < 1 {
		return fmt.Errorf("relay.max_channels must be at least 1")
	}

	if c.Cleanup.DiskUsageThreshold <= 0 || c.Cleanup.DiskUsageThreshold > 1 {
		return fmt.Errorf("cleanup.disk_usage_threshold must be in (0, 1]")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InDir returns the path to the in/ tree under OutRoot.
func (c *StorageConfig) InDir() string {
	return c.OutRoot + "/in"
}

// OutDir returns the path to the out/ tree under OutRoot.
func (c *StorageConfig) OutDir() string {
	return c.OutRoot + "/out"
}

// StandbyInDir returns the path to the shared standby input directory.
func (c *StorageConfig) StandbyInDir() string {
	return c.InDir() + "/standby"
}

// ChannelInDir returns the upstream input directory for a channel.
func (c *StorageConfig) ChannelInDir(channelID string) string {
	return c.InDir() + "/" + channelID
}

// ChannelOutDir returns the published output directory for a channel.
func (c *StorageConfig) ChannelOutDir(channelID string) string {
	return c.OutDir() + "/" + channelID
}
