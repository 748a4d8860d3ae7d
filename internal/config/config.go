package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration, loaded once at startup.
type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	HostTimeoutMs         int64 `mapstructure:"host_timeout_ms"`
	ReconnectionWindowMs  int64 `mapstructure:"reconnection_window_ms"`
	HealthCheckIntervalMs int64 `mapstructure:"health_check_interval_ms"`
	CleanupIntervalMs     int64 `mapstructure:"cleanup_interval_ms"`
	ClientIdleTimeoutMs   int64 `mapstructure:"client_idle_timeout_ms"`
	MaxOutboundBacklog    int   `mapstructure:"max_outbound_backlog"`
}

// HostTimeout is HostTimeoutMs as a time.Duration.
func (c *Config) HostTimeout() time.Duration { return time.Duration(c.HostTimeoutMs) * time.Millisecond }

// ReconnectionWindow is ReconnectionWindowMs as a time.Duration.
func (c *Config) ReconnectionWindow() time.Duration {
	return time.Duration(c.ReconnectionWindowMs) * time.Millisecond
}

// HealthCheckInterval is HealthCheckIntervalMs as a time.Duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalMs) * time.Millisecond
}

// CleanupInterval is CleanupIntervalMs as a time.Duration.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// ClientIdleTimeout is ClientIdleTimeoutMs as a time.Duration.
func (c *Config) ClientIdleTimeout() time.Duration {
	return time.Duration(c.ClientIdleTimeoutMs) * time.Millisecond
}

// Load reads config/config.<CONFIG_ENV>.yaml (default "dev"), falling
// back to defaults when the file is absent, following the teacher's
// Viper-based loader.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "dev-secret-change-me")

	v.SetDefault("host_timeout_ms", 600_000)
	v.SetDefault("reconnection_window_ms", 300_000)
	v.SetDefault("health_check_interval_ms", 10_000)
	v.SetDefault("cleanup_interval_ms", 30_000)
	v.SetDefault("client_idle_timeout_ms", 600_000)
	v.SetDefault("max_outbound_backlog", 64)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
