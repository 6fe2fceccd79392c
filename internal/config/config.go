// Package config loads and validates searchstream configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Stream  StreamConfig  `mapstructure:"stream"`
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StreamConfig governs the progress stream client.
type StreamConfig struct {
	// Endpoint is the progress stream URL.
	Endpoint string `mapstructure:"endpoint"`
	// RetryDelayMS is the wait before the single reconnection attempt.
	RetryDelayMS int `mapstructure:"retry_delay_ms"`
}

// ServerConfig controls the simulator HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls the optional watch history store.
type DBConfig struct {
	// Enabled turns history persistence on; DSN is then required.
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SEARCHSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stream.endpoint", "http://localhost:8080/v1/progress")
	v.SetDefault("stream.retry_delay_ms", 2000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Stream.Endpoint == "" {
		return fmt.Errorf("stream.endpoint must be set")
	}
	if c.Stream.RetryDelayMS <= 0 {
		return fmt.Errorf("stream.retry_delay_ms must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.Enabled && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set when db is enabled")
	}
	return nil
}

// RetryDelay converts the millisecond knob into a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Stream.RetryDelayMS) * time.Millisecond
}
