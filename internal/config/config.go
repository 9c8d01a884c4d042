// Package config loads daemon configuration from file, environment, and
// defaults, in that order of increasing precedence for env overrides.
package config

import (
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/hearthkeep/hearthkeep/internal/errors"
)

// Config is the full daemon configuration. The Server section drives the
// hearthsyncd listener; the Remote section drives the device-side client.
type Config struct {
	DataDir string       `mapstructure:"data_dir"`
	Server  ServerConfig `mapstructure:"server"`
	Remote  RemoteConfig `mapstructure:"remote"`
	Log     LogConfig    `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RemoteConfig points a device at its sync server.
type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	WebsocketURL string        `mapstructure:"websocket_url"`
	DeviceID     string        `mapstructure:"device_id"`
	AuthToken    string        `mapstructure:"auth_token"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration. When path is empty, hearthkeep.yaml is searched
// in the working directory, ~/.hearthkeep, and /etc/hearthkeep; a missing
// file falls back to defaults. HEARTHKEEP_* environment variables override
// file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("server.addr", ":8480")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("remote.base_url", "http://localhost:8480")
	v.SetDefault("remote.websocket_url", "ws://localhost:8480/ws")
	v.SetDefault("remote.sync_interval", 15*time.Minute)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hearthkeep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hearthkeep")
		v.AddConfigPath("/etc/hearthkeep")
	}

	v.SetEnvPrefix("HEARTHKEEP")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid config", err)
	}
	return &cfg, nil
}
