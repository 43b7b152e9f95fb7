package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds settings for the chat server runtime.
type ServerConfig struct {
	ListenAddr     string         `mapstructure:"listen_addr"`
	HTTPAddr       string         `mapstructure:"http_addr"`
	Database       DatabaseConfig `mapstructure:"database"`
	JWT            JWTConfig      `mapstructure:"jwt"`
	ReadTimeout    time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration  `mapstructure:"write_timeout"`
	MaxFrameBytes  int            `mapstructure:"max_frame_bytes"`
	DefaultRoom    string         `mapstructure:"default_room"`
	HistoryLimit   int            `mapstructure:"history_limit"`
	RosterInterval time.Duration  `mapstructure:"roster_interval"`
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Issuer     string        `mapstructure:"issuer"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// Load builds the server configuration from an optional parlor.yaml
// plus PARLOR_* environment variables, falling back to defaults.
func Load() (ServerConfig, error) {
	v := viper.New()
	v.SetConfigName("parlor")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PARLOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("database.path", "parlor.db")
	v.SetDefault("jwt.secret", "replace-me")
	v.SetDefault("jwt.issuer", "parlor")
	v.SetDefault("jwt.expiration", "24h")
	v.SetDefault("read_timeout", "10m")
	v.SetDefault("write_timeout", "15s")
	v.SetDefault("max_frame_bytes", 1<<20)
	v.SetDefault("default_room", "general")
	v.SetDefault("history_limit", 50)
	v.SetDefault("roster_interval", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return ServerConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
