// Package config loads service configuration from environment variables and
// an optional .env file via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	// ServerPort is the HTTP listen port.
	ServerPort string `mapstructure:"SERVER_PORT"`

	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"DB_PATH"`

	// SessionSecret signs session tokens. Required.
	SessionSecret string `mapstructure:"SESSION_SECRET"`

	// SessionTTLSeconds is the unlock session lifetime.
	SessionTTLSeconds int `mapstructure:"SESSION_TTL_SECONDS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// DefaultCurrency seeds new installations.
	DefaultCurrency string `mapstructure:"DEFAULT_CURRENCY"`
}

// Load reads configuration from environment variables and an optional .env
// file in the given path.
func Load(path string) (Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DB_PATH", "./data/satsplit.db")
	viper.SetDefault("SESSION_TTL_SECONDS", 300)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DEFAULT_CURRENCY", "USD")

	for _, key := range []string{
		"SERVER_PORT", "DB_PATH", "SESSION_SECRET",
		"SESSION_TTL_SECONDS", "LOG_LEVEL", "DEFAULT_CURRENCY",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		// A missing .env file is fine; the environment is authoritative.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET must be set")
	}
	if cfg.SessionTTLSeconds <= 0 {
		cfg.SessionTTLSeconds = 300
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	return cfg, nil
}
