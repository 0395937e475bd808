package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process configuration. Every field can be overridden through
// the environment with the CHATRELAY_ prefix, e.g. CHATRELAY_NATS_URL.
type Config struct {
	Addr          string `mapstructure:"addr"`
	NatsURL       string `mapstructure:"nats_url"`
	AllowedOrigin string `mapstructure:"allowed_origin"`
	LogLevel      string `mapstructure:"log_level"`
}

// WebSocket timing parameters shared by the connection handlers.
const (
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxMessageSize = 4096
)

const envPrefix = "CHATRELAY"

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:          ":3025",
		NatsURL:       "nats://localhost:4222",
		AllowedOrigin: "http://localhost:5173",
		LogLevel:      "info",
	}
}

// Load builds configuration from defaults and environment variables.
// Precedence: defaults < env vars.
func Load() (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("nats_url", cfg.NatsURL)
	v.SetDefault("allowed_origin", cfg.AllowedOrigin)
	v.SetDefault("log_level", cfg.LogLevel)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}
