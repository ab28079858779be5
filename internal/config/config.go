package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode" validate:"oneof=debug release test"`
	Port      int    `mapstructure:"port" validate:"min=1,max=65535"`
	ReadLimit int64  `mapstructure:"read_limit" validate:"min=512"`

	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Store     StoreConfig     `mapstructure:"store"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	Issuer    string        `mapstructure:"issuer"` // empty skips the iss check
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"min=1m"`
}

type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"min=1s"`
}

type WSConfig struct {
	SendBuffer int           `mapstructure:"send_buffer" validate:"min=1"`
	WriteWait  time.Duration `mapstructure:"write_wait" validate:"min=100ms"`
}

type RateLimitConfig struct {
	// EventsPerSecond of zero disables the limit.
	EventsPerSecond float64 `mapstructure:"events_per_second" validate:"min=0"`
	Burst           int     `mapstructure:"burst" validate:"min=1"`
}

type RegistryConfig struct {
	AllowMultipleSessions bool `mapstructure:"allow_multiple_sessions"`
}

type ChatConfig struct {
	HistoryLimit         int           `mapstructure:"history_limit" validate:"min=1,max=200"`
	LaneIdleTimeout      time.Duration `mapstructure:"lane_idle_timeout" validate:"min=1s"`
	LaneQueue            int           `mapstructure:"lane_queue" validate:"min=1"`
	StoreTimeout         time.Duration `mapstructure:"store_timeout" validate:"min=100ms"`
	TolerantBackpressure bool          `mapstructure:"tolerant_backpressure"`
}

type SignalingConfig struct {
	ValidateSDP bool `mapstructure:"validate_sdp"`
	EchoAudio   bool `mapstructure:"echo_audio"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=badger postgres"`
	BadgerPath  string `mapstructure:"badger_path" validate:"required_if=Driver badger"`
	PostgresDSN string `mapstructure:"postgres_dsn" validate:"required_if=Driver postgres"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("heartbeat.interval", "30s")
	v.SetDefault("ws.send_buffer", 64)
	v.SetDefault("ws.write_wait", "10s")
	v.SetDefault("ratelimit.events_per_second", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("registry.allow_multiple_sessions", true)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.lane_idle_timeout", "1m")
	v.SetDefault("chat.lane_queue", 64)
	v.SetDefault("chat.store_timeout", "10s")
	v.SetDefault("chat.tolerant_backpressure", false)
	v.SetDefault("signaling.validate_sdp", true)
	v.SetDefault("signaling.echo_audio", false)
	v.SetDefault("store.driver", "badger")
	v.SetDefault("store.badger_path", "./data/badger")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("metrics.enabled", true)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default), then
// TALKIE_* environment overrides. A .env file is applied to the
// environment first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file falls back to
// defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("TALKIE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("config loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("store", cfg.Store.Driver).
		Msg("config ready")
	return &cfg, nil
}
