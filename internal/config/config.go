// Package config loads server settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atmx/clob-engine/internal/outcome"
)

// Config holds everything cmd/server needs to wire the engine.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration
	LockTTL     time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	Band               outcome.Band
	MaxExposure        int64
	MaxOutcomeExposure int64

	LogLevel slog.Level
}

// Load reads configuration from the process environment. Values in a
// .env file are used when the variable is not set in the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("LOCK_TTL", "5s")
	v.SetDefault("KAFKA_TOPIC", "clob.trades")
	v.SetDefault("PRICE_MIN", 100)
	v.SetDefault("PRICE_MAX", 9900)
	v.SetDefault("MAX_EXPOSURE", 0)
	v.SetDefault("MAX_OUTCOME_EXPOSURE", 0)
	v.SetDefault("LOG_LEVEL", "info")

	band, err := outcome.NewBand(v.GetInt64("PRICE_MIN"), v.GetInt64("PRICE_MAX"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:               v.GetString("PORT"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisURL:           v.GetString("REDIS_URL"),
		CacheTTL:           v.GetDuration("CACHE_TTL"),
		LockTTL:            v.GetDuration("LOCK_TTL"),
		KafkaBrokers:       splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:         v.GetString("KAFKA_TOPIC"),
		Band:               band,
		MaxExposure:        v.GetInt64("MAX_EXPOSURE"),
		MaxOutcomeExposure: v.GetInt64("MAX_OUTCOME_EXPOSURE"),
		LogLevel:           level,
	}
	if cfg.LockTTL <= 0 {
		return nil, errors.New("config: LOCK_TTL must be positive")
	}
	if cfg.MaxExposure < 0 || cfg.MaxOutcomeExposure < 0 {
		return nil, errors.New("config: exposure limits must not be negative")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
