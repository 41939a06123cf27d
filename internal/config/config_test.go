package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clob-engine/internal/outcome"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.LockTTL)
	assert.Nil(t, cfg.KafkaBrokers)
	assert.Equal(t, outcome.DefaultBand(), cfg.Band)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PRICE_MIN", "500")
	t.Setenv("PRICE_MAX", "9500")
	t.Setenv("MAX_EXPOSURE", "1000000")
	t.Setenv("MAX_OUTCOME_EXPOSURE", "250000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CACHE_TTL", "1m")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, int64(500), cfg.Band.Min)
	assert.Equal(t, int64(9500), cfg.Band.Max)
	assert.Equal(t, int64(1000000), cfg.MaxExposure)
	assert.Equal(t, int64(250000), cfg.MaxOutcomeExposure)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"inverted band":     {"PRICE_MIN", "9950"},
		"bad log level":     {"LOG_LEVEL", "chatty"},
		"zero lock ttl":     {"LOCK_TTL", "0s"},
		"negative exposure": {"MAX_EXPOSURE", "-1"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := load(viper.New())
			assert.Error(t, err)
		})
	}
}
