package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugkit/entitlement/pkg/config"
)

type testConfig struct {
	Host    string `env:"TEST_CFG_HOST" envDefault:"localhost"`
	Port    int    `env:"TEST_CFG_PORT" envDefault:"5432"`
	APIKey  string `env:"TEST_CFG_API_KEY"`
	Debug   bool   `env:"TEST_CFG_DEBUG" envDefault:"false"`
	Retries int    `env:"TEST_CFG_RETRIES" envDefault:"3"`
}

type requiredConfig struct {
	Secret string `env:"TEST_CFG_REQUIRED_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied when env unset", func(t *testing.T) {
		var cfg testConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 5432, cfg.Port)
		assert.False(t, cfg.Debug)
		assert.Equal(t, 3, cfg.Retries)
	})

	t.Run("env values override defaults", func(t *testing.T) {
		t.Setenv("TEST_CFG_HOST", "db.internal")
		t.Setenv("TEST_CFG_PORT", "6543")
		t.Setenv("TEST_CFG_DEBUG", "true")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))

		assert.Equal(t, "db.internal", cfg.Host)
		assert.Equal(t, 6543, cfg.Port)
		assert.True(t, cfg.Debug)
	})

	t.Run("nil pointer", func(t *testing.T) {
		err := config.Load[testConfig](nil)
		require.ErrorIs(t, err, config.ErrNilPointer)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("invalid value type", func(t *testing.T) {
		t.Setenv("TEST_CFG_PORT", "not-a-number")

		var cfg testConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})

	t.Run("succeeds with required value set", func(t *testing.T) {
		t.Setenv("TEST_CFG_REQUIRED_SECRET", "s3cret")

		var cfg requiredConfig
		assert.NotPanics(t, func() { config.MustLoad(&cfg) })
		assert.Equal(t, "s3cret", cfg.Secret)
	})
}
