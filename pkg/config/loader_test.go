package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/creditkit/pkg/config"
)

type workerConfig struct {
	Interval time.Duration `env:"TEST_RECONCILE_INTERVAL" envDefault:"15m"`
	Name     string        `env:"TEST_WORKER_NAME" envDefault:"reconciler"`
}

type requiredConfig struct {
	Secret string `env:"TEST_MISSING_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		var cfg workerConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, 15*time.Minute, cfg.Interval)
		assert.Equal(t, "reconciler", cfg.Name)
	})

	t.Run("cached on second load", func(t *testing.T) {
		var first workerConfig
		require.NoError(t, config.Load(&first))

		// Changing the environment after the first parse has no effect.
		t.Setenv("TEST_WORKER_NAME", "changed")

		var second workerConfig
		require.NoError(t, config.Load(&second))
		assert.Equal(t, first.Name, second.Name)
	})

	t.Run("nil pointer", func(t *testing.T) {
		assert.ErrorIs(t, config.Load[workerConfig](nil), config.ErrNilPointer)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg requiredConfig
		assert.ErrorIs(t, config.Load(&cfg), config.ErrParsingConfig)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on failure", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})
}
