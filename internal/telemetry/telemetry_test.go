package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mendd/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("nil config falls back to defaults", func(t *testing.T) {
		tel, err := New(context.Background(), nil)
		require.NoError(t, err)
		require.NotNil(t, tel)
		assert.Nil(t, tel.tracerProvider)
		assert.Nil(t, tel.meterProvider)
	})

	t.Run("disabled telemetry installs nothing", func(t *testing.T) {
		cfg := config.Default().Telemetry
		tel, err := New(context.Background(), &cfg)
		require.NoError(t, err)
		assert.Nil(t, tel.tracerProvider)
		assert.Nil(t, tel.meterProvider)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		cfg := config.Default().Telemetry
		cfg.Enabled = true
		cfg.Endpoint = ""
		_, err := New(context.Background(), &cfg)
		assert.Error(t, err)
	})
}

func TestShutdown(t *testing.T) {
	t.Run("nil receiver", func(t *testing.T) {
		var tel *Telemetry
		assert.NoError(t, tel.Shutdown(context.Background()))
	})

	t.Run("disabled instance", func(t *testing.T) {
		tel, err := New(context.Background(), nil)
		require.NoError(t, err)
		assert.NoError(t, tel.Shutdown(context.Background()))
	})
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
