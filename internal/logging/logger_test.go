package logging

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mendd/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("json logger", func(t *testing.T) {
		logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
		require.NoError(t, err)
		require.NotNil(t, logger)
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("console logger at debug", func(t *testing.T) {
		logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(config.LoggingConfig{Level: "loudest", Format: "json"})
		assert.Error(t, err)
	})
}

func TestSync(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)

	// Syncing stderr may fail with EINVAL or ENOTTY depending on where it
	// points; both are swallowed.
	assert.NoError(t, Sync(logger))
}

func TestIsStderrSyncError(t *testing.T) {
	assert.True(t, isStderrSyncError(syscall.EINVAL))
	assert.True(t, isStderrSyncError(syscall.ENOTTY))
	assert.False(t, isStderrSyncError(syscall.EIO))
	assert.False(t, isStderrSyncError(errors.New("disk on fire")))
}
