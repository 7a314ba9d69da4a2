package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 2*time.Minute, cfg.Runner.StageTimeout.Duration())
	assert.Equal(t, "gpt-4o-mini", cfg.Fixer.Model)
	assert.Equal(t, 15*time.Second, cfg.CI.PollInterval.Duration())
	assert.Equal(t, 5*time.Minute, cfg.CI.PollTimeout.Duration())
	assert.False(t, cfg.CI.Disabled)
	assert.False(t, cfg.Telemetry.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("bad port", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())

		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad logging format", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad runner settings", func(t *testing.T) {
		cfg := Default()
		cfg.Runner.StageTimeout = 0
		assert.Error(t, cfg.Validate())

		cfg = Default()
		cfg.Runner.MaxRetries = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("telemetry enabled requires endpoint", func(t *testing.T) {
		cfg := Default()
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.Endpoint = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("telemetry sampling rate bounds", func(t *testing.T) {
		cfg := Default()
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.SamplingRate = 1.5
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadWithFile(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		cfg, err := LoadWithFile("")
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("yaml file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
logging:
  level: debug
  format: console
runner:
  stage_timeout: 90s
ci:
  disabled: true
`), 0o600))

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "console", cfg.Logging.Format)
		assert.Equal(t, 90*time.Second, cfg.Runner.StageTimeout.Duration())
		assert.True(t, cfg.CI.Disabled)
		// Untouched sections keep defaults.
		assert.Equal(t, "gpt-4o-mini", cfg.Fixer.Model)
	})

	t.Run("environment overrides the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600))

		t.Setenv("MENDD_SERVER_PORT", "7070")
		t.Setenv("MENDD_FIXER_API_KEY", "sk-test")

		cfg, err := LoadWithFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "sk-test", cfg.Fixer.APIKey.Value())
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o600))

		_, err := LoadWithFile(path)
		assert.Error(t, err)
	})
}
