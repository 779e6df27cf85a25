package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Temporary(t *testing.T) {
	t.Run("GMENGINE_TEMPORARY overrides engine.temporary", func(t *testing.T) {
		t.Setenv("GMENGINE_TEMPORARY", "/var/tmp/gmengine")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/var/tmp/gmengine", cfg.Engine.Temporary)
	})

	t.Run("unset leaves the configured value alone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Engine.Temporary = "/configured"
		cfg.applyEnvOverrides()

		assert.Equal(t, "/configured", cfg.Engine.Temporary)
	})
}

func TestEnvOverrides_GraceTime(t *testing.T) {
	t.Setenv("GMENGINE_GRACE_TIME", "5")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 5, cfg.Engine.GraceTime)
}

func TestEnvOverrides_Debug(t *testing.T) {
	t.Run("true enables debug mode", func(t *testing.T) {
		t.Setenv("GMENGINE_DEBUG", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.Logging.DebugMode)
	})

	t.Run("absent leaves debug mode at its default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.False(t, cfg.Logging.DebugMode)
	})
}
