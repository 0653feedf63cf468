package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_ProductionUsesJSON(t *testing.T) {
	logger := NewLogger("production")
	require.NotNil(t, logger)

	_, ok := logger.Handler().(*slog.JSONHandler)
	assert.True(t, ok, "production logger should use JSONHandler, got %T", logger.Handler())
	assert.True(t, logger.Handler().Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(nil, slog.LevelDebug))
}

func TestNewLogger_DevelopmentUsesText(t *testing.T) {
	for _, env := range []string{"development", "", "staging"} {
		logger := NewLogger(env)
		require.NotNil(t, logger)

		_, ok := logger.Handler().(*slog.TextHandler)
		assert.True(t, ok, "env %q should use TextHandler, got %T", env, logger.Handler())
		assert.True(t, logger.Handler().Enabled(nil, slog.LevelDebug))
	}
}
