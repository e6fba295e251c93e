package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/AgentOS/cardruntime/internal/infrastructure/config"
)

func TestNew(t *testing.T) {
	logger, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.LogConfig{Level: "error"})
	assert.Equal(t, "error", cfg.Level)
	assert.False(t, cfg.Development)

	cfg = FromConfig(config.LogConfig{Development: true})
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.Development)
}

func TestSessionFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Session("s1", "inventory").Info("loaded")
	logger.Component("router").Info("routed")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "s1", entries[0].ContextMap()["session_id"])
	assert.Equal(t, "inventory", entries[0].ContextMap()["stack_id"])
	assert.Equal(t, "router", entries[1].LoggerName)
}
