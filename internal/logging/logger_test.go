package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New("warn", FormatJSON)
	require.NoError(t, err)
	assert.False(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.WarnLevel))

	logger, err = New("debug", FormatConsole)
	require.NoError(t, err)
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel))
}

func TestNew_Errors(t *testing.T) {
	_, err := New("loud", FormatJSON)
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}
