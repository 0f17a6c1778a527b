package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIsSafeBeforeInitialize(t *testing.T) {
	require.NotNil(t, Logger)
	// Must not panic.
	Infow("message before initialize", "key", "value")
	Warnw("warn before initialize")
}

func TestInitializeConsole(t *testing.T) {
	err := Initialize(false)
	require.NoError(t, err)
	assert.False(t, JSONOutput)
	require.NotNil(t, Logger)
	Infow("console logger works", FieldJobID, "test")
}

func TestInitializeJSON(t *testing.T) {
	err := Initialize(true)
	require.NoError(t, err)
	assert.True(t, JSONOutput)
	require.NotNil(t, Logger)
}
