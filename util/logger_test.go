package util

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewLogger validates level selection and output formatting.
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("debug", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("path", "a.jpg").Info("Saved face #0")
	assert.Contains(t, buf.String(), "Saved face #0")
	assert.Contains(t, buf.String(), "path=a.jpg")
}

// TestNewLoggerEnvironment validates the environment fallback.
func TestNewLoggerEnvironment(t *testing.T) {
	t.Setenv(LogLevelEnv, "warn")
	logger, err := NewLogger("", nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	t.Setenv(LogLevelEnv, "")
	logger, err = NewLogger("", nil)
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	_, err = NewLogger("loud", nil)
	assert.Error(t, err)
}
