package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ble-sensors.klederson.com/internal/config"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	logger, closeFn, err := New(config.LoggingConfig{LogFile: path, LogLevel: "debug"})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.WithField("component", "test").Info("hello sensors")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello sensors")
	assert.Contains(t, string(data), "component=test")
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(config.LoggingConfig{LogLevel: "loud"})
	assert.Error(t, err)
}
