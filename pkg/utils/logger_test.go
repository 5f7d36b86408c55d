// File: pkg/utils/logger_test.go
package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedLogger() (*Logger, *bytes.Buffer) {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	buffer := &bytes.Buffer{}
	base.SetOutput(buffer)
	return &Logger{Logger: base}, buffer
}

func TestLoggerEmitsStructuredFields(t *testing.T) {
	logger, buffer := newCapturedLogger()

	logger.Info("Storage connected", "type", "sqlite", "max_connections", 25)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))

	// The message stays clean and the pairs land as fields
	assert.Equal(t, "Storage connected", entry["msg"])
	assert.Equal(t, "sqlite", entry["type"])
	assert.Equal(t, float64(25), entry["max_connections"])
}

func TestLoggerHandlesUnevenPairs(t *testing.T) {
	logger, buffer := newCapturedLogger()

	logger.Warn("Health check failed", "url", "http://localhost:8545", "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &entry))
	assert.Equal(t, "Health check failed", entry["msg"])
	assert.Equal(t, "http://localhost:8545", entry["url"])
	assert.Contains(t, entry, "dangling")
}

func TestGetLoggerDefaults(t *testing.T) {
	logger := GetLogger()
	require.NotNil(t, logger)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
