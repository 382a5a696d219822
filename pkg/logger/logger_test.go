package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tg-antispam-go/internal/config"
)

func TestNewLoggerJSON(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	var buf bytes.Buffer
	log.SetOutput(&buf)
	WithMessage(log, -100, 42, 7).Info("Violation handled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Violation handled", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(-100), entry["chat_id"])
	assert.Equal(t, float64(7), entry["message_id"])
}

func TestNewLoggerDefaultsAndErrors(t *testing.T) {
	log, err := NewLogger(&config.LoggingConfig{})
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())

	_, err = NewLogger(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	log, err := NewLogger(&config.LoggingConfig{
		Level:  "info",
		Output: "file",
		File:   config.FileConfig{Path: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1},
	})
	require.NoError(t, err)
	log.Info("hello")
	assert.FileExists(t, path)
}
