package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerUsesStructuredKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "escrowd", "test", slog.LevelInfo)
	logger.Info("trade funded", "trade", "ab12")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "trade funded", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "escrowd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "ab12", line["trade"])
	require.Contains(t, line, "timestamp")
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "escrowd", "", slog.LevelWarn)
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.NotZero(t, buf.Len())
}

func TestSetupWithFileWritesRotatingLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrowd.log")
	logger, closer := SetupWithOptions("escrowd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"hello"`)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("token", "secret").Value.String())
	require.Equal(t, RedactedValue, MaskField("header", "Bearer abc").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.Equal(t, RedactedValue, MaskValue("x"))
}

func TestLoggerMasksSecretKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "escrowd", "test", slog.LevelInfo)
	logger.Info("auth", "Token", "eyJhbGciOi", "trade", "ab12", slog.Group("audit", "dsn", "postgres://u:p@db/escrow"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["Token"])
	require.Equal(t, "ab12", line["trade"])
	audit, ok := line["audit"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, RedactedValue, audit["dsn"])
	require.True(t, IsSecretKey(" Passphrase "))
	require.False(t, IsSecretKey("caller"))
}
