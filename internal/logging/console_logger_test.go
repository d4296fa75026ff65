package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleLogger_LineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG})

	logger.Debug("scanning")
	logger.Info("Folder synced", F("folder", "docs"), F("seen", 12))
	logger.Warn("slow server")
	logger.Error("sync failed", F("err", "timeout"))

	assert.Equal(t, []string{
		"DEBUG scanning",
		"INFO  Folder synced folder=docs, seen=12",
		"WARN  slow server",
		"ERROR sync failed err=timeout",
	}, strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n"))
}

func TestConsoleLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: WARN})

	logger.Info("hidden")
	logger.Warn("shown")
	logger.SetLevel(ERROR)
	logger.Warn("hidden too")

	assert.Equal(t, "WARN  shown\n", buf.String())
}

func TestConsoleLogger_Colors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: DEBUG, ColorEnabled: true})

	logger.Warn("disk nearly full")
	logger.WithTraceID("0123456789").Error("upload failed")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, colorYellow+"WARN "+colorReset+" disk nearly full", lines[0])
	assert.Equal(t, colorRed+"ERROR"+colorReset+" "+colorGray+"[01234567]"+colorReset+" upload failed", lines[1])
}

func TestConsoleLogger_Timestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: INFO, TimestampEnabled: true})

	logger.Info("started")

	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2} INFO  started\n$`), buf.String())
}

func TestConsoleLogger_RedactsCredentials(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: INFO, RedactSensitive: true})

	logger.Info("request Authorization: Basic YWxpY2U6c2VjcmV0")
	logger.Info("login", F("form", "user=alice password=hunter2"), F("header", "Basic YWxpY2U6c2VjcmV0"))

	out := buf.String()
	assert.NotContains(t, out, "YWxpY2U6c2VjcmV0")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "user=alice password=[REDACTED]")
	assert.Contains(t, out, "header=Basic [REDACTED]")
}

func TestConsoleLogger_KeepsCredentialsWithoutRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(ConsoleLoggerConfig{Writer: &buf, Level: INFO})

	logger.Info("login", F("form", "password=hunter2"))

	assert.Equal(t, "INFO  login form=password=hunter2\n", buf.String())
}

func TestFileLogger_JSONLineShape(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ocsync.log")
	logger, err := NewFileLogger(FileLoggerConfig{FilePath: logPath, Level: INFO})
	require.NoError(t, err)

	logger.WithTraceID("run-1").Warn("conflict", F("path", "docs/a.txt"), F("retries", 2))
	logger.Info("plain")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := splitLogLines(data)
	require.Len(t, lines, 2)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &raw))
	assert.Equal(t, "WARN", raw["level"])
	assert.Equal(t, "conflict", raw["message"])
	assert.Equal(t, "run-1", raw["trace_id"])
	assert.Equal(t, map[string]interface{}{"path": "docs/a.txt", "retries": float64(2)}, raw["fields"])
	assert.Contains(t, raw, "timestamp")

	var plain LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &plain))
	assert.Equal(t, "plain", plain.Message)
	assert.Empty(t, plain.TraceID)
	assert.Nil(t, plain.Fields, "no fields object without fields")
	assert.False(t, plain.Timestamp.IsZero())
}
