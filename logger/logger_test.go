package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "warn")
	defer SetOutput(os.Stderr, "INFO")

	Debug("debug line")
	Info("info line")
	Warn("warn line")
	Error("error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "WARN: warn line")
	assert.Contains(t, out, "error line")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "chatty")
	defer SetOutput(os.Stderr, "INFO")

	Debug("hidden")
	CaptureInfo("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "CAPTURE: ")
	assert.Contains(t, buf.String(), "shown")
}

func TestInitGlobalLoggers_WritesFiles(t *testing.T) {
	dir := t.TempDir()
	appPath := filepath.Join(dir, "logs", "app.log")
	capturePath := filepath.Join(dir, "logs", "capture.log")

	require.NoError(t, InitGlobalLoggers(appPath, capturePath, "DEBUG"))
	Info("hello from app")
	CaptureDebug("hello from capture")
	CloseLogFiles()

	app, err := os.ReadFile(appPath)
	require.NoError(t, err)
	capture, err := os.ReadFile(capturePath)
	require.NoError(t, err)

	assert.Contains(t, string(app), "hello from app")
	assert.Contains(t, string(capture), "hello from capture")
	assert.NotContains(t, string(app), "hello from capture")
}
