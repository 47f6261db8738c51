package config

import (
	"os"
	"path/filepath"
	"testing"

	"capturekit/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := `
database:
  driver: SQLite
  path: /tmp/capture-test.db
ingest:
  max_comment_depth: 12
kafka:
  topic: exchanges-test
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	t.Setenv("CAPTUREKIT_SERVER_PORT", "9999")
	t.Setenv("CAPTUREKIT_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, msg, err := Load(cfgPath)
	require.NoError(t, err)

	assert.Contains(t, msg, cfgPath)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/capture-test.db", cfg.Database.Path)
	assert.Equal(t, 12, cfg.Ingest.MaxCommentDepth)
	assert.Equal(t, "exchanges-test", cfg.Kafka.Topic)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Ingest.MaxCommentDepth)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := expandTilde("~/capture.db")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "capture.db"), got)

	got, err = expandTilde("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}

func TestInit_LogsConfigPathVerbatim(t *testing.T) {
	prev := AppConfig
	t.Cleanup(func() {
		AppConfig = prev
		logger.CloseLogFiles()
	})

	dir := filepath.Join(t.TempDir(), "100%done")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  path: "+filepath.Join(dir, "c.db")+"\n"), 0o600))
	appLog := filepath.Join(dir, "app.log")

	require.NoError(t, Init(cfgPath, appLog, filepath.Join(dir, "capture.log"), "INFO"))
	logger.CloseLogFiles()

	out, err := os.ReadFile(appLog)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Using config file: "+cfgPath)
	assert.NotContains(t, string(out), "%!")
}
