package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_FILE", "PORT", "DATABASE_URL", "DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
	"API_ID", "API_HASH", "PHONE_NUMBER", "TELEGRAM_PASSWORD", "RAW_DATA_PATH", "DETECTOR_COMMAND",
	"DETECTIONS_CSV", "LOG_LEVEL",
}

// cleanEnv переводит тест в пустой каталог и очищает переменные, которые читает Load.
func cleanEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cleanEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DefaultChannels, cfg.Telegram.Channels)
	assert.Equal(t, 1000, cfg.Telegram.Limit)
	assert.Equal(t, [2]time.Duration{time.Second, 2 * time.Second}, cfg.Telegram.Delay())
	assert.Equal(t, "data/raw", cfg.Data.RawPath)
	assert.Equal(t, []string{"0 2 * * *", "0 3 * * 0"}, cfg.Schedules, "ежедневный и еженедельный запуски")
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "postgres://postgres:@localhost:5432/ethmed_db?sslmode=disable", cfg.Database.DSN())
	assert.Error(t, cfg.TelegramReady())
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := cleanEnv(t)
	yml := `
server:
  port: "9000"
database:
  host: db
  name: warehouse
telegram:
  api_id: 1
  api_hash: fromfile
  channels: [chemed]
  delay_min: 500ms
  delay_max: 1s
proxy:
  ip: 127.0.0.1
  port: 1080
detection:
  csv: results/yolo_detections.csv
  workers: 2
pipeline:
  heartbeat_timeout: 5m
monitoring:
  low_data_volume: 10
  stale_after: 24h
schedules: ["30 1 * * *"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o644))
	t.Setenv("API_HASH", "fromenv")
	t.Setenv("API_ID", "12345")
	t.Setenv("PHONE_NUMBER", "+251900000000")
	t.Setenv("DB_PASSWORD", "s3cr@t")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 12345, cfg.Telegram.APIID)
	assert.Equal(t, "fromenv", cfg.Telegram.APIHash)
	assert.Equal(t, []string{"chemed"}, cfg.Telegram.Channels)
	assert.Equal(t, 500*time.Millisecond, cfg.Telegram.DelayMin)
	require.NotNil(t, cfg.Proxy)
	assert.Equal(t, "127.0.0.1:1080", cfg.Proxy.Addr())
	assert.Equal(t, 2, cfg.Detection.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.HeartbeatTimeout)
	assert.Equal(t, 10, cfg.Monitoring.LowDataVolume)
	assert.Equal(t, 24*time.Hour, cfg.Monitoring.StaleAfter)
	assert.Equal(t, []string{"30 1 * * *"}, cfg.Schedules, "расписания из файла заменяют умолчания")
	assert.Equal(t, "postgres://postgres:s3cr%40t@db:5432/warehouse?sslmode=disable", cfg.Database.DSN())
	assert.NoError(t, cfg.TelegramReady())
}

func TestDatabaseURLWins(t *testing.T) {
	cleanEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@h:1/d")
	t.Setenv("DB_HOST", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@h:1/d", cfg.Database.DSN())
}

func TestLoadErrors(t *testing.T) {
	dir := cleanEnv(t)

	t.Setenv("CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	_, err := Load()
	assert.Error(t, err, "явно указанный файл обязан существовать")

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("API_ID", "abc")
	_, err = Load()
	assert.ErrorContains(t, err, "API_ID")

	t.Setenv("API_ID", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("detection:\n  threshold: 2\n"), 0o644))
	_, err = Load()
	assert.ErrorContains(t, err, "threshold")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("proxy:\n  ip: ''\n"), 0o644))
	_, err = Load()
	assert.ErrorContains(t, err, "proxy")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
