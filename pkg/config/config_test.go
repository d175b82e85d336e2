package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setProductionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")
	t.Setenv("PUBLIC_URL", "https://bookhive.example")
	t.Setenv("DATABASE_FILE_PATH", "/data/db.sqlite")
	t.Setenv("KV_DIRECTORY", "/data/kv")
	t.Setenv("SEARCH_INDEX_DIRECTORY", "/data/search")
	t.Setenv("COOKIE_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestNew_RequiredFieldMissing(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("DATABASE_FILE_PATH", "")

	cfg, err := New()
	assert.Nil(t, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required config")
	assert.Contains(t, err.Error(), "DATABASE_FILE_PATH")
	assert.Contains(t, err.Error(), "database_file_path")
}

func TestNew_CookieSecretTooShort(t *testing.T) {
	setProductionEnv(t)
	t.Setenv("COOKIE_SECRET", "short")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COOKIE_SECRET")
}

func TestNew_Defaults(t *testing.T) {
	setProductionEnv(t)

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvironmentProduction, cfg.Environment)
	assert.Equal(t, 5, cfg.DatabaseConnectRetryCount)
	assert.Equal(t, 2*time.Second, cfg.DatabaseConnectRetryDelay)
	assert.False(t, cfg.DatabaseDebug)
	assert.Equal(t, "0.0.0.0", cfg.ServerHost)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.EnrichmentStaleAfter)
	assert.Equal(t, 800*time.Millisecond, cfg.PostLoginSyncTimeout)
	assert.Equal(t, 30*time.Second, cfg.BookLockTTL)
	assert.True(t, cfg.FirehoseEnabled)
	assert.Equal(t, 2, cfg.WorkerProcesses)
}

func TestNew_DevelopmentNeedsNoEnv(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("CONFIG_FILE", "/nonexistent/config.yaml")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, EnvironmentDevelopment, cfg.Environment)
	assert.Equal(t, "./tmp/db.sqlite", cfg.DatabaseFilePath)
	assert.True(t, cfg.DatabaseDebug)
}

func TestNew_WithConfigFile(t *testing.T) {
	setProductionEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server_port: 9000
book_lock_ttl: 45s
goodreads_requests_per_second: 0.5
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)
	t.Setenv("CONFIG_FILE", configPath)

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.ServerPort)
	assert.Equal(t, 45*time.Second, cfg.BookLockTTL)
	assert.InDelta(t, 0.5, cfg.GoodreadsRequestsPerSecond, 0.0001)
}

func TestNew_EnvVarOverridesConfigFile(t *testing.T) {
	setProductionEnv(t)
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
database_file_path: /data/from-file.db
server_port: 8081
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("CONFIG_FILE", configPath)
	t.Setenv("DATABASE_FILE_PATH", "/data/from-env.db")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/data/from-env.db", cfg.DatabaseFilePath)
	assert.Equal(t, 9090, cfg.ServerPort)
}

func TestNewForTest(t *testing.T) {
	cfg := NewForTest()
	assert.Equal(t, ":memory:", cfg.DatabaseFilePath)
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Equal(t, EnvironmentTest, cfg.Environment)
	assert.False(t, cfg.FirehoseEnabled)
	assert.False(t, cfg.IsProduction())
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "database_file_path", toSnakeCase("DatabaseFilePath"))
	assert.Equal(t, "server_port", toSnakeCase("ServerPort"))
	assert.Equal(t, "book_lock_ttl", toSnakeCase("BookLockTTL"))
}
