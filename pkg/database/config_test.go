package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearDatabaseEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD",
		"DB_NAME", "DB_SSLMODE", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS",
		"DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearDatabaseEnv(t)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "livewatch", cfg.User)
	assert.Equal(t, "livewatch", cfg.Database)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 10, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxIdleTime)
	assert.Contains(t, cfg.DSN(), "host=localhost")
}

func TestLoadConfigDatabaseURLOverride(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@db.internal:6432/livewatch")
	t.Setenv("DB_HOST", "ignored-host")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db.internal:6432/livewatch", cfg.DSN())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric port", "DB_PORT", "not-a-port"},
		{"port out of range", "DB_PORT", "70000"},
		{"non-numeric pool size", "DB_MAX_OPEN_CONNS", "many"},
		{"zero open conns", "DB_MAX_OPEN_CONNS", "0"},
		{"negative idle conns", "DB_MAX_IDLE_CONNS", "-1"},
		{"bad lifetime", "DB_CONN_MAX_LIFETIME", "30 minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearDatabaseEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfigFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigClampsIdleToOpen(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DB_MAX_OPEN_CONNS", "4")
	t.Setenv("DB_MAX_IDLE_CONNS", "20")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxIdleConns)
}

func TestLoadConfigPoolDurationsFromEnv(t *testing.T) {
	clearDatabaseEnv(t)
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")
	t.Setenv("DB_CONN_MAX_IDLE_TIME", "90s")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxLifetime)
	assert.Equal(t, 90*time.Second, cfg.ConnMaxIdleTime)
}
