package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"STORE_BACKEND": "memory",
		"JWT_SECRET":    "secret",
		"PORT":          "",
	})
	require.NoError(t, err)
	require.Equal(t, config.BackendMemory, cfg.StoreBackend)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.True(t, cfg.HashPasswords)
	require.Equal(t, "ims-info", cfg.ArchiveDir)
	require.Equal(t, "XYZ-Inventory", cfg.StoreName)
	require.Equal(t, 5, cfg.CommitMaxRetries)
	require.Equal(t, 20*time.Millisecond, cfg.CommitRetryBase)
}

func TestLoadRequiresRedisURLForRedisBackend(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"STORE_BACKEND": "redis",
		"REDIS_URL":     "",
		"JWT_SECRET":    "secret",
	})
	require.ErrorContains(t, err, "REDIS_URL")
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"STORE_BACKEND": "firestore",
		"JWT_SECRET":    "secret",
	})
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"STORE_BACKEND":       "postgres",
		"DATABASE_URL":        "postgres://localhost/toko",
		"JWT_SECRET":          "secret",
		"AUTH_HASH_PASSWORDS": "false",
		"COMMIT_MAX_RETRIES":  "2",
		"SESSION_IDLE_TTL":    "5m",
		"PORT":                ":9000",
	})
	require.NoError(t, err)
	require.False(t, cfg.HashPasswords)
	require.Equal(t, 2, cfg.CommitMaxRetries)
	require.Equal(t, 5*time.Minute, cfg.SessionIdleTTL)
	require.Equal(t, ":9000", cfg.HTTPAddr())
}
