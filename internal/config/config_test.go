package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvOverrides(t *testing.T) {
	t.Setenv("LINKCHAT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("LINKCHAT_SERVER_PORT", "9090")
	t.Setenv("LINKCHAT_CHAT_FETCH_TIMEOUT", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, BackendHTTP, cfg.Backend.Driver)
	assert.Equal(t, 3*time.Second, cfg.Chat.FetchTimeout)
	assert.Equal(t, 15*time.Second, cfg.Chat.PersistTimeout)
	assert.Equal(t, uint64(5), cfg.Realtime.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Realtime.RetryInterval)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkchat.yaml")
	body := `
backend:
  driver: postgres
  dsn: postgres://chat@localhost/chat?sslmode=disable
auth:
  mode: grpc
  grpc_addr: auth:9000
rate_limit:
  sends_per_minute: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.Backend.Driver)
	assert.Equal(t, AuthGRPC, cfg.Auth.Mode)
	assert.Equal(t, "auth:9000", cfg.Auth.GRPCAddr)
	assert.Equal(t, 10, cfg.RateLimit.SendsPerMinute)
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	_, err := Load("")
	require.Error(t, err, "jwt mode without a secret")

	t.Setenv("LINKCHAT_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("LINKCHAT_BACKEND_DRIVER", "postgres")
	_, err = Load("")
	require.Error(t, err, "postgres driver without a dsn")

	t.Setenv("LINKCHAT_BACKEND_DRIVER", "mongo")
	_, err = Load("")
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
