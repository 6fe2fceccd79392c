package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8080/v1/progress", cfg.Stream.Endpoint)
	require.Equal(t, 2*time.Second, cfg.RetryDelay())
	require.Equal(t, 8080, cfg.Server.Port)
	require.False(t, cfg.DB.Enabled)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
stream:
  endpoint: https://api.example.com/v1/progress
  retry_delay_ms: 500
server:
  port: 9090
db:
  enabled: true
  dsn: postgres://localhost/searchstream
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "https://api.example.com/v1/progress", cfg.Stream.Endpoint)
	require.Equal(t, 500*time.Millisecond, cfg.RetryDelay())
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.DB.Enabled)
	require.Equal(t, "postgres://localhost/searchstream", cfg.DB.DSN)
	require.False(t, cfg.Logging.Development)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := Config{
		Stream:  StreamConfig{Endpoint: "http://localhost/v1/progress", RetryDelayMS: 2000},
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Development: true},
	}

	cfg := base
	cfg.Stream.Endpoint = ""
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Stream.RetryDelayMS = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.Server.Port = 0
	require.Error(t, cfg.Validate())

	cfg = base
	cfg.DB.Enabled = true
	require.Error(t, cfg.Validate())

	require.NoError(t, base.Validate())
}
