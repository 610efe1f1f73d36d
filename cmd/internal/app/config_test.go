package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unsetEnv clears key for the test and restores it afterwards.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"COURIER_ISSUER_ADDR", "COURIER_HUB_ADDR", "COURIER_TOKEN_TTL", "COURIER_VERIFY_TIMEOUT",
		"COURIER_SNAPSHOT_PATH", "COURIER_LOG_FORMAT", "COURIER_WS_ALLOWED_ORIGINS",
	} {
		unsetEnv(t, k)
	}

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, ":4000", cfg.IssuerAddr)
	require.Equal(t, ":3000", cfg.HubAddr)
	require.Equal(t, time.Hour, cfg.TokenTTL)
	require.Equal(t, 10*time.Second, cfg.VerifyTimeout)
	require.Equal(t, "users.json", cfg.SnapshotPath)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, []string{"*"}, cfg.WSAllowedOrigins)
	require.Zero(t, cfg.WSReadIdleTimeout)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COURIER_HUB_ADDR", "127.0.0.1:3999")
	t.Setenv("COURIER_VERIFY_TIMEOUT", "250ms")
	t.Setenv("COURIER_WS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:3999", cfg.HubAddr)
	require.Equal(t, 250*time.Millisecond, cfg.VerifyTimeout)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WSAllowedOrigins)
}

func TestLoadConfig_DotEnvFile(t *testing.T) {
	unsetEnv(t, "COURIER_ISSUER_ADDR")
	t.Setenv("COURIER_SNAPSHOT_PATH", "from-env.json")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("COURIER_ISSUER_ADDR=:4100\nCOURIER_SNAPSHOT_PATH=from-file.json\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":4100", cfg.IssuerAddr)
	require.Equal(t, "from-env.json", cfg.SnapshotPath, "process env wins over the file")
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"COURIER_LOG_FORMAT":     "xml",
		"COURIER_TOKEN_TTL":      "0s",
		"COURIER_VERIFY_TIMEOUT": "soon",
		"COURIER_ISSUER_URL":     "not a url",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			require.Error(t, err)
		})
	}
}
