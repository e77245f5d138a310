package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tickline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
apps:
  assistant:
    default: true
    adapter: anthropic
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "none", cfg.Gateway.AuthMode)
	require.Equal(t, 256, cfg.Gateway.ClientBufferMax)
	require.Equal(t, "drop-oldest", cfg.Gateway.ClientOverflowPolicy)
	require.Equal(t, "tickline-registry", cfg.Registry.Name)
	require.Equal(t, "noop", cfg.Telemetry.Backend)

	app := cfg.Apps["assistant"]
	require.Equal(t, 8, app.Fanout)
	require.Equal(t, "memory", app.SnapshotStore)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, `
gateway:
  auth_mode: token
  client_buffer_max: 64
apps:
  assistant:
    adapter: openai
    fanout: 8
    snapshot_store: redis
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "token", cfg.Gateway.AuthMode)
	require.Equal(t, 64, cfg.Gateway.ClientBufferMax)
	require.Equal(t, 8, cfg.Apps["assistant"].Fanout)
	require.Equal(t, "redis", cfg.Apps["assistant"].SnapshotStore)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAuthTokenReadsConfiguredEnvVar(t *testing.T) {
	path := writeConfig(t, `
gateway:
  auth_token_env: MY_APP_TOKEN
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	t.Setenv("MY_APP_TOKEN", "s3cr3t")
	require.Equal(t, "s3cr3t", cfg.AuthToken())
}

func TestAdapterAPIKeyEnv(t *testing.T) {
	require.Equal(t, "ANTHROPIC_API_KEY", AdapterAPIKeyEnv("anthropic"))
	require.Equal(t, "OPENAI_API_KEY", AdapterAPIKeyEnv("openai"))
	require.Equal(t, "AWS_ACCESS_KEY_ID", AdapterAPIKeyEnv("bedrock"))
	require.Equal(t, "", AdapterAPIKeyEnv("unknown"))
}
