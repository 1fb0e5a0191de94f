package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "communications-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: https://backend.example.com
anthropic:
  api_key: test-key
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.HTTPPort)
	assert.Equal(t, "release", config.Server.Mode)
	assert.Equal(t, 10, config.Agent.MaxIterations)
	assert.Equal(t, 1000, config.Agent.StreamQueueSize)
	assert.Equal(t, "info", config.Observability.LogLevel)
	assert.Equal(t, "communications-agent", config.Observability.ServiceName)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: https://file.example.com
anthropic:
  api_key: file-key
`)

	t.Setenv("BACKEND_URL", "https://env.example.com")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("PORT", "9090")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", config.Backend.URL)
	assert.Equal(t, "env-key", config.Anthropic.APIKey)
	assert.Equal(t, "env-secret", config.Auth.JWTSecret)
	assert.Equal(t, 9090, config.Server.HTTPPort)
}

func TestLoad_RequiresBackendURL(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: test-key
`)

	t.Setenv("BACKEND_URL", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend url is required")
}

func TestLoad_RequiresAnthropicKey(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: https://backend.example.com
`)

	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic api key is required")
}
