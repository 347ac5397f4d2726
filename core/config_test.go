package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValues(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "default", c.Namespace)
	assert.Equal(t, "openai", c.Model.Provider)
	assert.Equal(t, 3, c.Resilience.MaxRetries)
	assert.Equal(t, 12, c.Research.MaxRounds)
	assert.False(t, c.HTTP.CORS.Enabled)
}

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		EnvPort:             "9090",
		EnvDevMode:          "true",
		EnvModelProvider:    "bedrock",
		EnvModelAPIKey:      "secret",
		EnvAgentBaseURLs:    "http://a, http://b ,http://c",
		EnvMaxRetries:       "7",
		EnvMaxResearchRounds: "20",
	})

	c := DefaultConfig()
	err := c.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Port)
	assert.True(t, c.DevMode)
	assert.Equal(t, "bedrock", c.Model.Provider)
	assert.Equal(t, "secret", c.Model.APIKey)
	assert.Equal(t, []string{"http://a", "http://b", "http://c"}, c.Agents.BaseURLs)
	assert.Equal(t, 7, c.Resilience.MaxRetries)
	assert.Equal(t, 20, c.Research.MaxRounds)
}

func TestLoadFromEnvRejectsInvalidPort(t *testing.T) {
	withEnv(t, map[string]string{EnvPort: "not-a-number"})
	c := DefaultConfig()
	err := c.LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromEnvParsesBackoffSeconds(t *testing.T) {
	withEnv(t, map[string]string{
		EnvInitialBackoffSeconds: "0.5",
		EnvMaxBackoffSeconds:     "15",
	})
	c := DefaultConfig()
	require.NoError(t, c.LoadFromEnv())
	assert.Equal(t, 500*time.Millisecond, c.Resilience.InitialBackoff)
	assert.Equal(t, 15*time.Second, c.Resilience.MaxBackoff)
}

func TestDetectEnvironmentSetsAddressUnderKubernetes(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "10.0.0.1")
	c := DefaultConfig()
	c.DetectEnvironment()
	assert.Equal(t, "0.0.0.0", c.Address)
}

func TestDetectEnvironmentNoopOutsideKubernetes(t *testing.T) {
	os.Unsetenv("KUBERNETES_SERVICE_HOST")
	c := DefaultConfig()
	c.DetectEnvironment()
	assert.Empty(t, c.Address)
}

func TestNewConfigAppliesOptionsLast(t *testing.T) {
	t.Setenv(EnvPort, "9000")
	c, err := NewConfig(WithPort(1234))
	require.NoError(t, err)
	assert.Equal(t, 1234, c.Port, "functional options must win over env vars")
}

func TestNewConfigWithAgentBaseURLsOption(t *testing.T) {
	c, err := NewConfig(WithAgentBaseURLs([]string{"http://x"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x"}, c.Agents.BaseURLs)
}
