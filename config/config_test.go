package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ECA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ECA_MODEL", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "openai", cfg.API.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.Equal(t, 3, cfg.Model.MaxAttempts)
	assert.Equal(t, Duration(time.Second), cfg.Model.BaseDelay)
	assert.Equal(t, Duration(30*time.Second), cfg.Model.MaxDelay)
	assert.Equal(t, 60000, cfg.Memory.TokenCeiling)
	assert.Equal(t, 4, cfg.Memory.ProtectedTurns)
	assert.Equal(t, 40, cfg.Engine.MaxAutonomousTurns)
	assert.Equal(t, 3, cfg.Guard.Threshold)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
api:
  provider: anthropic
  api_key: from-file
model:
  name: claude-sonnet
  max_attempts: 5
  base_delay: 2s
memory:
  token_ceiling: 120000
engine:
  max_autonomous_turns: 10
  independent_tool_batches: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.API.Provider)
	assert.Equal(t, "from-file", cfg.API.APIKey)
	assert.Equal(t, "claude-sonnet", cfg.Model.Name)
	assert.Equal(t, 5, cfg.Model.MaxAttempts)
	assert.Equal(t, Duration(2*time.Second), cfg.Model.BaseDelay)
	assert.Equal(t, 120000, cfg.Memory.TokenCeiling)
	assert.Equal(t, 10, cfg.Engine.MaxAutonomousTurns)
	assert.True(t, cfg.Engine.IndependentToolBatches)

	// Untouched sections keep their defaults.
	assert.Equal(t, 4, cfg.Memory.ProtectedTurns)
	assert.Equal(t, 3, cfg.Guard.Threshold)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("ECA_API_KEY", "from-env")
	t.Setenv("ECA_MODEL", "gpt-5")
	path := writeConfig(t, `
api:
  api_key: from-file
model:
  name: gpt-4o
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.API.APIKey)
	assert.Equal(t, "gpt-5", cfg.Model.Name)
}

func TestOpenAIKeyIsAFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "openai-env")

	// No key anywhere else: the fallback applies.
	cfg, err := Load(writeConfig(t, "api: {}\n"))
	require.NoError(t, err)
	assert.Equal(t, "openai-env", cfg.API.APIKey)

	// A file-provided key wins over the fallback.
	cfg, err = Load(writeConfig(t, "api:\n  api_key: from-file\n"))
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.API.APIKey)
}

func TestEnvExpansionInFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MY_SECRET", "expanded-key")
	path := writeConfig(t, "api:\n  api_key: ${MY_SECRET}\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.API.APIKey)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
}

func TestMalformedFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "model: [not a map\n"))
	assert.Error(t, err)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero token ceiling", func(c *Config) { c.Memory.TokenCeiling = 0 }},
		{"zero attempts", func(c *Config) { c.Model.MaxAttempts = 0 }},
		{"zero guard threshold", func(c *Config) { c.Guard.Threshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
