package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, "partial", cfg.Research.FailurePolicy)
	assert.Equal(t, 60*time.Second, cfg.Research.CallTimeout)
	assert.Equal(t, 100, cfg.Server.TokenFlushMillis)
	assert.Equal(t, 24*time.Hour, cfg.Redis.TTL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", t.TempDir())
	t.Setenv("PORT", ":9090")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_PROVIDER", " OpenAI ")
	t.Setenv("RESEARCH_RESEARCH_FAILURE_POLICY", "FAIL_FAST")
	t.Setenv("RESEARCH_RESEARCH_MAX_PARALLEL", "3")
	t.Setenv("TAVILY_API_KEY", "tvly")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAIAPIKey)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "fail_fast", cfg.Research.FailurePolicy)
	assert.Equal(t, 3, cfg.Research.MaxParallel)
	assert.Equal(t, "tvly", cfg.Search.TavilyKey)
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
search:
  provider: brave
  max_results: 3
research:
  call_timeout: 5s
youtube:
  target_language: ko
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("CONFIG_PATH", dir)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "brave", cfg.Search.Provider)
	assert.Equal(t, 3, cfg.Search.MaxResults)
	assert.Equal(t, 5*time.Second, cfg.Research.CallTimeout)
	assert.Equal(t, "ko", cfg.YouTube.TargetLanguage)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("PORT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}
