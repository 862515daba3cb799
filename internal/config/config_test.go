package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ANALYZER_API_KEYS", "")
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "openai-compatible", cfg.LLM.Provider)
	assert.Equal(t, 3000, cfg.Pipeline.MaxTokensPerChunk)
	assert.Equal(t, 4, cfg.Pipeline.BatchCap)
	assert.Empty(t, cfg.LLM.APIKeys)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
llm:
  provider: gemini
  model: gemini-2.0-flash
  api_keys: [k1, k2]
pipeline:
  batch_cap: 2
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("ANALYZER_API_KEYS", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, []string{"k1", "k2"}, cfg.LLM.APIKeys)
	assert.Equal(t, 2, cfg.Pipeline.BatchCap)
	// Untouched sections keep defaults.
	assert.Equal(t, 25, cfg.Pipeline.RightsCandidates)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("ANALYZER_API_KEYS splits on commas", func(t *testing.T) {
		t.Setenv("ANALYZER_API_KEYS", "a, b ,,c")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"a", "b", "c"}, cfg.LLM.APIKeys)
	})

	t.Run("GEMINI_API_KEY fallback selects gemini provider when unset", func(t *testing.T) {
		t.Setenv("ANALYZER_API_KEYS", "")
		t.Setenv("DEEPSEEK_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "gk")

		cfg := Default()
		cfg.LLM.Provider = ""
		cfg.applyEnvOverrides()

		assert.Equal(t, []string{"gk"}, cfg.LLM.APIKeys)
		assert.Equal(t, "gemini", cfg.LLM.Provider)
	})

	t.Run("explicit provider wins over key fallback", func(t *testing.T) {
		t.Setenv("ANALYZER_API_KEYS", "x")
		t.Setenv("ANALYZER_PROVIDER", "openai-compatible")

		cfg := Default()
		cfg.applyEnvOverrides()

		assert.Equal(t, "openai-compatible", cfg.LLM.Provider)
	})
}
