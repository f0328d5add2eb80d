package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return home
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.DefaultProvider)
	assert.Equal(t, "gpt-4o-mini", c.DefaultModel)
	assert.Equal(t, 500, c.MaxTokens)
	assert.Equal(t, 5, c.ExplainTopK)
	assert.Equal(t, 5000, c.ExplainSamples)
	assert.Equal(t, 30*time.Second, c.NarrativeTimeout())
	assert.Equal(t, int64(32<<20), c.MaxUploadBytes())
}

func TestEnvOverridesFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("explain_top_k: 3\ndefault_model: llama3.1:8b-instruct\n"), 0o644))
	t.Setenv("CHURNLENS_DEFAULT_MODEL", "gemini-2.0-flash")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, c.ExplainTopK)
	assert.Equal(t, "gemini-2.0-flash", c.DefaultModel)
}

func TestDotEnvIsLoaded(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("CHURNLENS_EXPLAIN_SAMPLES=1200\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("CHURNLENS_EXPLAIN_SAMPLES") })

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1200, c.ExplainSamples)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)
	require.NoError(t, c.Set("default_provider", "Local"))
	require.NoError(t, c.Set("explain_top_k", "8"))
	require.NoError(t, Save(c, ""))

	dir, err := DefaultDir()
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	again, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ollama", again.DefaultProvider)
	assert.Equal(t, 8, again.ExplainTopK)
}

func TestSetRejectsBadValues(t *testing.T) {
	isolate(t)
	c, err := Load("")
	require.NoError(t, err)
	before := *c

	assert.Error(t, c.Set("nope", "1"))
	assert.Error(t, c.Set("default_provider", "watson"))
	assert.Error(t, c.Set("explain_top_k", "-1"))
	assert.Error(t, c.Set("explain_top_k", "0"))
	assert.Error(t, c.Set("temperature", "hot"))
	assert.Error(t, c.Set("log_format", "xml"))
	assert.Equal(t, before, *c)
	assert.Contains(t, Keys(), "chat_context_tokens")
}
