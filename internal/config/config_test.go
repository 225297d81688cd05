package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INSIGHTLOOM_DATA_DIR", dir)
	c, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openrouter", c.Provider)
	assert.Equal(t, "openai/gpt-4o-mini", c.Model)
	assert.Equal(t, 1500, c.MaxTokens)
	assert.Equal(t, 800, c.FollowUpMaxTokens)
	assert.InDelta(t, 0.3, c.Temperature, 1e-9)
	assert.Equal(t, 5, c.Retention)
	assert.Equal(t, "sqlite", c.Store)
	assert.Equal(t, filepath.Join(dir, "insightloom.db"), c.DBPath)
	assert.Equal(t, filepath.Join(dir, "uploads"), c.UploadDir())
	assert.Equal(t, int64(10<<20), c.MaxUploadBytes())
	assert.Equal(t, int64(512<<10), c.AsyncThresholdBytes())
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gemini-2.0-flash\nprovider: gemini\nretention: 8\n"), 0o600))
	t.Setenv("INSIGHTLOOM_DATA_DIR", dir)
	t.Setenv("INSIGHTLOOM_RETENTION", "3")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Provider)
	assert.Equal(t, "gemini-2.0-flash", c.Model)
	assert.Equal(t, 3, c.Retention, "env beats file")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: carrier-pigeon\nstore: postgres\nretention: 0\n"), 0o600))
	t.Setenv("INSIGHTLOOM_DATA_DIR", dir)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
	assert.Contains(t, err.Error(), "postgres")
	assert.Contains(t, err.Error(), "retention")
}

func TestSetParsesTypedValues(t *testing.T) {
	t.Setenv("INSIGHTLOOM_DATA_DIR", t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	require.NoError(t, c.Set("retention", "7"))
	assert.Equal(t, 7, c.Retention)
	require.NoError(t, c.Set("temperature", "0.9"))
	assert.InDelta(t, 0.9, c.Temperature, 1e-9)
	require.NoError(t, c.Set("api_key", "123456789"))
	assert.Equal(t, "123456789", c.APIKey)

	assert.Error(t, c.Set("retention", "many"))
	assert.Error(t, c.Set("retention", "0"))
	assert.Error(t, c.Set("nope", "1"))
	assert.Equal(t, 7, c.Retention, "failed sets leave the config untouched")
}

func TestValidateRejectsNegativeSizes(t *testing.T) {
	t.Setenv("INSIGHTLOOM_DATA_DIR", t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	for _, kv := range [][2]string{{"history_window", "-1"}, {"workers", "0"}, {"preview_rows", "-3"}} {
		err := c.Set(kv[0], kv[1])
		require.Error(t, err, kv[0])
		assert.Contains(t, err.Error(), kv[0])
	}
	require.NoError(t, c.Set("history_window", "0"))
	assert.Equal(t, 0, c.HistoryWindow)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INSIGHTLOOM_DATA_DIR", dir)
	path := filepath.Join(dir, "nested", "config.yaml")

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Set("model", "llama3:latest"))
	require.NoError(t, c.Set("provider", "ollama"))
	require.NoError(t, Save(c, path))

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llama3:latest", again.Model)
	assert.Equal(t, "ollama", again.Provider)
}

func TestMask(t *testing.T) {
	assert.Equal(t, "", Mask(""))
	assert.Equal(t, "******", Mask("short"))
	assert.Equal(t, "sk-****xyz", Mask("sk-or-v1-abcxyz"))
}

func TestInitLogger(t *testing.T) {
	logger, err := InitLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	_, err = InitLogger("loud", "json")
	assert.Error(t, err)
	_, err = InitLogger("info", "xml")
	assert.Error(t, err)
}
