package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "CHATBOT_URL", "CHATBOT_LINK", "CHATBOT_TOKEN", "TRIAD_KNOWLEDGE_ENABLED"} {
		t.Setenv(key, "")
	}
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(t.TempDir(), "nonexistent.json")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Loop.MaxSessions)
		assert.Equal(t, filepath.Dir(configPath), cfg.DataDir)
		assert.False(t, cfg.Knowledge.Enabled)
	})

	t.Run("load config from file", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(t.TempDir(), "config.json")
		testConfig := `{
			"backend": {"api_key": "sk-ant-file", "model": "claude-test"},
			"loop": {"max_sessions": 3, "malformed_verdict": "incomplete"},
			"history": {"images_to_keep": -1}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-file", cfg.Backend.APIKey)
		assert.Equal(t, "claude-test", cfg.Backend.Model)
		assert.Equal(t, 4096, cfg.Backend.MaxTokens)
		assert.Equal(t, 3, cfg.Loop.MaxSessions)
		assert.Equal(t, MalformedIncomplete, cfg.Loop.MalformedVerdict)
		assert.Equal(t, -1, cfg.History.ImagesToKeep)
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
		t.Setenv("OPENAI_API_KEY", "sk-openai-env")
		t.Setenv("TRIAD_LOOP_MAX_SESSIONS", "4")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "none.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-env", cfg.Backend.APIKey)
		assert.Equal(t, "sk-openai-env", cfg.Decision.APIKey)
		assert.Equal(t, 4, cfg.Loop.MaxSessions)
	})

	t.Run("chatbot url enables the broker", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CHATBOT_URL", "wss://bot.example/chat")
		t.Setenv("CHATBOT_TOKEN", "tok")
		dir := t.TempDir()

		cfg, err := NewLoader(filepath.Join(dir, "none.json")).Load()

		require.NoError(t, err)
		assert.True(t, cfg.Knowledge.Enabled)
		assert.Equal(t, "wss://bot.example/chat", cfg.Knowledge.URL)
		assert.Equal(t, "tok", cfg.Knowledge.Token)
		assert.Equal(t, filepath.Join(dir, "knowledge.db"), cfg.Knowledge.StorePath)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		clearEnv(t)
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0644))

		_, err := NewLoader(configPath).Load()

		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	clearEnv(t)
	configPath := filepath.Join(t.TempDir(), "nested", "triad.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Backend.APIKey = "sk-ant-saved"
	cfg.Loop.MaxSessions = 7
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-saved", loaded.Backend.APIKey)
	assert.Equal(t, 7, loaded.Loop.MaxSessions)
}
