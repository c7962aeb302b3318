package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Backend.APIKey = "sk-ant-test123"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.Loop.MaxSessions)
	assert.Equal(t, MalformedAbort, cfg.Loop.MalformedVerdict)
	assert.False(t, cfg.Loop.ReplanEverySession)
	assert.Equal(t, 10, cfg.History.ImagesToKeep)
	assert.Equal(t, 10, cfg.History.ImageChunk)
	assert.Equal(t, 3, cfg.Knowledge.FollowUpBudget)
	assert.Equal(t, "checkpoints/messages.json", cfg.Checkpoint.Path)
	assert.Equal(t, 4096, cfg.Backend.MaxTokens)
	assert.Equal(t, "openai", cfg.Decision.Provider)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestStepsPerSession(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.StepsPerSession())

	cfg.Browser.Enabled = true
	assert.Equal(t, 8, cfg.StepsPerSession())

	cfg.Loop.MaxSteps = 3
	assert.Equal(t, 3, cfg.StepsPerSession())
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Knowledge.Token = "chat-secret"

	out := cfg.String()

	assert.NotContains(t, out, "sk-ant-test123")
	assert.NotContains(t, out, "chat-secret")
	assert.Contains(t, out, "***")
	assert.Equal(t, "sk-ant-test123", cfg.Backend.APIKey)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "missing api key", mutate: func(c *Config) { c.Backend.APIKey = "" }, field: "backend.api_key"},
		{name: "bad api key", mutate: func(c *Config) { c.Backend.APIKey = "key" }, field: "backend.api_key"},
		{name: "missing model", mutate: func(c *Config) { c.Backend.Model = "" }, field: "backend.model"},
		{name: "zero sessions", mutate: func(c *Config) { c.Loop.MaxSessions = 0 }, field: "loop.max_sessions"},
		{name: "negative steps", mutate: func(c *Config) { c.Loop.MaxSteps = -1 }, field: "loop.max_steps"},
		{name: "unknown policy", mutate: func(c *Config) { c.Loop.MalformedVerdict = "retry" }, field: "loop.malformed_verdict"},
		{name: "images below -1", mutate: func(c *Config) { c.History.ImagesToKeep = -2 }, field: "history.images_to_keep"},
		{name: "negative chunk", mutate: func(c *Config) { c.History.ImageChunk = -1 }, field: "history.image_chunk"},
		{
			name: "knowledge without url",
			mutate: func(c *Config) {
				c.Knowledge.Enabled = true
				c.Decision.APIKey = "sk-openai"
			},
			field: "knowledge.url",
		},
		{
			name: "knowledge without decision key",
			mutate: func(c *Config) {
				c.Knowledge.Enabled = true
				c.Knowledge.URL = "wss://bot.example/chat"
			},
			field: "decision.api_key",
		},
		{name: "checkpoint without path", mutate: func(c *Config) { c.Checkpoint.Path = "" }, field: "checkpoint.path"},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, field: "logging.level"},
		{
			name: "hook without script",
			mutate: func(c *Config) {
				c.Hooks.Enabled = true
				c.Hooks.Scripts = []HookConfig{{ID: "notify", Event: "done", Enabled: true}}
			},
			field: "hooks.scripts[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("anthropic decisions reuse the backend key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Knowledge.Enabled = true
		cfg.Knowledge.URL = "wss://bot.example/chat"
		cfg.Decision.Provider = "anthropic"

		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled hooks are not checked", func(t *testing.T) {
		cfg := validConfig()
		cfg.Hooks.Enabled = true
		cfg.Hooks.Scripts = []HookConfig{{ID: "draft", Enabled: false}}

		assert.NoError(t, cfg.Validate())
	})

	t.Run("images_to_keep -1 disables pruning", func(t *testing.T) {
		cfg := validConfig()
		cfg.History.ImagesToKeep = -1

		assert.NoError(t, cfg.Validate())
	})
}
