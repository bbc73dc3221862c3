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

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
auth:
  jwt_secret: s3cret
chat:
  max_steps: 3
  title_timeout: 5s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Chat.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Chat.TitleTimeout)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "gpt-4o-mini", cfg.Chat.DefaultModel)
	assert.Equal(t, 3, cfg.Chat.RetryAttempts)
	assert.Equal(t, "https://api.exa.ai", cfg.Search.BaseURL)
	assert.Equal(t, "storage", cfg.Usage.Backend)
	assert.NotEmpty(t, cfg.CORS.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvFallbacksFillGapsOnly(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("EXA_API_KEY", "exa-env")
	t.Setenv("DASHSCOPE_API_KEY", "")

	path := writeConfig(t, `
providers:
  openrouter:
    api_key: or-file
search:
  api_key: exa-file
`)
	t.Setenv("OPENROUTER_API_KEY", "or-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "or-file", cfg.Providers.OpenRouter.APIKey)
	assert.Equal(t, "exa-file", cfg.Search.APIKey)
	assert.Empty(t, cfg.Providers.Qwen.APIKey)

	byName := cfg.Providers.ByName()
	assert.Equal(t, "sk-env", byName["openai"].APIKey)
	assert.Len(t, byName, 5)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: 8080},
			Storage: StorageConfig{Type: "memory"},
			Usage:   UsageConfig{Backend: "storage"},
			Auth:    AuthConfig{JWTSecret: "x"},
			Chat:    ChatConfig{MaxSteps: 2},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"bad port":           func(c *Config) { c.Server.Port = 0 },
		"unknown storage":    func(c *Config) { c.Storage.Type = "mongo" },
		"sqlite without dsn": func(c *Config) { c.Storage.Type = "sqlite" },
		"redis without addr": func(c *Config) { c.Usage.Backend = "redis" },
		"unknown usage":      func(c *Config) { c.Usage.Backend = "kafka" },
		"no secret":          func(c *Config) { c.Auth.JWTSecret = "" },
		"no steps":           func(c *Config) { c.Chat.MaxSteps = 0 },
		"single step":        func(c *Config) { c.Chat.MaxSteps = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Storage = StorageConfig{Type: "postgres", DSN: "postgres://localhost/chat"}
	assert.NoError(t, c.Validate())
}

func TestValidateModels(t *testing.T) {
	c := &Config{Chat: ChatConfig{DefaultModel: "a", TitleModel: "b"}}
	known := map[string]bool{"a": true, "b": true}
	assert.NoError(t, c.ValidateModels(func(id string) bool { return known[id] }))

	c.Chat.TitleModel = "missing"
	err := c.ValidateModels(func(id string) bool { return known[id] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "title_model")
}
