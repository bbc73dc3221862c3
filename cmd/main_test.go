package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/config"
	"speedchat-backend/internal/storage"
)

func TestOpenStorage(t *testing.T) {
	s, err := openStorage(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, s)

	s, err = openStorage(config.StorageConfig{Type: "disk", DataDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &storage.DiskStorage{}, s)

	s, err = openStorage(config.StorageConfig{Type: "sqlite", DSN: filepath.Join(t.TempDir(), "chat.db")})
	require.NoError(t, err)
	require.NoError(t, s.Init())
	assert.NoError(t, s.Close())

	_, err = openStorage(config.StorageConfig{Type: "mongo"})
	assert.Error(t, err)
}

func TestNewResolverDisablesKeylessProviders(t *testing.T) {
	cfg := &config.Config{Chat: config.ChatConfig{MaxOutputTokens: 1024, RetryAttempts: 2}}
	cfg.Providers.OpenAI.APIKey = "sk-test"

	r, err := newResolver(cfg)
	require.NoError(t, err)
	assert.True(t, r.Available("gpt-4o-mini"))
	assert.False(t, r.Available("qwen-plus"))
}

func TestStartBackupsDisabled(t *testing.T) {
	stop := startBackups(storage.NewMemoryStorage(), 0)
	stop()
}
