package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UsesDefaultsWhenNoConfigFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, "inprocess", cfg.Storage.Kind)
	assert.Equal(t, ".graphstore/graph.db", cfg.Storage.InProcess.Path)
	assert.Equal(t, 50, cfg.Chunking.FilePageSize)
	assert.Equal(t, "mock", cfg.Embed.Provider)
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".graphstore")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))

	yaml := `
storage:
  kind: inprocess
  inprocess:
    path: /tmp/custom.db
    backup_dir: /tmp/custom-backups
chunking:
  file_page_size: 10
  chunk_page_size: 20
  save_every: 5
  embedding_model: mock
embed:
  provider: mock
  dimensions: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yml"), []byte(yaml), 0o644))

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Storage.InProcess.Path)
	assert.Equal(t, 10, cfg.Chunking.FilePageSize)
	assert.Equal(t, 8, cfg.Embed.Dimensions)
}

func TestLoad_EnvironmentOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".graphstore")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yml"), []byte("storage:\n  inprocess:\n    path: /tmp/file.db\n"), 0o644))

	t.Setenv("GRAPHSTORE_STORAGE_INPROCESS_PATH", "/tmp/env.db")

	cfg, err := NewLoader(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.db", cfg.Storage.InProcess.Path)
}

func TestLoad_InvalidConfigurationRejected(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, ".graphstore")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yml"), []byte("chunking:\n  file_page_size: -1\n"), 0o644))

	_, err := NewLoader(dir).Load()
	require.Error(t, err)
}
