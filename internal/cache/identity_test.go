package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentity_CreatesWhenMissing(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateIdentity(dir, "test project")
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)
	assert.Equal(t, "test project", id.Description)

	data, err := os.ReadFile(filepath.Join(dir, "projectid"))
	require.NoError(t, err)
	assert.Contains(t, string(data), id.ID)
}

func TestLoadOrCreateIdentity_ReloadsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateIdentity(dir, "a")
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(dir, "b")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a", second.Description)
}

func TestLoadOrCreateIdentity_RecreatesOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "projectid"), []byte("not json"), 0o644))

	id, err := LoadOrCreateIdentity(dir, "recovered")
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)
}

func TestIdentitySave_IsAtomic(t *testing.T) {
	dir := t.TempDir()
	id := &Identity{ID: "fixed-id", Description: "d"}
	require.NoError(t, id.Save(dir))

	_, err := os.Stat(filepath.Join(dir, "projectid.tmp"))
	assert.True(t, os.IsNotExist(err))

	reloaded, err := LoadOrCreateIdentity(dir, "ignored")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", reloaded.ID)
}
