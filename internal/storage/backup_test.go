package storage

import (
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBackup_CopiesDatabaseFile(t *testing.T) {
	db := NewTestDBFile(t)
	backupDir := filepath.Join(t.TempDir(), "backups")

	id, err := NewBackupManager().CreateBackup(db, backupDir, "pre-upgrade")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	matches, err := filepath.Glob(filepath.Join(backupDir, "database-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	namePattern := regexp.MustCompile(`^database-\d{8}T\d{6}Z-[0-9a-f-]{36}\.db$`)
	assert.Regexp(t, namePattern, filepath.Base(matches[0]))
	assert.Contains(t, matches[0], id)
}

func TestCreateBackup_SkipsEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// Force the file into existence without creating any user tables.
	require.NoError(t, db.Ping())

	backupDir := filepath.Join(t.TempDir(), "backups")
	id, err := NewBackupManager().CreateBackup(db, backupDir, "")
	require.NoError(t, err)
	assert.Empty(t, id)

	matches, err := filepath.Glob(filepath.Join(backupDir, "database-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
