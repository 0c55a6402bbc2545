package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalSchema_MatchesDBSettingsDDL cross-checks CanonicalSchema's
// db_settings declaration against builtinColumnNames, the column list
// maintained alongside the createDBSettingsTable DDL constant, so the two
// cannot silently drift apart.
func TestCanonicalSchema_MatchesDBSettingsDDL(t *testing.T) {
	declared := CanonicalSchema().Tables["db_settings"]
	require.NotEmpty(t, declared.Columns)

	var names []string
	for _, col := range declared.Columns {
		names = append(names, col.Name)
	}
	assert.ElementsMatch(t, builtinColumnNames["db_settings"], names)
}

// TestBuiltinColumnNames_MatchCoreTableDDL cross-checks builtinColumnNames
// against the literal CREATE TABLE DDL in coreTables: every column name it
// lists for a built-in table must actually appear in that table's DDL.
func TestBuiltinColumnNames_MatchCoreTableDDL(t *testing.T) {
	ddlByName := map[string]string{}
	for _, t := range coreTables {
		ddlByName[t.name] = t.ddl
	}

	for table, cols := range builtinColumnNames {
		ddl, ok := ddlByName[table]
		require.Truef(t, ok, "no coreTables entry for %s", table)
		for _, col := range cols {
			assert.Containsf(t, ddl, col, "%s: column %s not found in DDL", table, col)
		}
	}
}

func openFileDriver(t *testing.T) (*InProcessDriver, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	driver := NewInProcessDriver()
	require.NoError(t, driver.Connect(DriverConfig{Path: path}))
	t.Cleanup(func() { driver.Disconnect() })
	return driver, path
}

// TestSyncSchemaAddColumnIsNonDestructive: a
// purely additive column change applies as ALTER TABLE ... ADD COLUMN,
// without a backup or a recreate.
func TestSyncSchemaAddColumnIsNonDestructive(t *testing.T) {
	driver, _ := openFileDriver(t)

	_, err := driver.db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = driver.db.Exec(`INSERT INTO widgets (id, name) VALUES (1, 'a')`)
	require.NoError(t, err)
	// SyncSchema records schema_version in db_settings after any applied
	// plan, independent of what the caller's schema declares.
	_, err = driver.db.Exec(`CREATE TABLE db_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)`)
	require.NoError(t, err)

	schema := Schema{
		Version: "widgets-1",
		Tables: map[string]Table{
			"widgets": {
				Name: "widgets",
				Columns: []Column{
					{Name: "id", Type: "INTEGER", PrimaryKey: true},
					{Name: "name", Type: "TEXT", NotNull: true},
					{Name: "status", Type: "TEXT", NotNull: true, Default: "'pending'"},
				},
			},
		},
	}

	result, err := driver.SyncSchema(schema, filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.BackupUUID)
	assert.NotEmpty(t, result.ChangesApplied)

	cols, err := tableInfo(driver.db, "widgets")
	require.NoError(t, err)
	require.Contains(t, cols, "status")

	var status string
	require.NoError(t, driver.db.QueryRow(`SELECT status FROM widgets WHERE id = 1`).Scan(&status))
	assert.Equal(t, "pending", status)
}

// TestSyncSchemaTypeChangeRecreatesWithBackup: a
// type change forces a recreate-and-copy migration and a backup is written
// first, since the table already holds data.
func TestSyncSchemaTypeChangeRecreatesWithBackup(t *testing.T) {
	driver, _ := openFileDriver(t)

	// Seed a legacy db_settings where value is INTEGER instead of the
	// canonical TEXT, forcing a type-change recreate.
	_, err := driver.db.Exec(`CREATE TABLE db_settings (key TEXT PRIMARY KEY, value INTEGER NOT NULL, updated_at TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = driver.db.Exec(`INSERT INTO db_settings (key, value, updated_at) VALUES ('schema_version', 1, '2020-01-01T00:00:00Z')`)
	require.NoError(t, err)

	backupDir := filepath.Join(t.TempDir(), "backups")
	result, err := driver.SyncSchema(CanonicalSchema(), backupDir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.BackupUUID)

	matches, err := filepath.Glob(filepath.Join(backupDir, "database-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	cols, err := tableInfo(driver.db, "db_settings")
	require.NoError(t, err)
	assert.Equal(t, "TEXT", cols["value"].Type)

	var key string
	require.NoError(t, driver.db.QueryRow(`SELECT key FROM db_settings WHERE key = 'schema_version'`).Scan(&key))
	assert.Equal(t, "schema_version", key)
}

// TestSyncSchemaReSyncIsIdempotent: once a
// database matches the declared schema exactly, syncing again reports an
// empty diff, applies nothing, and takes no backup.
func TestSyncSchemaReSyncIsIdempotent(t *testing.T) {
	driver, _ := openFileDriver(t)

	_, err := driver.db.Exec(`CREATE TABLE db_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)`)
	require.NoError(t, err)

	backupDir := filepath.Join(t.TempDir(), "backups")
	first, err := driver.SyncSchema(CanonicalSchema(), backupDir)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Empty(t, first.ChangesApplied)
	assert.Empty(t, first.BackupUUID)

	second, err := driver.SyncSchema(CanonicalSchema(), backupDir)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Empty(t, second.ChangesApplied)
	assert.Empty(t, second.BackupUUID)

	matches, err := filepath.Glob(filepath.Join(backupDir, "database-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// TestSyncSchemaFTSRecreatesOnColumnChange: an
// FTS5 virtual table whose declared column set no longer matches the live
// table is dropped and recreated rather than patched in place.
func TestSyncSchemaFTSRecreatesOnColumnChange(t *testing.T) {
	driver, _ := openFileDriver(t)

	_, err := driver.db.Exec(`CREATE TABLE articles (id INTEGER PRIMARY KEY, body TEXT NOT NULL DEFAULT '', summary TEXT NOT NULL DEFAULT '')`)
	require.NoError(t, err)
	_, err = driver.db.Exec(`CREATE VIRTUAL TABLE content_fts USING fts5(body, content='articles', content_rowid='id')`)
	require.NoError(t, err)
	_, err = driver.db.Exec(`INSERT INTO articles (id, body, summary) VALUES (1, 'hello', 'short')`)
	require.NoError(t, err)
	_, err = driver.db.Exec(`CREATE TABLE db_settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at TEXT NOT NULL)`)
	require.NoError(t, err)

	schema := Schema{
		Version: "fts-1",
		VirtualTables: []VirtualTable{
			{
				Name:    "content_fts",
				Type:    "fts5",
				Columns: []string{"body", "summary"},
				Options: map[string]string{"content": "'articles'", "content_rowid": "'id'"},
			},
		},
	}

	backupDir := filepath.Join(t.TempDir(), "backups")
	result, err := driver.SyncSchema(schema, backupDir)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.BackupUUID)

	cols, err := tableInfo(driver.db, "content_fts")
	require.NoError(t, err)
	assert.Contains(t, cols, "body")
	assert.Contains(t, cols, "summary")
}

// TestRecreateTableDDL_DedupesOnUniqueConstraint: a recreate migration
// over a table with a unique constraint keeps exactly
// one row per unique key, the one with the highest primary key.
func TestRecreateTableDDL_DedupesOnUniqueConstraint(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// A legacy code_chunks with every column the canonical DDL expects, but
	// chunk_uuid not yet declared UNIQUE (e.g. backfilled before the
	// constraint was added), so the live table holds rows that collide on
	// what is about to become a unique key.
	_, err = db.Exec(`
		CREATE TABLE code_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_uuid TEXT NOT NULL,
			file_id INTEGER NOT NULL,
			project_id TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			chunk_text TEXT NOT NULL,
			chunk_ordinal INTEGER NOT NULL DEFAULT 0,
			class_id TEXT,
			method_id TEXT,
			function_id TEXT,
			line INTEGER,
			ast_node_type TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			binding_level TEXT NOT NULL DEFAULT '',
			vector_id INTEGER,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_vector BLOB,
			bm25_score REAL NOT NULL DEFAULT 0
		)
	`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO code_chunks (id, chunk_uuid, file_id, project_id, chunk_type, chunk_text) VALUES
		(1, 'dup', 10, 'p1', 'function', 'first'),
		(2, 'dup', 10, 'p1', 'function', 'second'),
		(3, 'unique-one', 10, 'p1', 'function', 'third')`)
	require.NoError(t, err)

	stmts, err := recreateTableDDL("code_chunks", TableDiff{ConstraintChanges: []string{"chunk_uuid unique"}})
	require.NoError(t, err)

	for _, stmt := range stmts {
		_, err := db.Exec(stmt.SQL)
		require.NoError(t, err, stmt.SQL)
	}

	rows, err := db.Query(`SELECT id, chunk_uuid, chunk_text FROM code_chunks ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		id   int
		uuid string
		text string
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.id, &r.uuid, &r.text))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())

	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].id)
	assert.Equal(t, "dup", got[0].uuid)
	assert.Equal(t, "second", got[0].text)
	assert.Equal(t, 3, got[1].id)
	assert.Equal(t, "unique-one", got[1].uuid)
}

// TestRecreateTableDDL_CopiesIntersectionOfLiveColumns: the recreate copy
// must select only columns the live predecessor actually has; a canonical
// column it lacks is created fresh with its declared default instead of
// breaking the SELECT.
func TestRecreateTableDDL_CopiesIntersectionOfLiveColumns(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// A legacy code_chunks from before bm25_score existed, with rows that
	// also collide on the unique key about to be enforced.
	_, err = db.Exec(`
		CREATE TABLE code_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_uuid TEXT NOT NULL,
			file_id INTEGER NOT NULL,
			project_id TEXT NOT NULL,
			chunk_type TEXT NOT NULL,
			chunk_text TEXT NOT NULL,
			chunk_ordinal INTEGER NOT NULL DEFAULT 0,
			class_id TEXT,
			method_id TEXT,
			function_id TEXT,
			line INTEGER,
			ast_node_type TEXT NOT NULL DEFAULT '',
			source_type TEXT NOT NULL DEFAULT '',
			binding_level TEXT NOT NULL DEFAULT '',
			vector_id INTEGER,
			embedding_model TEXT NOT NULL DEFAULT '',
			embedding_vector BLOB
		)
	`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO code_chunks (id, chunk_uuid, file_id, project_id, chunk_type, chunk_text) VALUES
		(1, 'dup', 10, 'p1', 'function', 'first'),
		(2, 'dup', 10, 'p1', 'function', 'second')`)
	require.NoError(t, err)

	stmts, err := recreateTableDDL("code_chunks", TableDiff{
		MissingColumns:    []Column{{Name: "bm25_score", Type: "REAL", NotNull: true, Default: "0"}},
		ConstraintChanges: []string{"chunk_uuid unique"},
	})
	require.NoError(t, err)

	for _, stmt := range stmts {
		_, err := db.Exec(stmt.SQL)
		require.NoError(t, err, stmt.SQL)
	}

	var id int
	var score float64
	require.NoError(t, db.QueryRow(
		`SELECT id, bm25_score FROM code_chunks WHERE chunk_uuid = 'dup'`).Scan(&id, &score))
	assert.Equal(t, 2, id, "dedup keeps the highest-primary-key row")
	assert.Zero(t, score, "the absent column is backfilled from its declared default")
}
