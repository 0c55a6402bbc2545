package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema_CreatesEveryCoreTable(t *testing.T) {
	db := NewTestDBMinimal(t)
	require.NoError(t, CreateSchema(db))

	names, err := existingTableNames(db)
	require.NoError(t, err)
	for _, table := range coreTables {
		assert.True(t, names[table.name], "missing table %s", table.name)
	}
	assert.True(t, names["code_content_fts"])
	assert.True(t, names["chunks_vec"])

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}

// The full-text virtual table runs in external-content mode: rows live in
// code_content, and the insert/update/delete triggers keep the inverted
// index in step, so a MATCH query finds content it never stored itself.
func TestCodeContentFTS_SearchesBackingTableContent(t *testing.T) {
	db := NewTestDB(t)

	_, err := db.Exec(`INSERT INTO projects (id, root_path, name) VALUES ('p1', '/repo', 'repo')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO datasets (id, project_id, root_path) VALUES ('d1', 'p1', '/repo')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO files (id, project_id, dataset_id, path, relative_path) VALUES (1, 'p1', 'd1', '/repo/a.py', 'a.py')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO classes (id, file_id, name, line) VALUES ('c1', 1, 'Tokenizer', 3)`)
	require.NoError(t, err)
	_, err = db.Exec(
		`INSERT INTO code_content (id, entity_kind, entity_id, file_id, content, docstring)
		 VALUES ('cc1', 'class', 'c1', 1, 'class Tokenizer: ...', 'Splits source text into lexemes')`)
	require.NoError(t, err)

	var matched string
	err = db.QueryRow(
		`SELECT c.entity_id FROM code_content_fts f
		 JOIN code_content c ON c.rowid = f.rowid
		 WHERE code_content_fts MATCH 'lexemes'`,
	).Scan(&matched)
	require.NoError(t, err)
	assert.Equal(t, "c1", matched)

	// The update trigger re-indexes changed content.
	_, err = db.Exec(`UPDATE code_content SET docstring = 'Splits source text into sigils' WHERE id = 'cc1'`)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM code_content_fts WHERE code_content_fts MATCH 'lexemes'`).Scan(&count))
	assert.Zero(t, count)
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM code_content_fts WHERE code_content_fts MATCH 'sigils'`).Scan(&count))
	assert.Equal(t, 1, count)

	// The delete trigger removes the indexed entry with the backing row.
	_, err = db.Exec(`DELETE FROM code_content WHERE id = 'cc1'`)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM code_content_fts WHERE code_content_fts MATCH 'sigils'`).Scan(&count))
	assert.Zero(t, count)
}
