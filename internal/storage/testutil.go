package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/coredex/graphstore/internal/vectorindex"
)

func init() {
	vectorindex.InitExtension()
}

// NewTestDB returns an in-memory database with foreign keys on, the
// sqlite-vec extension registered, and the full schema created. Cleanup
// is registered with t.Cleanup; most storage tests want this helper.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Cascade deletes depend on this; SQLite ships with it off.
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	require.NoError(t, CreateSchema(db))
	return db
}

// NewTestDBFile is NewTestDB backed by a file in t.TempDir(), for tests
// that reopen the database or exercise file-level operations (backups,
// the proxy worker).
func NewTestDBFile(t testing.TB) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	require.NoError(t, CreateSchema(db))
	return db
}

// NewTestFacade builds a Facade over a file-backed InProcessDriver with
// the schema already synced. Tests exercising the facade, atomic updater,
// cross-ref builder, or vectorizer need this rather than a bare *sql.DB,
// since those components need the driver's transaction semantics.
func NewTestFacade(t testing.TB) *Facade {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	driver := NewInProcessDriver()
	facade, err := NewFacade(driver, DriverConfig{Path: dbPath}, CanonicalSchema())
	require.NoError(t, err)
	t.Cleanup(func() { driver.Disconnect() })
	return facade
}

// NewTestProjectAndDataset inserts a minimal project and dataset via the
// public facade API and returns their ids, for tests that need valid
// foreign keys on the files table.
func NewTestProjectAndDataset(t testing.TB, f *Facade) (projectID, datasetID string) {
	t.Helper()
	root := "/repo-" + uuid.New().String()

	var err error
	projectID, err = f.AddProject(Project{RootPath: root, Name: "repo"})
	require.NoError(t, err)
	datasetID, err = f.AddDataset(Dataset{ProjectID: projectID, RootPath: root})
	require.NoError(t, err)
	return projectID, datasetID
}

// NewTestDBMinimal returns an in-memory database with foreign keys on but
// no schema, for tests that create schema themselves (CreateSchema,
// migrations, the comparator).
func NewTestDBMinimal(t testing.TB) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	return db
}
