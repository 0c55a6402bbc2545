package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// Migration brings a database recorded at a version below Version up to
// Version. Apply reports whether it changed anything: it checks live
// structure first rather than probing with failing statements, so a
// half-applied upgrade can safely be re-run after a crash, and a no-op
// pass is not reported as a change.
type Migration struct {
	Version string
	Apply   func(db *sql.DB) (bool, error)
}

// migrations is the ordered registry SyncSchema walks when the stored
// schema_version is below the code-level SchemaVersion. Each entry covers
// one released schema change; anything the registry does not cover is
// picked up afterwards by the comparator/planner diff against the
// declarative schema.
var migrations = []Migration{
	{Version: "1.1.0", Apply: migrateAddDBSettingsUpdatedAt},
	{Version: "1.2.0", Apply: migrateAddChunkVectorizationColumns},
	{Version: "1.3.0", Apply: migrateAddFileVersioningColumns},
}

// applyMigrations runs every registered migration whose version lies in
// (stored, SchemaVersion], in ascending order, and returns a description
// of each one that changed the database. The stored version is not
// advanced here; SyncSchema records the final version once the whole
// pipeline has succeeded.
func applyMigrations(db *sql.DB) ([]string, error) {
	stored, err := GetSchemaVersion(db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range migrations {
		if compareVersions(m.Version, stored) <= 0 {
			continue
		}
		if compareVersions(m.Version, SchemaVersion) > 0 {
			break
		}
		changed, err := m.Apply(db)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if changed {
			applied = append(applied, "migration: "+m.Version)
		}
	}
	return applied, nil
}

// compareVersions compares dotted numeric versions ("1.2.0" style),
// returning -1, 0, or 1. A missing segment counts as 0, so "1.2" == "1.2.0".
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

// addColumnIfMissing is the structure-checked building block every
// migration uses instead of executing ALTER TABLE blind and swallowing
// "duplicate column" errors. A table the database does not have at all is
// skipped: the comparator/planner creates missing tables from their full
// current definition, columns included.
func addColumnIfMissing(db *sql.DB, table, column, decl string) (bool, error) {
	cols, err := tableInfo(db, table)
	if err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, nil
	}
	if _, ok := cols[column]; ok {
		return false, nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return false, err
	}
	return true, nil
}

func addColumnsIfMissing(db *sql.DB, table string, cols []struct{ name, decl string }) (bool, error) {
	changed := false
	for _, col := range cols {
		added, err := addColumnIfMissing(db, table, col.name, col.decl)
		if err != nil {
			return changed, err
		}
		changed = changed || added
	}
	return changed, nil
}

// 1.1.0: db_settings gained an updated_at column so stale settings can be
// recognized without a separate bookkeeping table.
func migrateAddDBSettingsUpdatedAt(db *sql.DB) (bool, error) {
	return addColumnIfMissing(db, "db_settings", "updated_at", "TEXT NOT NULL DEFAULT ''")
}

// 1.2.0: code_chunks gained the vectorization write-back columns.
func migrateAddChunkVectorizationColumns(db *sql.DB) (bool, error) {
	return addColumnsIfMissing(db, "code_chunks", []struct{ name, decl string }{
		{"embedding_model", "TEXT NOT NULL DEFAULT ''"},
		{"embedding_vector", "BLOB"},
		{"bm25_score", "REAL NOT NULL DEFAULT 0"},
	})
}

// 1.3.0: files gained the versioning metadata columns.
func migrateAddFileVersioningColumns(db *sql.DB) (bool, error) {
	return addColumnsIfMissing(db, "files", []struct{ name, decl string }{
		{"original_path", "TEXT"},
		{"version_dir", "TEXT"},
	})
}
