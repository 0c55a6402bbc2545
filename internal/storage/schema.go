package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/coredex/graphstore/internal/vectorindex"
)

// SchemaVersion is the code-level schema version. db_settings.schema_version
// is always <= this value and is advanced by sync_schema; it is never
// regressed.
const SchemaVersion = "1.3.0"

// CreateSchema creates every table, index, and virtual table for a brand
// new database. Used only when bootstrapping from an empty file; an
// existing database is brought up to date by the schema synchronizer
// (schemadiff.go / schemaplan.go) instead.
func CreateSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	for _, table := range coreTables {
		if _, err := tx.Exec(table.ddl); err != nil {
			return fmt.Errorf("create %s table: %w", table.name, err)
		}
	}

	for i, idx := range getAllIndexes() {
		if _, err := tx.Exec(idx); err != nil {
			return fmt.Errorf("create index %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}

	// FTS5 virtual table creation must happen outside a transaction.
	if _, err := db.Exec(createCodeContentFTSTable); err != nil {
		return fmt.Errorf("create code_content_fts: %w", err)
	}
	if err := createFTSTriggers(db); err != nil {
		return fmt.Errorf("create FTS triggers: %w", err)
	}

	dimensions := 384
	if _, err := vectorindex.Open(db, dimensions); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	tx, err = db.Begin()
	if err != nil {
		return fmt.Errorf("begin settings transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(
		`INSERT INTO db_settings (key, value, updated_at) VALUES (?, ?, ?), (?, ?, ?)`,
		"schema_version", SchemaVersion, now,
		"embedding_dimensions", "384", now,
	); err != nil {
		return fmt.Errorf("bootstrap db_settings: %w", err)
	}

	return tx.Commit()
}

// GetSchemaVersion returns the schema_version recorded in db_settings, or
// "0" if db_settings does not exist yet (brand new file).
func GetSchemaVersion(db *sql.DB) (string, error) {
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='db_settings'",
	).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check db_settings existence: %w", err)
	}
	if exists == 0 {
		return "0", nil
	}

	var version string
	err = db.QueryRow("SELECT value FROM db_settings WHERE key = 'schema_version'").Scan(&version)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("query schema_version: %w", err)
	}
	return version, nil
}

// UpdateSchemaVersion writes (or overwrites) the schema_version setting.
func UpdateSchemaVersion(db Execer, version string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.Exec(`
		INSERT INTO db_settings (key, value, updated_at)
		VALUES ('schema_version', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, version, now)
	if err != nil {
		return fmt.Errorf("update schema_version: %w", err)
	}
	return nil
}

// Execer is satisfied by *sql.DB and *sql.Tx; it lets schema bootstrap
// helpers run either standalone or inside an already-open transaction.
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

var coreTables = []struct {
	name string
	ddl  string
}{
	{"projects", createProjectsTable},
	{"datasets", createDatasetsTable},
	{"watch_dirs", createWatchDirsTable},
	{"files", createFilesTable},
	{"classes", createClassesTable},
	{"methods", createMethodsTable},
	{"functions", createFunctionsTable},
	{"imports", createImportsTable},
	{"issues", createIssuesTable},
	{"usages", createUsagesTable},
	{"entity_cross_refs", createEntityCrossRefsTable},
	{"ast_trees", createASTTreesTable},
	{"cst_trees", createCSTTreesTable},
	{"code_content", createCodeContentTable},
	{"code_chunks", createCodeChunksTable},
	{"vector_index", createVectorIndexTable},
	{"code_duplicates", createCodeDuplicatesTable},
	{"duplicate_occurrences", createDuplicateOccurrencesTable},
	{"comprehensive_analysis_results", createComprehensiveAnalysisResultsTable},
	{"file_watcher_stats", createFileWatcherStatsTable},
	{"vectorization_stats", createVectorizationStatsTable},
	{"db_settings", createDBSettingsTable},
}

const createProjectsTable = `
CREATE TABLE projects (
    id TEXT PRIMARY KEY,
    root_path TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    comment TEXT NOT NULL DEFAULT '',
    watch_dir_id TEXT,
    FOREIGN KEY (watch_dir_id) REFERENCES watch_dirs(id) ON DELETE SET NULL
)
`

const createDatasetsTable = `
CREATE TABLE datasets (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    root_path TEXT NOT NULL,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    UNIQUE(project_id, root_path)
)
`

const createWatchDirsTable = `
CREATE TABLE watch_dirs (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL UNIQUE
)
`

const createFilesTable = `
CREATE TABLE files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL,
    dataset_id TEXT NOT NULL,
    watch_dir_id TEXT,
    path TEXT NOT NULL,
    relative_path TEXT NOT NULL DEFAULT '',
    lines INTEGER NOT NULL DEFAULT 0,
    last_modified REAL NOT NULL DEFAULT 0,
    has_docstring INTEGER NOT NULL DEFAULT 0,
    deleted INTEGER NOT NULL DEFAULT 0,
    original_path TEXT,
    version_dir TEXT,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    FOREIGN KEY (dataset_id) REFERENCES datasets(id) ON DELETE CASCADE,
    FOREIGN KEY (watch_dir_id) REFERENCES watch_dirs(id) ON DELETE SET NULL,
    UNIQUE(project_id, dataset_id, path)
)
`

const createClassesTable = `
CREATE TABLE classes (
    id TEXT PRIMARY KEY,
    file_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    line INTEGER NOT NULL,
    end_line INTEGER,
    docstring TEXT NOT NULL DEFAULT '',
    bases TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    UNIQUE(file_id, name, line)
)
`

const createMethodsTable = `
CREATE TABLE methods (
    id TEXT PRIMARY KEY,
    class_id TEXT NOT NULL,
    name TEXT NOT NULL,
    line INTEGER NOT NULL,
    end_line INTEGER,
    args TEXT NOT NULL DEFAULT '',
    docstring TEXT NOT NULL DEFAULT '',
    is_abstract INTEGER NOT NULL DEFAULT 0,
    has_pass INTEGER NOT NULL DEFAULT 0,
    has_not_implemented INTEGER NOT NULL DEFAULT 0,
    complexity INTEGER,
    FOREIGN KEY (class_id) REFERENCES classes(id) ON DELETE CASCADE
)
`

const createFunctionsTable = `
CREATE TABLE functions (
    id TEXT PRIMARY KEY,
    file_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    line INTEGER NOT NULL,
    end_line INTEGER,
    args TEXT NOT NULL DEFAULT '',
    docstring TEXT NOT NULL DEFAULT '',
    complexity INTEGER,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    UNIQUE(file_id, name, line)
)
`

const createImportsTable = `
CREATE TABLE imports (
    id TEXT PRIMARY KEY,
    file_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    module TEXT,
    import_type TEXT NOT NULL DEFAULT '',
    line INTEGER NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
)
`

const createIssuesTable = `
CREATE TABLE issues (
    id TEXT PRIMARY KEY,
    file_id INTEGER,
    project_id TEXT,
    class_id TEXT,
    method_id TEXT,
    function_id TEXT,
    issue_type TEXT NOT NULL,
    line INTEGER,
    description TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE,
    FOREIGN KEY (class_id) REFERENCES classes(id) ON DELETE CASCADE,
    FOREIGN KEY (method_id) REFERENCES methods(id) ON DELETE CASCADE,
    FOREIGN KEY (function_id) REFERENCES functions(id) ON DELETE CASCADE
)
`

const createUsagesTable = `
CREATE TABLE usages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_id INTEGER NOT NULL,
    line INTEGER NOT NULL,
    usage_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    target_class TEXT,
    target_name TEXT NOT NULL,
    context TEXT,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
)
`

const createEntityCrossRefsTable = `
CREATE TABLE entity_cross_refs (
    id TEXT PRIMARY KEY,
    caller_kind TEXT NOT NULL,
    caller_class_id TEXT,
    caller_method_id TEXT,
    caller_function_id TEXT,
    callee_kind TEXT NOT NULL,
    callee_class_id TEXT,
    callee_method_id TEXT,
    callee_function_id TEXT,
    ref_type TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    line INTEGER NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    FOREIGN KEY (caller_class_id) REFERENCES classes(id) ON DELETE CASCADE,
    FOREIGN KEY (caller_method_id) REFERENCES methods(id) ON DELETE CASCADE,
    FOREIGN KEY (caller_function_id) REFERENCES functions(id) ON DELETE CASCADE,
    FOREIGN KEY (callee_class_id) REFERENCES classes(id) ON DELETE CASCADE,
    FOREIGN KEY (callee_method_id) REFERENCES methods(id) ON DELETE CASCADE,
    FOREIGN KEY (callee_function_id) REFERENCES functions(id) ON DELETE CASCADE
)
`

const createASTTreesTable = `
CREATE TABLE ast_trees (
    id TEXT PRIMARY KEY,
    file_id INTEGER NOT NULL,
    hash TEXT NOT NULL,
    file_mtime REAL NOT NULL,
    serialized BLOB NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    UNIQUE(file_id, hash)
)
`

const createCSTTreesTable = `
CREATE TABLE cst_trees (
    id TEXT PRIMARY KEY,
    file_id INTEGER NOT NULL,
    hash TEXT NOT NULL,
    file_mtime REAL NOT NULL,
    serialized BLOB NOT NULL,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    UNIQUE(file_id, hash)
)
`

const createCodeContentTable = `
CREATE TABLE code_content (
    id TEXT PRIMARY KEY,
    entity_kind TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    docstring TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
)
`

// code_content_fts mirrors code_content in external-content mode: it stores
// no rows of its own and reads content/docstring straight from the backing
// table via the content/content_rowid options.
const createCodeContentFTSTable = `
CREATE VIRTUAL TABLE code_content_fts USING fts5(
    content,
    docstring,
    content='code_content',
    content_rowid='rowid',
    tokenize = "unicode61 separators '._'"
)
`

const createCodeChunksTable = `
CREATE TABLE code_chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chunk_uuid TEXT NOT NULL UNIQUE,
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
    bm25_score REAL NOT NULL DEFAULT 0,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
)
`

const createVectorIndexTable = `
CREATE TABLE vector_index (
    project_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    vector_id INTEGER NOT NULL,
    vector_dim INTEGER NOT NULL,
    embedding_model TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (project_id, entity_type, entity_id),
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
)
`

const createCodeDuplicatesTable = `
CREATE TABLE code_duplicates (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    signature TEXT NOT NULL,
    line_count INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
)
`

const createDuplicateOccurrencesTable = `
CREATE TABLE duplicate_occurrences (
    id TEXT PRIMARY KEY,
    duplicate_id TEXT NOT NULL,
    file_id INTEGER NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    FOREIGN KEY (duplicate_id) REFERENCES code_duplicates(id) ON DELETE CASCADE,
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
)
`

const createComprehensiveAnalysisResultsTable = `
CREATE TABLE comprehensive_analysis_results (
    file_id INTEGER NOT NULL,
    file_mtime REAL NOT NULL,
    result TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (file_id, file_mtime),
    FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
)
`

const createFileWatcherStatsTable = `
CREATE TABLE file_watcher_stats (
    cycle_id TEXT PRIMARY KEY,
    files_changed INTEGER NOT NULL DEFAULT 0,
    files_added INTEGER NOT NULL DEFAULT 0,
    files_removed INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    completed_at TEXT
)
`

const createVectorizationStatsTable = `
CREATE TABLE vectorization_stats (
    cycle_id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    chunks_embedded INTEGER NOT NULL DEFAULT 0,
    chunks_indexed INTEGER NOT NULL DEFAULT 0,
    chunks_failed INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    completed_at TEXT,
    FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
)
`

const createDBSettingsTable = `
CREATE TABLE db_settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TEXT NOT NULL
)
`

func getAllIndexes() []string {
	return []string{
		"CREATE INDEX idx_datasets_project ON datasets(project_id)",
		"CREATE INDEX idx_files_project ON files(project_id)",
		"CREATE INDEX idx_files_dataset ON files(dataset_id)",
		"CREATE INDEX idx_files_path ON files(path)",
		"CREATE INDEX idx_files_deleted ON files(deleted)",
		"CREATE INDEX idx_classes_file ON classes(file_id)",
		"CREATE INDEX idx_methods_class ON methods(class_id)",
		"CREATE INDEX idx_functions_file ON functions(file_id)",
		"CREATE INDEX idx_imports_file ON imports(file_id)",
		"CREATE INDEX idx_issues_file ON issues(file_id)",
		"CREATE INDEX idx_usages_file ON usages(file_id)",
		"CREATE INDEX idx_usages_target_name ON usages(target_name)",
		"CREATE INDEX idx_xref_caller_class ON entity_cross_refs(caller_class_id)",
		"CREATE INDEX idx_xref_caller_method ON entity_cross_refs(caller_method_id)",
		"CREATE INDEX idx_xref_caller_function ON entity_cross_refs(caller_function_id)",
		"CREATE INDEX idx_xref_callee_class ON entity_cross_refs(callee_class_id)",
		"CREATE INDEX idx_xref_callee_method ON entity_cross_refs(callee_method_id)",
		"CREATE INDEX idx_xref_callee_function ON entity_cross_refs(callee_function_id)",
		"CREATE INDEX idx_xref_file ON entity_cross_refs(file_id)",
		"CREATE INDEX idx_ast_trees_file ON ast_trees(file_id)",
		"CREATE INDEX idx_cst_trees_file ON cst_trees(file_id)",
		"CREATE INDEX idx_code_content_file ON code_content(file_id)",
		"CREATE INDEX idx_code_content_entity ON code_content(entity_kind, entity_id)",
		"CREATE INDEX idx_code_chunks_file ON code_chunks(file_id)",
		"CREATE INDEX idx_code_chunks_project ON code_chunks(project_id)",
		"CREATE INDEX idx_code_chunks_vector_id ON code_chunks(vector_id)",
		"CREATE INDEX idx_duplicate_occurrences_duplicate ON duplicate_occurrences(duplicate_id)",
		"CREATE INDEX idx_duplicate_occurrences_file ON duplicate_occurrences(file_id)",
	}
}

// createFTSTriggers keeps code_content_fts synchronized with code_content
// (external-content mode requires the backing table's writer to also
// maintain the shadow index via these triggers).
func createFTSTriggers(db *sql.DB) error {
	triggers := []string{
		`CREATE TRIGGER code_content_fts_insert AFTER INSERT ON code_content
		BEGIN
			INSERT INTO code_content_fts(rowid, content, docstring)
			VALUES (NEW.rowid, NEW.content, NEW.docstring);
		END`,

		`CREATE TRIGGER code_content_fts_update AFTER UPDATE ON code_content
		BEGIN
			INSERT INTO code_content_fts(code_content_fts, rowid, content, docstring)
			VALUES ('delete', OLD.rowid, OLD.content, OLD.docstring);
			INSERT INTO code_content_fts(rowid, content, docstring)
			VALUES (NEW.rowid, NEW.content, NEW.docstring);
		END`,

		`CREATE TRIGGER code_content_fts_delete AFTER DELETE ON code_content
		BEGIN
			INSERT INTO code_content_fts(code_content_fts, rowid, content, docstring)
			VALUES ('delete', OLD.rowid, OLD.content, OLD.docstring);
		END`,
	}

	for i, trigger := range triggers {
		if _, err := db.Exec(trigger); err != nil {
			return fmt.Errorf("create trigger %d: %w", i+1, err)
		}
	}
	return nil
}
