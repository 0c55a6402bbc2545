package storage

import "fmt"

// DdlStatement is one statement of an ordered migration plan. Virtual-table
// recreation must run outside the enclosing transaction (SQLite forbids
// CREATE VIRTUAL TABLE inside one for some FTS5 configurations), so the
// applier splits on RequiresOutsideTransaction.
type DdlStatement struct {
	SQL                        string
	RequiresOutsideTransaction bool
}

// Planner turns a SchemaDiff into an ordered list of DDL statements:
// missing tables first, then recreates, additive columns, virtual
// tables, and index changes. It carries the
// declarative Schema the diff was computed against so missing tables can
// be created from their declared definitions; built-in tables fall back
// to the canonical DDL constants in schema.go.
type Planner struct {
	schema Schema
}

func NewPlanner(schema Schema) *Planner { return &Planner{schema: schema} }

// Plan implements the five ordering rules: create missing tables (in the
// order the diff lists them; see orderByDependency), recreate-and-copy
// tables with type/constraint changes, ADD COLUMN
// for tables needing only new columns, recreate changed virtual tables,
// then index changes.
func (p *Planner) Plan(diff SchemaDiff) ([]DdlStatement, error) {
	var stmts []DdlStatement

	for _, name := range orderByDependency(diff.MissingTables) {
		var sql string
		var err error
		if table, ok := p.schema.Tables[name]; ok && len(table.Columns) > 0 {
			sql, err = createTableDDL(table)
		} else {
			sql, _, err = lookupCoreTableDDL(name)
		}
		if err != nil {
			return nil, fmt.Errorf("schemaplan: %s: %w", name, err)
		}
		stmts = append(stmts, DdlStatement{SQL: sql})
	}

	for _, table := range orderByDependency(tableDiffNames(diff.TableDiffs)) {
		td := diff.TableDiffs[table]
		if !td.RequiresRecreate() {
			continue
		}
		recreate, err := recreateTableDDL(table, td)
		if err != nil {
			return nil, fmt.Errorf("schemaplan: recreate %s: %w", table, err)
		}
		stmts = append(stmts, recreate...)
	}

	for _, table := range orderByDependency(tableDiffNames(diff.TableDiffs)) {
		td := diff.TableDiffs[table]
		if td.RequiresRecreate() {
			continue
		}
		for _, col := range td.MissingColumns {
			if isFunctionCallDefault(col.Default) {
				// The table-level CREATE TABLE keeps the default; ADD
				// COLUMN cannot carry a non-literal default in SQLite.
				col.Default = ""
			}
			stmts = append(stmts, DdlStatement{SQL: addColumnDDL(table, col)})
		}
	}

	for _, vt := range diff.MissingVirtualTables {
		stmts = append(stmts, DdlStatement{SQL: createVirtualTableDDL(vt), RequiresOutsideTransaction: true})
	}
	for _, vt := range diff.ChangedVirtualTables {
		stmts = append(stmts,
			DdlStatement{SQL: fmt.Sprintf("DROP TABLE IF EXISTS %s", vt.Name), RequiresOutsideTransaction: true},
			DdlStatement{SQL: createVirtualTableDDL(vt), RequiresOutsideTransaction: true},
		)
	}

	for _, idx := range diff.MissingIndexes {
		stmts = append(stmts, DdlStatement{SQL: createIndexDDL(idx)})
	}
	for _, name := range diff.ExtraIndexes {
		stmts = append(stmts, DdlStatement{SQL: fmt.Sprintf("DROP INDEX IF EXISTS %s", name)})
	}

	return stmts, nil
}

func tableDiffNames(diffs map[string]TableDiff) []string {
	names := make([]string, 0, len(diffs))
	for name := range diffs {
		names = append(names, name)
	}
	return names
}

// orderByDependency returns tables unchanged; it does not sort by foreign
// keys. The lists it receives are built by ranging over maps
// (Schema.Tables, SchemaDiff.TableDiffs), so their order is not defined
// and a child table may be created before its parent.
func orderByDependency(tables []string) []string {
	return tables
}

func createTableDDL(table Table) (string, error) {
	if len(table.Columns) == 0 {
		return "", fmt.Errorf("table %s has no columns", table.Name)
	}
	colDefs := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		colDefs = append(colDefs, columnDDL(col))
	}
	for _, fk := range table.ForeignKeys {
		colDefs = append(colDefs, foreignKeyDDL(fk))
	}
	for _, uc := range table.UniqueConstraints {
		colDefs = append(colDefs, fmt.Sprintf("UNIQUE (%s)", joinColumns(uc.Columns)))
	}
	colDefs = append(colDefs, table.CheckConstraints...)

	sql := fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", table.Name, joinWithComma(colDefs))
	return sql, nil
}

func recreateTableDDL(name string, td TableDiff) ([]DdlStatement, error) {
	// The caller (Comparator) supplies only the diff, not the full target
	// Table; recreate-and-copy therefore needs the canonical definition to
	// build the new table. In this codebase coreTables is that source of
	// truth for the built-in entities.
	newDDL, columns, err := lookupCoreTableDDL(name)
	if err != nil {
		return nil, err
	}

	// Copy only the intersection of the canonical and live column sets: a
	// canonical column the live predecessor never had cannot be selected
	// from the renamed-aside table, and the new table's DDL fills it with
	// its declared default instead. The diff already names exactly those
	// columns.
	missing := make(map[string]bool, len(td.MissingColumns))
	for _, col := range td.MissingColumns {
		missing[col.Name] = true
	}
	copyCols := make([]string, 0, len(columns))
	for _, col := range columns {
		if !missing[col] {
			copyCols = append(copyCols, col)
		}
	}

	return []DdlStatement{
		{SQL: fmt.Sprintf("ALTER TABLE %s RENAME TO %s_old", name, name)},
		{SQL: newDDL},
		{SQL: recreateCopySQL(name, copyCols)},
		{SQL: fmt.Sprintf("DROP TABLE %s_old", name)},
	}, nil
}

// recreateCopySQL builds the INSERT ... SELECT that repopulates a recreated
// table from its renamed-aside predecessor, over the intersection columns
// the caller computed. When the table carries a unique constraint whose
// columns (and primary key) all survive into that intersection, legacy rows
// that now collide on it are deduplicated by keeping only the row with the
// highest primary key per unique key, via
// ROW_NUMBER() OVER (PARTITION BY <unique key> ORDER BY <primary key> DESC).
func recreateCopySQL(name string, columns []string) string {
	key, dedup := builtinUniqueKeys[name]
	if dedup {
		present := make(map[string]bool, len(columns))
		for _, col := range columns {
			present[col] = true
		}
		for _, col := range append(append([]string{}, key.unique...), key.pk) {
			if !present[col] {
				dedup = false
				break
			}
		}
	}
	if !dedup {
		return fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s_old",
			name, joinColumns(columns), joinColumns(columns), name,
		)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM (SELECT *, ROW_NUMBER() OVER "+
			"(PARTITION BY %s ORDER BY %s DESC) AS dedup_rank FROM %s_old) "+
			"WHERE dedup_rank = 1",
		name, joinColumns(columns), joinColumns(columns),
		joinColumns(key.unique), key.pk, name,
	)
}

// dedupUniqueKey names the unique key and primary key used to deduplicate a
// built-in table's rows during a recreate migration.
type dedupUniqueKey struct {
	unique []string
	pk     string
}

// builtinUniqueKeys lists, for built-in tables whose unique constraint is
// not simply their primary key, the columns used for recreate-time
// deduplication. Tables whose only uniqueness guarantee is the primary key
// itself (e.g. vector_index, db_settings) are omitted: a row can never
// collide with itself on its own primary key, so no dedup pass is needed.
var builtinUniqueKeys = map[string]dedupUniqueKey{
	"projects":    {unique: []string{"root_path"}, pk: "id"},
	"datasets":    {unique: []string{"project_id", "root_path"}, pk: "id"},
	"watch_dirs":  {unique: []string{"path"}, pk: "id"},
	"files":       {unique: []string{"project_id", "dataset_id", "path"}, pk: "id"},
	"classes":     {unique: []string{"file_id", "name", "line"}, pk: "id"},
	"functions":   {unique: []string{"file_id", "name", "line"}, pk: "id"},
	"ast_trees":   {unique: []string{"file_id", "hash"}, pk: "id"},
	"cst_trees":   {unique: []string{"file_id", "hash"}, pk: "id"},
	"code_chunks": {unique: []string{"chunk_uuid"}, pk: "id"},
}

// lookupCoreTableDDL returns the canonical CREATE TABLE statement for a
// built-in table (unchanged, since recreation always targets the current
// code-level definition) and the list of its columns, used to build the
// intersection copy.
func lookupCoreTableDDL(name string) (ddl string, columns []string, err error) {
	for _, t := range coreTables {
		if t.name == name {
			return t.ddl, coreTableColumnNames(name), nil
		}
	}
	return "", nil, fmt.Errorf("no canonical definition for table %s", name)
}

// coreTableColumnNames is a minimal static lookup for the intersection-copy
// column lists of built-in tables; declarative Schema callers (future
// plugin tables) should populate Table.Columns themselves instead of
// relying on this map.
func coreTableColumnNames(table string) []string {
	if cols, ok := builtinColumnNames[table]; ok {
		return cols
	}
	return nil
}

func columnDDL(col Column) string {
	parts := []string{col.Name, col.Type}
	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
		if col.AutoIncrement {
			parts = append(parts, "AUTOINCREMENT")
		}
	}
	if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.Default != "" {
		parts = append(parts, "DEFAULT", col.Default)
	}
	return joinWithSpace(parts)
}

func addColumnDDL(table string, col Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, columnDDL(col))
}

func foreignKeyDDL(fk ForeignKey) string {
	sql := fmt.Sprintf(
		"FOREIGN KEY (%s) REFERENCES %s(%s)",
		joinColumns(fk.Columns), fk.ReferencesTable, joinColumns(fk.ReferencesColumns),
	)
	if fk.OnDelete != "" {
		sql += " ON DELETE " + fk.OnDelete
	}
	return sql
}

func createIndexDDL(idx Index) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	sql := fmt.Sprintf("CREATE %sINDEX %s ON %s(%s)", unique, idx.Name, idx.Table, joinColumns(idx.Columns))
	if idx.WhereClause != "" {
		sql += " WHERE " + idx.WhereClause
	}
	return sql
}

func createVirtualTableDDL(vt VirtualTable) string {
	opts := make([]string, 0, len(vt.Columns)+len(vt.Options))
	opts = append(opts, vt.Columns...)
	for k, v := range vt.Options {
		opts = append(opts, fmt.Sprintf("%s=%s", k, v))
	}
	return fmt.Sprintf("CREATE VIRTUAL TABLE %s USING %s(%s)", vt.Name, vt.Type, joinWithComma(opts))
}

// isFunctionCallDefault reports whether a default value looks like a
// function call (parenthesized, or referencing a known time function) that
// SQLite rejects as a non-literal ADD COLUMN default.
func isFunctionCallDefault(def string) bool {
	if def == "" {
		return false
	}
	for _, marker := range []string{"(", "CURRENT_TIMESTAMP", "CURRENT_DATE", "CURRENT_TIME", "datetime", "strftime"} {
		if containsFold(def, marker) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return len(s) >= len(substr) && indexFold(s, substr) >= 0
}

func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if equalFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// builtinColumnNames lists the column names of each built-in table for the
// intersection-copy step of a recreate migration. Kept alongside the DDL
// constants in schema.go; TestBuiltinColumnNames_MatchCoreTableDDL in
// schema_test.go cross-checks the two do not drift.
var builtinColumnNames = map[string][]string{
	"projects":      {"id", "root_path", "name", "comment", "watch_dir_id"},
	"datasets":      {"id", "project_id", "root_path"},
	"watch_dirs":    {"id", "path"},
	"files": {
		"id", "project_id", "dataset_id", "watch_dir_id", "path", "relative_path",
		"lines", "last_modified", "has_docstring", "deleted", "original_path", "version_dir",
	},
	"classes":  {"id", "file_id", "name", "line", "end_line", "docstring", "bases"},
	"methods": {
		"id", "class_id", "name", "line", "end_line", "args", "docstring",
		"is_abstract", "has_pass", "has_not_implemented", "complexity",
	},
	"functions": {"id", "file_id", "name", "line", "end_line", "args", "docstring", "complexity"},
	"imports":   {"id", "file_id", "name", "module", "import_type", "line"},
	"issues": {
		"id", "file_id", "project_id", "class_id", "method_id", "function_id",
		"issue_type", "line", "description", "metadata",
	},
	"usages": {"id", "file_id", "line", "usage_type", "target_type", "target_class", "target_name", "context"},
	"entity_cross_refs": {
		"id", "caller_kind", "caller_class_id", "caller_method_id", "caller_function_id",
		"callee_kind", "callee_class_id", "callee_method_id", "callee_function_id",
		"ref_type", "file_id", "line",
	},
	"ast_trees": {"id", "file_id", "hash", "file_mtime", "serialized"},
	"cst_trees": {"id", "file_id", "hash", "file_mtime", "serialized"},
	"code_content": {"id", "entity_kind", "entity_id", "file_id", "content", "docstring"},
	"code_chunks": {
		"id", "chunk_uuid", "file_id", "project_id", "chunk_type", "chunk_text", "chunk_ordinal",
		"class_id", "method_id", "function_id", "line", "ast_node_type", "source_type",
		"binding_level", "vector_id", "embedding_model", "embedding_vector", "bm25_score",
	},
	"vector_index": {"project_id", "entity_type", "entity_id", "vector_id", "vector_dim", "embedding_model"},
	"code_duplicates": {"id", "project_id", "signature", "line_count", "created_at"},
	"duplicate_occurrences": {"id", "duplicate_id", "file_id", "start_line", "end_line"},
	"comprehensive_analysis_results": {"file_id", "file_mtime", "result", "created_at"},
	"file_watcher_stats": {"cycle_id", "files_changed", "files_added", "files_removed", "started_at", "completed_at"},
	"vectorization_stats": {
		"cycle_id", "project_id", "chunks_embedded", "chunks_indexed", "chunks_failed",
		"started_at", "completed_at",
	},
	"db_settings": {"key", "value", "updated_at"},
}

func joinColumns(cols []string) string { return joinWithComma(cols) }

func joinWithComma(parts []string) string { return join(parts, ", ") }
func joinWithSpace(parts []string) string { return join(parts, " ") }

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
