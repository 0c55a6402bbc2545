package storage

import (
	"database/sql"
	"fmt"
	"strings"
)

// Column is one column of a declarative table definition.
type Column struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string // literal SQL, "" if none
	PrimaryKey    bool
	AutoIncrement bool
}

// ForeignKey is one foreign-key constraint of a declarative table.
type ForeignKey struct {
	Columns            []string
	ReferencesTable    string
	ReferencesColumns  []string
	OnDelete           string // CASCADE, SET NULL, "" for default
}

// UniqueConstraint is a multi-column uniqueness constraint.
type UniqueConstraint struct {
	Columns []string
}

// Table is a declarative table definition.
type Table struct {
	Name              string
	Columns           []Column
	ForeignKeys       []ForeignKey
	UniqueConstraints []UniqueConstraint
	CheckConstraints  []string
}

// Index is a declarative secondary index.
type Index struct {
	Name        string
	Table       string
	Columns     []string
	Unique      bool
	WhereClause string
}

// VirtualTable is a declarative FTS5 (or other) virtual table definition.
type VirtualTable struct {
	Name    string
	Type    string // e.g. "fts5"
	Columns []string
	Options map[string]string
}

// Schema is the declarative model the synchronizer reconciles a live
// database against.
type Schema struct {
	Version       string
	Tables        map[string]Table
	Indexes       []Index
	VirtualTables []VirtualTable
}

// CanonicalSchema returns the declarative description of the schema this
// version of the code expects. db_settings must stay in sync with the
// createDBSettingsTable DDL constant; TestCanonicalSchema_MatchesDBSettingsDDL
// in schema_test.go checks the two do not drift.
func CanonicalSchema() Schema {
	return Schema{
		Version: SchemaVersion,
		Tables: map[string]Table{
			"db_settings": {
				Name: "db_settings",
				Columns: []Column{
					{Name: "key", Type: "TEXT", PrimaryKey: true},
					{Name: "value", Type: "TEXT", NotNull: true},
					{Name: "updated_at", Type: "TEXT", NotNull: true},
				},
			},
			// The remaining built-in tables are reconciled against the
			// literal DDL in coreTables (recreateTableDDL resolves them by
			// name); db_settings is declared here because
			// GetSchemaVersion/UpdateSchemaVersion depend on its exact
			// column set unconditionally.
		},
	}
}

// ColumnDiff describes a single column whose declared type changed.
type ColumnDiff struct {
	Column string
	OldType string
	NewType string
}

// TableDiff is the set of differences found for one table that exists on
// both sides of the comparison.
type TableDiff struct {
	MissingColumns   []Column
	ExtraColumns     []string
	TypeChanges      []ColumnDiff
	ConstraintChanges []string
}

// RequiresRecreate reports whether this table needs a recreate-and-copy migration
// (type changes or constraint changes) as opposed to a simple ADD COLUMN.
func (d TableDiff) RequiresRecreate() bool {
	return len(d.TypeChanges) > 0 || len(d.ConstraintChanges) > 0
}

// SchemaDiff is the full comparison result between a declarative Schema and
// a live database.
type SchemaDiff struct {
	MissingTables        []string
	ExtraTables          []string
	TableDiffs           map[string]TableDiff
	MissingIndexes        []Index
	ExtraIndexes          []string
	ConstraintDiffs       []string
	MissingVirtualTables  []VirtualTable
	ChangedVirtualTables  []VirtualTable
}

// Empty reports whether the diff contains no changes at all, i.e. sync is
// idempotent on this database.
func (d SchemaDiff) Empty() bool {
	return len(d.MissingTables) == 0 &&
		len(d.TableDiffs) == 0 &&
		len(d.MissingIndexes) == 0 &&
		len(d.ExtraIndexes) == 0 &&
		len(d.MissingVirtualTables) == 0 &&
		len(d.ChangedVirtualTables) == 0
}

// Comparator computes a SchemaDiff between a declarative Schema and a live
// database, by introspecting sqlite_master and PRAGMA table_info.
type Comparator struct {
	schema Schema
}

func NewComparator(schema Schema) *Comparator {
	return &Comparator{schema: schema}
}

// Compare inspects the database via TableInfo-style introspection and
// returns the full diff against the comparator's declarative schema.
func (c *Comparator) Compare(db *sql.DB) (SchemaDiff, error) {
	diff := SchemaDiff{TableDiffs: map[string]TableDiff{}}

	existingTables, err := existingTableNames(db)
	if err != nil {
		return diff, fmt.Errorf("schemadiff: list tables: %w", err)
	}

	for name, table := range c.schema.Tables {
		if !existingTables[name] {
			diff.MissingTables = append(diff.MissingTables, name)
			continue
		}

		liveCols, err := tableInfo(db, name)
		if err != nil {
			return diff, fmt.Errorf("schemadiff: introspect %s: %w", name, err)
		}

		td := diffColumns(table.Columns, liveCols)
		if len(td.MissingColumns) > 0 || len(td.TypeChanges) > 0 || len(td.ConstraintChanges) > 0 {
			diff.TableDiffs[name] = td
		}
	}

	for name := range existingTables {
		if _, declared := c.schema.Tables[name]; !declared && !isSystemTable(name) {
			diff.ExtraTables = append(diff.ExtraTables, name)
		}
	}

	existingIndexes, err := existingIndexNames(db)
	if err != nil {
		return diff, fmt.Errorf("schemadiff: list indexes: %w", err)
	}
	for _, idx := range c.schema.Indexes {
		if !existingIndexes[idx.Name] {
			diff.MissingIndexes = append(diff.MissingIndexes, idx)
		}
	}
	declaredIndexNames := map[string]bool{}
	for _, idx := range c.schema.Indexes {
		declaredIndexNames[idx.Name] = true
	}
	for name := range existingIndexes {
		if !declaredIndexNames[name] {
			diff.ExtraIndexes = append(diff.ExtraIndexes, name)
		}
	}

	for _, vt := range c.schema.VirtualTables {
		if !existingTables[vt.Name] {
			diff.MissingVirtualTables = append(diff.MissingVirtualTables, vt)
			continue
		}

		changed, err := virtualTableChanged(db, vt)
		if err != nil {
			return diff, fmt.Errorf("schemadiff: introspect virtual table %s: %w", vt.Name, err)
		}
		if changed {
			diff.ChangedVirtualTables = append(diff.ChangedVirtualTables, vt)
		}
	}

	return diff, nil
}

// virtualTableChanged reports whether the live virtual table vt.Name no
// longer matches its declared definition: either its column set has drifted
// from vt.Columns, or (for content= external-content tables such as
// code_content_fts) the backing table it indexes no longer carries every
// declared column. Either case means the old virtual table's index no
// longer reflects the schema and must be dropped and recreated.
func virtualTableChanged(db *sql.DB, vt VirtualTable) (bool, error) {
	liveCols, err := tableInfo(db, vt.Name)
	if err != nil {
		return false, err
	}
	for _, col := range vt.Columns {
		if _, ok := liveCols[col]; !ok {
			return true, nil
		}
	}
	if len(liveCols) != len(vt.Columns) {
		return true, nil
	}

	if backing := strings.Trim(vt.Options["content"], "'\""); backing != "" {
		backingCols, err := tableInfo(db, backing)
		if err != nil {
			return false, err
		}
		for _, col := range vt.Columns {
			if _, ok := backingCols[col]; !ok {
				return true, nil
			}
		}
	}

	return false, nil
}

// ValidateDataCompatibility inspects type changes and newly NOT NULL
// columns and emits warnings. It never blocks by itself: compatible is
// always true, and the warnings are returned to the caller, not recorded.
func ValidateDataCompatibility(diff SchemaDiff) (compatible bool, warnings []string) {
	compatible = true
	for table, td := range diff.TableDiffs {
		for _, tc := range td.TypeChanges {
			warnings = append(warnings, fmt.Sprintf(
				"%s.%s: type change %s -> %s may lose precision on incompatible existing values",
				table, tc.Column, tc.OldType, tc.NewType,
			))
		}
		for _, col := range td.MissingColumns {
			if col.NotNull && col.Default == "" {
				warnings = append(warnings, fmt.Sprintf(
					"%s.%s: new NOT NULL column has no default; existing rows require backfill",
					table, col.Name,
				))
			}
		}
	}
	return compatible, warnings
}

func diffColumns(declared []Column, live map[string]liveColumn) TableDiff {
	var td TableDiff
	declaredNames := map[string]bool{}

	for _, col := range declared {
		declaredNames[col.Name] = true
		lc, ok := live[col.Name]
		if !ok {
			td.MissingColumns = append(td.MissingColumns, col)
			continue
		}
		if !sameType(col.Type, lc.Type) {
			td.TypeChanges = append(td.TypeChanges, ColumnDiff{
				Column: col.Name, OldType: lc.Type, NewType: col.Type,
			})
		}
		if col.NotNull != lc.NotNull {
			td.ConstraintChanges = append(td.ConstraintChanges,
				fmt.Sprintf("%s not-null changed to %v", col.Name, col.NotNull))
		}
	}

	for name := range live {
		if !declaredNames[name] {
			td.ExtraColumns = append(td.ExtraColumns, name)
		}
	}

	return td
}

func sameType(a, b string) bool {
	return normalizeType(a) == normalizeType(b)
}

func normalizeType(t string) string {
	switch t {
	case "INT", "INTEGER":
		return "INTEGER"
	case "REAL", "FLOAT", "DOUBLE":
		return "REAL"
	case "TEXT", "VARCHAR", "CHAR":
		return "TEXT"
	case "BLOB":
		return "BLOB"
	default:
		return t
	}
}

type liveColumn struct {
	Type    string
	NotNull bool
}

func tableInfo(db *sql.DB, table string) (map[string]liveColumn, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := map[string]liveColumn{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = liveColumn{Type: ctype, NotNull: notNull != 0}
	}
	return cols, rows.Err()
}

func existingTableNames(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type IN ('table','view')")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

func existingIndexNames(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}

func isSystemTable(name string) bool {
	return name == "sqlite_sequence" || name == "sqlite_stat1"
}
