package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
)

// Row is a single result row addressed by column name, as returned by
// Driver.FetchOne / Driver.FetchAll. It mirrors the shape a proxied driver
// has to serialize over IPC, so both variants share exactly this contract.
type Row map[string]interface{}

// ColumnInfo is one entry of Driver.GetTableInfo, the PRAGMA table_info
// projection every driver variant must expose identically.
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	Default    sql.NullString
	PrimaryKey bool
}

// SyncResult is returned by Driver.SyncSchema.
type SyncResult struct {
	Success        bool
	BackupUUID     string
	ChangesApplied []string
	Error          error
}

// Driver is the low-level contract the persistence facade is built on:
// execute/fetch, transactions, table introspection, and schema
// synchronization. Two variants satisfy it: InProcessDriver (direct file
// handle, not thread-safe) and ProxyDriver (forwards to a sibling worker
// process, thread-safe because the worker serializes internally).
type Driver interface {
	Connect(config DriverConfig) error
	Disconnect() error

	Execute(query string, args ...interface{}) (sql.Result, error)
	FetchOne(query string, args ...interface{}) (Row, error)
	FetchAll(query string, args ...interface{}) ([]Row, error)

	Begin() error
	Commit() error
	Rollback() error
	InTransaction() bool

	LastInsertID() (int64, error)
	GetTableInfo(table string) ([]ColumnInfo, error)

	SyncSchema(schema Schema, backupDir string) (SyncResult, error)

	// IsThreadSafe reports whether the facade may skip its own
	// serialization mutex around calls to this driver.
	IsThreadSafe() bool
}

// DriverConfig carries the settings every Driver variant needs; see
// internal/config for the typed union that selects a variant and builds
// this from file/env configuration.
type DriverConfig struct {
	Path      string
	BackupDir string
}

// txState is the transaction state machine both driver variants follow:
// Idle -> Active(tx_id) -> {Committed, RolledBack} -> Idle.
type txState int32

const (
	txIdle txState = iota
	txActive
)

// InProcessDriver is a direct *sql.DB handle. It is not thread-safe: callers
// (normally the facade) must serialize access themselves, which is why
// IsThreadSafe reports false here and true for ProxyDriver.
type InProcessDriver struct {
	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	state  atomic.Int32 // txState
	lastID int64        // rowid assigned by the most recent Execute
}

// NewInProcessDriver constructs an unconnected driver; call Connect before
// use.
func NewInProcessDriver() *InProcessDriver {
	return &InProcessDriver{}
}

func (d *InProcessDriver) Connect(config DriverConfig) error {
	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnect, config.Path, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return fmt.Errorf("%w: enable foreign keys: %v", ErrConnect, err)
	}
	d.db = db
	return nil
}

func (d *InProcessDriver) Disconnect() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// execer returns whatever currently accepts statements: the active
// transaction if one is open, otherwise the raw *sql.DB.
func (d *InProcessDriver) execer() interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
} {
	if d.tx != nil {
		return d.tx
	}
	return d.db
}

func (d *InProcessDriver) Execute(query string, args ...interface{}) (sql.Result, error) {
	res, err := d.execer().Exec(query, args...)
	if err != nil {
		return nil, &SqlError{SQL: query, Cause: err}
	}
	if id, idErr := res.LastInsertId(); idErr == nil {
		d.lastID = id
	}
	return res, nil
}

func (d *InProcessDriver) FetchOne(query string, args ...interface{}) (Row, error) {
	rows, err := d.execer().Query(query, args...)
	if err != nil {
		return nil, &SqlError{SQL: query, Cause: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &SqlError{SQL: query, Cause: err}
		}
		return nil, sql.ErrNoRows
	}
	return scanRow(rows)
}

func (d *InProcessDriver) FetchAll(query string, args ...interface{}) ([]Row, error) {
	rows, err := d.execer().Query(query, args...)
	if err != nil {
		return nil, &SqlError{SQL: query, Cause: err}
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, &SqlError{SQL: query, Cause: err}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanRow(rows *sql.Rows) (Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(Row, len(cols))
	for i, name := range cols {
		row[name] = values[i]
	}
	return row, nil
}

func (d *InProcessDriver) Begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if txState(d.state.Load()) == txActive {
		return ErrTransactionAlreadyActive
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	d.tx = tx
	d.state.Store(int32(txActive))
	return nil
}

func (d *InProcessDriver) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if txState(d.state.Load()) != txActive {
		return ErrNoActiveTransaction
	}
	err := d.tx.Commit()
	d.tx = nil
	d.state.Store(int32(txIdle))
	return err
}

func (d *InProcessDriver) Rollback() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if txState(d.state.Load()) != txActive {
		return ErrNoActiveTransaction
	}
	err := d.tx.Rollback()
	d.tx = nil
	d.state.Store(int32(txIdle))
	return err
}

func (d *InProcessDriver) InTransaction() bool {
	return txState(d.state.Load()) == txActive
}

// LastInsertID returns the rowid assigned by the most recent Execute.
// Callers holding the sql.Result from Execute should prefer it directly;
// this exists for callers reaching the driver through the narrow Driver
// interface, where the result object may not have crossed an IPC boundary
// intact.
func (d *InProcessDriver) LastInsertID() (int64, error) {
	return d.lastID, nil
}

func (d *InProcessDriver) GetTableInfo(table string) ([]ColumnInfo, error) {
	live, err := tableInfo(d.db, table)
	if err != nil {
		return nil, err
	}
	cols := make([]ColumnInfo, 0, len(live))
	for name, lc := range live {
		cols = append(cols, ColumnInfo{Name: name, Type: lc.Type, NotNull: lc.NotNull})
	}
	return cols, nil
}

// SyncSchema runs the migration-registry and comparator/planner/backup-
// manager pipeline. It is normally invoked once by the facade at
// construction time. A brand new (empty) database is bootstrapped directly
// from the literal CreateSchema DDL rather than through the generated
// plan: a fresh file has no rows to reconcile, so there is nothing for the
// comparator to usefully diff against. An existing database first gets any
// registered migrations for versions above its stored schema_version, then
// is reconciled through the comparator/planner so upgrades stay
// data-preserving.
func (d *InProcessDriver) SyncSchema(schema Schema, backupDir string) (SyncResult, error) {
	hasTables, err := databaseHasUserTables(d.db)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", ErrSchemaSync, err)
	}
	if !hasTables {
		if err := CreateSchema(d.db); err != nil {
			return SyncResult{}, fmt.Errorf("%w: bootstrap: %v", ErrSchemaSync, err)
		}
		return SyncResult{Success: true, ChangesApplied: []string{"bootstrap: CreateSchema"}}, nil
	}

	migrated, err := applyMigrations(d.db)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", ErrSchemaSync, err)
	}

	diff, err := NewComparator(schema).Compare(d.db)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", ErrSchemaSync, err)
	}
	if diff.Empty() {
		if err := UpdateSchemaVersion(d.db, schema.Version); err != nil {
			return SyncResult{}, fmt.Errorf("%w: record schema_version: %v", ErrSchemaSync, err)
		}
		return SyncResult{Success: true, ChangesApplied: migrated}, nil
	}

	var backupUUID string
	if requiresDestructive(diff) {
		nonEmpty, err := databaseHasUserTables(d.db)
		if err != nil {
			return SyncResult{}, fmt.Errorf("%w: %v", ErrSchemaSync, err)
		}
		if nonEmpty && backupDir != "" {
			id, err := NewBackupManager().CreateBackup(d.db, backupDir, "pre-migration")
			if err != nil {
				return SyncResult{}, fmt.Errorf("%w: backup: %v", ErrSchemaSync, err)
			}
			backupUUID = id
		}
	}

	stmts, err := NewPlanner(schema).Plan(diff)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %v", ErrSchemaSync, err)
	}

	applied, err := applyPlan(d.db, stmts)
	applied = append(migrated, applied...)
	result := SyncResult{Success: err == nil, BackupUUID: backupUUID, ChangesApplied: applied, Error: err}
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrSchemaSync, err)
	}

	if err := UpdateSchemaVersion(d.db, schema.Version); err != nil {
		return result, fmt.Errorf("%w: record schema_version: %v", ErrSchemaSync, err)
	}
	return result, nil
}

func (d *InProcessDriver) IsThreadSafe() bool { return false }

func requiresDestructive(diff SchemaDiff) bool {
	if len(diff.ExtraIndexes) > 0 || len(diff.ChangedVirtualTables) > 0 {
		return true
	}
	for _, td := range diff.TableDiffs {
		if td.RequiresRecreate() {
			return true
		}
	}
	return false
}

func databaseHasUserTables(db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&count)
	return count > 0, err
}

func applyPlan(db *sql.DB, stmts []DdlStatement) ([]string, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var applied []string
	for _, stmt := range stmts {
		if stmt.RequiresOutsideTransaction {
			continue
		}
		if _, err := tx.Exec(stmt.SQL); err != nil {
			return applied, &SqlError{SQL: stmt.SQL, Cause: err}
		}
		applied = append(applied, stmt.SQL)
	}
	if err := tx.Commit(); err != nil {
		return applied, err
	}

	for _, stmt := range stmts {
		if !stmt.RequiresOutsideTransaction {
			continue
		}
		if _, err := db.Exec(stmt.SQL); err != nil {
			return applied, &SqlError{SQL: stmt.SQL, Cause: err}
		}
		applied = append(applied, stmt.SQL)
	}
	return applied, nil
}
