package storage

import "errors"

// Sentinel errors callers are expected to branch on with errors.Is.
var (
	// ErrConnect is returned when the underlying database file cannot be
	// opened.
	ErrConnect = errors.New("storage: cannot open database")

	// ErrSchemaSync is returned when the schema comparator, planner, or an
	// applied DDL statement fails. Facade construction surfaces it and
	// returns no facade, so no caller can write through an unsynced schema.
	ErrSchemaSync = errors.New("storage: schema sync failed")

	// ErrConstraintViolation wraps a uniqueness, foreign-key, or not-null
	// violation surfaced verbatim from the driver.
	ErrConstraintViolation = errors.New("storage: constraint violation")

	// ErrTransactionAlreadyActive is returned by begin_transaction while a
	// transaction is already open on the same facade/driver.
	ErrTransactionAlreadyActive = errors.New("storage: transaction already active")

	// ErrNoActiveTransaction is returned by commit/rollback when no
	// transaction is open.
	ErrNoActiveTransaction = errors.New("storage: no active transaction")

	// ErrNotInTransaction is returned by operations that require an active
	// transaction, such as UpdateFileDataAtomic.
	ErrNotInTransaction = errors.New("storage: operation requires an active transaction")

	// ErrCommandTimeout is returned by the proxy driver when a command
	// exceeds its timeout. The in-flight transaction, if any, is left
	// indeterminate; the caller must explicitly roll it back.
	ErrCommandTimeout = errors.New("storage: proxy command timed out")

	// ErrInvalidCrossRef is returned when AddEntityCrossRef is called with
	// a caller/callee id set that does not satisfy exactly-one-of-three, or
	// an unrecognized ref_type.
	ErrInvalidCrossRef = errors.New("storage: invalid cross-ref: exactly one caller and one callee id required")

	// ErrSyntaxError is returned by the atomic file updater when the
	// parser rejects the source.
	ErrSyntaxError = errors.New("storage: source failed to parse")

	// ErrFileNotFound is returned when an operation references a file not
	// present in the files table.
	ErrFileNotFound = errors.New("storage: file not found")

	// ErrEmbedder wraps a transient failure from the embedding
	// collaborator; tolerated per-chunk by the vectorization worker.
	ErrEmbedder = errors.New("storage: embedder failed")

	// ErrIndex wraps a failure from the external similarity index;
	// tolerated per-chunk by the vectorization worker.
	ErrIndex = errors.New("storage: similarity index failed")

	// ErrUnknownCrossRefKind is returned by get_dependencies_by_caller and
	// get_dependents_by_callee for an unrecognized entity kind.
	ErrUnknownCrossRefKind = errors.New("storage: unknown cross-ref entity kind")
)

// SqlError is a generic executor error carrying the failed statement
// (callers should redact user data before logging it) and the underlying
// cause.
type SqlError struct {
	SQL   string
	Cause error
}

func (e *SqlError) Error() string {
	return "storage: sql error: " + e.Cause.Error()
}

func (e *SqlError) Unwrap() error { return e.Cause }

// ConfigError is raised at facade construction when the driver
// configuration is missing a required field or names an unknown driver
// type.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "storage: config error: " + e.Reason }
