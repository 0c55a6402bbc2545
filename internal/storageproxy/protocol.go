// Package storageproxy implements the proxy driver's IPC contract: a
// sibling worker process owns the database file exclusively, and every
// caller (in this process or another) forwards commands to it over a
// Unix domain socket as newline-delimited JSON.
package storageproxy

import "encoding/json"

// Command names exchanged between ProxyDriver and the worker.
const (
	OpExecute       = "execute"
	OpFetchOne      = "fetch_one"
	OpFetchAll      = "fetch_all"
	OpBegin         = "begin"
	OpCommit        = "commit"
	OpRollback      = "rollback"
	OpLastInsertID  = "last_insert_id"
	OpGetTableInfo  = "get_table_info"
	OpSyncSchema    = "sync_schema"
	OpPing          = "ping"
)

// Request is one command sent from a ProxyDriver to the worker. TxID
// addresses an in-flight transaction for Commit/Rollback/Execute/FetchOne/
// FetchAll when a transaction is active; it is empty for autocommit calls.
type Request struct {
	Operation string          `json:"operation"`
	TxID      string          `json:"tx_id,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// Response is the worker's reply to one Request.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	// ErrorKind lets the client reconstruct a sentinel error
	// (TransactionAlreadyActive, NoActiveTransaction, CommandTimeout, ...)
	// instead of matching on the Error string.
	ErrorKind string `json:"error_kind,omitempty"`
}

// ExecuteArgs is the payload for OpExecute.
type ExecuteArgs struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

// FetchArgs is the payload for OpFetchOne / OpFetchAll.
type FetchArgs struct {
	SQL  string        `json:"sql"`
	Args []interface{} `json:"args"`
}

// ExecuteResult is the payload of a successful OpExecute response.
type ExecuteResult struct {
	RowsAffected int64 `json:"rows_affected"`
	LastInsertID int64 `json:"last_insert_id"`
}

// BeginResult is the payload of a successful OpBegin response.
type BeginResult struct {
	TxID string `json:"tx_id"`
}

// TableInfoArgs is the payload for OpGetTableInfo.
type TableInfoArgs struct {
	Table string `json:"table"`
}

// Error kinds mirrored onto storage's sentinel errors by the ProxyDriver.
const (
	ErrorKindTransactionAlreadyActive = "transaction_already_active"
	ErrorKindNoActiveTransaction      = "no_active_transaction"
	ErrorKindCommandTimeout           = "command_timeout"
	ErrorKindSQL                      = "sql_error"
	ErrorKindSchemaSync               = "schema_sync_error"
)
