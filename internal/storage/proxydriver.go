package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coredex/graphstore/internal/storageproxy"
)

// ProxyDriver forwards every operation to a sibling worker process over a
// Unix domain socket (internal/storageproxy). The worker owns the
// database file exclusively and serializes all commands itself, so
// IsThreadSafe reports true here: the facade's own mutex is redundant and
// skipped for this variant.
type ProxyDriver struct {
	client    *storageproxy.Client
	txID      string
	lastID    int64
	connected bool
}

func NewProxyDriver() *ProxyDriver { return &ProxyDriver{} }

// ProxyConfig extends DriverConfig with the socket path and timings the
// in-process variant does not need. PollInterval is carried in the config
// but neither ConnectProxy nor the worker reads it: over the socket
// transport a response arrives as soon as the worker writes it.
type ProxyConfig struct {
	DriverConfig
	SocketPath     string
	CommandTimeout time.Duration
	PollInterval   time.Duration
}

func (d *ProxyDriver) Connect(config DriverConfig) error {
	return fmt.Errorf("%w: ProxyDriver requires ConnectProxy with a socket path", ErrConnect)
}

// ConnectProxy is the ProxyDriver-specific entry point; Connect exists
// only to satisfy the Driver interface and always fails, since a plain
// DriverConfig carries no socket path.
func (d *ProxyDriver) ConnectProxy(config ProxyConfig) error {
	client, err := storageproxy.Dial(config.SocketPath, config.CommandTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	d.client = client
	d.connected = true
	return nil
}

func (d *ProxyDriver) Disconnect() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *ProxyDriver) call(req storageproxy.Request) (*storageproxy.Response, error) {
	resp, err := d.client.Call(req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		switch resp.ErrorKind {
		case storageproxy.ErrorKindTransactionAlreadyActive:
			return resp, ErrTransactionAlreadyActive
		case storageproxy.ErrorKindNoActiveTransaction:
			return resp, ErrNoActiveTransaction
		case storageproxy.ErrorKindCommandTimeout:
			return resp, ErrCommandTimeout
		case storageproxy.ErrorKindSchemaSync:
			return resp, fmt.Errorf("%w: %s", ErrSchemaSync, resp.Error)
		default:
			return resp, &SqlError{SQL: "", Cause: errors.New(resp.Error)}
		}
	}
	return resp, nil
}

func (d *ProxyDriver) Execute(query string, args ...interface{}) (sql.Result, error) {
	payload, _ := json.Marshal(storageproxy.ExecuteArgs{SQL: query, Args: args})
	resp, err := d.call(storageproxy.Request{Operation: storageproxy.OpExecute, TxID: d.txID, Args: payload})
	if err != nil {
		return nil, err
	}
	var result storageproxy.ExecuteResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("storage: decode execute result: %w", err)
	}
	d.lastID = result.LastInsertID
	return proxyResult{lastInsertID: result.LastInsertID, rowsAffected: result.RowsAffected}, nil
}

type proxyResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r proxyResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r proxyResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

func (d *ProxyDriver) FetchOne(query string, args ...interface{}) (Row, error) {
	payload, _ := json.Marshal(storageproxy.FetchArgs{SQL: query, Args: args})
	resp, err := d.call(storageproxy.Request{Operation: storageproxy.OpFetchOne, TxID: d.txID, Args: payload})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return nil, sql.ErrNoRows
	}
	var row Row
	if err := json.Unmarshal(resp.Data, &row); err != nil {
		return nil, fmt.Errorf("storage: decode fetch_one result: %w", err)
	}
	return row, nil
}

func (d *ProxyDriver) FetchAll(query string, args ...interface{}) ([]Row, error) {
	payload, _ := json.Marshal(storageproxy.FetchArgs{SQL: query, Args: args})
	resp, err := d.call(storageproxy.Request{Operation: storageproxy.OpFetchAll, TxID: d.txID, Args: payload})
	if err != nil {
		return nil, err
	}
	var rows []Row
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("storage: decode fetch_all result: %w", err)
	}
	return rows, nil
}

func (d *ProxyDriver) Begin() error {
	resp, err := d.call(storageproxy.Request{Operation: storageproxy.OpBegin})
	if err != nil {
		return err
	}
	var result storageproxy.BeginResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("storage: decode begin result: %w", err)
	}
	d.txID = result.TxID
	return nil
}

func (d *ProxyDriver) Commit() error {
	_, err := d.call(storageproxy.Request{Operation: storageproxy.OpCommit, TxID: d.txID})
	d.txID = ""
	return err
}

func (d *ProxyDriver) Rollback() error {
	_, err := d.call(storageproxy.Request{Operation: storageproxy.OpRollback, TxID: d.txID})
	d.txID = ""
	return err
}

func (d *ProxyDriver) InTransaction() bool { return d.txID != "" }

// LastInsertID returns the rowid carried back by the most recent Execute
// response; the worker's sql.Result itself never crosses the socket.
func (d *ProxyDriver) LastInsertID() (int64, error) {
	return d.lastID, nil
}

func (d *ProxyDriver) GetTableInfo(table string) ([]ColumnInfo, error) {
	payload, _ := json.Marshal(storageproxy.TableInfoArgs{Table: table})
	resp, err := d.call(storageproxy.Request{Operation: storageproxy.OpGetTableInfo, Args: payload})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Name    string `json:"name"`
		Type    string `json:"type"`
		NotNull bool   `json:"not_null"`
	}
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("storage: decode table info: %w", err)
	}
	cols := make([]ColumnInfo, len(rows))
	for i, r := range rows {
		cols[i] = ColumnInfo{Name: r.Name, Type: r.Type, NotNull: r.NotNull}
	}
	return cols, nil
}

// SyncSchema is not implemented client-side: schema synchronization always
// runs inside the worker process at its own startup, against its own
// direct InProcessDriver, before the socket is even opened for clients.
func (d *ProxyDriver) SyncSchema(schema Schema, backupDir string) (SyncResult, error) {
	return SyncResult{}, fmt.Errorf("%w: sync_schema is performed by the worker at startup, not by proxy clients", ErrSchemaSync)
}

func (d *ProxyDriver) IsThreadSafe() bool { return true }

// BackendAdapter exposes an *InProcessDriver through storageproxy.Backend's
// plain-map contract, converting storage.Row to map[string]interface{} at
// the package boundary so storageproxy need not import storage (which
// would create an import cycle, since storage imports storageproxy for
// ProxyDriver).
type BackendAdapter struct {
	driver *InProcessDriver
}

// NewBackendAdapter wraps an InProcessDriver for use by storageproxy.Server.
func NewBackendAdapter(driver *InProcessDriver) *BackendAdapter {
	return &BackendAdapter{driver: driver}
}

func (a *BackendAdapter) Execute(query string, args ...interface{}) (sql.Result, error) {
	return a.driver.Execute(query, args...)
}

func (a *BackendAdapter) FetchOne(query string, args ...interface{}) (map[string]interface{}, error) {
	row, err := a.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}(row), nil
}

func (a *BackendAdapter) FetchAll(query string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := a.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		out[i] = map[string]interface{}(r)
	}
	return out, nil
}

func (a *BackendAdapter) Begin() error        { return a.driver.Begin() }
func (a *BackendAdapter) Commit() error       { return a.driver.Commit() }
func (a *BackendAdapter) Rollback() error     { return a.driver.Rollback() }
func (a *BackendAdapter) InTransaction() bool { return a.driver.InTransaction() }

func (a *BackendAdapter) GetTableInfoRaw(table string) ([]map[string]interface{}, error) {
	cols, err := a.driver.GetTableInfo(table)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(cols))
	for i, c := range cols {
		out[i] = map[string]interface{}{
			"name":     c.Name,
			"type":     c.Type,
			"not_null": c.NotNull,
		}
	}
	return out, nil
}
