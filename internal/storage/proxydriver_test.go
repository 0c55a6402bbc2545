package storage

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coredex/graphstore/internal/storageproxy"
)

// startWorker boots the full proxy stack against a real database file: an
// InProcessDriver owned by a storageproxy.Server on a Unix socket, with a
// ProxyDriver dialed into it.
func startWorker(t *testing.T) *ProxyDriver {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "worker.db")

	backendDriver := NewInProcessDriver()
	require.NoError(t, backendDriver.Connect(DriverConfig{Path: dbPath}))
	_, err := backendDriver.SyncSchema(CanonicalSchema(), filepath.Join(dir, "backups"))
	require.NoError(t, err)

	socketPath := filepath.Join(dir, "worker.sock")
	server, err := storageproxy.NewServer(NewBackendAdapter(backendDriver), socketPath, dbPath+".lock")
	require.NoError(t, err)
	go server.Serve()
	t.Cleanup(func() {
		server.Close()
		backendDriver.Disconnect()
	})

	proxy := NewProxyDriver()
	require.NoError(t, proxy.ConnectProxy(ProxyConfig{
		DriverConfig:   DriverConfig{Path: dbPath},
		SocketPath:     socketPath,
		CommandTimeout: 5 * time.Second,
	}))
	t.Cleanup(func() { proxy.Disconnect() })

	return proxy
}

func TestProxyDriver_ExecuteAndFetchRoundTrip(t *testing.T) {
	proxy := startWorker(t)

	res, err := proxy.Execute(
		`INSERT INTO projects (id, root_path, name, comment) VALUES (?, ?, ?, ?)`,
		"p1", "/repo/proxied", "proxied", "")
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	row, err := proxy.FetchOne(`SELECT id, name FROM projects WHERE root_path = ?`, "/repo/proxied")
	require.NoError(t, err)
	assert.Equal(t, "p1", toString(row["id"]))
	assert.Equal(t, "proxied", toString(row["name"]))

	rows, err := proxy.FetchAll(`SELECT id FROM projects`)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = proxy.FetchOne(`SELECT id FROM projects WHERE root_path = ?`, "/nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestProxyDriver_TransactionStateMachine(t *testing.T) {
	proxy := startWorker(t)

	assert.ErrorIs(t, proxy.Commit(), ErrNoActiveTransaction)
	assert.ErrorIs(t, proxy.Rollback(), ErrNoActiveTransaction)

	require.NoError(t, proxy.Begin())
	assert.True(t, proxy.InTransaction())
	assert.ErrorIs(t, proxy.Begin(), ErrTransactionAlreadyActive)

	_, err := proxy.Execute(
		`INSERT INTO projects (id, root_path, name, comment) VALUES (?, ?, ?, ?)`,
		"p2", "/repo/rolled-back", "gone", "")
	require.NoError(t, err)
	require.NoError(t, proxy.Rollback())
	assert.False(t, proxy.InTransaction())

	_, err = proxy.FetchOne(`SELECT id FROM projects WHERE root_path = ?`, "/repo/rolled-back")
	assert.ErrorIs(t, err, sql.ErrNoRows, "a rolled-back proxied write must leave no row behind")
}

// The proxy variant reports thread safety, so a facade built on it skips
// its own mutex and relies on the worker's serialization.
func TestProxyDriver_FacadeIntegration(t *testing.T) {
	proxy := startWorker(t)
	assert.True(t, proxy.IsThreadSafe())

	f := NewFacadeFromDriver(proxy)

	projectID, err := f.AddProject(Project{RootPath: "/repo/via-facade", Name: "via-facade"})
	require.NoError(t, err)

	err = f.Transaction(func() error {
		_, err := f.AddDataset(Dataset{ProjectID: projectID, RootPath: "/repo/via-facade"})
		return err
	})
	require.NoError(t, err)

	ds, err := f.GetDatasetByRootPath(projectID, "/repo/via-facade")
	require.NoError(t, err)
	assert.Equal(t, projectID, ds.ProjectID)
}

func TestServer_SingletonLockRejectsSecondWorker(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "locked.db")

	driver := NewInProcessDriver()
	require.NoError(t, driver.Connect(DriverConfig{Path: dbPath}))
	t.Cleanup(func() { driver.Disconnect() })

	first, err := storageproxy.NewServer(NewBackendAdapter(driver), filepath.Join(dir, "a.sock"), dbPath+".lock")
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })

	_, err = storageproxy.NewServer(NewBackendAdapter(driver), filepath.Join(dir, "b.sock"), dbPath+".lock")
	require.Error(t, err, "a second worker against the same database must be refused")
}
