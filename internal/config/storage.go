package config

import (
	"fmt"
	"time"

	"github.com/coredex/graphstore/internal/storage"
	"github.com/coredex/graphstore/internal/vectorindex"
)

// NewFacade builds a ready-to-use *storage.Facade from the typed storage
// union:
// callers never branch on a string option themselves, and in-process vs.
// proxy wiring (including the proxy's different connect sequence) lives
// in exactly one place.
func (s StorageConfig) NewFacade(schema storage.Schema) (*storage.Facade, error) {
	// Registering the vec0 module is idempotent and must precede opening
	// the database; schema bootstrap creates the vector table.
	vectorindex.InitExtension()

	switch s.Kind {
	case "", "inprocess":
		if s.InProcess == nil {
			return nil, fmt.Errorf("config: storage.kind=inprocess requires storage.inprocess")
		}
		driver := storage.NewInProcessDriver()
		return storage.NewFacade(driver, storage.DriverConfig{
			Path:      s.InProcess.Path,
			BackupDir: s.InProcess.BackupDir,
		}, schema)

	case "proxy":
		if s.Proxy == nil {
			return nil, fmt.Errorf("config: storage.kind=proxy requires storage.proxy")
		}
		timeout := time.Duration(s.Proxy.CommandTimeoutSeconds * float64(time.Second))
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		pollInterval := time.Duration(s.Proxy.PollIntervalSeconds * float64(time.Second))
		if pollInterval <= 0 {
			pollInterval = 100 * time.Millisecond
		}
		driver := storage.NewProxyDriver()
		if err := driver.ConnectProxy(storage.ProxyConfig{
			DriverConfig:   storage.DriverConfig{Path: s.Proxy.Path, BackupDir: s.Proxy.BackupDir},
			SocketPath:     s.Proxy.SocketPath,
			CommandTimeout: timeout,
			PollInterval:   pollInterval,
		}); err != nil {
			return nil, err
		}
		return storage.NewFacadeFromDriver(driver), nil

	default:
		return nil, fmt.Errorf("config: unknown storage.kind %q", s.Kind)
	}
}
