package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coredex/graphstore/internal/storage"
	"github.com/coredex/graphstore/internal/storageproxy"
	"github.com/spf13/cobra"
)

var (
	servePath       string
	serveBackupDir  string
	serveSocketPath string
)

// serveCmd starts the proxy driver's sibling worker process: it owns the
// database file exclusively (guarded by an flock singleton lock) and
// serves storageproxy's request/response protocol over a Unix socket, so
// separate worker processes can share one database through a single
// owning process.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a database over the proxy protocol for sibling worker processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePath == "" {
			return fmt.Errorf("serve: --path is required")
		}
		socketPath := serveSocketPath
		if socketPath == "" {
			socketPath = servePath + ".sock"
		}
		lockPath := servePath + ".lock"

		backupDir := serveBackupDir
		if backupDir == "" {
			backupDir = filepath.Join(filepath.Dir(servePath), "backups")
		}

		driver := storage.NewInProcessDriver()
		if err := driver.Connect(storage.DriverConfig{Path: servePath, BackupDir: backupDir}); err != nil {
			return err
		}
		defer driver.Disconnect()

		if _, err := driver.SyncSchema(storage.CanonicalSchema(), backupDir); err != nil {
			return fmt.Errorf("serve: sync schema: %w", err)
		}

		backend := storage.NewBackendAdapter(driver)
		server, err := storageproxy.NewServer(backend, socketPath, lockPath)
		if err != nil {
			return err
		}
		defer server.Close()

		errCh := make(chan error, 1)
		go func() { errCh <- server.Serve() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Printf("serving %s on %s\n", filepath.Base(servePath), socketPath)
		select {
		case err := <-errCh:
			return err
		case <-sigCh:
			fmt.Println("shutting down")
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePath, "path", "", "absolute path to the database file (required)")
	serveCmd.Flags().StringVar(&serveBackupDir, "backup-dir", "", "backup directory (default: sibling backups/ of the database)")
	serveCmd.Flags().StringVar(&serveSocketPath, "socket", "", "Unix socket path (default: <path>.sock)")
	rootCmd.AddCommand(serveCmd)
}
