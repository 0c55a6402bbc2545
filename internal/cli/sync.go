package cli

import (
	"fmt"
	"path/filepath"

	"github.com/coredex/graphstore/internal/storage"
	"github.com/spf13/cobra"
)

var (
	syncPath      string
	syncBackupDir string
)

// syncCmd runs schema synchronization against a database file standalone,
// without starting a long-running server, and prints the applied changes
// for auditability.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize a database's schema against the canonical schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if syncPath == "" {
			return fmt.Errorf("sync: --path is required")
		}

		backupDir := syncBackupDir
		if backupDir == "" {
			backupDir = filepath.Join(filepath.Dir(syncPath), "backups")
		}

		driver := storage.NewInProcessDriver()
		if err := driver.Connect(storage.DriverConfig{Path: syncPath, BackupDir: backupDir}); err != nil {
			return err
		}
		defer driver.Disconnect()

		result, err := driver.SyncSchema(storage.CanonicalSchema(), backupDir)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}

		if result.BackupUUID != "" {
			fmt.Printf("backup created: %s\n", result.BackupUUID)
		}
		if len(result.ChangesApplied) == 0 {
			fmt.Println("schema already up to date")
			return nil
		}
		fmt.Println("changes applied:")
		for _, change := range result.ChangesApplied {
			fmt.Printf("  - %s\n", change)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncPath, "path", "", "absolute path to the database file (required)")
	syncCmd.Flags().StringVar(&syncBackupDir, "backup-dir", "", "backup directory (default: sibling backups/ of the database)")
	rootCmd.AddCommand(syncCmd)
}
