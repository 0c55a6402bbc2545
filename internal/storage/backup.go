package storage

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// BackupManager copies the database file to a timestamped, UUID-tagged
// backup before any destructive schema migration. Backups are opaque to
// the rest of the system; retention is left to the operator.
type BackupManager struct{}

func NewBackupManager() *BackupManager { return &BackupManager{} }

// CreateBackup copies the database file at db's path into backupDir,
// naming it database-<utc-timestamp>-<uuid><ext>, where <ext> is the
// database file's own extension (".db" when it has none). It skips empty databases
// (no user tables) and returns an empty uuid and nil error in that case.
// comment is not currently persisted anywhere; callers pass it to make
// intent readable at call sites.
func (m *BackupManager) CreateBackup(db *sql.DB, backupDir string, comment string) (string, error) {
	_ = comment

	hasTables, err := databaseHasUserTables(db)
	if err != nil {
		return "", fmt.Errorf("backup: check database: %w", err)
	}
	if !hasTables {
		return "", nil
	}

	var dbPath string
	if err := db.QueryRow("PRAGMA database_list").Scan(new(int), new(string), &dbPath); err != nil {
		return "", fmt.Errorf("backup: resolve database path: %w", err)
	}
	if dbPath == "" || dbPath == ":memory:" {
		return "", fmt.Errorf("backup: cannot back up an in-memory database")
	}

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create backup dir: %w", err)
	}

	id := uuid.New().String()
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	ext := filepath.Ext(dbPath)
	if ext == "" {
		ext = ".db"
	}
	backupPath := filepath.Join(backupDir, fmt.Sprintf("database-%s-%s%s", timestamp, id, ext))

	if err := copyFile(dbPath, backupPath); err != nil {
		return "", fmt.Errorf("backup: copy database: %w", err)
	}

	return id, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
