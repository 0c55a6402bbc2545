package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coredex/graphstore/internal/storage"
	"github.com/spf13/cobra"
)

var (
	indexPath       string
	indexRoot       string
	indexBackupDir  string
	indexExtensions []string
)

// lineCountParser is a placeholder Parser; real source-language parsers
// are external collaborators graphstorectl does not ship. It records a
// file's line count and nothing else, which is
// enough to exercise the full ingest pipeline — file row, AST/CST
// bookkeeping, needs-chunking marker — end to end without a language
// front end wired in. A deployment with a real parser replaces this.
type lineCountParser struct{}

func (lineCountParser) ParseFile(path string, source []byte) (*storage.ParsedFile, error) {
	ast := []byte(fmt.Sprintf(`{"lines":%d}`, strings.Count(string(source), "\n")+1))
	return &storage.ParsedFile{AST: ast, CST: source}, nil
}

// indexCmd performs a one-shot, non-transactional ingest of every matching
// file under a directory tree via the bulk-ingest UpdateFileData path,
// for bootstrapping a fresh database before the watcher takes over.
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "One-shot ingest of a directory tree into a graphstore database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if indexPath == "" || indexRoot == "" {
			return fmt.Errorf("index: --path and --root are required")
		}

		driver := storage.NewInProcessDriver()
		facade, err := storage.NewFacade(driver, storage.DriverConfig{Path: indexPath, BackupDir: indexBackupDir}, storage.CanonicalSchema())
		if err != nil {
			return err
		}

		project, err := facade.GetProjectByRootPath(indexRoot)
		if err != nil {
			id, err := facade.AddProject(storage.Project{RootPath: indexRoot, Name: filepath.Base(indexRoot)})
			if err != nil {
				return fmt.Errorf("index: create project: %w", err)
			}
			project = &storage.Project{ID: id, RootPath: indexRoot}
		}

		dataset, err := facade.GetDatasetByRootPath(project.ID, indexRoot)
		if err != nil {
			id, err := facade.AddDataset(storage.Dataset{ProjectID: project.ID, RootPath: indexRoot})
			if err != nil {
				return fmt.Errorf("index: create dataset: %w", err)
			}
			dataset = &storage.Dataset{ID: id, ProjectID: project.ID, RootPath: indexRoot}
		}

		updater := storage.NewAtomicFileUpdater(facade, lineCountParser{})
		extSet := make(map[string]bool, len(indexExtensions))
		for _, ext := range indexExtensions {
			extSet[ext] = true
		}

		count := 0
		err = filepath.WalkDir(indexRoot, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == ".git" || d.Name() == "node_modules" || d.Name() == "vendor" {
					return filepath.SkipDir
				}
				return nil
			}
			if len(extSet) > 0 && !extSet[filepath.Ext(path)] {
				return nil
			}

			source, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "index: read %s: %v\n", path, err)
				return nil
			}

			if _, err := facade.GetFileByPath(project.ID, path); err != nil {
				rel, relErr := filepath.Rel(indexRoot, path)
				if relErr != nil {
					rel = path
				}
				if _, err := facade.AddFile(storage.File{
					ProjectID: project.ID, DatasetID: dataset.ID,
					Path: path, RelativePath: filepath.ToSlash(rel),
				}); err != nil {
					fmt.Fprintf(os.Stderr, "index: add file row %s: %v\n", path, err)
					return nil
				}
			}

			if _, err := updater.UpdateFileData(path, project.ID, indexRoot, string(source)); err != nil {
				fmt.Fprintf(os.Stderr, "index: %s: %v\n", path, err)
				return nil
			}
			count++
			return nil
		})
		if err != nil {
			return err
		}

		fmt.Printf("indexed %d files\n", count)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexPath, "path", "", "absolute path to the database file (required)")
	indexCmd.Flags().StringVar(&indexRoot, "root", "", "absolute root directory to index (required)")
	indexCmd.Flags().StringVar(&indexBackupDir, "backup-dir", "", "backup directory (default: sibling backups/ of the database)")
	indexCmd.Flags().StringSliceVar(&indexExtensions, "ext", []string{".go", ".py", ".ts", ".js"}, "file extensions to index")
	rootCmd.AddCommand(indexCmd)
}
