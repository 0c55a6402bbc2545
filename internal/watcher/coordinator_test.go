package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coredex/graphstore/internal/storage"
)

type stubParser struct{}

func (stubParser) ParseFile(path string, source []byte) (*storage.ParsedFile, error) {
	return &storage.ParsedFile{
		Functions: []storage.ParsedFunction{{Name: "handler", Line: 1}},
	}, nil
}

func TestCoordinator_DetectsWriteAndRunsAtomicUpdate(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(filePath, []byte("package main\n"), 0o644))

	facade := storage.NewTestFacade(t)
	projectID, err := facade.AddProject(storage.Project{RootPath: root, Name: "watched"})
	require.NoError(t, err)
	datasetID, err := facade.AddDataset(storage.Dataset{ProjectID: projectID, RootPath: root})
	require.NoError(t, err)
	_, err = facade.AddFile(storage.File{
		ProjectID: projectID, DatasetID: datasetID, Path: filePath, RelativePath: "main.go",
	})
	require.NoError(t, err)

	updater := storage.NewAtomicFileUpdater(facade, stubParser{})
	coord, err := New(facade, updater, projectID, root, []string{".go"})
	require.NoError(t, err)
	coord.debounce = 30 * time.Millisecond

	results := make(chan *storage.AtomicUpdateResult, 4)
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx, func(path string, result *storage.AtomicUpdateResult, err error) {
		if err == nil {
			results <- result
		}
	})
	defer func() {
		cancel()
		coord.Stop()
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filePath, []byte("package main\n\nfunc handler() {}\n"), 0o644))

	select {
	case r := <-results:
		require.True(t, r.Success)
		require.True(t, r.EntitiesUpdated)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for atomic update result")
	}

	file, err := facade.GetFileByPath(projectID, filePath)
	require.NoError(t, err)
	funcs, err := facade.GetFunctionsForFile(file.ID)
	require.NoError(t, err)
	require.Len(t, funcs, 1)
	require.Equal(t, "handler", funcs[0].Name)
}

// TestCoordinator_EnsuresFileRowForNewFile verifies the watcher inserts a
// files row the first time it sees a brand-new path, since
// UpdateFileDataAtomic requires the row to already exist.
func TestCoordinator_EnsuresFileRowForNewFile(t *testing.T) {
	root := t.TempDir()

	facade := storage.NewTestFacade(t)
	projectID, err := facade.AddProject(storage.Project{RootPath: root, Name: "watched"})
	require.NoError(t, err)
	_, err = facade.AddDataset(storage.Dataset{ProjectID: projectID, RootPath: root})
	require.NoError(t, err)

	updater := storage.NewAtomicFileUpdater(facade, stubParser{})
	coord, err := New(facade, updater, projectID, root, []string{".go"})
	require.NoError(t, err)
	coord.debounce = 30 * time.Millisecond

	results := make(chan *storage.AtomicUpdateResult, 4)
	ctx, cancel := context.WithCancel(context.Background())
	coord.Start(ctx, func(path string, result *storage.AtomicUpdateResult, err error) {
		if err == nil {
			results <- result
		}
	})
	defer func() {
		cancel()
		coord.Stop()
	}()

	time.Sleep(50 * time.Millisecond)
	newPath := filepath.Join(root, "new.go")
	require.NoError(t, os.WriteFile(newPath, []byte("package main\n\nfunc handler() {}\n"), 0o644))

	select {
	case r := <-results:
		require.True(t, r.Success)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for atomic update result")
	}

	_, err = facade.GetFileByPath(projectID, newPath)
	require.NoError(t, err)
}
