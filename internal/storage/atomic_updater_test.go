package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubParser returns a fixed ParsedFile, or an error when configured to
// simulate a syntax failure.
type stubParser struct {
	result *ParsedFile
	err    error
}

func (p *stubParser) ParseFile(path string, source []byte) (*ParsedFile, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func seedProjectAndFile(t *testing.T, f *Facade, path string) (projectID string, fileID int64) {
	t.Helper()
	projectID, datasetID := NewTestProjectAndDataset(t, f)

	id, err := f.AddFile(File{ProjectID: projectID, DatasetID: datasetID, Path: path, RelativePath: path})
	require.NoError(t, err)
	return projectID, id
}

func TestAtomicFileUpdater_ReplacesAllDerivedRows(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/a.py")

	oldClassID, err := f.AddClass(Class{FileID: fileID, Name: "OldClass", Line: 1})
	require.NoError(t, err)
	_, err = f.AddFunction(Function{FileID: fileID, Name: "old_fn", Line: 20})
	require.NoError(t, err)
	require.NotEmpty(t, oldClassID)

	parser := &stubParser{result: &ParsedFile{
		Classes: []ParsedClass{{Name: "NewClass", Line: 1, Methods: nil}},
		AST:     []byte("ast-for-newclass"),
		CST:     []byte("cst-for-newclass"),
	}}
	updater := NewAtomicFileUpdater(f, parser)

	err = f.Transaction(func() error {
		result, err := updater.UpdateFileDataAtomic("/repo/a.py", projectID, "/repo", "class NewClass: pass")
		if err != nil {
			return err
		}
		require.True(t, result.Success)
		require.True(t, result.ASTUpdated)
		require.True(t, result.CSTUpdated)
		return nil
	})
	require.NoError(t, err)

	classes, err := f.GetClassesForFile(fileID)
	require.NoError(t, err)
	require.Len(t, classes, 1)
	require.Equal(t, "NewClass", classes[0].Name)

	functions, err := f.GetFunctionsForFile(fileID)
	require.NoError(t, err)
	require.Empty(t, functions)

	chunks, err := f.GetFilesNeedingChunking(projectID, "", 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "file should need chunking again after its content changed")
}

func TestAtomicFileUpdater_RollsBackOnSyntaxError(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/b.py")

	_, err := f.AddClass(Class{FileID: fileID, Name: "Keepme", Line: 1})
	require.NoError(t, err)

	parser := &stubParser{err: errors.New("unexpected token")}
	updater := NewAtomicFileUpdater(f, parser)

	txErr := f.Transaction(func() error {
		result, err := updater.UpdateFileDataAtomic("/repo/b.py", projectID, "/repo", "def invalid syntax here")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrSyntaxError)
		require.False(t, result.Success)
		return err
	})
	require.Error(t, txErr)
	require.ErrorIs(t, txErr, ErrSyntaxError)

	classes, err := f.GetClassesForFile(fileID)
	require.NoError(t, err)
	require.Len(t, classes, 1, "original entities survive a rolled-back atomic update")
	require.Equal(t, "Keepme", classes[0].Name)
}

func TestAtomicFileUpdater_RequiresActiveTransaction(t *testing.T) {
	f := NewTestFacade(t)
	projectID, _ := seedProjectAndFile(t, f, "/repo/c.py")

	parser := &stubParser{result: &ParsedFile{}}
	updater := NewAtomicFileUpdater(f, parser)

	_, err := updater.UpdateFileDataAtomic("/repo/c.py", projectID, "/repo", "pass")
	require.ErrorIs(t, err, ErrNotInTransaction)
}

func TestAtomicFileUpdater_FileNotFound(t *testing.T) {
	f := NewTestFacade(t)
	projectID, _ := seedProjectAndFile(t, f, "/repo/d.py")

	parser := &stubParser{result: &ParsedFile{}}
	updater := NewAtomicFileUpdater(f, parser)

	err := f.Transaction(func() error {
		_, err := updater.UpdateFileDataAtomic("/repo/does-not-exist.py", projectID, "/repo", "pass")
		return err
	})
	require.ErrorIs(t, err, ErrFileNotFound)
}
