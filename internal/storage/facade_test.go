package storage

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddProject_RoundTrip(t *testing.T) {
	f := NewTestFacade(t)

	id, err := f.AddProject(Project{RootPath: "/repo/one", Name: "one", Comment: "first project"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := f.GetProjectByRootPath("/repo/one")
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, "one", got.Name)
	require.Equal(t, "first project", got.Comment)
}

func TestAddProject_DuplicateRootPathRejected(t *testing.T) {
	f := NewTestFacade(t)

	_, err := f.AddProject(Project{RootPath: "/repo/dup", Name: "a"})
	require.NoError(t, err)

	_, err = f.AddProject(Project{RootPath: "/repo/dup", Name: "b"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrConstraintViolation))
}

func TestAddDataset_ScopedToProject(t *testing.T) {
	f := NewTestFacade(t)

	projectID, err := f.AddProject(Project{RootPath: "/repo/two", Name: "two"})
	require.NoError(t, err)

	datasetID, err := f.AddDataset(Dataset{ProjectID: projectID, RootPath: "/repo/two/sub"})
	require.NoError(t, err)
	require.NotEmpty(t, datasetID)

	got, err := f.GetDatasetByRootPath(projectID, "/repo/two/sub")
	require.NoError(t, err)
	require.Equal(t, datasetID, got.ID)
	require.Equal(t, projectID, got.ProjectID)
}

// TestDeleteProject_CascadesToDescendants verifies the cascading
// delete invariant: destroying a Project removes its Datasets, Files, and
// every derived row owned by those files.
func TestDeleteProject_CascadesToDescendants(t *testing.T) {
	f := NewTestFacade(t)

	projectID, err := f.AddProject(Project{RootPath: "/repo/cascade", Name: "cascade"})
	require.NoError(t, err)
	datasetID, err := f.AddDataset(Dataset{ProjectID: projectID, RootPath: "/repo/cascade"})
	require.NoError(t, err)
	fileID, err := f.AddFile(File{ProjectID: projectID, DatasetID: datasetID, Path: "/repo/cascade/a.go", RelativePath: "a.go"})
	require.NoError(t, err)
	_, err = f.AddClass(Class{FileID: fileID, Name: "Widget", Line: 1})
	require.NoError(t, err)

	require.NoError(t, f.DeleteProject(projectID))

	classes, err := f.GetClassesForFile(fileID)
	require.NoError(t, err)
	require.Empty(t, classes)

	_, err = f.GetFileByPath(projectID, "/repo/cascade/a.go")
	require.ErrorIs(t, err, sql.ErrNoRows)

	_, err = f.GetDatasetByRootPath(projectID, "/repo/cascade")
	require.Error(t, err)
}

func TestAddWatchDir(t *testing.T) {
	f := NewTestFacade(t)

	id, err := f.AddWatchDir(WatchDir{Path: "/workspaces/repo"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

// Writes inside a committed transaction are durable; writes inside a
// rolled-back transaction leave no trace.
func TestTransactionLifecycle_CommitAndRollback(t *testing.T) {
	f := NewTestFacade(t)

	require.NoError(t, f.BeginTransaction())
	_, err := f.AddProject(Project{RootPath: "/repo/tx-commit", Name: "kept"})
	require.NoError(t, err)
	require.True(t, f.InTransaction())
	require.NoError(t, f.CommitTransaction())

	kept, err := f.GetProjectByRootPath("/repo/tx-commit")
	require.NoError(t, err)
	require.Equal(t, "kept", kept.Name)

	require.NoError(t, f.BeginTransaction())
	_, err = f.AddProject(Project{RootPath: "/repo/tx-rollback", Name: "discarded"})
	require.NoError(t, err)
	require.NoError(t, f.RollbackTransaction())

	_, err = f.GetProjectByRootPath("/repo/tx-rollback")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestTransactionLifecycle_MisuseErrors(t *testing.T) {
	f := NewTestFacade(t)

	require.ErrorIs(t, f.CommitTransaction(), ErrNoActiveTransaction)
	require.ErrorIs(t, f.RollbackTransaction(), ErrNoActiveTransaction)

	require.NoError(t, f.BeginTransaction())
	require.ErrorIs(t, f.BeginTransaction(), ErrTransactionAlreadyActive)
	require.NoError(t, f.RollbackTransaction())
	require.False(t, f.InTransaction())
}

func TestAddEntityCrossRef_ValidatesExactlyOneEachSide(t *testing.T) {
	f := NewTestFacade(t)
	_, fileID := seedProjectAndFile(t, f, "/repo/xref.py")

	fnA, err := f.AddFunction(Function{FileID: fileID, Name: "a", Line: 1})
	require.NoError(t, err)
	fnB, err := f.AddFunction(Function{FileID: fileID, Name: "b", Line: 5})
	require.NoError(t, err)
	classID, err := f.AddClass(Class{FileID: fileID, Name: "C", Line: 10})
	require.NoError(t, err)

	// Two caller ids set: rejected.
	_, err = f.AddEntityCrossRef(EntityCrossRef{
		CallerKind: CrossRefFunction, CallerFunctionID: &fnA, CallerClassID: &classID,
		CalleeKind: CrossRefFunction, CalleeFunctionID: &fnB,
		RefType: "call", FileID: fileID, Line: 2,
	})
	require.ErrorIs(t, err, ErrInvalidCrossRef)

	// Unknown ref_type: rejected.
	_, err = f.AddEntityCrossRef(EntityCrossRef{
		CallerKind: CrossRefFunction, CallerFunctionID: &fnA,
		CalleeKind: CrossRefFunction, CalleeFunctionID: &fnB,
		RefType: "telepathy", FileID: fileID, Line: 2,
	})
	require.ErrorIs(t, err, ErrInvalidCrossRef)

	// A valid row is visible from both traversal directions.
	id, err := f.AddEntityCrossRef(EntityCrossRef{
		CallerKind: CrossRefFunction, CallerFunctionID: &fnA,
		CalleeKind: CrossRefFunction, CalleeFunctionID: &fnB,
		RefType: "call", FileID: fileID, Line: 2,
	})
	require.NoError(t, err)

	deps, err := f.GetDependenciesByCaller(CrossRefFunction, fnA)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, id, deps[0].ID)

	dependents, err := f.GetDependentsByCallee(CrossRefFunction, fnB)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	require.Equal(t, id, dependents[0].ID)

	_, err = f.GetDependenciesByCaller(CrossRefKind("module"), fnA)
	require.ErrorIs(t, err, ErrUnknownCrossRefKind)
}
