package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredex/graphstore/internal/storage"
)

func strPtr(s string) *string { return &s }

// seedChain builds: handler --calls--> service --calls--> repo, all free
// functions in the same file, and returns their EntityRefs.
func seedChain(t *testing.T, f *storage.Facade) (projectID string, handler, service, repo EntityRef) {
	t.Helper()
	projectID, datasetID := storage.NewTestProjectAndDataset(t, f)
	fileID, err := f.AddFile(storage.File{ProjectID: projectID, DatasetID: datasetID, Path: "/repo/a.py", RelativePath: "a.py"})
	require.NoError(t, err)

	handlerID, err := f.AddFunction(storage.Function{FileID: fileID, Name: "handler", Line: 1})
	require.NoError(t, err)
	serviceID, err := f.AddFunction(storage.Function{FileID: fileID, Name: "service", Line: 10})
	require.NoError(t, err)
	repoID, err := f.AddFunction(storage.Function{FileID: fileID, Name: "repo", Line: 20})
	require.NoError(t, err)

	_, err = f.AddEntityCrossRef(storage.EntityCrossRef{
		CallerKind: storage.CrossRefFunction, CallerFunctionID: strPtr(handlerID),
		CalleeKind: storage.CrossRefFunction, CalleeFunctionID: strPtr(serviceID),
		RefType: "call", FileID: fileID, Line: 2,
	})
	require.NoError(t, err)
	_, err = f.AddEntityCrossRef(storage.EntityCrossRef{
		CallerKind: storage.CrossRefFunction, CallerFunctionID: strPtr(serviceID),
		CalleeKind: storage.CrossRefFunction, CalleeFunctionID: strPtr(repoID),
		RefType: "call", FileID: fileID, Line: 11,
	})
	require.NoError(t, err)

	return projectID,
		EntityRef{Kind: storage.CrossRefFunction, ID: handlerID},
		EntityRef{Kind: storage.CrossRefFunction, ID: serviceID},
		EntityRef{Kind: storage.CrossRefFunction, ID: repoID}
}

func TestSearcher_CallersAndCallees(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, handler, _, repo := seedChain(t, f)

	s, err := NewSearcher(f, projectID, "/repo")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	callers, err := s.Callers(repo, 1)
	require.NoError(t, err)
	require.Len(t, callers, 1)
	require.Equal(t, "service", callers[0].Name)

	callers, err = s.Callers(repo, 2)
	require.NoError(t, err)
	require.Len(t, callers, 2, "depth 2 should also surface the transitive handler caller")

	callees, err := s.Callees(handler, 1)
	require.NoError(t, err)
	require.Len(t, callees, 1)
	require.Equal(t, "service", callees[0].Name)
}

func TestSearcher_Impact(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, _, _, repo := seedChain(t, f)

	s, err := NewSearcher(f, projectID, "/repo")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	impact, err := s.Impact(repo, false)
	require.NoError(t, err)
	require.Equal(t, 1, impact.DirectCallers)
	require.Equal(t, 1, impact.TransitiveCallers)

	var sawDirect, sawTransitive bool
	for _, e := range impact.Entries {
		switch e.ImpactType {
		case "direct_caller":
			sawDirect = true
			require.Equal(t, "must_update", e.Severity)
			require.Equal(t, "service", e.Node.Name)
		case "transitive":
			sawTransitive = true
			require.Equal(t, "review_needed", e.Severity)
			require.Equal(t, "handler", e.Node.Name)
		}
	}
	require.True(t, sawDirect)
	require.True(t, sawTransitive)
}

func TestSearcher_ShortestPath(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, handler, _, repo := seedChain(t, f)

	s, err := NewSearcher(f, projectID, "/repo")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	path, err := s.ShortestPath(handler, repo)
	require.NoError(t, err)
	require.True(t, path.Found)
	require.Len(t, path.Nodes, 3)
	require.Equal(t, "handler", path.Nodes[0].Name)
	require.Equal(t, "service", path.Nodes[1].Name)
	require.Equal(t, "repo", path.Nodes[2].Name)
}

func TestSearcher_ShortestPath_NotFound(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, handler, _, repo := seedChain(t, f)

	s, err := NewSearcher(f, projectID, "/repo")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	path, err := s.ShortestPath(repo, handler)
	require.NoError(t, err)
	require.False(t, path.Found, "repo does not call back to handler, so no path should exist")
}
