package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }

func TestCrossRefBuilder_SmallestSpanWinsOverClass(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/wide.py")

	// A class spanning the whole file and a method nested inside it, both
	// containing line 10: the method is the tighter span and must win.
	classID, err := f.AddClass(Class{FileID: fileID, Name: "Outer", Line: 1, EndLine: intPtr(50)})
	require.NoError(t, err)
	methodID, err := f.AddMethod(Method{ClassID: classID, Name: "inner", Line: 8, EndLine: intPtr(12)})
	require.NoError(t, err)

	_, err = f.AddUsage(Usage{
		FileID: fileID, Line: 10, UsageType: "call",
		TargetType: "function", TargetName: "helper",
	})
	require.NoError(t, err)

	_, err = f.AddFunction(Function{FileID: fileID, Name: "helper", Line: 100})
	require.NoError(t, err)

	builder := NewCrossRefBuilder(f)
	kind, id, ok := builder.ResolveCaller(fileID, 10)
	require.True(t, ok)
	require.Equal(t, CrossRefMethod, kind)
	require.Equal(t, methodID, id)

	count, err := builder.BuildEntityCrossRefForFile(fileID, projectID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCrossRefBuilder_MethodTieBreaksOverFunction(t *testing.T) {
	f := NewTestFacade(t)
	_, fileID := seedProjectAndFile(t, f, "/repo/tie.py")

	classID, err := f.AddClass(Class{FileID: fileID, Name: "C", Line: 1, EndLine: intPtr(20)})
	require.NoError(t, err)
	methodID, err := f.AddMethod(Method{ClassID: classID, Name: "m", Line: 5, EndLine: intPtr(15)})
	require.NoError(t, err)
	_, err = f.AddFunction(Function{FileID: fileID, Name: "fn", Line: 5, EndLine: intPtr(15)})
	require.NoError(t, err)

	builder := NewCrossRefBuilder(f)
	kind, id, ok := builder.ResolveCaller(fileID, 10)
	require.True(t, ok)
	require.Equal(t, CrossRefMethod, kind, "equal-width spans break ties method < function < class")
	require.Equal(t, methodID, id)
}

func TestCrossRefBuilder_ResolveCallee_PrefersSameFile(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileA := seedProjectAndFile(t, f, "/repo/a.py")
	_, fileB := seedProjectAndFile(t, f, "/repo/b.py")

	_, err := f.AddFunction(Function{FileID: fileB, Name: "shared", Line: 1})
	require.NoError(t, err)
	wantID, err := f.AddFunction(Function{FileID: fileA, Name: "shared", Line: 2})
	require.NoError(t, err)

	builder := NewCrossRefBuilder(f)
	kind, id, ok := builder.ResolveCallee(projectID, fileA, "function", "shared", nil)
	require.True(t, ok)
	require.Equal(t, CrossRefFunction, kind)
	require.Equal(t, wantID, id, "same-file function must be preferred over the one in another file")
}

func TestCrossRefBuilder_UnresolvedUsageIsSkipped(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/empty.py")

	_, err := f.AddUsage(Usage{
		FileID: fileID, Line: 1, UsageType: "call",
		TargetType: "function", TargetName: "does_not_exist",
	})
	require.NoError(t, err)

	builder := NewCrossRefBuilder(f)
	count, err := builder.BuildEntityCrossRefForFile(fileID, projectID)
	require.NoError(t, err)
	require.Equal(t, 0, count, "a usage with no resolvable caller must not produce a cross-ref")
}

func TestCrossRefBuilder_ResolveCallee_Method(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/m.py")

	classID, err := f.AddClass(Class{FileID: fileID, Name: "Widget", Line: 1})
	require.NoError(t, err)
	methodID, err := f.AddMethod(Method{ClassID: classID, Name: "render", Line: 2})
	require.NoError(t, err)

	builder := NewCrossRefBuilder(f)
	kind, id, ok := builder.ResolveCallee(projectID, fileID, "method", "render", strPtr("Widget"))
	require.True(t, ok)
	require.Equal(t, CrossRefMethod, kind)
	require.Equal(t, methodID, id)

	_, _, ok = builder.ResolveCallee(projectID, fileID, "method", "render", nil)
	require.False(t, ok, "method lookup without a target class cannot resolve")
}
