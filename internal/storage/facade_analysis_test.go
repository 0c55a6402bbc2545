package storage

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddIssue_AnchoredToFileAndClass(t *testing.T) {
	f := NewTestFacade(t)
	_, fileID := seedProjectAndFile(t, f, "/repo/issue.py")

	classID, err := f.AddClass(Class{FileID: fileID, Name: "Leaky", Line: 1})
	require.NoError(t, err)

	id, err := f.AddIssue(Issue{
		FileID:      &fileID,
		ClassID:     &classID,
		IssueType:   "unclosed_resource",
		Line:        intPtr(7),
		Description: "file handle opened without close",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	issues, err := f.GetIssuesForFile(fileID)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Equal(t, "unclosed_resource", issues[0].IssueType)
	require.Equal(t, "{}", issues[0].Metadata, "empty metadata defaults to an empty JSON object")
	require.NotNil(t, issues[0].ClassID)
	require.Equal(t, classID, *issues[0].ClassID)
}

func TestDuplicateClusterRoundTrip(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/dup.py")

	dupID, err := f.AddCodeDuplicate(CodeDuplicate{ProjectID: projectID, Signature: "abc123", LineCount: 12})
	require.NoError(t, err)

	_, err = f.AddDuplicateOccurrence(DuplicateOccurrence{DuplicateID: dupID, FileID: fileID, StartLine: 3, EndLine: 14})
	require.NoError(t, err)
	_, err = f.AddDuplicateOccurrence(DuplicateOccurrence{DuplicateID: dupID, FileID: fileID, StartLine: 40, EndLine: 51})
	require.NoError(t, err)

	occurrences, err := f.GetDuplicateOccurrences(dupID)
	require.NoError(t, err)
	require.Len(t, occurrences, 2)
	require.Equal(t, 3, occurrences[0].StartLine)
	require.Equal(t, 40, occurrences[1].StartLine)
}

func TestComprehensiveAnalysisResult_UpsertsPerMtime(t *testing.T) {
	f := NewTestFacade(t)
	_, fileID := seedProjectAndFile(t, f, "/repo/analysis.py")

	require.NoError(t, f.SaveComprehensiveAnalysisResult(ComprehensiveAnalysisResult{
		FileID: fileID, FileMtime: 100.5, Result: `{"complexity": 4}`,
	}))
	require.NoError(t, f.SaveComprehensiveAnalysisResult(ComprehensiveAnalysisResult{
		FileID: fileID, FileMtime: 100.5, Result: `{"complexity": 9}`,
	}))

	got, err := f.GetComprehensiveAnalysisResult(fileID, 100.5)
	require.NoError(t, err)
	require.Equal(t, `{"complexity": 9}`, got.Result, "same (file, mtime) snapshot overwrites in place")

	_, err = f.GetComprehensiveAnalysisResult(fileID, 200.0)
	require.ErrorIs(t, err, sql.ErrNoRows, "a different mtime is a cache miss")
}

func TestRecordFileWatcherStats(t *testing.T) {
	f := NewTestFacade(t)

	now := time.Now()
	cycleID, err := f.RecordFileWatcherStats(FileWatcherStats{
		FilesChanged: 3, FilesAdded: 1, StartedAt: now, CompletedAt: &now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, cycleID)
}

func TestVectorIndexEntry_UpsertReplacesMapping(t *testing.T) {
	f := NewTestFacade(t)
	projectID, fileID := seedProjectAndFile(t, f, "/repo/vec.py")

	fnID, err := f.AddFunction(Function{FileID: fileID, Name: "encode", Line: 1})
	require.NoError(t, err)

	entry := VectorIndexEntry{
		ProjectID: projectID, EntityType: CrossRefFunction, EntityID: fnID,
		VectorID: 7, VectorDim: 384, EmbeddingModel: "mock",
	}
	require.NoError(t, f.UpsertVectorIndexEntry(entry))

	entry.VectorID = 21
	require.NoError(t, f.UpsertVectorIndexEntry(entry))

	got, err := f.GetVectorIndexEntry(projectID, CrossRefFunction, fnID)
	require.NoError(t, err)
	require.Equal(t, int64(21), got.VectorID, "re-vectorizing replaces the mapping, never duplicates it")
	require.Equal(t, 384, got.VectorDim)
}
