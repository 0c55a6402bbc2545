package vectorizer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coredex/graphstore/internal/embed"
	"github.com/coredex/graphstore/internal/storage"
)

// fakeIndex is an in-memory stand-in for the default sqlite-vec index, so
// these tests exercise the worker's cycle logic without the real extension.
type fakeIndex struct {
	mu      sync.Mutex
	next    int64
	vectors map[int64][]float32
	saves   int
	dims    int
}

func newFakeIndex(dims int) *fakeIndex {
	return &fakeIndex{vectors: make(map[int64][]float32), dims: dims}
}

func (f *fakeIndex) AddVector(vector []float32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.vectors[id] = vector
	return id, nil
}

func (f *fakeIndex) SaveIndex() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeIndex) Dimensions() int { return f.dims }
func (f *fakeIndex) Close() error    { return nil }

// stubChunker returns a fixed set of chunks for every file handed to it.
type stubChunker struct {
	chunksPerFile []storage.CodeChunk
}

func (c *stubChunker) ChunkFile(file storage.File) ([]storage.CodeChunk, error) {
	out := make([]storage.CodeChunk, len(c.chunksPerFile))
	copy(out, c.chunksPerFile)
	return out, nil
}

func mustAddFile(t *testing.T, f *storage.Facade, projectID, datasetID, path string) int64 {
	t.Helper()
	id, err := f.AddFile(storage.File{ProjectID: projectID, DatasetID: datasetID, Path: path, RelativePath: path})
	require.NoError(t, err)
	return id
}

func TestWorker_RunCycle_ChunksEmbedsAndIndexes(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, datasetID := storage.NewTestProjectAndDataset(t, f)
	mustAddFile(t, f, projectID, datasetID, "/repo/a.py")

	chunker := &stubChunker{chunksPerFile: []storage.CodeChunk{
		{ChunkType: "function", ChunkText: "def f(): pass", ChunkOrdinal: 0,
			ASTNodeType: "FunctionDef", SourceType: "source", BindingLevel: "module"},
	}}
	embedder := embed.NewMockProvider()
	index := newFakeIndex(embedder.Dimensions())

	w := New(f, chunker, embedder, index, Config{ProjectID: projectID})

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.ChunksEmbedded)
	require.Equal(t, 1, stats.ChunksIndexed)
	require.Equal(t, 0, stats.ChunksFailed)
	require.Equal(t, 1, index.saves)

	chunks, err := f.GetNonVectorizedChunks(projectID, "", 10)
	require.NoError(t, err)
	require.Empty(t, chunks, "the chunk should be fully vectorized after one cycle")

	needsChunking, err := f.GetFilesNeedingChunking(projectID, "", 10)
	require.NoError(t, err)
	require.Empty(t, needsChunking, "file should no longer need chunking once chunks exist")
}

func TestWorker_RunCycle_EmbedderFailureIsCountedNotFatal(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, datasetID := storage.NewTestProjectAndDataset(t, f)
	mustAddFile(t, f, projectID, datasetID, "/repo/b.py")

	chunker := &stubChunker{chunksPerFile: []storage.CodeChunk{
		{ChunkType: "function", ChunkText: "broken", ChunkOrdinal: 0,
			ASTNodeType: "FunctionDef", SourceType: "source", BindingLevel: "module"},
	}}
	embedder := embed.NewMockProvider()
	embedder.SetEmbedError(errors.New("embedder unavailable"))
	index := newFakeIndex(embedder.Dimensions())

	w := New(f, chunker, embedder, index, Config{ProjectID: projectID})

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err, "a per-chunk embedder failure must not fail the whole cycle")
	require.Equal(t, 0, stats.ChunksEmbedded)
	require.Equal(t, 1, stats.ChunksFailed)
}

func TestWorker_RunCycle_ReusesExistingEmbeddingWithoutReembedding(t *testing.T) {
	f := storage.NewTestFacade(t)
	projectID, datasetID := storage.NewTestProjectAndDataset(t, f)
	fileID := mustAddFile(t, f, projectID, datasetID, "/repo/c.py")

	chunkID, err := f.AddCodeChunk(storage.CodeChunk{
		FileID: fileID, ProjectID: projectID, ChunkType: "function", ChunkText: "def g(): pass",
		ChunkOrdinal: 0, ASTNodeType: "FunctionDef", SourceType: "source", BindingLevel: "module",
	})
	require.NoError(t, err)
	require.NoError(t, f.UpdateChunkEmbedding(chunkID, storage.SerializeEmbedding([]float32{0.1, 0.2, 0.3}), "precomputed"))

	embedder := embed.NewMockProvider()
	index := newFakeIndex(embedder.Dimensions())
	w := New(f, &stubChunker{}, embedder, index, Config{ProjectID: projectID})

	stats, err := w.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, stats.ChunksEmbedded, "a chunk with an existing embedding must not be re-embedded")
	require.Equal(t, 1, stats.ChunksIndexed)
}
