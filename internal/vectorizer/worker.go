// Package vectorizer implements the long-running worker loop that keeps
// code chunks embedded and registered with the similarity index. The
// embedder and similarity index are pluggable collaborators; this
// package treats both as opaque.
package vectorizer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coredex/graphstore/internal/embed"
	"github.com/coredex/graphstore/internal/storage"
	"github.com/coredex/graphstore/internal/vectorindex"
)

// Chunker produces CodeChunk rows (without vector ids) for a file. The
// source-language parser that would back a real implementation lives
// outside this module; this is the delegation point the worker's
// chunking-request step calls into.
type Chunker interface {
	ChunkFile(file storage.File) ([]storage.CodeChunk, error)
}

// Config controls page sizes and the save cadence for one worker cycle.
type Config struct {
	ProjectID      string
	DatasetID      string // optional; empty scopes to the whole project
	FilePageSize   int    // default 50
	ChunkPageSize  int    // default 200
	SaveEvery      int    // save the index every N chunks written back; default 100
	EmbeddingModel string
}

func (c Config) withDefaults() Config {
	if c.FilePageSize <= 0 {
		c.FilePageSize = 50
	}
	if c.ChunkPageSize <= 0 {
		c.ChunkPageSize = 200
	}
	if c.SaveEvery <= 0 {
		c.SaveEvery = 100
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "mock"
	}
	return c
}

// Worker is the long-running vectorization loop for one (database, project)
// pair. It is a single cooperative task with no shared mutable state beyond
// the database itself: it suspends only at the embedder call, the index
// call, and the facade's database calls.
type Worker struct {
	facade   *storage.Facade
	chunker  Chunker
	embedder embed.Provider
	index    vectorindex.Index
	cfg      Config
}

// New builds a Worker over the given collaborators.
func New(facade *storage.Facade, chunker Chunker, embedder embed.Provider, index vectorindex.Index, cfg Config) *Worker {
	return &Worker{facade: facade, chunker: chunker, embedder: embedder, index: index, cfg: cfg.withDefaults()}
}

// RunCycle executes one pass of the loop: request chunking for files that
// need it, then embed and index chunks that are not yet vectorized.
// Per-chunk and per-file failures are logged and counted, never abort the
// cycle; RunCycle itself only returns an error when the cycle cannot run
// at all (e.g. the facade has become unusable).
func (w *Worker) RunCycle(ctx context.Context) (*storage.VectorizationStats, error) {
	stats := storage.VectorizationStats{ProjectID: w.cfg.ProjectID, StartedAt: time.Now()}

	w.chunkPendingFiles(ctx)

	chunks, err := w.facade.GetNonVectorizedChunks(w.cfg.ProjectID, w.cfg.DatasetID, w.cfg.ChunkPageSize)
	if err != nil {
		return nil, fmt.Errorf("vectorizer: load non-vectorized chunks: %w", err)
	}

	written := 0
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		if err := w.vectorizeChunk(ctx, chunk, &stats); err != nil {
			stats.ChunksFailed++
			log.Printf("vectorizer: chunk %d: %v", chunk.ID, err)
			continue
		}
		written++
		if written%w.cfg.SaveEvery == 0 {
			if err := w.index.SaveIndex(); err != nil {
				log.Printf("vectorizer: save index: %v", err)
			}
		}
	}
	if err := w.index.SaveIndex(); err != nil {
		log.Printf("vectorizer: save index: %v", err)
	}

	now := time.Now()
	stats.CompletedAt = &now
	if _, err := w.facade.RecordVectorizationStats(stats); err != nil {
		log.Printf("vectorizer: record cycle stats: %v", err)
	}
	return &stats, nil
}

// chunkPendingFiles requests chunking for every file flagged as needing
// it; errors chunking a single file are logged and the loop continues to
// the next one.
func (w *Worker) chunkPendingFiles(ctx context.Context) {
	files, err := w.facade.GetFilesNeedingChunking(w.cfg.ProjectID, w.cfg.DatasetID, w.cfg.FilePageSize)
	if err != nil {
		log.Printf("vectorizer: load files needing chunking: %v", err)
		return
	}
	for _, file := range files {
		if ctx.Err() != nil {
			return
		}
		chunks, err := w.chunker.ChunkFile(file)
		if err != nil {
			log.Printf("vectorizer: chunk file %d (%s): %v", file.ID, file.Path, err)
			continue
		}
		for _, c := range chunks {
			c.FileID = file.ID
			c.ProjectID = file.ProjectID
			if _, err := w.facade.AddCodeChunk(c); err != nil {
				log.Printf("vectorizer: write chunk for file %d: %v", file.ID, err)
			}
		}
	}
}

// vectorizeChunk embeds the chunk if no embedding exists yet, then
// registers the vector with the similarity index and writes back
// vector_id.
func (w *Worker) vectorizeChunk(ctx context.Context, chunk storage.CodeChunk, stats *storage.VectorizationStats) error {
	var vector []float32

	if chunk.EmbeddingVector == nil {
		vectors, err := w.embedder.Embed(ctx, []string{chunk.ChunkText}, embed.EmbedModePassage)
		if err != nil {
			return fmt.Errorf("%w: %v", storage.ErrEmbedder, err)
		}
		if len(vectors) == 0 {
			return fmt.Errorf("%w: embedder returned no vectors", storage.ErrEmbedder)
		}
		vector = vectors[0]

		serialized := storage.SerializeEmbedding(vector)
		if err := w.facade.UpdateChunkEmbedding(chunk.ID, serialized, w.cfg.EmbeddingModel); err != nil {
			return fmt.Errorf("vectorizer: write back embedding: %w", err)
		}
		stats.ChunksEmbedded++
	} else {
		decoded, err := storage.DeserializeEmbedding(chunk.EmbeddingVector)
		if err != nil {
			return fmt.Errorf("vectorizer: decode stored embedding: %w", err)
		}
		vector = decoded
	}

	vectorID, err := w.index.AddVector(vector)
	if err != nil {
		// The embedding is already persisted; vector_id stays NULL and this
		// chunk is retried next cycle.
		return fmt.Errorf("%w: %v", storage.ErrIndex, err)
	}
	if err := w.facade.UpdateChunkVectorID(chunk.ID, vectorID, w.cfg.EmbeddingModel); err != nil {
		// The index already assigned vectorID; a retry allocates a fresh
		// position and this one becomes an orphan until a periodic rebuild
		// reconciles.
		return fmt.Errorf("vectorizer: write back vector id: %w", err)
	}
	stats.ChunksIndexed++
	return nil
}

// Run repeats RunCycle until ctx is cancelled, sleeping interval between
// cycles. Cancellation of the whole loop is cooperative between
// iterations; a cycle already in flight runs to completion.
func (w *Worker) Run(ctx context.Context, interval time.Duration) {
	for {
		if _, err := w.RunCycle(ctx); err != nil {
			log.Printf("vectorizer: cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
