package vectorindex

import (
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// InitExtension registers the sqlite-vec extension with the sqlite3
// driver. Must be called once, before opening any database that uses a
// SQLiteVecIndex.
func InitExtension() {
	sqlite_vec.Auto()
}

// SQLiteVecIndex is the reference Index implementation: a vec0 virtual
// table living in the same SQLite file as the rest of the store. It exists
// so the core is runnable end to end without a standalone vector-search
// service; production deployments are expected to swap in a dedicated
// index behind the same Index interface.
type SQLiteVecIndex struct {
	mu         sync.Mutex
	db         *sql.DB
	dimensions int
	nextID     int64
}

// Open creates (if absent) the chunks_vec virtual table and returns an
// Index backed by it. nextID resumes from one past the current maximum
// rowid so restarts do not collide with existing entries.
func Open(db *sql.DB, dimensions int) (*SQLiteVecIndex, error) {
	createSQL := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS chunks_vec USING vec0(vector_id INTEGER PRIMARY KEY, embedding float[%d])",
		dimensions,
	)
	if _, err := db.Exec(createSQL); err != nil {
		return nil, fmt.Errorf("vectorindex: create chunks_vec: %w", err)
	}

	var maxID sql.NullInt64
	if err := db.QueryRow("SELECT MAX(vector_id) FROM chunks_vec").Scan(&maxID); err != nil {
		return nil, fmt.Errorf("vectorindex: read max vector_id: %w", err)
	}

	next := int64(0)
	if maxID.Valid {
		next = maxID.Int64 + 1
	}

	return &SQLiteVecIndex{db: db, dimensions: dimensions, nextID: next}, nil
}

// AddVector assigns the next free vector_id and inserts the vector.
func (idx *SQLiteVecIndex) AddVector(vector []float32) (int64, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return 0, fmt.Errorf("vectorindex: serialize vector: %w", err)
	}

	id := idx.nextID
	if _, err := idx.db.Exec(
		"INSERT INTO chunks_vec (vector_id, embedding) VALUES (?, ?)", id, blob,
	); err != nil {
		return 0, fmt.Errorf("vectorindex: insert vector: %w", err)
	}
	idx.nextID++
	return id, nil
}

// SaveIndex is a no-op: chunks_vec lives directly in the SQLite file and
// every insert is already durable once its transaction commits.
func (idx *SQLiteVecIndex) SaveIndex() error { return nil }

// Dimensions reports the configured vector width.
func (idx *SQLiteVecIndex) Dimensions() int { return idx.dimensions }

// Close is a no-op: the underlying *sql.DB is owned by the caller.
func (idx *SQLiteVecIndex) Close() error { return nil }

// DeleteVectors removes the given vector_ids. Nothing in this module calls
// it when chunks are cleared, so vectors of cleared chunks stay in the
// table until it is called. Best-effort cleanup, not a full orphan
// compactor — see Stats.
func (idx *SQLiteVecIndex) DeleteVectors(ids []int64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stmt, err := idx.db.Prepare("DELETE FROM chunks_vec WHERE vector_id = ?")
	if err != nil {
		return fmt.Errorf("vectorindex: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("vectorindex: delete vector %d: %w", id, err)
		}
	}
	return nil
}

// SearchResult is a single K-nearest-neighbor match.
type SearchResult struct {
	VectorID int64
	Distance float64
}

// Search performs a cosine-distance KNN query, closest first.
func (idx *SQLiteVecIndex) Search(query []float32, limit int) ([]SearchResult, error) {
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: serialize query: %w", err)
	}

	rows, err := idx.db.Query(`
		SELECT vector_id, vec_distance_cosine(embedding, ?) AS distance
		FROM chunks_vec
		ORDER BY distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.VectorID, &r.Distance); err != nil {
			return nil, fmt.Errorf("vectorindex: scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Stats reports index-level statistics for drift monitoring. Orphaned
// vectors left behind by a failed write-back are tolerated; a
// caller-supplied periodic job can compare TotalVectors against the
// chunk table to detect that drift.
type Stats struct {
	TotalVectors int
	Dimensions   int
}

func (idx *SQLiteVecIndex) Stats() (*Stats, error) {
	var count int
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM chunks_vec").Scan(&count); err != nil {
		return nil, fmt.Errorf("vectorindex: count: %w", err)
	}
	return &Stats{TotalVectors: count, Dimensions: idx.dimensions}, nil
}
