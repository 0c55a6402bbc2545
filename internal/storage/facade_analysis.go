package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Facade operations for analysis-side records: diagnostics, clone
// clusters, cached per-file analysis blobs, watcher cycle counters, and
// the entity-level vector map. These follow the same lock/build/execute
// shape as the entity CRUD in facade.go.

// AddIssue attaches a diagnostic to a file, project, class, method, or
// function. Any combination of anchors may be set; an issue with none is
// still valid (a whole-database finding).
func (f *Facade) AddIssue(i Issue) (string, error) {
	unlock := f.lock()
	defer unlock()
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.Metadata == "" {
		i.Metadata = "{}"
	}
	query, args, err := psql.Insert("issues").
		Columns("id", "file_id", "project_id", "class_id", "method_id", "function_id",
			"issue_type", "line", "description", "metadata").
		Values(i.ID, i.FileID, i.ProjectID, i.ClassID, i.MethodID, i.FunctionID,
			i.IssueType, i.Line, i.Description, i.Metadata).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert issue: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return i.ID, nil
}

// GetIssuesForFile returns every diagnostic anchored to a file, in
// insertion order.
func (f *Facade) GetIssuesForFile(fileID int64) ([]Issue, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "file_id", "project_id", "class_id", "method_id", "function_id",
		"issue_type", "line", "description", "metadata").
		From("issues").Where(sq.Eq{"file_id": fileID}).OrderBy("rowid").ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select issues: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, len(rows))
	for i, row := range rows {
		issues[i] = Issue{
			ID:          toString(row["id"]),
			FileID:      toNullInt64(row["file_id"]),
			ProjectID:   toNullString(row["project_id"]),
			ClassID:     toNullString(row["class_id"]),
			MethodID:    toNullString(row["method_id"]),
			FunctionID:  toNullString(row["function_id"]),
			IssueType:   toString(row["issue_type"]),
			Line:        toNullIntFromInt64(row["line"]),
			Description: toString(row["description"]),
			Metadata:    toString(row["metadata"]),
		}
	}
	return issues, nil
}

// AddCodeDuplicate creates a clone-detection cluster row.
func (f *Facade) AddCodeDuplicate(d CodeDuplicate) (string, error) {
	unlock := f.lock()
	defer unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	query, args, err := psql.Insert("code_duplicates").
		Columns("id", "project_id", "signature", "line_count", "created_at").
		Values(d.ID, d.ProjectID, d.Signature, d.LineCount, d.CreatedAt.UTC().Format(time.RFC3339Nano)).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert code_duplicate: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return d.ID, nil
}

// AddDuplicateOccurrence records one file location belonging to a clone
// cluster.
func (f *Facade) AddDuplicateOccurrence(o DuplicateOccurrence) (string, error) {
	unlock := f.lock()
	defer unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("duplicate_occurrences").
		Columns("id", "duplicate_id", "file_id", "start_line", "end_line").
		Values(o.ID, o.DuplicateID, o.FileID, o.StartLine, o.EndLine).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert duplicate_occurrence: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return o.ID, nil
}

// GetDuplicateOccurrences returns the file locations of one clone cluster,
// ordered by file and start line.
func (f *Facade) GetDuplicateOccurrences(duplicateID string) ([]DuplicateOccurrence, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "duplicate_id", "file_id", "start_line", "end_line").
		From("duplicate_occurrences").
		Where(sq.Eq{"duplicate_id": duplicateID}).
		OrderBy("file_id", "start_line").ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select duplicate_occurrences: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	occurrences := make([]DuplicateOccurrence, len(rows))
	for i, row := range rows {
		occurrences[i] = DuplicateOccurrence{
			ID:          toString(row["id"]),
			DuplicateID: toString(row["duplicate_id"]),
			FileID:      toInt64(row["file_id"]),
			StartLine:   int(toInt64(row["start_line"])),
			EndLine:     int(toInt64(row["end_line"])),
		}
	}
	return occurrences, nil
}

// SaveComprehensiveAnalysisResult upserts the cached analysis blob for a
// (file, mtime) pair; re-analyzing the same snapshot overwrites in place.
func (f *Facade) SaveComprehensiveAnalysisResult(r ComprehensiveAnalysisResult) error {
	unlock := f.lock()
	defer unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	query, args, err := psql.Insert("comprehensive_analysis_results").
		Columns("file_id", "file_mtime", "result", "created_at").
		Values(r.FileID, r.FileMtime, r.Result, r.CreatedAt.UTC().Format(time.RFC3339Nano)).
		Suffix("ON CONFLICT(file_id, file_mtime) DO UPDATE SET result = excluded.result, created_at = excluded.created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build upsert analysis result: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return wrapConstraint(err)
	}
	return nil
}

// GetComprehensiveAnalysisResult returns the cached blob for a (file,
// mtime) pair; a stale mtime naturally misses and the caller re-analyzes.
func (f *Facade) GetComprehensiveAnalysisResult(fileID int64, fileMtime float64) (*ComprehensiveAnalysisResult, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("file_id", "file_mtime", "result", "created_at").
		From("comprehensive_analysis_results").
		Where(sq.Eq{"file_id": fileID, "file_mtime": fileMtime}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select analysis result: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, toString(row["created_at"]))
	return &ComprehensiveAnalysisResult{
		FileID:    toInt64(row["file_id"]),
		FileMtime: toFloat64(row["file_mtime"]),
		Result:    toString(row["result"]),
		CreatedAt: createdAt,
	}, nil
}

// RecordFileWatcherStats writes one watcher-cycle counter row, keyed by a
// fresh UUID if the caller left CycleID empty.
func (f *Facade) RecordFileWatcherStats(stats FileWatcherStats) (string, error) {
	unlock := f.lock()
	defer unlock()
	if stats.CycleID == "" {
		stats.CycleID = uuid.New().String()
	}
	var completedAt *string
	if stats.CompletedAt != nil {
		s := stats.CompletedAt.UTC().Format(time.RFC3339Nano)
		completedAt = &s
	}
	query, args, err := psql.Insert("file_watcher_stats").
		Columns("cycle_id", "files_changed", "files_added", "files_removed", "started_at", "completed_at").
		Values(stats.CycleID, stats.FilesChanged, stats.FilesAdded, stats.FilesRemoved,
			stats.StartedAt.UTC().Format(time.RFC3339Nano), completedAt).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert file_watcher_stats: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return stats.CycleID, nil
}

// UpsertVectorIndexEntry records (or refreshes) the entity-level vector
// mapping for one (project, entity) pair. Entity vectors are keyed
// separately from chunk vectors: re-vectorizing an entity replaces its
// mapping rather than accumulating rows.
func (f *Facade) UpsertVectorIndexEntry(e VectorIndexEntry) error {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Insert("vector_index").
		Columns("project_id", "entity_type", "entity_id", "vector_id", "vector_dim", "embedding_model").
		Values(e.ProjectID, string(e.EntityType), e.EntityID, e.VectorID, e.VectorDim, e.EmbeddingModel).
		Suffix("ON CONFLICT(project_id, entity_type, entity_id) DO UPDATE SET " +
			"vector_id = excluded.vector_id, vector_dim = excluded.vector_dim, embedding_model = excluded.embedding_model").
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build upsert vector_index: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return wrapConstraint(err)
	}
	return nil
}

// GetVectorIndexEntry resolves the entity-level vector mapping for one
// (project, entity) pair.
func (f *Facade) GetVectorIndexEntry(projectID string, entityType CrossRefKind, entityID string) (*VectorIndexEntry, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("project_id", "entity_type", "entity_id", "vector_id", "vector_dim", "embedding_model").
		From("vector_index").
		Where(sq.Eq{"project_id": projectID, "entity_type": string(entityType), "entity_id": entityID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select vector_index: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return &VectorIndexEntry{
		ProjectID:      toString(row["project_id"]),
		EntityType:     CrossRefKind(toString(row["entity_type"])),
		EntityID:       toString(row["entity_id"]),
		VectorID:       toInt64(row["vector_id"]),
		VectorDim:      int(toInt64(row["vector_dim"])),
		EmbeddingModel: toString(row["embedding_model"]),
	}, nil
}
