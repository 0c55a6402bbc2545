package storage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// AcceptedCrossRefTypes is the set of ref_type values AddEntityCrossRef
// accepts; anything else fails with ErrInvalidCrossRef.
var AcceptedCrossRefTypes = map[string]bool{
	"call": true, "inherit": true, "imports": true, "uses": true,
}

// Facade is the stable API over a Driver: per-entity CRUD, file lifecycle,
// chunk lifecycle, cross-ref resolution, and transaction context. It owns
// the per-database serialization mutex for drivers that are not
// thread-safe; IsThreadSafe()==true drivers (ProxyDriver) skip it.
type Facade struct {
	mu     sync.Mutex
	driver Driver
}

// NewFacade connects the driver and synchronizes the schema. Either
// failure leaves the facade unusable: construction itself returns the
// error, so there is no "broken but constructed" facade to misuse.
func NewFacade(driver Driver, config DriverConfig, schema Schema) (*Facade, error) {
	if config.Path == "" {
		return nil, &ConfigError{Reason: "path is required"}
	}
	if config.BackupDir == "" {
		config.BackupDir = filepath.Join(filepath.Dir(config.Path), "backups")
	}
	if err := driver.Connect(config); err != nil {
		return nil, err
	}
	if _, err := driver.SyncSchema(schema, config.BackupDir); err != nil {
		return nil, err
	}
	return &Facade{driver: driver}, nil
}

// NewFacadeFromDriver wraps an already-connected, already-synced driver.
// ProxyDriver reaches this path: the worker process on the other end of
// the socket owns SyncSchema, so there is nothing left for construction
// to do here beyond what NewFacade does for InProcessDriver after Connect.
func NewFacadeFromDriver(driver Driver) *Facade {
	return &Facade{driver: driver}
}

func (f *Facade) lock() func() {
	if f.driver.IsThreadSafe() {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

// Transaction runs fn inside a begin/commit-or-rollback block, guaranteeing
// release on every exit path: normal return commits, any returned error or
// panic rolls back. The serialization mutex is held per driver call, not
// across fn — fn itself calls back into facade methods that each take the
// lock, and the mutex is not reentrant.
func (f *Facade) Transaction(fn func() error) (err error) {
	if err := f.withLock(f.driver.Begin); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			f.withLock(f.driver.Rollback)
			panic(r)
		}
		if err != nil && f.driver.InTransaction() {
			f.withLock(f.driver.Rollback)
		}
	}()

	if err = fn(); err != nil {
		return err
	}
	return f.withLock(f.driver.Commit)
}

func (f *Facade) withLock(op func() error) error {
	unlock := f.lock()
	defer unlock()
	return op()
}

// BeginTransaction opens an explicit transaction for callers that cannot
// express their write sequence as a single closure (e.g. the proxy command
// timeout path, where the caller must roll back an indeterminate
// transaction itself). Prefer Transaction where possible.
func (f *Facade) BeginTransaction() error {
	return f.withLock(f.driver.Begin)
}

// CommitTransaction commits the explicit transaction opened by
// BeginTransaction.
func (f *Facade) CommitTransaction() error {
	return f.withLock(f.driver.Commit)
}

// RollbackTransaction rolls back the explicit transaction opened by
// BeginTransaction.
func (f *Facade) RollbackTransaction() error {
	return f.withLock(f.driver.Rollback)
}

func (f *Facade) InTransaction() bool { return f.driver.InTransaction() }

// --- Files -----------------------------------------------------------------

// AddFile inserts a new file row and returns its assigned id.
func (f *Facade) AddFile(file File) (int64, error) {
	unlock := f.lock()
	defer unlock()

	query, args, err := psql.Insert("files").
		Columns("project_id", "dataset_id", "watch_dir_id", "path", "relative_path",
			"lines", "last_modified", "has_docstring", "deleted", "original_path", "version_dir").
		Values(file.ProjectID, file.DatasetID, file.WatchDirID, file.Path, file.RelativePath,
			file.Lines, file.LastModified, file.HasDocstring, file.Deleted, file.OriginalPath, file.VersionDir).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build insert file: %w", err)
	}

	res, err := f.driver.Execute(query, args...)
	if err != nil {
		return 0, wrapConstraint(err)
	}
	return lastInsertID(res)
}

func lastInsertID(res interface{ LastInsertId() (int64, error) }) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: read last insert id: %w", err)
	}
	return id, nil
}

func wrapConstraint(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrConstraintViolation, err)
}

// GetFileByPath resolves a file by (project_id, path).
func (f *Facade) GetFileByPath(projectID, path string) (*File, error) {
	unlock := f.lock()
	defer unlock()

	query, args, err := psql.Select(
		"id", "project_id", "dataset_id", "watch_dir_id", "path", "relative_path",
		"lines", "last_modified", "has_docstring", "deleted", "original_path", "version_dir",
	).From("files").
		Where(sq.Eq{"project_id": projectID, "path": path}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select file: %w", err)
	}

	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return rowToFile(row), nil
}

func rowToFile(row Row) *File {
	return &File{
		ID:           toInt64(row["id"]),
		ProjectID:    toString(row["project_id"]),
		DatasetID:    toString(row["dataset_id"]),
		WatchDirID:   toNullString(row["watch_dir_id"]),
		Path:         toString(row["path"]),
		RelativePath: toString(row["relative_path"]),
		Lines:        int(toInt64(row["lines"])),
		LastModified: toFloat64(row["last_modified"]),
		HasDocstring: toBool(row["has_docstring"]),
		Deleted:      toBool(row["deleted"]),
		OriginalPath: toNullString(row["original_path"]),
		VersionDir:   toNullString(row["version_dir"]),
	}
}

// GetFilesNeedingChunking returns files with no code_chunks rows yet (or
// marked via MarkFileNeedsChunking, which clears them), bounded by limit.
func (f *Facade) GetFilesNeedingChunking(projectID string, datasetID string, limit int) ([]File, error) {
	unlock := f.lock()
	defer unlock()

	builder := psql.Select(
		"f.id", "f.project_id", "f.dataset_id", "f.watch_dir_id", "f.path", "f.relative_path",
		"f.lines", "f.last_modified", "f.has_docstring", "f.deleted", "f.original_path", "f.version_dir",
	).From("files f").
		Where(sq.Eq{"f.project_id": projectID, "f.deleted": false}).
		Where("NOT EXISTS (SELECT 1 FROM code_chunks c WHERE c.file_id = f.id)").
		OrderBy("f.id").
		Limit(uint64(limit))
	if datasetID != "" {
		builder = builder.Where(sq.Eq{"f.dataset_id": datasetID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build files needing chunking: %w", err)
	}

	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	files := make([]File, len(rows))
	for i, row := range rows {
		files[i] = *rowToFile(row)
	}
	return files, nil
}

// MarkFileNeedsChunking deletes any code_chunks rows for the file so the
// vectorization worker will pick it up again.
func (f *Facade) MarkFileNeedsChunking(fileID int64) error {
	unlock := f.lock()
	defer unlock()

	query, args, err := psql.Delete("code_chunks").Where(sq.Eq{"file_id": fileID}).ToSql()
	if err != nil {
		return fmt.Errorf("storage: build clear chunks: %w", err)
	}
	_, err = f.driver.Execute(query, args...)
	return err
}

// UpdateFileMetadata refreshes the line count, mtime, and docstring flag on
// a file row after re-parsing its content.
func (f *Facade) UpdateFileMetadata(fileID int64, lines int, lastModified float64, hasDocstring bool) error {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Update("files").
		Set("lines", lines).
		Set("last_modified", lastModified).
		Set("has_docstring", hasDocstring).
		Where(sq.Eq{"id": fileID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build update file metadata: %w", err)
	}
	_, err = f.driver.Execute(query, args...)
	return err
}

// ClearFileData deletes the file's rows from every table that carries a
// file_id column (classes, functions, imports, usages, AST/CST trees, code
// content, code chunks, and cross-refs recorded at this file); methods and
// other rows hanging off those go through foreign-key cascades. It does
// not join through entities: cross-refs tied to the file only by a
// caller/callee entity are removed by DeleteEntityCrossRefForFile.
func (f *Facade) ClearFileData(fileID int64) error {
	unlock := f.lock()
	defer unlock()
	return f.clearFileDataLocked(fileID)
}

func (f *Facade) clearFileDataLocked(fileID int64) error {
	for _, table := range []string{
		"classes", "functions", "imports", "usages", "ast_trees", "cst_trees",
		"code_content", "code_chunks", "entity_cross_refs",
	} {
		query, args, err := psql.Delete(table).Where(sq.Eq{"file_id": fileID}).ToSql()
		if err != nil {
			return fmt.Errorf("storage: build clear %s: %w", table, err)
		}
		if _, err := f.driver.Execute(query, args...); err != nil {
			return err
		}
	}
	return nil
}

// --- Projects, datasets, watch dirs ------------------------------------

// AddProject creates a project row for a root path first seen by the
// indexer. The caller may supply the id so it can be referenced before
// the row commits inside the same transaction; an empty ID is replaced by
// a freshly generated UUID. Returns the id the row was stored under.
func (f *Facade) AddProject(p Project) (string, error) {
	unlock := f.lock()
	defer unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("projects").
		Columns("id", "root_path", "name", "comment", "watch_dir_id").
		Values(p.ID, p.RootPath, p.Name, p.Comment, p.WatchDirID).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert project: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return p.ID, nil
}

// GetProjectByRootPath resolves a project by its unique absolute root
// path, the lookup the watcher/CLI perform before deciding whether to
// create a new project or reuse an existing one.
func (f *Facade) GetProjectByRootPath(rootPath string) (*Project, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "root_path", "name", "comment", "watch_dir_id").
		From("projects").Where(sq.Eq{"root_path": rootPath}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select project: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return &Project{
		ID:         toString(row["id"]),
		RootPath:   toString(row["root_path"]),
		Name:       toString(row["name"]),
		Comment:    toString(row["comment"]),
		WatchDirID: toNullString(row["watch_dir_id"]),
	}, nil
}

// DeleteProject removes a project row; ON DELETE CASCADE handles every
// dataset, file, and derived row it owns.
func (f *Facade) DeleteProject(projectID string) error {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Delete("projects").Where(sq.Eq{"id": projectID}).ToSql()
	if err != nil {
		return fmt.Errorf("storage: build delete project: %w", err)
	}
	_, err = f.driver.Execute(query, args...)
	return err
}

// AddDataset creates a dataset row, a sub-root within a project grouping
// files for scoped multi-root indexing.
func (f *Facade) AddDataset(d Dataset) (string, error) {
	unlock := f.lock()
	defer unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("datasets").
		Columns("id", "project_id", "root_path").
		Values(d.ID, d.ProjectID, d.RootPath).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert dataset: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return d.ID, nil
}

// GetDatasetByRootPath resolves a dataset by (project_id, root_path), its
// unique key within the project.
func (f *Facade) GetDatasetByRootPath(projectID, rootPath string) (*Dataset, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "project_id", "root_path").
		From("datasets").Where(sq.Eq{"project_id": projectID, "root_path": rootPath}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select dataset: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		ID:        toString(row["id"]),
		ProjectID: toString(row["project_id"]),
		RootPath:  toString(row["root_path"]),
	}, nil
}

// AddWatchDir creates an opaque logical watch-directory grouping, decoupled
// from any single project.
func (f *Facade) AddWatchDir(w WatchDir) (string, error) {
	unlock := f.lock()
	defer unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("watch_dirs").
		Columns("id", "path").
		Values(w.ID, w.Path).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert watch_dir: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return w.ID, nil
}

// --- Entities ----------------------------------------------------------

func (f *Facade) AddClass(c Class) (string, error) {
	unlock := f.lock()
	defer unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("classes").
		Columns("id", "file_id", "name", "line", "end_line", "docstring", "bases").
		Values(c.ID, c.FileID, c.Name, c.Line, c.EndLine, c.Docstring, c.Bases).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert class: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return c.ID, nil
}

func (f *Facade) AddMethod(m Method) (string, error) {
	unlock := f.lock()
	defer unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("methods").
		Columns("id", "class_id", "name", "line", "end_line", "args", "docstring",
			"is_abstract", "has_pass", "has_not_implemented", "complexity").
		Values(m.ID, m.ClassID, m.Name, m.Line, m.EndLine, m.Args, m.Docstring,
			m.IsAbstract, m.HasPass, m.HasNotImplemented, m.Complexity).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert method: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return m.ID, nil
}

func (f *Facade) AddFunction(fn Function) (string, error) {
	unlock := f.lock()
	defer unlock()
	if fn.ID == "" {
		fn.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("functions").
		Columns("id", "file_id", "name", "line", "end_line", "args", "docstring", "complexity").
		Values(fn.ID, fn.FileID, fn.Name, fn.Line, fn.EndLine, fn.Args, fn.Docstring, fn.Complexity).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert function: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return fn.ID, nil
}

func (f *Facade) AddImport(imp Import) (string, error) {
	unlock := f.lock()
	defer unlock()
	if imp.ID == "" {
		imp.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("imports").
		Columns("id", "file_id", "name", "module", "import_type", "line").
		Values(imp.ID, imp.FileID, imp.Name, imp.Module, imp.ImportType, imp.Line).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert import: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return imp.ID, nil
}

func (f *Facade) AddUsage(u Usage) (int64, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Insert("usages").
		Columns("file_id", "line", "usage_type", "target_type", "target_class", "target_name", "context").
		Values(u.FileID, u.Line, u.UsageType, u.TargetType, u.TargetClass, u.TargetName, u.Context).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build insert usage: %w", err)
	}
	res, err := f.driver.Execute(query, args...)
	if err != nil {
		return 0, wrapConstraint(err)
	}
	return lastInsertID(res)
}

// --- Entity cross-references --------------------------------------------

// AddEntityCrossRef validates that exactly one caller field and exactly
// one callee field are set and that ref_type is accepted, then inserts
// the row.
func (f *Facade) AddEntityCrossRef(ref EntityCrossRef) (string, error) {
	unlock := f.lock()
	defer unlock()

	if err := validateCrossRef(ref); err != nil {
		return "", err
	}

	if ref.ID == "" {
		ref.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("entity_cross_refs").
		Columns("id", "caller_kind", "caller_class_id", "caller_method_id", "caller_function_id",
			"callee_kind", "callee_class_id", "callee_method_id", "callee_function_id",
			"ref_type", "file_id", "line").
		Values(ref.ID, string(ref.CallerKind), ref.CallerClassID, ref.CallerMethodID, ref.CallerFunctionID,
			string(ref.CalleeKind), ref.CalleeClassID, ref.CalleeMethodID, ref.CalleeFunctionID,
			ref.RefType, ref.FileID, ref.Line).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert cross-ref: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return ref.ID, nil
}

func validateCrossRef(ref EntityCrossRef) error {
	callerCount := countSet(ref.CallerClassID, ref.CallerMethodID, ref.CallerFunctionID)
	calleeCount := countSet(ref.CalleeClassID, ref.CalleeMethodID, ref.CalleeFunctionID)
	if callerCount != 1 || calleeCount != 1 {
		return ErrInvalidCrossRef
	}
	if !AcceptedCrossRefTypes[ref.RefType] {
		return fmt.Errorf("%w: unrecognized ref_type %q", ErrInvalidCrossRef, ref.RefType)
	}
	return nil
}

func countSet(ids ...*string) int {
	n := 0
	for _, id := range ids {
		if id != nil && *id != "" {
			n++
		}
	}
	return n
}

// GetDependenciesByCaller returns cross-refs where the given entity is the
// caller (what this entity calls/uses).
func (f *Facade) GetDependenciesByCaller(kind CrossRefKind, id string) ([]EntityCrossRef, error) {
	return f.queryCrossRefsByKind(kind, id, true)
}

// GetDependentsByCallee returns cross-refs where the given entity is the
// callee (who calls/uses this entity).
func (f *Facade) GetDependentsByCallee(kind CrossRefKind, id string) ([]EntityCrossRef, error) {
	return f.queryCrossRefsByKind(kind, id, false)
}

func (f *Facade) queryCrossRefsByKind(kind CrossRefKind, id string, asCaller bool) ([]EntityCrossRef, error) {
	unlock := f.lock()
	defer unlock()

	column, err := crossRefColumn(kind, asCaller)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select(
		"id", "caller_kind", "caller_class_id", "caller_method_id", "caller_function_id",
		"callee_kind", "callee_class_id", "callee_method_id", "callee_function_id",
		"ref_type", "file_id", "line",
	).From("entity_cross_refs").Where(sq.Eq{column: id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select cross-refs: %w", err)
	}

	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	refs := make([]EntityCrossRef, len(rows))
	for i, row := range rows {
		refs[i] = rowToCrossRef(row)
	}
	return refs, nil
}

func crossRefColumn(kind CrossRefKind, asCaller bool) (string, error) {
	prefix := "callee_"
	if asCaller {
		prefix = "caller_"
	}
	switch kind {
	case CrossRefClass:
		return prefix + "class_id", nil
	case CrossRefMethod:
		return prefix + "method_id", nil
	case CrossRefFunction:
		return prefix + "function_id", nil
	default:
		return "", ErrUnknownCrossRefKind
	}
}

func rowToCrossRef(row Row) EntityCrossRef {
	return EntityCrossRef{
		ID:               toString(row["id"]),
		CallerKind:       CrossRefKind(toString(row["caller_kind"])),
		CallerClassID:    toNullString(row["caller_class_id"]),
		CallerMethodID:   toNullString(row["caller_method_id"]),
		CallerFunctionID: toNullString(row["caller_function_id"]),
		CalleeKind:       CrossRefKind(toString(row["callee_kind"])),
		CalleeClassID:    toNullString(row["callee_class_id"]),
		CalleeMethodID:   toNullString(row["callee_method_id"]),
		CalleeFunctionID: toNullString(row["callee_function_id"]),
		RefType:          toString(row["ref_type"]),
		FileID:           toInt64(row["file_id"]),
		Line:             int(toInt64(row["line"])),
	}
}

// DeleteEntityCrossRefForFile removes rows whose origin file_id matches,
// or whose caller/callee entity belongs to the file (via a join through
// classes/methods/functions).
func (f *Facade) DeleteEntityCrossRefForFile(fileID int64) error {
	unlock := f.lock()
	defer unlock()

	stmts := []string{
		`DELETE FROM entity_cross_refs WHERE file_id = ?`,
		`DELETE FROM entity_cross_refs WHERE caller_class_id IN (SELECT id FROM classes WHERE file_id = ?)`,
		`DELETE FROM entity_cross_refs WHERE caller_method_id IN (
			SELECT m.id FROM methods m JOIN classes c ON m.class_id = c.id WHERE c.file_id = ?)`,
		`DELETE FROM entity_cross_refs WHERE caller_function_id IN (SELECT id FROM functions WHERE file_id = ?)`,
		`DELETE FROM entity_cross_refs WHERE callee_class_id IN (SELECT id FROM classes WHERE file_id = ?)`,
		`DELETE FROM entity_cross_refs WHERE callee_method_id IN (
			SELECT m.id FROM methods m JOIN classes c ON m.class_id = c.id WHERE c.file_id = ?)`,
		`DELETE FROM entity_cross_refs WHERE callee_function_id IN (SELECT id FROM functions WHERE file_id = ?)`,
	}
	for _, stmt := range stmts {
		if _, err := f.driver.Execute(stmt, fileID); err != nil {
			return err
		}
	}
	return nil
}

// --- Chunks / vectorization ---------------------------------------------

// GetAllChunksForFaissRebuild returns every chunk for a project (optionally
// scoped to a dataset), for a full external-index rebuild.
func (f *Facade) GetAllChunksForFaissRebuild(projectID string, datasetID string) ([]CodeChunk, error) {
	unlock := f.lock()
	defer unlock()

	builder := chunkSelect().Where(sq.Eq{"project_id": projectID}).OrderBy("id")
	if datasetID != "" {
		builder = builder.Where("file_id IN (SELECT id FROM files WHERE dataset_id = ?)", datasetID)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build chunk rebuild query: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	return rowsToChunks(rows), nil
}

// GetNonVectorizedChunks returns chunks with no embedding yet, or an
// embedding but no vector_id, in ascending id order so vector ids are
// assigned deterministically within a cycle.
func (f *Facade) GetNonVectorizedChunks(projectID string, datasetID string, limit int) ([]CodeChunk, error) {
	unlock := f.lock()
	defer unlock()

	builder := chunkSelect().
		Where(sq.Eq{"project_id": projectID}).
		Where("(embedding_vector IS NULL OR vector_id IS NULL)").
		OrderBy("id").
		Limit(uint64(limit))
	if datasetID != "" {
		builder = builder.Where("file_id IN (SELECT id FROM files WHERE dataset_id = ?)", datasetID)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build non-vectorized chunks query: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	return rowsToChunks(rows), nil
}

// UpdateChunkVectorID writes back a freshly assigned vector_id (and,
// optionally, the embedding model name) for a chunk.
func (f *Facade) UpdateChunkVectorID(chunkID int64, vectorID int64, embeddingModel string) error {
	unlock := f.lock()
	defer unlock()

	builder := psql.Update("code_chunks").Set("vector_id", vectorID).Where(sq.Eq{"id": chunkID})
	if embeddingModel != "" {
		builder = builder.Set("embedding_model", embeddingModel)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("storage: build update chunk vector id: %w", err)
	}
	_, err = f.driver.Execute(query, args...)
	return err
}

// UpdateChunkEmbedding persists a freshly computed embedding vector and
// model name, leaving vector_id untouched until index registration
// succeeds.
func (f *Facade) UpdateChunkEmbedding(chunkID int64, embedding []byte, embeddingModel string) error {
	unlock := f.lock()
	defer unlock()

	query, args, err := psql.Update("code_chunks").
		Set("embedding_vector", embedding).
		Set("embedding_model", embeddingModel).
		Where(sq.Eq{"id": chunkID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("storage: build update chunk embedding: %w", err)
	}
	_, err = f.driver.Execute(query, args...)
	return err
}

func chunkSelect() sq.SelectBuilder {
	return psql.Select(
		"id", "chunk_uuid", "file_id", "project_id", "chunk_type", "chunk_text", "chunk_ordinal",
		"class_id", "method_id", "function_id", "line", "ast_node_type", "source_type",
		"binding_level", "vector_id", "embedding_model", "embedding_vector", "bm25_score",
	).From("code_chunks")
}

func rowsToChunks(rows []Row) []CodeChunk {
	chunks := make([]CodeChunk, len(rows))
	for i, row := range rows {
		chunks[i] = CodeChunk{
			ID:              toInt64(row["id"]),
			ChunkUUID:       toString(row["chunk_uuid"]),
			FileID:          toInt64(row["file_id"]),
			ProjectID:       toString(row["project_id"]),
			ChunkType:       toString(row["chunk_type"]),
			ChunkText:       toString(row["chunk_text"]),
			ChunkOrdinal:    int(toInt64(row["chunk_ordinal"])),
			ClassID:         toNullString(row["class_id"]),
			MethodID:        toNullString(row["method_id"]),
			FunctionID:      toNullString(row["function_id"]),
			Line:            toNullIntFromInt64(row["line"]),
			ASTNodeType:     toString(row["ast_node_type"]),
			SourceType:      toString(row["source_type"]),
			BindingLevel:    toString(row["binding_level"]),
			VectorID:        toNullInt64(row["vector_id"]),
			EmbeddingModel:  toString(row["embedding_model"]),
			EmbeddingVector: toBytes(row["embedding_vector"]),
			BM25Score:       toFloat64(row["bm25_score"]),
		}
	}
	return chunks
}

// --- Syntax trees --------------------------------------------------------

// AddASTTree saves a serialized AST, scoped by the unique (file_id, hash)
// constraint so rewriting identical content is idempotent.
func (f *Facade) AddASTTree(t ASTTree) (string, error) {
	unlock := f.lock()
	defer unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("ast_trees").
		Columns("id", "file_id", "hash", "file_mtime", "serialized").
		Values(t.ID, t.FileID, t.Hash, t.FileMtime, t.Serialized).
		Suffix("ON CONFLICT(file_id, hash) DO UPDATE SET file_mtime = excluded.file_mtime").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert ast_tree: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return t.ID, nil
}

// AddCSTTree saves a serialized CST, the same idempotent-on-hash shape as
// AddASTTree.
func (f *Facade) AddCSTTree(t CSTTree) (string, error) {
	unlock := f.lock()
	defer unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("cst_trees").
		Columns("id", "file_id", "hash", "file_mtime", "serialized").
		Values(t.ID, t.FileID, t.Hash, t.FileMtime, t.Serialized).
		Suffix("ON CONFLICT(file_id, hash) DO UPDATE SET file_mtime = excluded.file_mtime").
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert cst_tree: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return t.ID, nil
}

// AddCodeContent inserts the textual content (and docstring) for one
// resolved entity; the code_content_fts_insert trigger (schema.go) mirrors
// the row into the full-text virtual table automatically.
func (f *Facade) AddCodeContent(c CodeContent) (string, error) {
	unlock := f.lock()
	defer unlock()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	query, args, err := psql.Insert("code_content").
		Columns("id", "entity_kind", "entity_id", "file_id", "content", "docstring").
		Values(c.ID, string(c.EntityKind), c.EntityID, c.FileID, c.Content, c.Docstring).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert code_content: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return c.ID, nil
}

// --- Chunk insertion ------------------------------------------------------

// AddCodeChunk inserts a chunk produced by the chunker collaborator, with
// vector_id left NULL until the vectorization worker registers it with the
// similarity index.
func (f *Facade) AddCodeChunk(c CodeChunk) (int64, error) {
	unlock := f.lock()
	defer unlock()
	if c.ChunkUUID == "" {
		c.ChunkUUID = uuid.New().String()
	}
	query, args, err := psql.Insert("code_chunks").
		Columns("chunk_uuid", "file_id", "project_id", "chunk_type", "chunk_text", "chunk_ordinal",
			"class_id", "method_id", "function_id", "line", "ast_node_type", "source_type", "binding_level").
		Values(c.ChunkUUID, c.FileID, c.ProjectID, c.ChunkType, c.ChunkText, c.ChunkOrdinal,
			c.ClassID, c.MethodID, c.FunctionID, c.Line, c.ASTNodeType, c.SourceType, c.BindingLevel).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("storage: build insert code_chunk: %w", err)
	}
	res, err := f.driver.Execute(query, args...)
	if err != nil {
		return 0, wrapConstraint(err)
	}
	return lastInsertID(res)
}

// --- File-scoped entity queries (cross-ref builder, atomic updater) ------

// GetClassesForFile returns every class declared in a file.
func (f *Facade) GetClassesForFile(fileID int64) ([]Class, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "file_id", "name", "line", "end_line", "docstring", "bases").
		From("classes").Where(sq.Eq{"file_id": fileID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select classes: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	classes := make([]Class, len(rows))
	for i, row := range rows {
		classes[i] = rowToClass(row)
	}
	return classes, nil
}

func rowToClass(row Row) Class {
	return Class{
		ID:        toString(row["id"]),
		FileID:    toInt64(row["file_id"]),
		Name:      toString(row["name"]),
		Line:      int(toInt64(row["line"])),
		EndLine:   toNullIntFromInt64(row["end_line"]),
		Docstring: toString(row["docstring"]),
		Bases:     toString(row["bases"]),
	}
}

// GetMethodsForFile returns every method declared on any class in a file.
func (f *Facade) GetMethodsForFile(fileID int64) ([]Method, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select(
		"m.id", "m.class_id", "m.name", "m.line", "m.end_line", "m.args", "m.docstring",
		"m.is_abstract", "m.has_pass", "m.has_not_implemented", "m.complexity",
	).From("methods m").
		Join("classes c ON m.class_id = c.id").
		Where(sq.Eq{"c.file_id": fileID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select methods: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	methods := make([]Method, len(rows))
	for i, row := range rows {
		methods[i] = rowToMethod(row)
	}
	return methods, nil
}

func rowToMethod(row Row) Method {
	return Method{
		ID:                toString(row["id"]),
		ClassID:           toString(row["class_id"]),
		Name:              toString(row["name"]),
		Line:              int(toInt64(row["line"])),
		EndLine:           toNullIntFromInt64(row["end_line"]),
		Args:              toString(row["args"]),
		Docstring:         toString(row["docstring"]),
		IsAbstract:        toBool(row["is_abstract"]),
		HasPass:           toBool(row["has_pass"]),
		HasNotImplemented: toBool(row["has_not_implemented"]),
		Complexity:        toNullIntFromInt64(row["complexity"]),
	}
}

// GetFunctionsForFile returns every free function declared in a file.
func (f *Facade) GetFunctionsForFile(fileID int64) ([]Function, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "file_id", "name", "line", "end_line", "args", "docstring", "complexity").
		From("functions").Where(sq.Eq{"file_id": fileID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select functions: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	fns := make([]Function, len(rows))
	for i, row := range rows {
		fns[i] = rowToFunction(row)
	}
	return fns, nil
}

func rowToFunction(row Row) Function {
	return Function{
		ID:         toString(row["id"]),
		FileID:     toInt64(row["file_id"]),
		Name:       toString(row["name"]),
		Line:       int(toInt64(row["line"])),
		EndLine:    toNullIntFromInt64(row["end_line"]),
		Args:       toString(row["args"]),
		Docstring:  toString(row["docstring"]),
		Complexity: toNullIntFromInt64(row["complexity"]),
	}
}

// GetUsagesForFile returns every raw usage recorded for a file, in
// insertion order, for the cross-ref builder to resolve.
func (f *Facade) GetUsagesForFile(fileID int64) ([]Usage, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("id", "file_id", "line", "usage_type", "target_type", "target_class", "target_name", "context").
		From("usages").Where(sq.Eq{"file_id": fileID}).OrderBy("id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select usages: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	usages := make([]Usage, len(rows))
	for i, row := range rows {
		usages[i] = Usage{
			ID:          toInt64(row["id"]),
			FileID:      toInt64(row["file_id"]),
			Line:        int(toInt64(row["line"])),
			UsageType:   toString(row["usage_type"]),
			TargetType:  toString(row["target_type"]),
			TargetClass: toNullString(row["target_class"]),
			TargetName:  toString(row["target_name"]),
			Context:     toNullString(row["context"]),
		}
	}
	return usages, nil
}

// FindClassByName resolves a class by name within a project, preferring a
// match in fileID when more than one candidate exists.
func (f *Facade) FindClassByName(projectID string, fileID int64, name string) (*Class, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("cl.id", "cl.file_id", "cl.name", "cl.line", "cl.end_line", "cl.docstring", "cl.bases").
		From("classes cl").
		Join("files f ON cl.file_id = f.id").
		Where(sq.Eq{"f.project_id": projectID, "cl.name": name}).
		OrderByClause("CASE WHEN cl.file_id = ? THEN 0 ELSE 1 END", fileID).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build find class: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	c := rowToClass(row)
	return &c, nil
}

// FindFunctionByName resolves a free function by name within a project,
// preferring a same-file match.
func (f *Facade) FindFunctionByName(projectID string, fileID int64, name string) (*Function, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select("fn.id", "fn.file_id", "fn.name", "fn.line", "fn.end_line", "fn.args", "fn.docstring", "fn.complexity").
		From("functions fn").
		Join("files f ON fn.file_id = f.id").
		Where(sq.Eq{"f.project_id": projectID, "fn.name": name}).
		OrderByClause("CASE WHEN fn.file_id = ? THEN 0 ELSE 1 END", fileID).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build find function: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	fn := rowToFunction(row)
	return &fn, nil
}

// RecordVectorizationStats writes one per-cycle counter row, keyed by a
// fresh UUID if the caller left CycleID empty.
func (f *Facade) RecordVectorizationStats(stats VectorizationStats) (string, error) {
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
	query, args, err := psql.Insert("vectorization_stats").
		Columns("cycle_id", "project_id", "chunks_embedded", "chunks_indexed", "chunks_failed", "started_at", "completed_at").
		Values(stats.CycleID, stats.ProjectID, stats.ChunksEmbedded, stats.ChunksIndexed, stats.ChunksFailed,
			stats.StartedAt.UTC().Format(time.RFC3339Nano), completedAt).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("storage: build insert vectorization_stats: %w", err)
	}
	if _, err := f.driver.Execute(query, args...); err != nil {
		return "", wrapConstraint(err)
	}
	return stats.CycleID, nil
}

// FindMethodByClassAndName resolves a method by (class name, method name)
// within a project, preferring a same-file match for the owning class.
func (f *Facade) FindMethodByClassAndName(projectID string, fileID int64, className, methodName string) (*Method, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select(
		"m.id", "m.class_id", "m.name", "m.line", "m.end_line", "m.args", "m.docstring",
		"m.is_abstract", "m.has_pass", "m.has_not_implemented", "m.complexity",
	).From("methods m").
		Join("classes cl ON m.class_id = cl.id").
		Join("files f ON cl.file_id = f.id").
		Where(sq.Eq{"f.project_id": projectID, "cl.name": className, "m.name": methodName}).
		OrderByClause("CASE WHEN cl.file_id = ? THEN 0 ELSE 1 END", fileID).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build find method: %w", err)
	}
	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	m := rowToMethod(row)
	return &m, nil
}

// EntityLocation is a resolved (name, file, line) triple for one caller or
// callee entity referenced by an EntityCrossRef, used by the graph searcher
// to label traversal results without a second round trip per node.
type EntityLocation struct {
	Name         string
	RelativePath string
	Line         int
}

// ListEntityCrossRefsForProject returns every cross-ref whose origin file
// belongs to projectID, the edge set the graph searcher loads on Reload.
func (f *Facade) ListEntityCrossRefsForProject(projectID string) ([]EntityCrossRef, error) {
	unlock := f.lock()
	defer unlock()
	query, args, err := psql.Select(
		"ecr.id", "ecr.caller_kind", "ecr.caller_class_id", "ecr.caller_method_id", "ecr.caller_function_id",
		"ecr.callee_kind", "ecr.callee_class_id", "ecr.callee_method_id", "ecr.callee_function_id",
		"ecr.ref_type", "ecr.file_id", "ecr.line",
	).From("entity_cross_refs ecr").
		Join("files fl ON ecr.file_id = fl.id").
		Where(sq.Eq{"fl.project_id": projectID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("storage: build select project cross-refs: %w", err)
	}
	rows, err := f.driver.FetchAll(query, args...)
	if err != nil {
		return nil, err
	}
	refs := make([]EntityCrossRef, len(rows))
	for i, row := range rows {
		refs[i] = rowToCrossRef(row)
	}
	return refs, nil
}

// GetEntityLocation resolves a (kind, id) pair — as found on either side of
// an EntityCrossRef — to the human-readable name and source location the
// graph searcher attaches to its query results.
func (f *Facade) GetEntityLocation(kind CrossRefKind, id string) (*EntityLocation, error) {
	unlock := f.lock()
	defer unlock()

	var query string
	var args []interface{}
	var err error
	switch kind {
	case CrossRefClass:
		query, args, err = psql.Select("cl.name", "fl.relative_path", "cl.line").
			From("classes cl").
			Join("files fl ON cl.file_id = fl.id").
			Where(sq.Eq{"cl.id": id}).ToSql()
	case CrossRefMethod:
		query, args, err = psql.Select("m.name", "fl.relative_path", "m.line").
			From("methods m").
			Join("classes cl ON m.class_id = cl.id").
			Join("files fl ON cl.file_id = fl.id").
			Where(sq.Eq{"m.id": id}).ToSql()
	case CrossRefFunction:
		query, args, err = psql.Select("fn.name", "fl.relative_path", "fn.line").
			From("functions fn").
			Join("files fl ON fn.file_id = fl.id").
			Where(sq.Eq{"fn.id": id}).ToSql()
	default:
		return nil, ErrUnknownCrossRefKind
	}
	if err != nil {
		return nil, fmt.Errorf("storage: build select entity location: %w", err)
	}

	row, err := f.driver.FetchOne(query, args...)
	if err != nil {
		return nil, err
	}
	return &EntityLocation{
		Name:         toString(row["name"]),
		RelativePath: toString(row["relative_path"]),
		Line:         int(toInt64(row["line"])),
	}, nil
}
