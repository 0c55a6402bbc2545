package storage

import "time"

// Domain models that mirror SQL tables in schema.go. Lightweight data
// transfer structs, not ORM models.

// Project is the top-level indexing root. Destroying a project cascades to
// every dataset, file, and derived row owned by it.
type Project struct {
	ID         string // UUID
	RootPath   string // unique absolute path
	Name       string
	Comment    string
	WatchDirID *string
}

// Dataset is a sub-root within a project grouping files for scoped
// indexing; supports multi-root indexing inside one project.
type Dataset struct {
	ID        string // UUID
	ProjectID string
	RootPath  string // unique within project
}

// WatchDir is an opaque logical grouping of filesystem roots, decoupled
// from projects.
type WatchDir struct {
	ID   string // UUID
	Path string
}

// File is a single source file tracked within a dataset.
type File struct {
	ID           int64
	ProjectID    string
	DatasetID    string
	WatchDirID   *string
	Path         string // absolute path
	RelativePath string // project-root-relative, slash-normalized
	Lines        int
	LastModified float64 // unix mtime
	HasDocstring bool
	Deleted      bool
	OriginalPath *string
	VersionDir   *string
}

// Class is a class/struct/interface-like entity declared in a file.
type Class struct {
	ID        string
	FileID    int64
	Name      string
	Line      int
	EndLine   *int
	Docstring string
	Bases     string // serialized list
}

// Method is a function attached to a Class.
type Method struct {
	ID                string
	ClassID           string
	Name              string
	Line              int
	EndLine           *int
	Args              string // serialized
	Docstring         string
	IsAbstract        bool
	HasPass           bool
	HasNotImplemented bool
	Complexity        *int
}

// Function is a free function declared in a file.
type Function struct {
	ID         string
	FileID     int64
	Name       string
	Line       int
	EndLine    *int
	Args       string
	Docstring  string
	Complexity *int
}

// Import is a single import/include statement in a file.
type Import struct {
	ID         string
	FileID     int64
	Name       string
	Module     *string
	ImportType string
	Line       int
}

// Issue is a diagnostic attached to one of file/project/class/method/function.
type Issue struct {
	ID          string
	FileID      *int64
	ProjectID   *string
	ClassID     *string
	MethodID    *string
	FunctionID  *string
	IssueType   string
	Line        *int
	Description string
	Metadata    string // opaque, JSON-encoded
}

// Usage is a raw, unresolved reference recorded during parsing; the
// cross-ref builder later turns these into EntityCrossRef rows.
type Usage struct {
	ID          int64
	FileID      int64
	Line        int
	UsageType   string
	TargetType  string
	TargetClass *string
	TargetName  string
	Context     *string
}

// CrossRefKind identifies which entity table a cross-ref endpoint points
// into.
type CrossRefKind string

const (
	CrossRefClass    CrossRefKind = "class"
	CrossRefMethod   CrossRefKind = "method"
	CrossRefFunction CrossRefKind = "function"
)

// EntityCrossRef is a resolved caller -> callee edge. Exactly one of the
// three caller id fields is set, and exactly one of the three callee id
// fields is set. This invariant is enforced by AddEntityCrossRef in code,
// not by a SQL CHECK, since SQLite CHECK cannot conveniently express
// exactly-one-of-three across nullable columns alongside a kind column.
type EntityCrossRef struct {
	ID               string
	CallerKind       CrossRefKind
	CallerClassID    *string
	CallerMethodID   *string
	CallerFunctionID *string
	CalleeKind       CrossRefKind
	CalleeClassID    *string
	CalleeMethodID   *string
	CalleeFunctionID *string
	RefType          string // call, inherit, ...
	FileID           int64
	Line             int
}

// ASTTree is a per-file serialized abstract syntax tree.
type ASTTree struct {
	ID         string
	FileID     int64
	Hash       string
	FileMtime  float64
	Serialized []byte
}

// CSTTree is a per-file serialized concrete syntax tree (raw code + span
// info), kept distinct from ASTTree since some parsers only populate one of
// the two.
type CSTTree struct {
	ID         string
	FileID     int64
	Hash       string
	FileMtime  float64
	Serialized []byte
}

// CodeContent is the textual content (and docstring) of a single resolved
// entity, mirrored into the code_content_fts virtual table for full-text
// search (external-content mode: code_content_fts stores no rows of its
// own, it reads from this table).
type CodeContent struct {
	ID         string
	EntityKind CrossRefKind
	EntityID   string
	FileID     int64
	Content    string
	Docstring  string
}

// CodeChunk is a contiguous span of source text or docstring targeted for
// embedding.
type CodeChunk struct {
	ID              int64
	ChunkUUID       string // unique
	FileID          int64
	ProjectID       string
	ChunkType       string
	ChunkText       string
	ChunkOrdinal    int
	ClassID         *string
	MethodID        *string
	FunctionID      *string
	Line            *int
	ASTNodeType     string
	SourceType      string
	BindingLevel    string
	VectorID        *int64 // nil until registered with the external index
	EmbeddingModel  string
	EmbeddingVector []byte // serialized float array, nil until embedded
	BM25Score       float64
}

// VectorIndexEntry maps an entity-level vector (distinct from chunk
// vectors) to its position in the external similarity index.
type VectorIndexEntry struct {
	ProjectID      string
	EntityType     CrossRefKind
	EntityID       string
	VectorID       int64
	VectorDim      int
	EmbeddingModel string
}

// CodeDuplicate is a clone-detection cluster.
type CodeDuplicate struct {
	ID        string
	ProjectID string
	Signature string
	LineCount int
	CreatedAt time.Time
}

// DuplicateOccurrence is a single file location belonging to a
// CodeDuplicate cluster.
type DuplicateOccurrence struct {
	ID          string
	DuplicateID string
	FileID      int64
	StartLine   int
	EndLine     int
}

// ComprehensiveAnalysisResult is an opaque per-file JSON blob, keyed by the
// file's mtime so a stale result is naturally superseded by a fresh one.
type ComprehensiveAnalysisResult struct {
	FileID    int64
	FileMtime float64
	Result    string // JSON
	CreatedAt time.Time
}

// FileWatcherStats is a per-cycle counter row keyed by a UUID cycle id.
type FileWatcherStats struct {
	CycleID      string
	FilesChanged int
	FilesAdded   int
	FilesRemoved int
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// VectorizationStats is a per-cycle counter row keyed by a UUID cycle id.
type VectorizationStats struct {
	CycleID        string
	ProjectID      string
	ChunksEmbedded int
	ChunksIndexed  int
	ChunksFailed   int
	StartedAt      time.Time
	CompletedAt    *time.Time
}
