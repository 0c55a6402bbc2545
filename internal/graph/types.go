// Package graph builds an in-memory call graph from the EntityCrossRef
// rows the persistence facade resolves, and answers caller/callee,
// impact, and shortest-path queries over it.
package graph

import "github.com/coredex/graphstore/internal/storage"

// EntityRef identifies one class, method, or function by the kind/id pair
// used throughout storage.EntityCrossRef.
type EntityRef struct {
	Kind storage.CrossRefKind
	ID   string
}

func (r EntityRef) key() string { return string(r.Kind) + ":" + r.ID }

// Node is one graph vertex: a resolved entity with its name and source
// location, looked up once per id when the graph is (re)loaded.
type Node struct {
	Ref  EntityRef
	Name string
	File string
	Line int
}

// Edge is a directed caller -> callee relationship, carrying the ref_type
// recorded on EntityCrossRef (call, inherit, imports, uses).
type Edge struct {
	From    EntityRef
	To      EntityRef
	RefType string
	FileID  int64
	Line    int
}
