package graph

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	dgraph "github.com/dominikbraun/graph"
	"github.com/maypok86/otter"

	"github.com/coredex/graphstore/internal/storage"
)

// Query defaults and limits.
const (
	DefaultDepth        = 1
	DefaultMaxResults   = 100
	DefaultContextLines = 3
	MaxDepth            = 10
	MaxFileCacheWeight  = 50 * 1024 * 1024 // 50MB
)

// ImpactEntry is one result row from Impact: an entity reachable from the
// target by following caller edges, tagged with how it was reached.
type ImpactEntry struct {
	Node       Node
	Depth      int
	ImpactType string // "direct_caller" or "transitive"
	Severity   string // "must_update" or "review_needed"
	Context    string `json:",omitempty"`
}

// ImpactResult summarizes the blast radius of changing an entity.
type ImpactResult struct {
	Target            EntityRef
	Entries           []ImpactEntry
	DirectCallers     int
	TransitiveCallers int
	Truncated         bool
}

// PathResult is the outcome of ShortestPath.
type PathResult struct {
	Found bool
	Nodes []Node
}

// Searcher provides dependency and impact queries over the project's
// resolved EntityCrossRef graph.
type Searcher interface {
	// Reload rebuilds the in-memory graph and reverse indexes from the
	// facade's current EntityCrossRef rows for projectID.
	Reload(ctx context.Context) error

	// Callers returns the entities that call/use ref, following the
	// caller edge up to depth hops (depth 1 is direct callers only).
	Callers(ref EntityRef, depth int) ([]Node, error)

	// Callees returns the entities ref calls/uses, up to depth hops.
	Callees(ref EntityRef, depth int) ([]Node, error)

	// Impact analyzes the blast radius of changing ref: direct callers
	// (severity "must_update") and transitive callers up to depth 3
	// (severity "review_needed"), optionally with source context.
	Impact(ref EntityRef, includeContext bool) (*ImpactResult, error)

	// ShortestPath finds the shortest caller->callee chain from `from`
	// reaching `to`, using dominikbraun/graph's BFS shortest-path search.
	ShortestPath(from, to EntityRef) (*PathResult, error)

	// Close releases resources (the file-content cache).
	Close() error
}

// searcher implements Searcher with an in-memory graph plus reverse
// indexes, rebuilt on each Reload from storage.Facade's resolved
// cross-refs.
type searcher struct {
	facade    *storage.Facade
	projectID string
	rootDir   string

	mu      sync.RWMutex
	graph   dgraph.Graph[string, *Node]
	nodes   map[string]*Node
	callers map[string][]string // callee key -> [caller keys]
	callees map[string][]string // caller key -> [callee keys]

	fileCache otter.Cache[string, []string]
}

// NewSearcher builds a Searcher over facade scoped to one project and
// loads its initial graph.
func NewSearcher(facade *storage.Facade, projectID, rootDir string) (Searcher, error) {
	cache, err := otter.MustBuilder[string, []string](MaxFileCacheWeight).
		Cost(func(key string, value []string) uint32 {
			return uint32(len(value) * 100)
		}).
		CollectStats().
		Build()
	if err != nil {
		return nil, fmt.Errorf("graph: create file cache: %w", err)
	}

	s := &searcher{facade: facade, projectID: projectID, rootDir: rootDir, fileCache: cache}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func callerRef(ref storage.EntityCrossRef) EntityRef {
	return entityRef(ref.CallerKind, ref.CallerClassID, ref.CallerMethodID, ref.CallerFunctionID)
}

func calleeRef(ref storage.EntityCrossRef) EntityRef {
	return entityRef(ref.CalleeKind, ref.CalleeClassID, ref.CalleeMethodID, ref.CalleeFunctionID)
}

func entityRef(kind storage.CrossRefKind, classID, methodID, functionID *string) EntityRef {
	switch kind {
	case storage.CrossRefClass:
		return EntityRef{Kind: kind, ID: derefOr(classID)}
	case storage.CrossRefMethod:
		return EntityRef{Kind: kind, ID: derefOr(methodID)}
	default:
		return EntityRef{Kind: kind, ID: derefOr(functionID)}
	}
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Reload rebuilds the graph and reverse indexes from the facade's current
// cross-ref rows. Entity locations are resolved once per unique id and
// cached in s.nodes for the lifetime of this load.
func (s *searcher) Reload(ctx context.Context) error {
	edges, err := s.facade.ListEntityCrossRefsForProject(s.projectID)
	if err != nil {
		return fmt.Errorf("graph: load cross-refs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.graph = dgraph.New(func(n *Node) string { return n.Ref.key() }, dgraph.Directed())
	s.nodes = make(map[string]*Node)
	s.callers = make(map[string][]string)
	s.callees = make(map[string][]string)

	resolve := func(ref EntityRef) *Node {
		if ref.ID == "" {
			return nil
		}
		if n, ok := s.nodes[ref.key()]; ok {
			return n
		}
		loc, err := s.facade.GetEntityLocation(ref.Kind, ref.ID)
		if err != nil {
			return nil
		}
		n := &Node{Ref: ref, Name: loc.Name, File: loc.RelativePath, Line: loc.Line}
		s.nodes[ref.key()] = n
		_ = s.graph.AddVertex(n)
		return n
	}

	for _, e := range edges {
		from := resolve(callerRef(e))
		to := resolve(calleeRef(e))
		if from == nil || to == nil {
			continue
		}
		_ = s.graph.AddEdge(from.Ref.key(), to.Ref.key())
		s.callees[from.Ref.key()] = append(s.callees[from.Ref.key()], to.Ref.key())
		s.callers[to.Ref.key()] = append(s.callers[to.Ref.key()], from.Ref.key())
	}

	s.fileCache.Clear()
	return nil
}

// Callers returns callers of ref up to depth hops, nearest first.
func (s *searcher) Callers(ref EntityRef, depth int) ([]Node, error) {
	return s.traverse(ref, depth, s.callers)
}

// Callees returns callees of ref up to depth hops, nearest first.
func (s *searcher) Callees(ref EntityRef, depth int) ([]Node, error) {
	return s.traverse(ref, depth, s.callees)
}

func (s *searcher) traverse(ref EntityRef, depth int, index map[string][]string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if depth <= 0 {
		depth = DefaultDepth
	}
	if depth > MaxDepth {
		depth = MaxDepth
	}

	var results []Node
	visited := map[string]bool{ref.key(): true}
	frontier := []string{ref.key()}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, neighbor := range index[id] {
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				if n, ok := s.nodes[neighbor]; ok {
					results = append(results, *n)
				}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return results, nil
}

// Impact analyzes the blast radius of changing an entity: direct callers
// are "must_update", callers reached transitively (depth 2-3) are
// "review_needed".
func (s *searcher) Impact(ref EntityRef, includeContext bool) (*ImpactResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := &ImpactResult{Target: ref}
	seen := map[string]bool{ref.key(): true}

	direct := s.callers[ref.key()]
	for _, id := range direct {
		n, ok := s.nodes[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		entry := ImpactEntry{Node: *n, Depth: 1, ImpactType: "direct_caller", Severity: "must_update"}
		if includeContext {
			entry.Context = s.extractContext(n.File, n.Line)
		}
		result.Entries = append(result.Entries, entry)
		result.DirectCallers++
	}

	frontier := direct
	for depth := 2; depth <= 3 && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, caller := range s.callers[id] {
				if seen[caller] {
					continue
				}
				seen[caller] = true
				n, ok := s.nodes[caller]
				if !ok {
					continue
				}
				entry := ImpactEntry{Node: *n, Depth: depth, ImpactType: "transitive", Severity: "review_needed"}
				if includeContext {
					entry.Context = s.extractContext(n.File, n.Line)
				}
				if len(result.Entries) < DefaultMaxResults {
					result.Entries = append(result.Entries, entry)
				} else {
					result.Truncated = true
				}
				result.TransitiveCallers++
				next = append(next, caller)
			}
		}
		frontier = next
	}

	return result, nil
}

// ShortestPath finds the shortest caller->callee chain via
// dominikbraun/graph's BFS shortest-path search.
func (s *searcher) ShortestPath(from, to EntityRef) (*PathResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := dgraph.ShortestPath(s.graph, from.key(), to.key())
	if err != nil {
		return &PathResult{Found: false}, nil
	}
	nodes := make([]Node, 0, len(path))
	for _, id := range path {
		if n, ok := s.nodes[id]; ok {
			nodes = append(nodes, *n)
		}
	}
	return &PathResult{Found: true, Nodes: nodes}, nil
}

// extractContext reads DefaultContextLines of source around line from the
// file cache, populating it from disk on a miss. Failures are tolerated —
// context is best-effort enrichment, never required for a valid result.
func (s *searcher) extractContext(relPath string, line int) string {
	lines, ok := s.fileCache.Get(relPath)
	if !ok {
		content, err := os.ReadFile(filepath.Join(s.rootDir, relPath))
		if err != nil {
			return ""
		}
		lines = strings.Split(string(content), "\n")
		s.fileCache.Set(relPath, lines)
	}

	from := max(0, line-DefaultContextLines-1)
	to := min(len(lines), line+DefaultContextLines)
	if from >= to {
		return ""
	}
	return fmt.Sprintf("// lines %d-%d\n%s", from+1, to, strings.Join(lines[from:to], "\n"))
}

func (s *searcher) Close() error {
	s.fileCache.Close()
	return nil
}
