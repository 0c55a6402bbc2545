package storage

import (
	"database/sql"
	"errors"
	"log"
)

// CrossRefBuilder resolves raw Usage rows into EntityCrossRef edges. It
// never writes derived state of its own beyond the cross-ref table; the
// line-span resolution it performs is pure read-and-compute over the
// classes/methods/functions the atomic updater already persisted.
type CrossRefBuilder struct {
	facade *Facade
}

// NewCrossRefBuilder builds a CrossRefBuilder over the given facade.
func NewCrossRefBuilder(facade *Facade) *CrossRefBuilder {
	return &CrossRefBuilder{facade: facade}
}

// span is a line range with a rank used to break ties between candidates
// whose ranges both contain a point: method < function < class.
type span struct {
	kind  CrossRefKind
	id    string
	start int
	end   int
	rank  int
}

func (s span) width() int { return s.end - s.start }

func kindRank(kind CrossRefKind) int {
	switch kind {
	case CrossRefMethod:
		return 0
	case CrossRefFunction:
		return 1
	case CrossRefClass:
		return 2
	default:
		return 3
	}
}

// ResolveCaller finds the entity whose span most tightly contains line:
// among every class, method, and function declared in the file, it picks
// the one with the smallest [line, end_line] span containing the point;
// ties are broken method < function < class. Entities with a NULL end_line
// are treated as single-line spans. Returns ("", "", false) when nothing
// contains the line.
func (b *CrossRefBuilder) ResolveCaller(fileID int64, line int) (CrossRefKind, string, bool) {
	var candidates []span

	classes, err := b.facade.GetClassesForFile(fileID)
	if err != nil {
		log.Printf("crossref: resolve caller: load classes for file %d: %v", fileID, err)
	}
	for _, c := range classes {
		candidates = append(candidates, toSpan(CrossRefClass, c.ID, c.Line, c.EndLine))
	}

	methods, err := b.facade.GetMethodsForFile(fileID)
	if err != nil {
		log.Printf("crossref: resolve caller: load methods for file %d: %v", fileID, err)
	}
	for _, m := range methods {
		candidates = append(candidates, toSpan(CrossRefMethod, m.ID, m.Line, m.EndLine))
	}

	functions, err := b.facade.GetFunctionsForFile(fileID)
	if err != nil {
		log.Printf("crossref: resolve caller: load functions for file %d: %v", fileID, err)
	}
	for _, fn := range functions {
		candidates = append(candidates, toSpan(CrossRefFunction, fn.ID, fn.Line, fn.EndLine))
	}

	var best *span
	for i := range candidates {
		s := candidates[i]
		if line < s.start || line > s.end {
			continue
		}
		if best == nil || s.width() < best.width() ||
			(s.width() == best.width() && s.rank < best.rank) {
			best = &candidates[i]
		}
	}
	if best == nil {
		return "", "", false
	}
	return best.kind, best.id, true
}

func toSpan(kind CrossRefKind, id string, start int, end *int) span {
	e := start
	if end != nil {
		e = *end
	}
	return span{kind: kind, id: id, start: start, end: e, rank: kindRank(kind)}
}

// ResolveCallee searches the project for the entity a usage targets.
// target_type=="method" requires targetClass; same-file matches are
// preferred (facade Find* methods already rank by fileID).
func (b *CrossRefBuilder) ResolveCallee(projectID string, fileID int64, targetType, targetName string, targetClass *string) (CrossRefKind, string, bool) {
	switch targetType {
	case "method":
		if targetClass == nil || *targetClass == "" {
			return "", "", false
		}
		m, err := b.facade.FindMethodByClassAndName(projectID, fileID, *targetClass, targetName)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				log.Printf("crossref: resolve callee method %s.%s: %v", *targetClass, targetName, err)
			}
			return "", "", false
		}
		return CrossRefMethod, m.ID, true
	case "class":
		c, err := b.facade.FindClassByName(projectID, fileID, targetName)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				log.Printf("crossref: resolve callee class %s: %v", targetName, err)
			}
			return "", "", false
		}
		return CrossRefClass, c.ID, true
	case "function":
		fn, err := b.facade.FindFunctionByName(projectID, fileID, targetName)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				log.Printf("crossref: resolve callee function %s: %v", targetName, err)
			}
			return "", "", false
		}
		return CrossRefFunction, fn.ID, true
	default:
		return "", "", false
	}
}

// BuildEntityCrossRefForFile iterates the file's raw usages, resolves
// caller and callee for each, and inserts one EntityCrossRef per fully
// resolved pair. Unresolved usages are silently skipped; per-row insertion
// failures are logged and counted but never abort the batch.
// Returns the count of cross-refs successfully inserted.
func (b *CrossRefBuilder) BuildEntityCrossRefForFile(fileID int64, projectID string) (int, error) {
	usages, err := b.facade.GetUsagesForFile(fileID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, u := range usages {
		callerKind, callerID, ok := b.ResolveCaller(fileID, u.Line)
		if !ok {
			continue
		}
		calleeKind, calleeID, ok := b.ResolveCallee(projectID, fileID, u.TargetType, u.TargetName, u.TargetClass)
		if !ok {
			continue
		}

		ref := EntityCrossRef{
			CallerKind: callerKind,
			CalleeKind: calleeKind,
			RefType:    refTypeForUsage(u.UsageType),
			FileID:     fileID,
			Line:       u.Line,
		}
		setCallerID(&ref, callerKind, callerID)
		setCalleeID(&ref, calleeKind, calleeID)

		if _, err := b.facade.AddEntityCrossRef(ref); err != nil {
			log.Printf("crossref: insert cross-ref for usage at file %d line %d: %v", fileID, u.Line, err)
			continue
		}
		inserted++
	}
	return inserted, nil
}

func refTypeForUsage(usageType string) string {
	if AcceptedCrossRefTypes[usageType] {
		return usageType
	}
	return "call"
}

func setCallerID(ref *EntityCrossRef, kind CrossRefKind, id string) {
	switch kind {
	case CrossRefClass:
		ref.CallerClassID = &id
	case CrossRefMethod:
		ref.CallerMethodID = &id
	case CrossRefFunction:
		ref.CallerFunctionID = &id
	}
}

func setCalleeID(ref *EntityCrossRef, kind CrossRefKind, id string) {
	switch kind {
	case CrossRefClass:
		ref.CalleeClassID = &id
	case CrossRefMethod:
		ref.CalleeMethodID = &id
	case CrossRefFunction:
		ref.CalleeFunctionID = &id
	}
}
