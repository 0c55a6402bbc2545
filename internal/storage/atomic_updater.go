package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ParsedClass is one class/struct/interface-like declaration a Parser
// extracts from a source file, with its methods nested so the updater can
// link each method to its owning class without a second lookup.
type ParsedClass struct {
	Name      string
	Line      int
	EndLine   *int
	Docstring string
	Bases     []string
	Methods   []ParsedMethod
}

// ParsedMethod is one method declared on a ParsedClass.
type ParsedMethod struct {
	Name              string
	Line              int
	EndLine           *int
	Args              []string
	Docstring         string
	IsAbstract        bool
	HasPass           bool
	HasNotImplemented bool
	Complexity        *int
}

// ParsedFunction is one free function declared at file scope.
type ParsedFunction struct {
	Name       string
	Line       int
	EndLine    *int
	Args       []string
	Docstring  string
	Complexity *int
}

// ParsedImport is one import/include statement.
type ParsedImport struct {
	Name       string
	Module     *string
	ImportType string
	Line       int
}

// ParsedUsage is one raw, unresolved reference the cross-ref builder will
// later try to resolve into an EntityCrossRef.
type ParsedUsage struct {
	Line        int
	UsageType   string
	TargetType  string
	TargetClass *string
	TargetName  string
	Context     *string
}

// ParsedFile is the structured result a Parser produces from one file's
// source text: the boundary artifact the atomic updater walks to populate
// classes, methods, functions, imports, and usages, plus the two
// serialized syntax tree representations it persists verbatim.
type ParsedFile struct {
	Classes      []ParsedClass
	Functions    []ParsedFunction
	Imports      []ParsedImport
	Usages       []ParsedUsage
	HasDocstring bool
	AST          []byte
	CST          []byte
}

// Parser is the external source-language front end producing syntax
// trees. ParseFile must return an error wrapping ErrSyntaxError when the
// source fails to parse; the atomic updater treats any other error the
// same way since either aborts the transaction identically.
type Parser interface {
	ParseFile(path string, source []byte) (*ParsedFile, error)
}

// AtomicUpdateResult is the structured outcome of one per-file update.
type AtomicUpdateResult struct {
	Success         bool
	FileID          int64
	ASTUpdated      bool
	CSTUpdated      bool
	EntitiesUpdated bool
	Error           error
}

// AtomicFileUpdater rewrites all derived artifacts for one source file. The
// *Atomic variant requires an already-active transaction on the facade; the
// non-transactional sibling runs the identical pipeline unwrapped, for bulk
// initial ingest where the caller manages its own batching.
type AtomicFileUpdater struct {
	facade *Facade
	parser Parser
}

// NewAtomicFileUpdater builds an updater over the given facade and parser
// collaborator.
func NewAtomicFileUpdater(facade *Facade, parser Parser) *AtomicFileUpdater {
	return &AtomicFileUpdater{facade: facade, parser: parser}
}

// UpdateFileDataAtomic requires an active transaction on the facade,
// failing with ErrNotInTransaction otherwise, and performs the full
// parse-then-replace sequence inside it. The caller commits or rolls back
// the surrounding transaction; this method never does so itself.
func (u *AtomicFileUpdater) UpdateFileDataAtomic(filePath, projectID, rootDir, sourceCode string) (*AtomicUpdateResult, error) {
	if !u.facade.InTransaction() {
		return nil, ErrNotInTransaction
	}
	return u.run(filePath, projectID, rootDir, sourceCode)
}

// UpdateFileData runs the same pipeline without requiring (or creating) a
// transaction, for bulk initial ingest. Callers that must coordinate other
// writes atomically should use UpdateFileDataAtomic inside Facade.Transaction
// instead.
func (u *AtomicFileUpdater) UpdateFileData(filePath, projectID, rootDir, sourceCode string) (*AtomicUpdateResult, error) {
	return u.run(filePath, projectID, rootDir, sourceCode)
}

func (u *AtomicFileUpdater) run(filePath, projectID, rootDir, sourceCode string) (*AtomicUpdateResult, error) {
	absPath := filePath
	if !filepath.IsAbs(absPath) {
		absPath = filepath.Join(rootDir, filePath)
	}

	file, err := u.facade.GetFileByPath(projectID, absPath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &AtomicUpdateResult{Success: false, Error: ErrFileNotFound}, ErrFileNotFound
		}
		return &AtomicUpdateResult{Success: false, Error: err}, err
	}

	parsed, err := u.parser.ParseFile(absPath, []byte(sourceCode))
	if err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", ErrSyntaxError, filePath, err)
		return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: wrapped}, wrapped
	}

	// Step 3: clear every derived row owned by this file. Foreign-key
	// cascades handle most of it once classes/functions are gone; the
	// cross-refs whose caller/callee is owned by this file via an entity
	// join (not a direct file_id column) need the explicit delete.
	if err := u.facade.ClearFileData(file.ID); err != nil {
		return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
	}
	if err := u.facade.DeleteEntityCrossRefForFile(file.ID); err != nil {
		return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
	}

	mtime := float64(time.Now().UnixNano()) / 1e9
	astUpdated, cstUpdated := false, false

	if len(parsed.AST) > 0 {
		if _, err := u.facade.AddASTTree(ASTTree{
			FileID: file.ID, Hash: hashBytes(parsed.AST), FileMtime: mtime, Serialized: parsed.AST,
		}); err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
		astUpdated = true
	}
	if len(parsed.CST) > 0 {
		if _, err := u.facade.AddCSTTree(CSTTree{
			FileID: file.ID, Hash: hashBytes(parsed.CST), FileMtime: mtime, Serialized: parsed.CST,
		}); err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
		cstUpdated = true
	}

	// Step 5: classes, then their methods linked by class id, then free
	// functions, then imports and usages.
	for _, pc := range parsed.Classes {
		classID, err := u.facade.AddClass(Class{
			FileID: file.ID, Name: pc.Name, Line: pc.Line, EndLine: pc.EndLine,
			Docstring: pc.Docstring, Bases: strings.Join(pc.Bases, ","),
		})
		if err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
		if pc.Docstring != "" {
			if _, err := u.facade.AddCodeContent(CodeContent{
				EntityKind: CrossRefClass, EntityID: classID, FileID: file.ID, Docstring: pc.Docstring,
			}); err != nil {
				return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
			}
		}

		for _, pm := range pc.Methods {
			methodID, err := u.facade.AddMethod(Method{
				ClassID: classID, Name: pm.Name, Line: pm.Line, EndLine: pm.EndLine,
				Args: strings.Join(pm.Args, ","), Docstring: pm.Docstring,
				IsAbstract: pm.IsAbstract, HasPass: pm.HasPass, HasNotImplemented: pm.HasNotImplemented,
				Complexity: pm.Complexity,
			})
			if err != nil {
				return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
			}
			if pm.Docstring != "" {
				if _, err := u.facade.AddCodeContent(CodeContent{
					EntityKind: CrossRefMethod, EntityID: methodID, FileID: file.ID, Docstring: pm.Docstring,
				}); err != nil {
					return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
				}
			}
		}
	}

	for _, pf := range parsed.Functions {
		fnID, err := u.facade.AddFunction(Function{
			FileID: file.ID, Name: pf.Name, Line: pf.Line, EndLine: pf.EndLine,
			Args: strings.Join(pf.Args, ","), Docstring: pf.Docstring, Complexity: pf.Complexity,
		})
		if err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
		if pf.Docstring != "" {
			if _, err := u.facade.AddCodeContent(CodeContent{
				EntityKind: CrossRefFunction, EntityID: fnID, FileID: file.ID, Docstring: pf.Docstring,
			}); err != nil {
				return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
			}
		}
	}

	for _, pi := range parsed.Imports {
		if _, err := u.facade.AddImport(Import{
			FileID: file.ID, Name: pi.Name, Module: pi.Module, ImportType: pi.ImportType, Line: pi.Line,
		}); err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
	}

	for _, pu := range parsed.Usages {
		if _, err := u.facade.AddUsage(Usage{
			FileID: file.ID, Line: pu.Line, UsageType: pu.UsageType, TargetType: pu.TargetType,
			TargetClass: pu.TargetClass, TargetName: pu.TargetName, Context: pu.Context,
		}); err != nil {
			return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
		}
	}

	// Step 6: ensure no chunks remain so the vectorization worker re-chunks
	// the file from its new content.
	if err := u.facade.MarkFileNeedsChunking(file.ID); err != nil {
		return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
	}

	lines := strings.Count(sourceCode, "\n") + 1
	if err := u.facade.UpdateFileMetadata(file.ID, lines, mtime, parsed.HasDocstring); err != nil {
		return &AtomicUpdateResult{Success: false, FileID: file.ID, Error: err}, err
	}

	return &AtomicUpdateResult{
		Success: true, FileID: file.ID, ASTUpdated: astUpdated, CSTUpdated: cstUpdated, EntitiesUpdated: true,
	}, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
