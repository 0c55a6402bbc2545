package storageproxy

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Backend is the minimal surface the server needs from the storage
// package to execute proxied commands. storage.BackendAdapter (wrapping an
// InProcessDriver) satisfies it; the server depends on this narrow interface rather than importing
// internal/storage directly to avoid a storage <-> storageproxy import
// cycle (storage.ProxyDriver imports storageproxy as a client).
type Backend interface {
	Execute(query string, args ...interface{}) (sql.Result, error)
	FetchOne(query string, args ...interface{}) (map[string]interface{}, error)
	FetchAll(query string, args ...interface{}) ([]map[string]interface{}, error)
	Begin() error
	Commit() error
	Rollback() error
	InTransaction() bool
	GetTableInfoRaw(table string) ([]map[string]interface{}, error)
}

// Server listens on a Unix domain socket and serializes every command
// against a single Backend, giving the proxy driver's is_thread_safe=true
// guarantee: concurrency is handled here, not by callers.
type Server struct {
	mu       sync.Mutex
	backend  Backend
	listener net.Listener
	lock     *flock.Flock
	txByID   map[string]bool
}

// NewServer acquires an advisory lock at lockPath (guarding against a
// second worker process starting against the same database) and binds the
// Unix socket at socketPath.
func NewServer(backend Backend, socketPath, lockPath string) (*Server, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("storageproxy: acquire singleton lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("storageproxy: another worker already holds %s", lockPath)
	}

	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("storageproxy: listen %s: %w", socketPath, err)
	}

	return &Server{backend: backend, listener: ln, lock: lock, txByID: map[string]bool{}}, nil
}

// Serve accepts connections until the listener is closed. Each connection
// is handled on its own goroutine, but every command acquires s.mu so
// commands from different connections are still fully serialized against
// the single backend — the defining property of the proxy variant.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close releases the socket and the singleton lock.
func (s *Server) Close() error {
	err := s.listener.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}

		resp := s.dispatch(req)
		data, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if _, err := writer.Write(data); err != nil {
			return
		}
		if err := writer.WriteByte('\n'); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Operation {
	case OpPing:
		return Response{Success: true}

	case OpBegin:
		if s.backend.InTransaction() {
			return errorResponse(ErrorKindTransactionAlreadyActive, "transaction already active")
		}
		if err := s.backend.Begin(); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		txID := uuid.New().String()
		s.txByID[txID] = true
		return dataResponse(BeginResult{TxID: txID})

	case OpCommit:
		if !s.backend.InTransaction() {
			return errorResponse(ErrorKindNoActiveTransaction, "no active transaction")
		}
		if err := s.backend.Commit(); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		delete(s.txByID, req.TxID)
		return Response{Success: true}

	case OpRollback:
		if !s.backend.InTransaction() {
			return errorResponse(ErrorKindNoActiveTransaction, "no active transaction")
		}
		if err := s.backend.Rollback(); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		delete(s.txByID, req.TxID)
		return Response{Success: true}

	case OpExecute:
		var args ExecuteArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		res, err := s.backend.Execute(args.SQL, args.Args...)
		if err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		lastID, _ := res.LastInsertId()
		affected, _ := res.RowsAffected()
		return dataResponse(ExecuteResult{RowsAffected: affected, LastInsertID: lastID})

	case OpFetchOne:
		var args FetchArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		row, err := s.backend.FetchOne(args.SQL, args.Args...)
		if errors.Is(err, sql.ErrNoRows) {
			// No-rows is not an error at the protocol level: an empty
			// payload lets the client reconstruct its own no-rows sentinel.
			return Response{Success: true}
		}
		if err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		return dataResponse(row)

	case OpFetchAll:
		var args FetchArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		rows, err := s.backend.FetchAll(args.SQL, args.Args...)
		if err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		return dataResponse(rows)

	case OpGetTableInfo:
		var args TableInfoArgs
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		cols, err := s.backend.GetTableInfoRaw(args.Table)
		if err != nil {
			return errorResponse(ErrorKindSQL, err.Error())
		}
		return dataResponse(cols)

	default:
		return errorResponse("", fmt.Sprintf("unknown operation %q", req.Operation))
	}
}

func dataResponse(v interface{}) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResponse(ErrorKindSQL, err.Error())
	}
	return Response{Success: true, Data: data}
}

func errorResponse(kind, msg string) Response {
	return Response{Success: false, Error: msg, ErrorKind: kind}
}
