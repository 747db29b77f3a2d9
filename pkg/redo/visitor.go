package redo

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Visitor is the redo-log callback boundary (spec §6): one method per record
// kind a log can hold. A TailReplayer drives a Visitor's methods in log
// order; everything above this boundary (what "store" actually does to an
// index, whether a transaction's writes get buffered or applied eagerly) is
// the caller's concern, not this package's.
type Visitor interface {
	// Reset is called before any other method, to let the visitor discard
	// whatever state it's carrying from a previous replay. A TailReplayer
	// also calls it for every reset record it replays.
	Reset() error

	// Timestamp marks wall-clock time as of the following records.
	Timestamp(t time.Time) error

	// Shutdown records a clean engine shutdown.
	Shutdown() error

	// Close is called once replay has driven every record in the file.
	Close() error

	// EndFile marks the boundary between one physical log segment and the
	// next, numbered from zero.
	EndFile(fileNum uint64) error

	// Store replays a locked write of value under key in the named index.
	Store(index string, key, value []byte) error

	// StoreNoLock replays a write performed without taking the index's
	// normal lock (e.g. bulk load), so the visitor shouldn't expect the
	// surrounding txnEnter/txnCommit bracket a locked Store would have.
	StoreNoLock(index string, key, value []byte) error

	// DropIndex replays the removal of a named index entirely.
	DropIndex(index string) error

	// RenameIndex replays an index being renamed from oldName to newName.
	RenameIndex(oldName, newName string) error

	// TxnEnter marks the start of transaction id's operations.
	TxnEnter(id uuid.UUID) error

	// TxnRollback replays an in-progress rollback of transaction id.
	TxnRollback(id uuid.UUID) error

	// TxnRollbackFinal marks transaction id's rollback as complete.
	TxnRollbackFinal(id uuid.UUID) error

	// TxnCommit replays an in-progress commit of transaction id.
	TxnCommit(id uuid.UUID) error

	// TxnCommitFinal marks transaction id's commit as complete.
	TxnCommitFinal(id uuid.UUID) error

	// TxnStore replays a write made under transaction id.
	TxnStore(id uuid.UUID, index string, key, value []byte) error

	// TxnStoreCommitFinal replays a write that was transaction id's last
	// operation before that transaction's commit completed, combining what
	// would otherwise be a TxnStore followed immediately by a
	// TxnCommitFinal into one record.
	TxnStoreCommitFinal(id uuid.UUID, index string, key, value []byte) error
}

// Apply drives the one Visitor method r.Kind corresponds to.
func Apply(v Visitor, r Record) error {
	switch r.Kind {
	case KindReset:
		return v.Reset()
	case KindTimestamp:
		return v.Timestamp(r.Timestamp)
	case KindShutdown:
		return v.Shutdown()
	case KindClose:
		return v.Close()
	case KindEndFile:
		return v.EndFile(r.FileNum)
	case KindStore:
		return v.Store(r.Index, r.Key, r.Value)
	case KindStoreNoLock:
		return v.StoreNoLock(r.Index, r.Key, r.Value)
	case KindDropIndex:
		return v.DropIndex(r.Index)
	case KindRenameIndex:
		return v.RenameIndex(r.Index, r.NewIndex)
	case KindTxnEnter:
		return v.TxnEnter(r.Txn)
	case KindTxnRollback:
		return v.TxnRollback(r.Txn)
	case KindTxnRollbackFinal:
		return v.TxnRollbackFinal(r.Txn)
	case KindTxnCommit:
		return v.TxnCommit(r.Txn)
	case KindTxnCommitFinal:
		return v.TxnCommitFinal(r.Txn)
	case KindTxnStore:
		return v.TxnStore(r.Txn, r.Index, r.Key, r.Value)
	case KindTxnStoreCommitFinal:
		return v.TxnStoreCommitFinal(r.Txn, r.Index, r.Key, r.Value)
	default:
		return fmt.Errorf("redo: unknown record kind %q", r.Kind)
	}
}

// Writer appends Records to a log file, the write-side counterpart to
// TailReplayer. Grounded in the teacher's RecoveryManager.flushLog: append
// the serialized line, fsync immediately, one mutex guarding the file handle.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// OpenWriter opens (creating if necessary) the log file at path for appending.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o664)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f}, nil
}

// Write appends r to the log and syncs before returning.
func (w *Writer) Write(r Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.WriteString(r.toString()); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
