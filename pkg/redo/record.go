// Package redo defines the redo-log visitor boundary (spec §6) and a
// reverse-tailing replay driver. The engine's own write path stays outside
// this package's scope per spec's Non-goals (no undo log, no transaction
// commit/rollback state machine above the node level); what lives here is
// the *record format* a log writer could emit and the *driver* that walks
// it, so a caller's own Visitor implementation can plug in redo behavior
// without this package knowing what "redo" means for their index.
//
// Grounded in the teacher's pkg/recovery/log.go: a tiny textual log with one
// struct per record kind, serialized with fmt.Sprintf and parsed back with
// per-kind regexps rather than a binary or gob encoding.
package redo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which Visitor method a Record drives.
type Kind string

// The sixteen record kinds, one per Visitor method (spec §6).
const (
	KindReset                Kind = "reset"
	KindTimestamp             Kind = "timestamp"
	KindShutdown             Kind = "shutdown"
	KindClose                Kind = "close"
	KindEndFile              Kind = "endFile"
	KindStore                Kind = "store"
	KindStoreNoLock          Kind = "storeNoLock"
	KindDropIndex            Kind = "dropIndex"
	KindRenameIndex          Kind = "renameIndex"
	KindTxnEnter             Kind = "txnEnter"
	KindTxnRollback          Kind = "txnRollback"
	KindTxnRollbackFinal     Kind = "txnRollbackFinal"
	KindTxnCommit            Kind = "txnCommit"
	KindTxnCommitFinal       Kind = "txnCommitFinal"
	KindTxnStore             Kind = "txnStore"
	KindTxnStoreCommitFinal  Kind = "txnStoreCommitFinal"
)

// Record is one parsed log line. Only the fields relevant to its Kind are
// populated; the rest are zero.
type Record struct {
	Kind      Kind
	Timestamp time.Time
	FileNum   uint64
	Index     string
	NewIndex  string // RenameIndex's destination name
	Key       []byte
	Value     []byte
	Txn       uuid.UUID
}

// uuidPattern matches the textual form google/uuid.UUID.String() produces.
const uuidPattern = "[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}"
const wordPattern = `\w+`
const hexPattern = "[0-9a-f]*"

var (
	resetExp   = regexp.MustCompile(`^< reset >$`)
	tsExp      = regexp.MustCompile(`^< timestamp (?P<ts>\S+) >$`)
	shutdownExp = regexp.MustCompile(`^< shutdown >$`)
	closeExp   = regexp.MustCompile(`^< close >$`)
	endFileExp = regexp.MustCompile(`^< endFile (?P<n>\d+) >$`)
	storeExp   = regexp.MustCompile(fmt.Sprintf(`^< store (?P<idx>%s) (?P<key>%s) (?P<val>%s) >$`, wordPattern, hexPattern, hexPattern))
	storeNLExp = regexp.MustCompile(fmt.Sprintf(`^< storeNoLock (?P<idx>%s) (?P<key>%s) (?P<val>%s) >$`, wordPattern, hexPattern, hexPattern))
	dropExp    = regexp.MustCompile(fmt.Sprintf(`^< dropIndex (?P<idx>%s) >$`, wordPattern))
	renameExp  = regexp.MustCompile(fmt.Sprintf(`^< renameIndex (?P<old>%s) (?P<new>%s) >$`, wordPattern, wordPattern))
	enterExp   = regexp.MustCompile(fmt.Sprintf(`^< txnEnter (?P<tx>%s) >$`, uuidPattern))
	rollExp    = regexp.MustCompile(fmt.Sprintf(`^< txnRollback (?P<tx>%s) >$`, uuidPattern))
	rollFExp   = regexp.MustCompile(fmt.Sprintf(`^< txnRollbackFinal (?P<tx>%s) >$`, uuidPattern))
	commitExp  = regexp.MustCompile(fmt.Sprintf(`^< txnCommit (?P<tx>%s) >$`, uuidPattern))
	commitFExp = regexp.MustCompile(fmt.Sprintf(`^< txnCommitFinal (?P<tx>%s) >$`, uuidPattern))
	txnStoreExp = regexp.MustCompile(fmt.Sprintf(`^< txnStore (?P<tx>%s) (?P<idx>%s) (?P<key>%s) (?P<val>%s) >$`, uuidPattern, wordPattern, hexPattern, hexPattern))
	txnStoreCFExp = regexp.MustCompile(fmt.Sprintf(`^< txnStoreCommitFinal (?P<tx>%s) (?P<idx>%s) (?P<key>%s) (?P<val>%s) >$`, uuidPattern, wordPattern, hexPattern, hexPattern))
)

// toString serializes r the way the teacher's log structs do: one
// fmt.Sprintf call producing a single "< ... >" line, newline-terminated.
func (r Record) toString() string {
	switch r.Kind {
	case KindReset:
		return "< reset >\n"
	case KindTimestamp:
		return fmt.Sprintf("< timestamp %s >\n", r.Timestamp.UTC().Format(time.RFC3339Nano))
	case KindShutdown:
		return "< shutdown >\n"
	case KindClose:
		return "< close >\n"
	case KindEndFile:
		return fmt.Sprintf("< endFile %d >\n", r.FileNum)
	case KindStore:
		return fmt.Sprintf("< store %s %s %s >\n", r.Index, hex.EncodeToString(r.Key), hex.EncodeToString(r.Value))
	case KindStoreNoLock:
		return fmt.Sprintf("< storeNoLock %s %s %s >\n", r.Index, hex.EncodeToString(r.Key), hex.EncodeToString(r.Value))
	case KindDropIndex:
		return fmt.Sprintf("< dropIndex %s >\n", r.Index)
	case KindRenameIndex:
		return fmt.Sprintf("< renameIndex %s %s >\n", r.Index, r.NewIndex)
	case KindTxnEnter:
		return fmt.Sprintf("< txnEnter %s >\n", r.Txn)
	case KindTxnRollback:
		return fmt.Sprintf("< txnRollback %s >\n", r.Txn)
	case KindTxnRollbackFinal:
		return fmt.Sprintf("< txnRollbackFinal %s >\n", r.Txn)
	case KindTxnCommit:
		return fmt.Sprintf("< txnCommit %s >\n", r.Txn)
	case KindTxnCommitFinal:
		return fmt.Sprintf("< txnCommitFinal %s >\n", r.Txn)
	case KindTxnStore:
		return fmt.Sprintf("< txnStore %s %s %s %s >\n", r.Txn, r.Index, hex.EncodeToString(r.Key), hex.EncodeToString(r.Value))
	case KindTxnStoreCommitFinal:
		return fmt.Sprintf("< txnStoreCommitFinal %s %s %s %s >\n", r.Txn, r.Index, hex.EncodeToString(r.Key), hex.EncodeToString(r.Value))
	default:
		return ""
	}
}

// parseRecord converts one log line back into a Record, the reverse of
// toString. Like the teacher's logFromString, it's a plain switch over
// which compiled regexp matches rather than a shared tagged-union decoder.
func parseRecord(line string) (Record, error) {
	line = strings.TrimSpace(line)
	switch {
	case resetExp.MatchString(line):
		return Record{Kind: KindReset}, nil
	case tsExp.MatchString(line):
		m := tsExp.FindStringSubmatch(line)
		t, err := time.Parse(time.RFC3339Nano, m[1])
		if err != nil {
			return Record{}, fmt.Errorf("redo: bad timestamp record: %w", err)
		}
		return Record{Kind: KindTimestamp, Timestamp: t}, nil
	case shutdownExp.MatchString(line):
		return Record{Kind: KindShutdown}, nil
	case closeExp.MatchString(line):
		return Record{Kind: KindClose}, nil
	case endFileExp.MatchString(line):
		m := endFileExp.FindStringSubmatch(line)
		n, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindEndFile, FileNum: n}, nil
	case storeExp.MatchString(line):
		m := storeExp.FindStringSubmatch(line)
		key, val, err := decodeKV(m[2], m[3])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindStore, Index: m[1], Key: key, Value: val}, nil
	case storeNLExp.MatchString(line):
		m := storeNLExp.FindStringSubmatch(line)
		key, val, err := decodeKV(m[2], m[3])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindStoreNoLock, Index: m[1], Key: key, Value: val}, nil
	case dropExp.MatchString(line):
		m := dropExp.FindStringSubmatch(line)
		return Record{Kind: KindDropIndex, Index: m[1]}, nil
	case renameExp.MatchString(line):
		m := renameExp.FindStringSubmatch(line)
		return Record{Kind: KindRenameIndex, Index: m[1], NewIndex: m[2]}, nil
	case enterExp.MatchString(line):
		id, err := uuid.Parse(enterExp.FindStringSubmatch(line)[1])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnEnter, Txn: id}, nil
	case rollExp.MatchString(line):
		id, err := uuid.Parse(rollExp.FindStringSubmatch(line)[1])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnRollback, Txn: id}, nil
	case rollFExp.MatchString(line):
		id, err := uuid.Parse(rollFExp.FindStringSubmatch(line)[1])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnRollbackFinal, Txn: id}, nil
	case commitExp.MatchString(line):
		id, err := uuid.Parse(commitExp.FindStringSubmatch(line)[1])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnCommit, Txn: id}, nil
	case commitFExp.MatchString(line):
		id, err := uuid.Parse(commitFExp.FindStringSubmatch(line)[1])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnCommitFinal, Txn: id}, nil
	case txnStoreExp.MatchString(line):
		m := txnStoreExp.FindStringSubmatch(line)
		id, err := uuid.Parse(m[1])
		if err != nil {
			return Record{}, err
		}
		key, val, err := decodeKV(m[3], m[4])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnStore, Txn: id, Index: m[2], Key: key, Value: val}, nil
	case txnStoreCFExp.MatchString(line):
		m := txnStoreCFExp.FindStringSubmatch(line)
		id, err := uuid.Parse(m[1])
		if err != nil {
			return Record{}, err
		}
		key, val, err := decodeKV(m[3], m[4])
		if err != nil {
			return Record{}, err
		}
		return Record{Kind: KindTxnStoreCommitFinal, Txn: id, Index: m[2], Key: key, Value: val}, nil
	default:
		return Record{}, errors.New("redo: could not parse log record: " + line)
	}
}

func decodeKV(keyHex, valHex string) ([]byte, []byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, nil, fmt.Errorf("redo: bad key hex: %w", err)
	}
	val, err := hex.DecodeString(valHex)
	if err != nil {
		return nil, nil, fmt.Errorf("redo: bad value hex: %w", err)
	}
	return key, val, nil
}
