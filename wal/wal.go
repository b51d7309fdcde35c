// Package wal implements Cryo's write-ahead log: entries are applied to
// the B-Tree and appended to an on-disk log before a mutation is
// acknowledged, so a crash between the two is recovered by replaying
// the log the next time the log is opened.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/DavisRayM/cryo/btree"
	"github.com/DavisRayM/cryo/pager"
	"github.com/DavisRayM/cryo/row"
)

// EntryKind identifies what a log entry represents.
type EntryKind uint8

const (
	EntryInsert EntryKind = iota
	EntryUpdate
	EntryDelete
	EntryCheckpoint
)

const (
	tagSize = 1
	lenSize = 8
)

// ErrSerialize is returned when an entry cannot be written to the log.
var ErrSerialize = errors.New("wal: serialize error")

// ErrDeserialize is returned when an entry cannot be parsed during
// replay; by contract this is treated as a torn tail, not a hard fault.
var ErrDeserialize = errors.New("wal: deserialize error")

// Entry is one record in the log: a mutation carrying its row, or a
// bare GlobalCheckpoint marker.
type Entry struct {
	Kind EntryKind
	Row  row.Row
}

// Encode serializes the entry as tag(1) [len(8) row(len)].
func (e Entry) Encode() []byte {
	if e.Kind == EntryCheckpoint {
		return []byte{byte(e.Kind)}
	}
	rowBytes := e.Row.Encode(nil)
	buf := make([]byte, tagSize+lenSize+len(rowBytes))
	buf[0] = byte(e.Kind)
	binary.BigEndian.PutUint64(buf[tagSize:tagSize+lenSize], uint64(len(rowBytes)))
	copy(buf[tagSize+lenSize:], rowBytes)
	return buf
}

// decodeEntry reads one entry from the front of buf, returning the
// entry and the number of bytes consumed. Any truncation or unknown
// tag is reported as ErrDeserialize — the caller treats this as the
// torn tail of a log interrupted by a crash, not a hard failure.
func decodeEntry(buf []byte) (Entry, int, error) {
	if len(buf) < tagSize {
		return Entry{}, 0, fmt.Errorf("wal: truncated tag: %w", ErrDeserialize)
	}
	kind := EntryKind(buf[0])
	if kind == EntryCheckpoint {
		return Entry{Kind: kind}, tagSize, nil
	}
	if kind != EntryInsert && kind != EntryUpdate && kind != EntryDelete {
		return Entry{}, 0, fmt.Errorf("wal: unknown entry kind %d: %w", kind, ErrDeserialize)
	}
	if len(buf) < tagSize+lenSize {
		return Entry{}, 0, fmt.Errorf("wal: truncated length: %w", ErrDeserialize)
	}
	n := binary.BigEndian.Uint64(buf[tagSize : tagSize+lenSize])
	if uint64(len(buf)-tagSize-lenSize) < n {
		return Entry{}, 0, fmt.Errorf("wal: truncated payload: %w", ErrDeserialize)
	}
	total := tagSize + lenSize + int(n)
	rw, consumed, err := row.Decode(buf[tagSize+lenSize : total])
	if err != nil || consumed != int(n) {
		return Entry{}, 0, fmt.Errorf("wal: decode row: %w", ErrDeserialize)
	}
	return Entry{Kind: kind, Row: rw}, total, nil
}

func apply(tree *btree.BTree, e Entry) error {
	switch e.Kind {
	case EntryInsert:
		value, err := e.Row.Value()
		if err != nil {
			return err
		}
		return tree.Insert(e.Row.ID(), value)
	case EntryUpdate:
		value, err := e.Row.Value()
		if err != nil {
			return err
		}
		return tree.Update(e.Row.ID(), value)
	case EntryDelete:
		return tree.Delete(e.Row.ID())
	case EntryCheckpoint:
		return nil
	default:
		return fmt.Errorf("wal: apply: unsupported entry kind %d", e.Kind)
	}
}

// Logger owns the pager and the append-only log file in front of it. It
// is the only component permitted to mutate the pager's durable state.
type Logger struct {
	mu              sync.Mutex
	pager           *pager.Pager
	tree            *btree.BTree
	file            *os.File
	checkpointEvery int
	sinceCheckpoint int
}

// Open opens (creating if absent) the log file at path, replays any
// entries against p via a fresh B-Tree, and leaves the pager's commit
// flag disabled so replayed mutations live only in the page cache until
// the next checkpoint. checkpointEvery, if > 0, triggers an automatic
// GlobalCheckpoint every N logged mutations; 0 disables auto-checkpoint.
func Open(path string, p *pager.Pager, checkpointEvery int) (*Logger, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("wal: read log %s: %w", path, err)
	}

	tree := btree.New(p)
	p.Commit(false)

	offset := 0
	for offset < len(data) {
		entry, n, err := decodeEntry(data[offset:])
		if err != nil {
			break
		}
		if err := apply(tree, entry); err != nil {
			return nil, fmt.Errorf("wal: replay at offset %d: %w", offset, err)
		}
		offset += n
	}

	if offset != len(data) {
		if err := os.Truncate(path, int64(offset)); err != nil {
			return nil, fmt.Errorf("wal: truncate torn tail: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("wal: open log %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("wal: seek log end: %w", err)
	}

	return &Logger{pager: p, tree: tree, file: f, checkpointEvery: checkpointEvery}, nil
}

// Log applies entry to the B-Tree, then appends and flushes it to the
// log file. Once the log write is flushed, the mutation survives a
// crash even if the pager's bytes are not yet on disk.
func (l *Logger) Log(kind EntryKind, r row.Row) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := apply(l.tree, Entry{Kind: kind, Row: r}); err != nil {
		return fmt.Errorf("wal: log: %w", err)
	}

	buf := Entry{Kind: kind, Row: r}.Encode()
	if _, err := l.file.Write(buf); err != nil {
		return fmt.Errorf("wal: append entry: %w: %v", ErrSerialize, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("wal: flush entry: %w: %v", ErrSerialize, err)
	}

	l.sinceCheckpoint++
	if l.checkpointEvery > 0 && l.sinceCheckpoint >= l.checkpointEvery {
		return l.checkpointLocked()
	}
	return nil
}

// Insert logs and applies an insert of id/value.
func (l *Logger) Insert(id uint64, value []byte) error {
	return l.Log(EntryInsert, row.NewLeaf(id, value))
}

// Update logs and applies an update of id to value.
func (l *Logger) Update(id uint64, value []byte) error {
	return l.Log(EntryUpdate, row.NewLeaf(id, value))
}

// Delete logs and applies a deletion of id.
func (l *Logger) Delete(id uint64) error {
	return l.Log(EntryDelete, row.NewLeaf(id, nil))
}

// Get returns the current value stored under id.
func (l *Logger) Get(id uint64) (row.Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Get(id)
}

// Select returns every row via a full B-Tree traversal. Reads bypass
// the log entirely.
func (l *Logger) Select() ([]row.Row, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Select()
}

// Structure returns a DOT-language rendering of the current page tree.
func (l *Logger) Structure() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Structure()
}

// Checkpoint flushes the pager to disk and truncates the log to zero
// length, the atomic act after which the log contains nothing still
// pending.
func (l *Logger) Checkpoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpointLocked()
}

func (l *Logger) checkpointLocked() error {
	l.pager.Commit(true)
	if err := l.pager.Flush(); err != nil {
		l.pager.Commit(false)
		return fmt.Errorf("wal: checkpoint flush: %w", err)
	}
	l.pager.Commit(false)

	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("wal: checkpoint truncate: %w", err)
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: checkpoint seek: %w", err)
	}
	l.sinceCheckpoint = 0
	return nil
}

// Close runs a final checkpoint and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkpointLocked(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
