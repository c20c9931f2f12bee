package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soulcraft-research/brainy/pkg/errs"
)

// Operation identifies the kind of mutation a WALEntry records.
type Operation string

const (
	OpInsertNoun           Operation = "insert_noun"
	OpUpdateNounConnections Operation = "update_noun_connections"
	OpInsertVerb           Operation = "insert_verb"
	OpDeleteNoun           Operation = "delete_noun"
	OpDeleteVerb           Operation = "delete_verb"
	OpCheckpoint           Operation = "checkpoint"
)

// WALEntry is a single write-ahead log record. Mutating operations are
// appended here before they are applied to the storage adapter, so a
// crash between the two leaves an entry that replay can finish.
type WALEntry struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Operation Operation `json:"op"`
	Data      []byte    `json:"data"`
	Checksum  uint32    `json:"checksum"`
}

// SyncMode controls how aggressively WAL writes are flushed to disk.
type SyncMode string

const (
	SyncImmediate SyncMode = "immediate"
	SyncBatch     SyncMode = "batch"
	SyncNone      SyncMode = "none"
)

// WALConfig configures WAL behavior.
type WALConfig struct {
	Dir               string
	SyncMode          SyncMode
	BatchSyncInterval time.Duration
}

// DefaultWALConfig returns the defaults brainy uses when none are
// supplied: batched fsync every 100ms, grounded on the teacher's
// DefaultWALConfig.
func DefaultWALConfig(dir string) WALConfig {
	return WALConfig{
		Dir:               dir,
		SyncMode:          SyncBatch,
		BatchSyncInterval: 100 * time.Millisecond,
	}
}

// WAL provides write-ahead logging for durability. Safe for concurrent
// use.
type WAL struct {
	mu       sync.Mutex
	cfg      WALConfig
	file     *os.File
	writer   *bufio.Writer
	encoder  *json.Encoder
	sequence atomic.Uint64
	closed   atomic.Bool

	syncTicker *time.Ticker
	stopSync   chan struct{}
}

// NewWAL opens (or creates) the WAL file under cfg.Dir.
func NewWAL(cfg WALConfig) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: wal mkdir: %w", err)
	}

	path := filepath.Join(cfg.Dir, "wal.log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("store: wal open: %w", err)
	}

	w := &WAL{
		cfg:      cfg,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		stopSync: make(chan struct{}),
	}
	w.encoder = json.NewEncoder(w.writer)

	if seq, err := lastSequence(path); err == nil {
		w.sequence.Store(seq)
	}

	if cfg.SyncMode == SyncBatch && cfg.BatchSyncInterval > 0 {
		w.syncTicker = time.NewTicker(cfg.BatchSyncInterval)
		go w.batchSyncLoop()
	}

	return w, nil
}

func lastSequence(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var last uint64
	dec := json.NewDecoder(file)
	for {
		var entry WALEntry
		if err := dec.Decode(&entry); err != nil {
			break
		}
		last = entry.Sequence
	}
	return last, nil
}

func (w *WAL) batchSyncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			_ = w.Sync()
		case <-w.stopSync:
			return
		}
	}
}

// Append writes a new entry recording op over data.
func (w *WAL) Append(op Operation, data any) (uint64, error) {
	if w.closed.Load() {
		return 0, errs.Unavailable
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("store: wal marshal: %w", err)
	}

	seq := w.sequence.Add(1)
	entry := WALEntry{
		Sequence:  seq,
		Timestamp: time.Now(),
		Operation: op,
		Data:      payload,
		Checksum:  checksum(payload),
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(&entry); err != nil {
		return 0, fmt.Errorf("store: wal write: %w", err)
	}

	if w.cfg.SyncMode == SyncImmediate {
		return seq, w.syncLocked()
	}
	return seq, nil
}

// Sync flushes buffered writes to disk.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return errs.Unavailable
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("store: wal flush: %w", err)
	}
	if w.cfg.SyncMode != SyncNone {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("store: wal fsync: %w", err)
		}
	}
	return nil
}

// Checkpoint appends an OpCheckpoint marker entry. Nothing truncates the
// log at a checkpoint; Reset is the only truncation and empties the
// whole log.
func (w *WAL) Checkpoint() (uint64, error) {
	return w.Append(OpCheckpoint, map[string]any{"at": time.Now()})
}

// Reset truncates the WAL to empty and resets the sequence counter. A
// writer calls this once its startup replay has confirmed every entry
// was durably applied, so the next crash only needs to replay what
// happened since this run.
func (w *WAL) Reset() error {
	if w.closed.Load() {
		return errs.Unavailable
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("store: wal flush before reset: %w", err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("store: wal truncate: %w", err)
	}
	w.sequence.Store(0)
	return nil
}

// Close flushes and closes the WAL.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.syncLocked()
	return w.file.Close()
}

// Sequence returns the current sequence number.
func (w *WAL) Sequence() uint64 {
	return w.sequence.Load()
}

// Replay reads every entry in the WAL file in order, calling fn for
// each. A checksum mismatch quarantines the remainder of the read as
// errs.Corruption rather than silently skipping it, so callers know
// recovery stopped partway through.
func Replay(dir string, fn func(WALEntry) error) error {
	path := filepath.Join(dir, "wal.log")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: wal replay open: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	for {
		var entry WALEntry
		if err := dec.Decode(&entry); err != nil {
			break
		}
		if checksum(entry.Data) != entry.Checksum {
			return fmt.Errorf("store: wal entry %d: %w", entry.Sequence, errs.Corruption)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return nil
}

// checksum is a simple rolling CRC-like checksum, kept identical to the
// teacher's WAL implementation so entries written by either are
// interchangeable in format.
func checksum(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum = (sum >> 8) ^ uint32(b)
		sum ^= sum << 16
	}
	return sum
}
