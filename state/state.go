package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger remembers which attachment payloads have been written and where,
// so identical payloads are stored once.
type Ledger interface {
	Lookup(hash string) (string, bool)
	Record(hash, path string) error
	Snapshot() Snapshot
	Close() error
}

type Snapshot struct {
	Recorded int
}

// Hash returns the key a payload is recorded under.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type MemoryLedger struct {
	mu      sync.RWMutex
	written map[string]string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{written: make(map[string]string)}
}

func (m *MemoryLedger) Lookup(hash string) (string, bool) {
	if hash == "" {
		return "", false
	}

	m.mu.RLock()
	path, ok := m.written[hash]
	m.mu.RUnlock()
	return path, ok
}

func (m *MemoryLedger) Record(hash, path string) error {
	if hash == "" {
		return nil
	}

	m.mu.Lock()
	m.written[hash] = path
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.written)
	m.mu.RUnlock()
	return Snapshot{Recorded: count}
}

func (m *MemoryLedger) Close() error {
	return nil
}

// StateFile is the ledger file inside the state directory, one JSON record
// per line.
const StateFile = "attachments.jsonl"

// FileLedger persists recorded payloads so later runs against the same
// output directory skip attachments they already wrote.
type FileLedger struct {
	*MemoryLedger
	path    string
	persist bool

	writeMu sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	enc     *json.Encoder
}

type fileRecord struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
}

func NewFileLedger(stateDir string, persist bool) (*FileLedger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	ledger := &FileLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         filepath.Join(stateDir, StateFile),
		persist:      persist,
	}
	if err := ledger.load(); err != nil {
		return nil, err
	}
	if !persist {
		return ledger, nil
	}

	file, err := os.OpenFile(ledger.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	ledger.file = file
	ledger.buf = bufio.NewWriterSize(file, 64*1024)
	ledger.enc = json.NewEncoder(ledger.buf)
	return ledger, nil
}

// load replays the state file. Records pointing at files that no longer
// exist are forgotten so their payload gets written again.
func (f *FileLedger) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	for n := 1; ; n++ {
		var record fileRecord
		err := dec.Decode(&record)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse state record %d: %w", n, err)
		}
		if record.Hash == "" {
			continue
		}
		if _, err := os.Stat(record.Path); err != nil {
			continue
		}
		_ = f.MemoryLedger.Record(record.Hash, record.Path)
	}
}

// Record keeps the first path seen for a hash and appends it to the state
// file when persisting.
func (f *FileLedger) Record(hash, path string) error {
	if hash == "" {
		return nil
	}

	f.mu.Lock()
	_, exists := f.written[hash]
	if !exists {
		f.written[hash] = path
	}
	f.mu.Unlock()
	if exists || !f.persist {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := f.enc.Encode(fileRecord{Hash: hash, Path: path}); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	return nil
}

// Flush writes buffered records through to disk.
func (f *FileLedger) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.flushLocked()
}

func (f *FileLedger) flushLocked() error {
	if f.file == nil {
		return nil
	}
	if err := f.buf.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file. It is safe to call twice.
func (f *FileLedger) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.file == nil {
		return nil
	}

	err := f.flushLocked()
	if cerr := f.file.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close state file: %w", cerr))
	}
	f.file = nil
	return err
}
