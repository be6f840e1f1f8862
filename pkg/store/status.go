package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"proxy-keepalive/pkg/models"
)

type StatusEntry struct {
	Status    models.Status    `json:"status"`
	Timestamp models.Timestamp `json:"timestamp"`
}

// StatusFile is the aggregate proxy -> status map, rewritten on every status
// change. It is written by all runners, so updates are serialized.
type StatusFile struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: filepath.Clean(path), now: time.Now}
}

func (f *StatusFile) WithClock(now func() time.Time) *StatusFile {
	f.now = now
	return f
}

// Record sets the status of proxyID. An unreadable file is replaced.
func (f *StatusFile) Record(proxyID string, status models.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		entries = map[string]StatusEntry{}
	}
	entries[proxyID] = StatusEntry{Status: status, Timestamp: models.Timestamp{Time: f.now()}}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status file: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, storeDirMode); err != nil {
			return fmt.Errorf("create status directory: %w", err)
		}
	}

	return writeFileAtomic(f.path, data)
}

// Read returns all entries. A missing file yields an empty map.
func (f *StatusFile) Read() (map[string]StatusEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *StatusFile) read() (map[string]StatusEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]StatusEntry{}, nil
		}
		return nil, fmt.Errorf("read status file: %w", err)
	}

	entries := map[string]StatusEntry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode status file: %w", err)
	}
	return entries, nil
}
