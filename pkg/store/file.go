package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"proxy-keepalive/pkg/models"
)

const (
	storeDirMode   = 0o700
	recordFileMode = 0o600
)

// legacyNameReplacer is the naming used by earlier session files. It is not
// injective, so it is only read as a fallback and never written.
var legacyNameReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

// FileStore keeps one JSON file per proxy under dir. Writes go through a temp
// file and rename, so records for different proxies never interfere and a
// crash leaves either the old or the new record.
type FileStore struct {
	dir       string
	freshness time.Duration
	now       func() time.Time
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, freshness time.Duration) *FileStore {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	return &FileStore{dir: filepath.Clean(dir), freshness: freshness, now: time.Now}
}

// WithClock replaces the clock used for freshness checks.
func (s *FileStore) WithClock(now func() time.Time) *FileStore {
	s.now = now
	return s
}

func (s *FileStore) Load(ctx context.Context, proxyID string) (models.Record, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, err
	}

	data, err := os.ReadFile(s.path(proxyID))
	if errors.Is(err, os.ErrNotExist) {
		data, err = os.ReadFile(s.legacyPath(proxyID))
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Record{}, ErrNotFound
		}
		return models.Record{}, fmt.Errorf("read session record: %w", err)
	}

	rec, err := models.DecodeRecord(data)
	if err != nil {
		return models.Record{}, fmt.Errorf("decode session record: %w", err)
	}

	if err := CheckFresh(rec, s.now(), s.freshness); err != nil {
		return models.Record{}, err
	}

	return rec, nil
}

func (s *FileStore) Save(ctx context.Context, proxyID string, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}

	if err := os.MkdirAll(s.dir, storeDirMode); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	return writeFileAtomic(s.path(proxyID), data)
}

func (s *FileStore) Delete(ctx context.Context, proxyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, path := range []string{s.path(proxyID), s.legacyPath(proxyID)} {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete session record: %w", err)
		}
	}
	return nil
}

// path maps proxyID to its record file. Query escaping is injective and
// leaves no path separators or colons in the name.
func (s *FileStore) path(proxyID string) string {
	return filepath.Join(s.dir, url.QueryEscape(strings.TrimSpace(proxyID))+".json")
}

func (s *FileStore) legacyPath(proxyID string) string {
	return filepath.Join(s.dir, legacyNameReplacer.Replace(strings.TrimSpace(proxyID))+".json")
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(recordFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}

	return nil
}
