// Package diskstore implements the on-disk half of the engine: one file per
// key, fanned out into 256 subdirectories by the first byte of a truncated
// sha256 of the key. It never interprets values; it serializes and returns
// them unchanged via encoding/gob.
package diskstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

// Record is the on-disk representation of one key-value pair. Keeping Key
// alongside Value lets ScanKeys recover the original key and lets Load
// detect a hash collision by comparing the stored key to the requested one.
type Record struct {
	Key       string
	Value     interface{}
	Timestamp time.Time
}

// Store is a content-addressed, sharded file store. It is safe for
// concurrent use: writes to distinct keys never collide on a path, and
// writes to the same key are made atomic via a temp-file-then-rename.
type Store struct {
	dir string
	ext string
}

// New creates a Store rooted at dir, creating dir if it does not exist.
func New(dir, ext string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskstore: create data dir: %w", err)
	}
	return &Store{dir: dir, ext: ext}, nil
}

// shardPath computes the deterministic file path for key: a 128-bit prefix
// of sha256(key), hex-encoded, split into a 2-character subdirectory and the
// full hash as the filename.
func (s *Store) shardPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:16])
	return filepath.Join(s.dir, h[:2], h+s.ext)
}

// Save writes key/value to disk, overwriting any prior record. The write is
// made observable atomically by writing to a sibling temp file first and
// renaming it into place, so a concurrent Load never sees a truncated file.
func (s *Store) Save(key string, value interface{}) error {
	path := s.shardPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("diskstore: mkdir shard dir: %w", err)
	}

	tmp, err := s.writeTemp(dir, Record{Key: key, Value: value, Timestamp: time.Now()})
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("diskstore: rename into place: %w", err)
	}
	return nil
}

func (s *Store) writeTemp(dir string, rec Record) (string, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("diskstore: generate temp suffix: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-%s", hex.EncodeToString(suffix[:])))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("diskstore: create temp file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(rec); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("diskstore: encode record: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("diskstore: close temp file: %w", err)
	}
	return tmpPath, nil
}

// Load reads the value stored for key. It returns (nil, false, nil) if the
// key has no record, or if a record exists at the shard path but its stored
// key doesn't match (a hash collision), per the collision policy in the
// spec: callers must treat both the same as not-found.
func (s *Store) Load(key string) (interface{}, bool, error) {
	path := s.shardPath(key)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("diskstore: open %s: %w", path, err)
	}
	defer f.Close()

	var rec Record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return nil, false, fmt.Errorf("diskstore: decode %s: %w", path, err)
	}
	if rec.Key != key {
		return nil, false, nil
	}
	return rec.Value, true, nil
}

// Remove deletes the record for key. A missing file is not an error.
func (s *Store) Remove(key string) error {
	err := os.Remove(s.shardPath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("diskstore: remove: %w", err)
	}
	return nil
}

// Exists reports whether a file is present for key. It does not validate
// the record's contents or check for a collision.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.shardPath(key))
	return err == nil
}

// ScanKeys walks the data directory and recovers every key stored, skipping
// any file that fails to deserialize or doesn't carry the store's extension.
// It honors ctx cancellation between files.
func (s *Store) ScanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	walkErr := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() || filepath.Ext(path) != s.ext {
			return nil
		}

		key, ok := readKey(path)
		if ok {
			keys = append(keys, key)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) && !errors.Is(walkErr, context.DeadlineExceeded) {
		return keys, walkErr
	}
	return keys, walkErr
}

// readKey opens, decodes, and closes path before returning, so ScanKeys
// never holds more than one file descriptor open at a time during a large
// directory walk.
func readKey(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	var rec Record
	if err := gob.NewDecoder(f).Decode(&rec); err != nil {
		return "", false
	}
	return rec.Key, true
}

// ClearAll removes the entire data directory and recreates it empty.
func (s *Store) ClearAll() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("diskstore: clear: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("diskstore: recreate data dir: %w", err)
	}
	return nil
}
