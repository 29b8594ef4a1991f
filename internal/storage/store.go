package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// SchemaVersion tags every persisted file.
const SchemaVersion = 1

// Header is the common envelope on every persisted JSON file.
type Header struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Document wraps a payload with the file header.
type Document[T any] struct {
	Header
	Data T `json:"data"`
}

// Store persists JSON documents under a root directory using the
// write-temp-then-rename pattern, so readers never observe a partial file.
type Store struct {
	root string
}

// New creates a store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the store's base directory.
func (s *Store) Root() string {
	return s.root
}

// path joins relative path elements under the store root.
func (s *Store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

// Write marshals a headered document and atomically replaces the file at
// the given relative path.
func Write[T any](s *Store, id string, data T, elem ...string) error {
	doc := Document[T]{
		Header: Header{ID: id, SchemaVersion: SchemaVersion, LastUpdated: time.Now().UTC()},
		Data:   data,
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}

	final := s.path(elem...)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", final, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(final), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", final, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", final, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp for %s: %w", final, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", final, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", final, err)
	}
	return nil
}

// Read loads a headered document from the given relative path. A not-found
// race against a concurrent rename is retried once.
func Read[T any](s *Store, elem ...string) (*Document[T], error) {
	final := s.path(elem...)
	raw, err := os.ReadFile(final)
	if errors.Is(err, fs.ErrNotExist) {
		// One retry: a writer may be mid-rename.
		time.Sleep(10 * time.Millisecond)
		raw, err = os.ReadFile(final)
	}
	if err != nil {
		return nil, err
	}
	var doc Document[T]
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", final, err)
	}
	return &doc, nil
}

// Exists reports whether a file exists at the relative path.
func (s *Store) Exists(elem ...string) bool {
	_, err := os.Stat(s.path(elem...))
	return err == nil
}
