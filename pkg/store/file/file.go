// Package file implements the key-value store as a single human-diffable JSON
// object on disk. Every write rewrites the whole file.
//
// A store opened with OpenDocument holds exactly one key whose value is the
// whole file, so records with a fixed top-level shape stay readable by other
// tools.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrForeignKey is returned by a single-document store for any other key.
var ErrForeignKey = errors.New("key not held by this document")

// Store keeps the document in memory and persists it on every write.
type Store struct {
	mu   sync.Mutex
	path string
	doc  string // set for single-document stores
	data map[string]json.RawMessage
}

// Open loads path if it exists, or starts an empty document.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: make(map[string]json.RawMessage)}

	raw, err := read(path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return s, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	for k, v := range doc {
		c, err := compact(v)
		if err != nil {
			return nil, fmt.Errorf("parse store %s key %q: %w", path, k, err)
		}
		s.data[k] = c
	}
	return s, nil
}

// OpenDocument loads path as the single value of key. A missing or empty file
// means the key is absent.
func OpenDocument(path, key string) (*Store, error) {
	s := &Store{path: path, doc: key, data: make(map[string]json.RawMessage)}

	raw, err := read(path)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return s, nil
	}
	c, err := compact(raw)
	if err != nil {
		return nil, fmt.Errorf("parse store %s: %w", path, err)
	}
	s.data[key] = c
	return s, nil
}

// read returns nil for a missing or blank file.
func read(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	return raw, nil
}

func (s *Store) owns(key string) error {
	if s.doc != "" && key != s.doc {
		return fmt.Errorf("%q in %s: %w", key, s.path, ErrForeignKey)
	}
	return nil
}

func compact(v []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

// Put writes value under key and persists the document.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	if err := s.owns(key); err != nil {
		return err
	}
	c, err := compact(value)
	if err != nil {
		return fmt.Errorf("put %q: value is not JSON: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data[key]
	s.data[key] = c
	if err := s.persist(); err != nil {
		if had {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// CompareAndSwap writes next if the current value equals old.
func (s *Store) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	if err := s.owns(key); err != nil {
		return false, err
	}
	c, err := compact(next)
	if err != nil {
		return false, fmt.Errorf("swap %q: value is not JSON: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, had := s.data[key]
	if old == nil {
		if had {
			return false, nil
		}
	} else if !had || !bytes.Equal(cur, old) {
		return false, nil
	}

	s.data[key] = c
	if err := s.persist(); err != nil {
		if had {
			s.data[key] = cur
		} else {
			delete(s.data, key)
		}
		return false, err
	}
	return true, nil
}

// Delete removes key and persists the document.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.data[key]
	if !had {
		return nil
	}
	delete(s.data, key)
	if err := s.persist(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Keys lists every key in sorted order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; every write is already on disk.
func (s *Store) Close() error {
	return nil
}

// persist writes the document atomically. Caller holds s.mu.
func (s *Store) persist() error {
	out, err := s.encode()
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

func (s *Store) encode() ([]byte, error) {
	if s.doc == "" {
		return json.MarshalIndent(s.data, "", "  ")
	}
	v, ok := s.data[s.doc]
	if !ok {
		return []byte{}, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
