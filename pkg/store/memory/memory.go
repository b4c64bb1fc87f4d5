// Package memory implements the key-value store on top of go-cache. Nothing
// survives the process.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// Store is an in-process key-value store.
type Store struct {
	mu    sync.Mutex
	items *gocache.Cache
}

// New creates an empty Store.
func New() *Store {
	return &Store{items: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the value for key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v.([]byte)...), true, nil
}

// Put writes value under key.
func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Set(key, append([]byte{}, value...), gocache.NoExpiration)
	return nil
}

// CompareAndSwap writes next if the current value equals old.
func (s *Store) CompareAndSwap(_ context.Context, key string, old, next []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, had := s.items.Get(key)
	if old == nil {
		if had {
			return false, nil
		}
	} else if !had || !bytes.Equal(cur.([]byte), old) {
		return false, nil
	}
	s.items.Set(key, append([]byte{}, next...), gocache.NoExpiration)
	return true, nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(key)
	return nil
}

// Keys lists every key in sorted order.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	items := s.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close flushes the store.
func (s *Store) Close() error {
	s.items.Flush()
	return nil
}
