// Package store defines the small key-value contract shared by the response
// cache and the usage ledgers, plus the compare-and-swap update loop they use
// to keep their invariants under concurrent writers.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrConflict is returned by Update when the compare-and-swap loop keeps losing.
var ErrConflict = errors.New("store: too many concurrent updates")

// Store is a namespaced key-value store. Values are opaque JSON documents.
type Store interface {
	// Get returns the value for key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put unconditionally writes value under key.
	Put(ctx context.Context, key string, value []byte) error
	// CompareAndSwap writes next only if the stored value equals old.
	// A nil old means the key must be absent.
	CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists every key in the namespace.
	Keys(ctx context.Context) ([]string, error)
	// Close releases resources.
	Close() error
}

const maxUpdateAttempts = 16

// Update applies fn to the current value of key and stores the result with
// CompareAndSwap, retrying when another writer got there first. fn receives
// nil when the key is absent and must not retain the slice.
func Update(ctx context.Context, s Store, key string, fn func(old []byte) ([]byte, error)) ([]byte, error) {
	for range maxUpdateAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		old, found, err := s.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("store get %q: %w", key, err)
		}
		if !found {
			old = nil
		} else if old == nil {
			old = []byte{}
		}
		next, err := fn(old)
		if err != nil {
			return nil, err
		}
		ok, err := s.CompareAndSwap(ctx, key, old, next)
		if err != nil {
			return nil, fmt.Errorf("store swap %q: %w", key, err)
		}
		if ok {
			return next, nil
		}
	}
	return nil, ErrConflict
}
