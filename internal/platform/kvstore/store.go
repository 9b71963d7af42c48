// Package kvstore provides the small string-keyed durable storage the
// companion uses for its session, reminder state and trigger table.
package kvstore

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidKey is returned for empty or whitespace-only keys.
var ErrInvalidKey = errors.New("kvstore: invalid key")

// Store is a durable string key-value store. Implementations must survive
// process restarts (except MemoryStore, which is used in tests and dry runs).
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Set writes key. An empty value removes the key.
	Set(ctx context.Context, key, value string) error
	// SetMulti writes every entry in one batch. An empty value removes the key.
	SetMulti(ctx context.Context, entries map[string]string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	return nil
}

func validateEntries(entries map[string]string) error {
	for k := range entries {
		if err := validateKey(k); err != nil {
			return err
		}
	}
	return nil
}
