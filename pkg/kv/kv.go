// Package kv is the persistent store of an earbud: small records under
// hierarchical keys such as ["feature", "anc"]. It replaces the persistent
// store keys of the firmware.
//
// Memory backs tests; Badger backs the daemon.
package kv

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Separator joins key segments in storage.
const Separator = ':'

// Key is a hierarchical path. Segments must not contain Separator.
type Key []string

func (k Key) String() string {
	return strings.Join(k, string(Separator))
}

func (k Key) encode() []byte {
	return []byte(k.String())
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), string(Separator)))
}

// prefix returns the encoded scan prefix of k, which ends in Separator
// unless k is empty.
func (k Key) prefix() []byte {
	if len(k) == 0 {
		return nil
	}
	return append(k.encode(), Separator)
}

// Entry is a key-value pair returned by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path keys.
type Store interface {
	// Get returns ErrNotFound if key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)
	Set(ctx context.Context, key Key, value []byte) error
	// Delete succeeds if key is absent.
	Delete(ctx context.Context, key Key) error
	// List yields entries under prefix in key order.
	List(ctx context.Context, prefix Key) iter.Seq2[Entry, error]
	Close() error
}

// GetValue reads key and decodes it as msgpack into v.
func GetValue(ctx context.Context, s Store, key Key, v any) error {
	b, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return nil
}

// SetValue encodes v as msgpack and stores it under key.
func SetValue(ctx context.Context, s Store, key Key, v any) error {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, b)
}
