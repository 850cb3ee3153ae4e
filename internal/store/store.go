// Package store is the persistent text key/value store that holds
// network and firewall settings.  Keys are slash-separated paths such
// as "/network/port"; values are strings.
//
// Storage access counts as a slow shared resource: every operation runs
// while holding the process pacer so connection poll loops back off
// for its duration.
package store

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"gotcp/internal/pacer"
)

// Well-known keys.
const (
	KeyBind        = "/network/bind"
	KeyPort        = "/network/port"
	KeyTimeout     = "/network/timeout"
	KeyBacklog     = "/network/backlog"
	KeyWorkers     = "/network/workers"
	KeyAllow       = "/firewall/allow"
	KeyDeny        = "/firewall/deny"
	KeyLastMetrics = "/metrics/last"
)

// Store is a badger-backed path/value store.
type Store struct {
	db    *badger.DB
	pacer *pacer.Pacer
}

// Open opens (or creates) the store in dir.  An empty dir gives a
// memory-only store that vanishes on Close.
func Open(dir string, p *pacer.Pacer) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	opts.NumVersionsToKeep = 1
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %q: %w", dir, err)
	}
	return &Store{db: db, pacer: p}, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Read returns the value at path.  ok is false when the path has never
// been written.
func (s *Store) Read(path string) (value string, ok bool, err error) {
	key, err := normalize(path)
	if err != nil {
		return "", false, err
	}
	err = s.pacer.Do(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, ok = string(data), true
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("store read %s: %w", path, err)
	}
	return value, ok, nil
}

// Write stores value at path, replacing any previous value.
func (s *Store) Write(path, value string) error {
	key, err := normalize(path)
	if err != nil {
		return err
	}
	err = s.pacer.Do(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, []byte(value))
		})
	})
	if err != nil {
		return fmt.Errorf("store write %s: %w", path, err)
	}
	return nil
}

// Delete removes path.  Deleting a missing path is not an error.
func (s *Store) Delete(path string) error {
	key, err := normalize(path)
	if err != nil {
		return err
	}
	return s.pacer.Do(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
	})
}

// Scan calls fn for every path under prefix, in key order.
func (s *Store) Scan(prefix string, fn func(path, value string) error) error {
	key, err := normalize(prefix)
	if err != nil {
		return err
	}
	return s.pacer.Do(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = key
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(key); it.Valid(); it.Next() {
				item := it.Item()
				data, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if err := fn(string(item.Key()), string(data)); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// normalize makes every key absolute and free of trailing slashes so
// "network/port" and "/network/port/" name the same entry.
func normalize(path string) ([]byte, error) {
	p := strings.Trim(strings.TrimSpace(path), "/")
	if p == "" {
		return nil, fmt.Errorf("store: empty path")
	}
	return []byte("/" + p), nil
}
