/*
Package kvstore defines the ordered, partitioned byte-key/byte-value store
the CAS engine builds its metadata trees on.

# Architecture

A Store exposes named partitions (bbolt calls these buckets; the teacher's
own pkg/storage uses the same shape for cluster state). Every partition is
opened-or-created lazily and holds an independent ordered byte-keyed map.

Two backends implement Store:

  - boltstore: production backend over go.etcd.io/bbolt. Transactions are
    real — bbolt's single-writer *bbolt.Tx gives atomic commits across every
    partition opened in the same database file.
  - memstore: in-process, map-backed backend for tests and for the
    "best_effort_undo" storage engine mode. It simulates rollback with a
    recorded undo list rather than a true transaction log, and is explicitly
    documented as unsafe for multi-writer block-pool sharing — a crash
    mid-Update can leave partially-applied mutations visible.

# Usage

	store, _ := boltstore.Open("/var/lib/cas/db", config.DurabilityFdatasync)
	defer store.Close()

	err := store.Update(func(tx kvstore.Tx) error {
		return tx.Put("_BLOCKS", blockID[:], encoded)
	})
*/
package kvstore

import "errors"

// ErrNotFound is wrapped into the error the bbolt backend's Tx methods return
// when the named partition has not been opened. A key with no value is not an
// error: Tx.Get reports it through its ok result.
var ErrNotFound = errors.New("kvstore: key not found")

// ScanOptions bounds a range scan over one partition.
type ScanOptions struct {
	// Prefix restricts the scan to keys sharing this byte prefix. Nil means no restriction.
	Prefix []byte
	// StartAfter skips keys lexicographically <= this value. Nil means start at the beginning.
	StartAfter []byte
	// Limit caps the number of keys visited. Zero means unlimited.
	Limit int
}

// Tx is a view over one or more partitions, valid only for the lifetime of
// the callback passed to Store.View or Store.Update. Implementations must
// not perform I/O outside of partition Get/Put/Delete/Scan/Count — in
// particular, a Tx handed to Store.Update must never be held across a
// suspension point by the caller.
type Tx interface {
	// Get fetches the value of key in partition. ok is false if the key is absent.
	Get(partition string, key []byte) (value []byte, ok bool, err error)
	// Put writes key=value into partition, creating or replacing the record.
	Put(partition string, key, value []byte) error
	// Delete removes key from partition. It is not an error if the key is already absent.
	Delete(partition string, key []byte) error
	// Count returns the number of keys currently in partition.
	Count(partition string) (int, error)
	// Scan visits keys in partition in ascending order subject to opts,
	// calling fn for each. Scan stops and returns fn's error if fn returns non-nil.
	Scan(partition string, opts ScanOptions, fn func(key, value []byte) error) error
}

// Store is a named-partition ordered byte-keyed store with transactional
// (or best-effort-undo) multi-partition writes.
type Store interface {
	// OpenPartition creates partition if it does not already exist. Safe to call repeatedly.
	OpenPartition(partition string) error
	// DropPartition deletes partition and all of its keys. Not an error if absent.
	DropPartition(partition string) error
	// View runs fn in a read-only transaction. fn must not mutate any partition.
	View(fn func(Tx) error) error
	// Update runs fn in a read-write transaction, committing atomically if fn
	// returns nil and rolling back (or undoing, in the best-effort backend)
	// if fn returns an error.
	Update(fn func(Tx) error) error
	// Close releases the store's resources (file handles, in-memory state).
	Close() error
}
