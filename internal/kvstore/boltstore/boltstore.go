// Package boltstore implements kvstore.Store over go.etcd.io/bbolt, the
// recommended ("transactional") backend. bbolt buckets are the partitions;
// bbolt's single-writer *bbolt.Tx gives atomic cross-partition commits for
// free, which is exactly the contract spec.md §4.A asks the transactional
// storage_engine mode to provide.
package boltstore

import (
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	bolt "go.etcd.io/bbolt"
)

// Store is a kvstore.Store backed by a single bbolt database file.
type Store struct {
	db *bolt.DB
}

var _ kvstore.Store = (*Store)(nil)

// Open opens (creating if necessary) a bbolt database at path, configuring
// its durability per d.
//
//   - DurabilityBuffer maps to bbolt's NoSync mode: commits return once the
//     write is in the OS page cache, without an fsync. Fast, unsafe across crashes.
//   - DurabilityFdatasync and DurabilityFsync both map to bbolt's default
//     (NoSync=false), which fsyncs the data file on every commit; bbolt does
//     not expose a separate metadata-only fsync tier, so the two converge here.
func Open(path string, d config.Durability) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	db.NoSync = d == config.DurabilityBuffer
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// OpenPartition creates the named bucket if it does not already exist.
func (s *Store) OpenPartition(partition string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(partition))
		return err
	})
}

// DropPartition deletes the named bucket and everything in it.
func (s *Store) DropPartition(partition string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(partition))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// View runs fn in a read-only bbolt transaction.
func (s *Store) View(fn func(kvstore.Tx) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a read-write bbolt transaction; bbolt rolls back
// automatically if fn (or the commit) returns an error.
func (s *Store) Update(fn func(kvstore.Tx) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) bucket(partition string) (*bolt.Bucket, error) {
	b := t.tx.Bucket([]byte(partition))
	if b == nil {
		return nil, fmt.Errorf("partition %q not open: %w", partition, kvstore.ErrNotFound)
	}
	return b, nil
}

func (t *boltTx) Get(partition string, key []byte) ([]byte, bool, error) {
	b, err := t.bucket(partition)
	if err != nil {
		return nil, false, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	// bbolt's returned slice is only valid for the transaction's lifetime;
	// copy it out so callers can hold onto it afterward.
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *boltTx) Put(partition string, key, value []byte) error {
	b, err := t.bucket(partition)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *boltTx) Delete(partition string, key []byte) error {
	b, err := t.bucket(partition)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

func (t *boltTx) Count(partition string) (int, error) {
	b, err := t.bucket(partition)
	if err != nil {
		return 0, err
	}
	return b.Stats().KeyN, nil
}

func (t *boltTx) Scan(partition string, opts kvstore.ScanOptions, fn func(key, value []byte) error) error {
	b, err := t.bucket(partition)
	if err != nil {
		return err
	}
	c := b.Cursor()

	var k, v []byte
	if opts.StartAfter != nil && (opts.Prefix == nil || string(opts.StartAfter) >= string(opts.Prefix)) {
		k, v = c.Seek(opts.StartAfter)
		if k != nil && string(k) == string(opts.StartAfter) {
			k, v = c.Next()
		}
	} else if opts.Prefix != nil {
		k, v = c.Seek(opts.Prefix)
	} else {
		k, v = c.First()
	}

	visited := 0
	for ; k != nil; k, v = c.Next() {
		if opts.Prefix != nil && !hasPrefix(k, opts.Prefix) {
			break
		}
		if err := fn(k, v); err != nil {
			return err
		}
		visited++
		if opts.Limit > 0 && visited >= opts.Limit {
			break
		}
	}
	return nil
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
