package metadb

import (
	"fmt"
	"time"

	"github.com/threefoldtech/s3-cas/internal/caserr"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// BucketsTree is the typed facade over the _BUCKETS partition.
type BucketsTree struct {
	store kvstore.Store
}

// NewBucketsTree wraps store's bucket partition.
func NewBucketsTree(store kvstore.Store) *BucketsTree {
	return &BucketsTree{store: store}
}

// Init opens the _BUCKETS partition.
func (t *BucketsTree) Init() error {
	return t.store.OpenPartition(PartitionBuckets)
}

// Create inserts a new bucket record, failing with caserr.ErrBucketAlreadyExists if the name is taken.
func (t *BucketsTree) Create(name string, createdAt time.Time) error {
	return t.store.Update(func(tx kvstore.Tx) error {
		_, ok, err := tx.Get(PartitionBuckets, []byte(name))
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", name, err)
		}
		if ok {
			return fmt.Errorf("bucket %s: %w", name, caserr.ErrBucketAlreadyExists)
		}
		rec := model.BucketRecord{Name: name, CreationTime: createdAt}
		return tx.Put(PartitionBuckets, []byte(name), EncodeBucket(rec))
	})
}

// Exists reports whether a bucket record is present.
func (t *BucketsTree) Exists(name string) (bool, error) {
	var ok bool
	err := t.store.View(func(tx kvstore.Tx) error {
		_, found, err := tx.Get(PartitionBuckets, []byte(name))
		ok = found
		return err
	})
	return ok, err
}

// Get fetches one bucket record.
func (t *BucketsTree) Get(name string) (model.BucketRecord, bool, error) {
	var rec model.BucketRecord
	var ok bool
	err := t.store.View(func(tx kvstore.Tx) error {
		data, found, err := tx.Get(PartitionBuckets, []byte(name))
		if err != nil || !found {
			return err
		}
		ok = true
		rec, err = DecodeBucket(data)
		return err
	})
	return rec, ok, err
}

// List returns every bucket record, in no particular order.
func (t *BucketsTree) List() ([]model.BucketRecord, error) {
	var out []model.BucketRecord
	err := t.store.View(func(tx kvstore.Tx) error {
		return tx.Scan(PartitionBuckets, kvstore.ScanOptions{}, func(key, value []byte) error {
			rec, err := DecodeBucket(value)
			if err != nil {
				return fmt.Errorf("decode bucket %s: %w", key, err)
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// Drop removes a bucket's record. It does not touch the bucket's object
// partition or release any blocks — the engine's cascade-delete orchestrates that.
func (t *BucketsTree) Drop(name string) error {
	return t.store.Update(func(tx kvstore.Tx) error {
		return tx.Delete(PartitionBuckets, []byte(name))
	})
}
