package metadb

import (
	"encoding/base64"
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// ObjectsTree is the typed facade over a bucket's object partition, keyed by
// object key as raw bytes.
type ObjectsTree struct {
	store kvstore.Store
}

// NewObjectsTree wraps store's per-bucket object partitions.
func NewObjectsTree(store kvstore.Store) *ObjectsTree {
	return &ObjectsTree{store: store}
}

// Init opens bucket's object partition.
func (t *ObjectsTree) Init(bucket string) error {
	return t.store.OpenPartition(ObjectPartition(bucket))
}

// Drop deletes bucket's entire object partition. Callers must release every
// referenced block beforehand (see internal/blockpool.ReleaseObject) — Drop
// itself only removes the metadata.
func (t *ObjectsTree) Drop(bucket string) error {
	return t.store.DropPartition(ObjectPartition(bucket))
}

// GetTx fetches an object record within an existing transaction.
func (t *ObjectsTree) GetTx(tx kvstore.Tx, bucket, key string) (model.ObjectRecord, bool, error) {
	data, ok, err := tx.Get(ObjectPartition(bucket), []byte(key))
	if err != nil || !ok {
		return model.ObjectRecord{}, ok, err
	}
	rec, err := DecodeObject(data)
	if err != nil {
		return model.ObjectRecord{}, false, fmt.Errorf("decode object %s/%s: %w", bucket, key, err)
	}
	return rec, true, nil
}

// Get fetches an object record in its own read transaction.
func (t *ObjectsTree) Get(bucket, key string) (model.ObjectRecord, bool, error) {
	var rec model.ObjectRecord
	var ok bool
	err := t.store.View(func(tx kvstore.Tx) error {
		var err error
		rec, ok, err = t.GetTx(tx, bucket, key)
		return err
	})
	return rec, ok, err
}

// PutTx writes an object record within an existing transaction.
func (t *ObjectsTree) PutTx(tx kvstore.Tx, bucket, key string, rec model.ObjectRecord) error {
	return tx.Put(ObjectPartition(bucket), []byte(key), EncodeObject(rec))
}

// Put writes an object record in its own write transaction.
func (t *ObjectsTree) Put(bucket, key string, rec model.ObjectRecord) error {
	return t.store.Update(func(tx kvstore.Tx) error {
		return t.PutTx(tx, bucket, key, rec)
	})
}

// DeleteTx removes an object record within an existing transaction.
func (t *ObjectsTree) DeleteTx(tx kvstore.Tx, bucket, key string) error {
	return tx.Delete(ObjectPartition(bucket), []byte(key))
}

// Delete removes an object record in its own write transaction.
func (t *ObjectsTree) Delete(bucket, key string) error {
	return t.store.Update(func(tx kvstore.Tx) error {
		return t.DeleteTx(tx, bucket, key)
	})
}

// Entry is one row returned by List.
type Entry struct {
	Key    string
	Record model.ObjectRecord
}

// List performs a range-filtered scan of bucket's object partition,
// restricted to keys sharing prefix, optionally resuming after startAfter or
// an opaque continuation token, capped at maxKeys results. nextToken is
// non-empty iff more results remain.
func (t *ObjectsTree) List(bucket, prefix, startAfter, continuationToken string, maxKeys int) (entries []Entry, nextToken string, err error) {
	after := startAfter
	if continuationToken != "" {
		raw, decErr := base64.RawURLEncoding.DecodeString(continuationToken)
		if decErr != nil {
			return nil, "", fmt.Errorf("decode continuation token: %w", decErr)
		}
		after = string(raw)
	}

	opts := kvstore.ScanOptions{}
	if prefix != "" {
		opts.Prefix = []byte(prefix)
	}
	if after != "" {
		opts.StartAfter = []byte(after)
	}
	if maxKeys > 0 {
		opts.Limit = maxKeys + 1 // fetch one extra to detect truncation
	}

	err = t.store.View(func(tx kvstore.Tx) error {
		return tx.Scan(ObjectPartition(bucket), opts, func(key, value []byte) error {
			rec, decErr := DecodeObject(value)
			if decErr != nil {
				return fmt.Errorf("decode object %s/%s: %w", bucket, key, decErr)
			}
			entries = append(entries, Entry{Key: string(key), Record: rec})
			return nil
		})
	})
	if err != nil {
		return nil, "", err
	}

	if maxKeys > 0 && len(entries) > maxKeys {
		last := entries[maxKeys-1]
		nextToken = base64.RawURLEncoding.EncodeToString([]byte(last.Key))
		entries = entries[:maxKeys]
	}
	return entries, nextToken, nil
}
