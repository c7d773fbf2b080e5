package metadb

import (
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// MultipartTree is the typed facade over the _MULTIPART_PARTS partition.
type MultipartTree struct {
	store kvstore.Store
}

// NewMultipartTree wraps store's multipart partition.
func NewMultipartTree(store kvstore.Store) *MultipartTree {
	return &MultipartTree{store: store}
}

// Init opens the _MULTIPART_PARTS partition.
func (t *MultipartTree) Init() error {
	return t.store.OpenPartition(PartitionMultipart)
}

// InsertTx writes a part record within an existing transaction.
func (t *MultipartTree) InsertTx(tx kvstore.Tx, bucket, key string, uploadID [16]byte, partNumber uint32, rec model.MultipartPartRecord) error {
	return tx.Put(PartitionMultipart, MultipartKey(bucket, key, uploadID, partNumber), EncodeMultipartPart(rec))
}

// Insert writes a part record in its own transaction.
func (t *MultipartTree) Insert(bucket, key string, uploadID [16]byte, partNumber uint32, rec model.MultipartPartRecord) error {
	return t.store.Update(func(tx kvstore.Tx) error {
		return t.InsertTx(tx, bucket, key, uploadID, partNumber, rec)
	})
}

// GetTx fetches one part record within an existing transaction.
func (t *MultipartTree) GetTx(tx kvstore.Tx, bucket, key string, uploadID [16]byte, partNumber uint32) (model.MultipartPartRecord, bool, error) {
	data, ok, err := tx.Get(PartitionMultipart, MultipartKey(bucket, key, uploadID, partNumber))
	if err != nil || !ok {
		return model.MultipartPartRecord{}, ok, err
	}
	rec, err := DecodeMultipartPart(data)
	if err != nil {
		return model.MultipartPartRecord{}, false, fmt.Errorf("decode part record: %w", err)
	}
	return rec, true, nil
}

// Get fetches one part record in its own read transaction.
func (t *MultipartTree) Get(bucket, key string, uploadID [16]byte, partNumber uint32) (model.MultipartPartRecord, bool, error) {
	var rec model.MultipartPartRecord
	var ok bool
	err := t.store.View(func(tx kvstore.Tx) error {
		var err error
		rec, ok, err = t.GetTx(tx, bucket, key, uploadID, partNumber)
		return err
	})
	return rec, ok, err
}

// DeleteTx removes one part record within an existing transaction.
func (t *MultipartTree) DeleteTx(tx kvstore.Tx, bucket, key string, uploadID [16]byte, partNumber uint32) error {
	return tx.Delete(PartitionMultipart, MultipartKey(bucket, key, uploadID, partNumber))
}

// PartRef identifies one stored part record alongside its parsed number.
type PartRef struct {
	PartNumber uint32
	Record     model.MultipartPartRecord
}

// ListUpload returns every part currently stored for one upload, ordered by
// ascending part number (the key encoding already sorts that way).
func (t *MultipartTree) ListUpload(bucket, key string, uploadID [16]byte) ([]PartRef, error) {
	prefix := MultipartUploadPrefix(bucket, key, uploadID)
	var out []PartRef
	err := t.store.View(func(tx kvstore.Tx) error {
		return tx.Scan(PartitionMultipart, kvstore.ScanOptions{Prefix: prefix}, func(k, v []byte) error {
			if len(k) < len(prefix)+4 {
				return fmt.Errorf("metadb: truncated multipart key")
			}
			tail := k[len(prefix):]
			partNumber := uint32(tail[0])<<24 | uint32(tail[1])<<16 | uint32(tail[2])<<8 | uint32(tail[3])
			rec, err := DecodeMultipartPart(v)
			if err != nil {
				return fmt.Errorf("decode part record: %w", err)
			}
			out = append(out, PartRef{PartNumber: partNumber, Record: rec})
			return nil
		})
	})
	return out, err
}

// DeleteUpload removes every part record belonging to one upload within an
// existing transaction (used by abort and by complete's cleanup pass).
func (t *MultipartTree) DeleteUpload(tx kvstore.Tx, bucket, key string, uploadID [16]byte, partNumbers []uint32) error {
	for _, n := range partNumbers {
		if err := t.DeleteTx(tx, bucket, key, uploadID, n); err != nil {
			return err
		}
	}
	return nil
}
