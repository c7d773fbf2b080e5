package metadb

import (
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// BlockTree is the typed facade over the _BLOCKS partition. It exposes only
// Get/Put/Delete — the reserve-or-bump transaction that also touches
// _PATHS lives in internal/blockpool, which composes BlockTree and PathTree
// inside one kvstore.Tx.
type BlockTree struct {
	store kvstore.Store
}

// NewBlockTree wraps store's block partition.
func NewBlockTree(store kvstore.Store) *BlockTree {
	return &BlockTree{store: store}
}

// Init opens the _BLOCKS partition.
func (t *BlockTree) Init() error {
	return t.store.OpenPartition(PartitionBlocks)
}

// GetTx fetches a block record within an existing transaction.
func (t *BlockTree) GetTx(tx kvstore.Tx, id model.BlockID) (model.BlockRecord, bool, error) {
	data, ok, err := tx.Get(PartitionBlocks, id[:])
	if err != nil || !ok {
		return model.BlockRecord{}, ok, err
	}
	rec, err := DecodeBlock(data)
	if err != nil {
		return model.BlockRecord{}, false, fmt.Errorf("decode block %s: %w", id, err)
	}
	return rec, true, nil
}

// PutTx writes a block record within an existing transaction.
func (t *BlockTree) PutTx(tx kvstore.Tx, id model.BlockID, rec model.BlockRecord) error {
	return tx.Put(PartitionBlocks, id[:], EncodeBlock(rec))
}

// DeleteTx removes a block record within an existing transaction.
func (t *BlockTree) DeleteTx(tx kvstore.Tx, id model.BlockID) error {
	return tx.Delete(PartitionBlocks, id[:])
}

// Get fetches a block record in its own read transaction.
func (t *BlockTree) Get(id model.BlockID) (model.BlockRecord, bool, error) {
	var rec model.BlockRecord
	var ok bool
	err := t.store.View(func(tx kvstore.Tx) error {
		var err error
		rec, ok, err = t.GetTx(tx, id)
		return err
	})
	return rec, ok, err
}

// Count returns the number of distinct blocks currently tracked.
func (t *BlockTree) Count() (int, error) {
	var n int
	err := t.store.View(func(tx kvstore.Tx) error {
		var err error
		n, err = tx.Count(PartitionBlocks)
		return err
	})
	return n, err
}
