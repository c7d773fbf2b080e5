package metadb

import (
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// PathTree is the typed facade over the _PATHS partition: key = chosen path
// prefix, value = owning BlockID. Used only inside the reserve step of
// internal/blockpool's transactional refcount.
type PathTree struct {
	store kvstore.Store
}

// NewPathTree wraps store's path partition.
func NewPathTree(store kvstore.Store) *PathTree {
	return &PathTree{store: store}
}

// Init opens the _PATHS partition.
func (t *PathTree) Init() error {
	return t.store.OpenPartition(PartitionPaths)
}

// ExistsTx reports whether path is already reserved.
func (t *PathTree) ExistsTx(tx kvstore.Tx, path []byte) (bool, error) {
	_, ok, err := tx.Get(PartitionPaths, path)
	return ok, err
}

// InsertTx reserves path for id.
func (t *PathTree) InsertTx(tx kvstore.Tx, path []byte, id model.BlockID) error {
	return tx.Put(PartitionPaths, path, id[:])
}

// DeleteTx releases path.
func (t *PathTree) DeleteTx(tx kvstore.Tx, path []byte) error {
	return tx.Delete(PartitionPaths, path)
}

// OwnerTx fetches the BlockID that reserved path, if any.
func (t *PathTree) OwnerTx(tx kvstore.Tx, path []byte) (model.BlockID, bool, error) {
	data, ok, err := tx.Get(PartitionPaths, path)
	if err != nil || !ok {
		return model.BlockID{}, ok, err
	}
	if len(data) != model.BlockIDSize {
		return model.BlockID{}, false, fmt.Errorf("metadb: corrupt path owner record")
	}
	var id model.BlockID
	copy(id[:], data)
	return id, true, nil
}
