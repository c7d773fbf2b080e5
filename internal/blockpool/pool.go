/*
Package blockpool implements the shared block pool: path allocation,
physical block file I/O, and the transactional "reserve or bump" refcount
discipline from spec.md §4.C–§4.D.

All metadata mutation happens inside a single kvstore.Store.Update call per
operation — no file I/O runs inside that transaction, so the lock window
stays metadata-only and microseconds-scale, per spec.md §4.D.
*/
package blockpool

import (
	"fmt"
	"os"

	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/metadb"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// Pool owns the _BLOCKS/_PATHS partitions and the filesystem root holding
// block files. It is shared across every tenant in a deployment.
type Pool struct {
	store      kvstore.Store
	blocks     *metadb.BlockTree
	paths      *metadb.PathTree
	fsRoot     string
	pathDepth  int
	durability config.Durability
	sink       metrics.Sink
}

// New constructs a Pool over an already-open kvstore.Store.
func New(store kvstore.Store, fsRoot string, pathDepth int, durability config.Durability, sink metrics.Sink) *Pool {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Pool{
		store:      store,
		blocks:     metadb.NewBlockTree(store),
		paths:      metadb.NewPathTree(store),
		fsRoot:     fsRoot,
		pathDepth:  pathDepth,
		durability: durability,
		sink:       sink,
	}
}

// Init opens the _BLOCKS and _PATHS partitions and ensures the block
// filesystem root exists.
func (p *Pool) Init() error {
	if err := p.blocks.Init(); err != nil {
		return fmt.Errorf("open block partition: %w", err)
	}
	if err := p.paths.Init(); err != nil {
		return fmt.Errorf("open path partition: %w", err)
	}
	if err := os.MkdirAll(p.fsRoot, 0o755); err != nil {
		return fmt.Errorf("create block root %s: %w", p.fsRoot, err)
	}
	return nil
}

// Reserve implements the reserve-or-bump table from spec.md §4.D: it
// allocates and reserves a path and inserts a fresh block record when id is
// unseen, leaves the record untouched when the calling key already
// references id, and bumps rc otherwise. The whole decision runs inside one
// metadata transaction.
func (p *Pool) Reserve(id model.BlockID, size uint32, keyHasBlock bool) (isNew bool, path []byte, err error) {
	err = p.store.Update(func(tx kvstore.Tx) error {
		rec, ok, gerr := p.blocks.GetTx(tx, id)
		if gerr != nil {
			return gerr
		}
		if !ok {
			allocated, aerr := allocatePath(tx, p.paths, id, p.pathDepth)
			if aerr != nil {
				return aerr
			}
			if perr := p.paths.InsertTx(tx, allocated, id); perr != nil {
				return perr
			}
			if berr := p.blocks.PutTx(tx, id, model.BlockRecord{Size: size, Path: allocated, RC: 1}); berr != nil {
				return berr
			}
			isNew = true
			path = allocated
			return nil
		}

		path = rec.Path
		if keyHasBlock {
			return nil
		}
		rec.RC++
		return p.blocks.PutTx(tx, id, rec)
	})
	if err != nil {
		return false, nil, err
	}
	if isNew {
		p.sink.IncCounter(metrics.CounterBlocksWritten)
	} else {
		p.sink.IncCounter(metrics.CounterBlocksDeduped)
	}
	return isNew, path, nil
}

// DeletedBlock is one block released back to zero references, for disk cleanup.
type DeletedBlock struct {
	ID   model.BlockID
	Path []byte
}

// release applies the rc==1⇒delete / else decrement rule to one block
// within tx, returning the deleted block's path if it was removed.
func (p *Pool) release(tx kvstore.Tx, id model.BlockID) (deleted bool, path []byte, err error) {
	rec, ok, err := p.blocks.GetTx(tx, id)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		// Already gone — tolerate, this can happen on a retried cleanup pass.
		return false, nil, nil
	}
	if rec.RC <= 1 {
		if err := p.blocks.DeleteTx(tx, id); err != nil {
			return false, nil, err
		}
		if err := p.paths.DeleteTx(tx, rec.Path); err != nil {
			return false, nil, err
		}
		return true, rec.Path, nil
	}
	rec.RC--
	if err := p.blocks.PutTx(tx, id, rec); err != nil {
		return false, nil, err
	}
	return false, nil, nil
}

// ReplaceKey runs the key-replacement release pass: every distinct block in
// oldBlocks that is absent from newBlocks is released (deleted at rc==1, or
// decremented otherwise). It returns the blocks whose rc hit zero, for the
// caller to delete from disk after this transaction commits.
func (p *Pool) ReplaceKey(oldBlocks, newBlocks []model.BlockID) ([]DeletedBlock, error) {
	newSet := toSet(newBlocks)
	surplus := distinct(oldBlocks)

	var toDelete []DeletedBlock
	err := p.store.Update(func(tx kvstore.Tx) error {
		for _, id := range surplus {
			if newSet[id] {
				continue
			}
			deleted, path, rerr := p.release(tx, id)
			if rerr != nil {
				return rerr
			}
			if deleted {
				toDelete = append(toDelete, DeletedBlock{ID: id, Path: path})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.sink.AddCounter(metrics.CounterBlocksDeleted, float64(len(toDelete)))
	return toDelete, nil
}

// ReleaseObject releases every distinct block referenced by an object being
// deleted, applying the same rc==1⇒delete / else decrement rule. It returns
// the blocks whose rc hit zero, for disk cleanup after commit.
func (p *Pool) ReleaseObject(blocks []model.BlockID) ([]DeletedBlock, error) {
	ids := distinct(blocks)
	var toDelete []DeletedBlock
	err := p.store.Update(func(tx kvstore.Tx) error {
		for _, id := range ids {
			deleted, path, rerr := p.release(tx, id)
			if rerr != nil {
				return rerr
			}
			if deleted {
				toDelete = append(toDelete, DeletedBlock{ID: id, Path: path})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.sink.AddCounter(metrics.CounterBlocksDeleted, float64(len(toDelete)))
	return toDelete, nil
}

// WriteBlockFile writes a newly-reserved block's bytes to disk at path.
func (p *Pool) WriteBlockFile(path []byte, data []byte) error {
	if err := writeBlockFile(p.fsRoot, path, data, p.durability); err != nil {
		p.sink.IncCounter(metrics.CounterBlockWriteErrors)
		return err
	}
	p.sink.AddCounter(metrics.CounterBytesWritten, float64(len(data)))
	return nil
}

// OpenBlockFile opens a block file for reading.
func (p *Pool) OpenBlockFile(path []byte) (*os.File, error) {
	return openBlockFile(p.fsRoot, path)
}

// RemoveBlockFile deletes a block file, tolerating its absence.
func (p *Pool) RemoveBlockFile(path []byte) error {
	return removeBlockFile(p.fsRoot, path)
}

// Blocks exposes the block tree for read-only lookups (e.g. the reader
// resolving an object's block list to disk paths).
func (p *Pool) Blocks() *metadb.BlockTree { return p.blocks }

func toSet(ids []model.BlockID) map[model.BlockID]bool {
	set := make(map[model.BlockID]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func distinct(ids []model.BlockID) []model.BlockID {
	seen := make(map[model.BlockID]bool, len(ids))
	out := make([]model.BlockID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
