package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/threefoldtech/s3-cas/internal/blockpool"
	"github.com/threefoldtech/s3-cas/internal/chunk"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
	"golang.org/x/sync/errgroup"
)

// writeChunks implements the chunk-fan-out core of spec.md §4.F: re-chunk r,
// reserve-or-bump each chunk's block with at most maxInFlight chunks
// in-flight at once, write newly-created blocks to disk, and return the
// ordered block list plus the whole-stream MD5 and byte count.
//
// oldBlocks is the block set the calling key already references (the
// current object's blocks for put_object, or the existing part's blocks for
// a re-uploaded multipart part) — chunks matching a block in oldBlocks, or a
// block already reserved earlier in this same write, are treated as
// "key already has this block" and do not bump rc a second time (spec.md §3
// invariant 4: repeated BlockIDs within one object's list count once).
//
// A failed disk write for a newly-reserved block is compensated immediately
// by releasing that one block (it can only have rc==1, since it was just
// created) and the whole write fails; blocks already committed for earlier
// chunks are left as documented leaks (spec.md §4.F failure semantics).
func writeChunks(ctx context.Context, pool *blockpool.Pool, r io.Reader, chunkSize int64, maxInFlight int, oldBlocks []model.BlockID, sink metrics.Sink) ([]model.BlockID, [16]byte, int64, error) {
	oldSet := make(map[model.BlockID]bool, len(oldBlocks))
	for _, id := range oldBlocks {
		oldSet[id] = true
	}
	seen := make(map[model.BlockID]bool)
	var seenMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)

	results, streamHash := chunk.Stream(gctx, r, chunkSize, maxInFlight)

	var resMu sync.Mutex
	blocksByIndex := make(map[int]model.BlockID)
	maxIndex := -1
	var totalSize int64
	var chunkErr error

	for res := range results {
		if res.Err != nil {
			chunkErr = res.Err
			break
		}
		res := res
		g.Go(func() error {
			size := uint32(len(res.Data))

			// The decision of whether this occurrence is the first time
			// this write has referenced res.ID must be atomic with the
			// Reserve call itself: Reserve's absent-block branch creates
			// the block at RC=1 regardless of keyHasBlock, so if two
			// chunks sharing a BlockID ran Reserve concurrently, whichever
			// lost the "first" decision could still hit the absent branch
			// first and create the block, and the nominal first occurrence
			// would then see it already present and bump RC a second time
			// for a block this object only references once. Holding
			// seenMu across Reserve serializes the metadata transactions
			// for this write, so "first to observe res.ID as unseen" and
			// "first to commit its Reserve" are always the same goroutine.
			seenMu.Lock()
			keyHasBlock := oldSet[res.ID] || seen[res.ID]
			isNew, path, err := pool.Reserve(res.ID, size, keyHasBlock)
			if err == nil && !keyHasBlock {
				seen[res.ID] = true
			}
			seenMu.Unlock()
			if err != nil {
				return fmt.Errorf("reserve block %s: %w", res.ID, err)
			}
			if isNew {
				if werr := pool.WriteBlockFile(path, res.Data); werr != nil {
					if _, relErr := pool.ReleaseObject([]model.BlockID{res.ID}); relErr != nil {
						return fmt.Errorf("write block %s: %v (compensating release also failed: %w)", res.ID, werr, relErr)
					}
					return fmt.Errorf("write block %s: %w", res.ID, werr)
				}
			}

			resMu.Lock()
			blocksByIndex[res.Index] = res.ID
			if res.Index > maxIndex {
				maxIndex = res.Index
			}
			resMu.Unlock()
			atomic.AddInt64(&totalSize, int64(size))
			return nil
		})
	}

	if werr := g.Wait(); werr != nil {
		return nil, [16]byte{}, 0, werr
	}
	if chunkErr != nil {
		return nil, [16]byte{}, 0, chunkErr
	}

	blocks := make([]model.BlockID, maxIndex+1)
	for i := range blocks {
		blocks[i] = blocksByIndex[i]
	}
	return blocks, streamHash(), totalSize, nil
}
