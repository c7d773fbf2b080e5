package blockpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore/memstore"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p := New(memstore.New(), t.TempDir(), 2, config.DurabilityBuffer, metrics.Noop{})
	require.NoError(t, p.Init())
	return p
}

func blockID(b byte) model.BlockID {
	var id model.BlockID
	id[0] = b
	return id
}

func TestReserveNewBlock(t *testing.T) {
	p := newTestPool(t)
	id := blockID(1)

	isNew, path, err := p.Reserve(id, 10, false)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, path)

	rec, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.RC)
	assert.EqualValues(t, 10, rec.Size)
	assert.Equal(t, path, rec.Path)
}

func TestReserveBumpsExistingReferent(t *testing.T) {
	p := newTestPool(t)
	id := blockID(2)

	isNew, path1, err := p.Reserve(id, 10, false)
	require.NoError(t, err)
	require.True(t, isNew)

	// A second, distinct key referencing the same block bumps rc.
	isNew, path2, err := p.Reserve(id, 10, false)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, path1, path2)

	rec, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, rec.RC)
}

func TestReserveNoOpWhenKeyAlreadyHasBlock(t *testing.T) {
	p := newTestPool(t)
	id := blockID(3)

	_, _, err := p.Reserve(id, 10, false)
	require.NoError(t, err)

	// The same key re-referencing a block it already has (e.g. a repeated
	// chunk within one write) must not inflate rc.
	isNew, _, err := p.Reserve(id, 10, true)
	require.NoError(t, err)
	assert.False(t, isNew)

	rec, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.RC)
}

func TestReplaceKeyDeletesAtRCOne(t *testing.T) {
	p := newTestPool(t)
	id := blockID(4)
	_, _, err := p.Reserve(id, 10, false)
	require.NoError(t, err)

	deleted, err := p.ReplaceKey([]model.BlockID{id}, nil)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, id, deleted[0].ID)

	_, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceKeyDecrementsAboveOne(t *testing.T) {
	p := newTestPool(t)
	id := blockID(5)
	_, _, err := p.Reserve(id, 10, false)
	require.NoError(t, err)
	_, _, err = p.Reserve(id, 10, false)
	require.NoError(t, err)

	deleted, err := p.ReplaceKey([]model.BlockID{id}, nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)

	rec, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.RC)
}

func TestReplaceKeySkipsBlocksStillReferenced(t *testing.T) {
	p := newTestPool(t)
	kept := blockID(6)
	stale := blockID(7)
	_, _, err := p.Reserve(kept, 10, false)
	require.NoError(t, err)
	_, _, err = p.Reserve(stale, 10, false)
	require.NoError(t, err)

	deleted, err := p.ReplaceKey([]model.BlockID{kept, stale}, []model.BlockID{kept})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, stale, deleted[0].ID)

	_, ok, err := p.Blocks().Get(kept)
	require.NoError(t, err)
	assert.True(t, ok, "block still referenced by newBlocks must survive")
}

func TestReleaseObjectDedupsRepeatedBlocks(t *testing.T) {
	p := newTestPool(t)
	id := blockID(8)
	// Two references within one object (e.g. a repeated chunk).
	_, _, err := p.Reserve(id, 10, false)
	require.NoError(t, err)

	deleted, err := p.ReleaseObject([]model.BlockID{id, id})
	require.NoError(t, err)
	require.Len(t, deleted, 1, "a repeated BlockID must only be released once")

	_, ok, err := p.Blocks().Get(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReleaseObjectToleratesAlreadyGoneBlock(t *testing.T) {
	p := newTestPool(t)
	id := blockID(9)

	deleted, err := p.ReleaseObject([]model.BlockID{id})
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestAllocatePathUsesShortestUniquePrefix(t *testing.T) {
	p := newTestPool(t)

	var a, b model.BlockID
	a[0], a[1] = 0xab, 0x01
	b[0], b[1] = 0xab, 0x02 // shares the first hex byte with a

	_, pathA, err := p.Reserve(a, 1, false)
	require.NoError(t, err)
	_, pathB, err := p.Reserve(b, 1, false)
	require.NoError(t, err)

	assert.NotEqual(t, string(pathA), string(pathB))
	// a's first byte (0xab) is claimed by pathA, so b must fall back to a
	// longer prefix to stay unique.
	assert.True(t, len(pathB) >= len(pathA))
}

func TestAllocatePathSiblingPrefixesBothWriteToDisk(t *testing.T) {
	p := newTestPool(t)

	var a, b model.BlockID
	a[0], a[1] = 0xab, 0x01
	b[0], b[1] = 0xab, 0x02 // shares a's first hex byte, so pathB nests under pathA's prefix

	_, pathA, err := p.Reserve(a, 5, false)
	require.NoError(t, err)
	require.NoError(t, p.WriteBlockFile(pathA, []byte("hello")))

	_, pathB, err := p.Reserve(b, 5, false)
	require.NoError(t, err)
	// Before the fix, this failed: pathA's prefix was written as a plain
	// file, so MkdirAll for pathB's deeper, sibling prefix hit "not a
	// directory".
	require.NoError(t, p.WriteBlockFile(pathB, []byte("world")))

	fa, err := p.OpenBlockFile(pathA)
	require.NoError(t, err)
	defer fa.Close()
	bufA := make([]byte, 5)
	_, err = fa.Read(bufA)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(bufA))

	fb, err := p.OpenBlockFile(pathB)
	require.NoError(t, err)
	defer fb.Close()
	bufB := make([]byte, 5)
	_, err = fb.Read(bufB)
	require.NoError(t, err)
	assert.Equal(t, "world", string(bufB))
}

func TestWriteAndReadBlockFileRoundtrip(t *testing.T) {
	p := newTestPool(t)
	id := blockID(10)

	_, path, err := p.Reserve(id, 5, false)
	require.NoError(t, err)
	require.NoError(t, p.WriteBlockFile(path, []byte("hello")))

	f, err := p.OpenBlockFile(path)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 5)
	_, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	require.NoError(t, p.RemoveBlockFile(path))
	_, err = p.OpenBlockFile(path)
	assert.Error(t, err)
}
