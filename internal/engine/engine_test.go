package engine

import (
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/s3-cas/internal/blockpool"
	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore/memstore"
	"github.com/threefoldtech/s3-cas/internal/metadb"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
)

func newTestStore(t *testing.T, cfg config.Config) *Store {
	t.Helper()
	dir := t.TempDir()
	kv := memstore.New()
	pool := blockpool.New(kv, dir, cfg.PathDepth, cfg.Durability, metrics.Noop{})
	require.NoError(t, pool.Init())
	mp := metadb.NewMultipartTree(kv)
	require.NoError(t, mp.Init())

	st := New(kv, pool, mp, cfg, metrics.Noop{}, zerolog.Nop())
	require.NoError(t, st.Init())
	require.NoError(t, st.CreateBucket("bucket"))
	return st
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InlineThreshold = 4
	cfg.ChunkSize = 8
	cfg.MaxInFlightChunks = 4
	return cfg
}

func TestPutObjectInlineBoundary(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	small := bytes.Repeat([]byte("a"), int(cfg.InlineThreshold))
	rec, err := st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(small))
	require.NoError(t, err)
	assert.Equal(t, model.PayloadInline, rec.Kind)
	assert.EqualValues(t, len(small), rec.Size)

	big := bytes.Repeat([]byte("b"), int(cfg.InlineThreshold)+1)
	rec, err = st.PutObject(context.Background(), "bucket", "k2", bytes.NewReader(big))
	require.NoError(t, err)
	assert.Equal(t, model.PayloadSinglePart, rec.Kind)
	assert.EqualValues(t, len(big), rec.Size)
}

func TestPutObjectDedupWithinOneWrite(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	// Several identical 8-byte chunks back to back, spread across more
	// in-flight slots than MaxInFlightChunks so their Reserve calls are
	// forced to race: the same BlockID appears repeatedly within one
	// object and must still count once toward rc.
	chunk := bytes.Repeat([]byte("x"), int(cfg.ChunkSize))
	body := bytes.Repeat(chunk, 6)

	rec, err := st.PutObject(context.Background(), "bucket", "dup", bytes.NewReader(body))
	require.NoError(t, err)
	require.Len(t, rec.Blocks, 6)
	for _, b := range rec.Blocks {
		assert.Equal(t, rec.Blocks[0], b)
	}

	blockRec, ok, err := st.pool.Blocks().Get(rec.Blocks[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1, blockRec.RC)
}

func TestPutObjectDedupAcrossObjects(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	chunk := bytes.Repeat([]byte("y"), int(cfg.ChunkSize))

	rec1, err := st.PutObject(context.Background(), "bucket", "o1", bytes.NewReader(chunk))
	require.NoError(t, err)
	rec2, err := st.PutObject(context.Background(), "bucket", "o2", bytes.NewReader(chunk))
	require.NoError(t, err)

	assert.Equal(t, rec1.Blocks, rec2.Blocks)

	blockRec, ok, err := st.pool.Blocks().Get(rec1.Blocks[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, blockRec.RC)
}

func TestPutObjectKeyReplacementReleasesStaleBlocks(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	first := bytes.Repeat([]byte("z"), int(cfg.ChunkSize)*2)
	rec1, err := st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(first))
	require.NoError(t, err)
	staleBlock := rec1.Blocks[0]

	second := bytes.Repeat([]byte("w"), int(cfg.ChunkSize)*2)
	_, err = st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(second))
	require.NoError(t, err)

	_, ok, err := st.pool.Blocks().Get(staleBlock)
	require.NoError(t, err)
	assert.False(t, ok, "stale block should have been released")
}

func TestGetObjectRangeRoundtrip(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	body := bytes.Repeat([]byte("0123456789"), 5) // 50 bytes, several chunks
	_, err := st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(body))
	require.NoError(t, err)

	r, rec, err := st.GetObject("bucket", "k", model.Between(12, 30))
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body[12:31], got)
	assert.EqualValues(t, len(body), rec.Size)
}

func TestDeleteObjectReleasesBlocks(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	body := bytes.Repeat([]byte("q"), int(cfg.ChunkSize)*3)
	rec, err := st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(body))
	require.NoError(t, err)

	require.NoError(t, st.DeleteObject("bucket", "k"))

	_, ok, err := st.objects.Get("bucket", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, b := range rec.Blocks {
		_, ok, err := st.pool.Blocks().Get(b)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// Deleting an already-absent key is not an error.
	require.NoError(t, st.DeleteObject("bucket", "k"))
}

func TestMultipartUploadOrderAndHash(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	uploadID, err := st.CreateMultipartUpload("bucket", "mp")
	require.NoError(t, err)

	part1 := bytes.Repeat([]byte("1"), int(cfg.ChunkSize)*2)
	part2 := bytes.Repeat([]byte("2"), int(cfg.ChunkSize)*2)

	r1, err := st.UploadPart(context.Background(), "bucket", "mp", uploadID, 1, bytes.NewReader(part1), int64(len(part1)))
	require.NoError(t, err)
	r2, err := st.UploadPart(context.Background(), "bucket", "mp", uploadID, 2, bytes.NewReader(part2), int64(len(part2)))
	require.NoError(t, err)

	rec, err := st.CompleteMultipartUpload("bucket", "mp", uploadID, []uint32{1, 2})
	require.NoError(t, err)

	assert.Equal(t, model.PayloadMultiPart, rec.Kind)
	assert.EqualValues(t, 2, rec.PartCount)
	assert.EqualValues(t, len(part1)+len(part2), rec.Size)

	wantHash := md5.Sum(append(append([]byte{}, r1.PartHash[:]...), r2.PartHash[:]...))
	assert.Equal(t, wantHash, rec.Hash)

	// Staged part records are gone after completion.
	parts, err := st.multipart.ListUpload("bucket", "mp", [16]byte(uploadID))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestMultipartUploadRejectsOutOfOrderParts(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	uploadID, err := st.CreateMultipartUpload("bucket", "mp")
	require.NoError(t, err)

	_, err = st.UploadPart(context.Background(), "bucket", "mp", uploadID, 1, bytes.NewReader([]byte("a")), 1)
	require.NoError(t, err)

	_, err = st.CompleteMultipartUpload("bucket", "mp", uploadID, []uint32{2})
	assert.Error(t, err)
}

func TestAbortMultipartUploadReleasesBlocks(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	uploadID, err := st.CreateMultipartUpload("bucket", "mp")
	require.NoError(t, err)

	part := bytes.Repeat([]byte("a"), int(cfg.ChunkSize)*2)
	rec, err := st.UploadPart(context.Background(), "bucket", "mp", uploadID, 1, bytes.NewReader(part), int64(len(part)))
	require.NoError(t, err)

	require.NoError(t, st.AbortMultipartUpload("bucket", "mp", uploadID))

	for _, b := range rec.Blocks {
		_, ok, err := st.pool.Blocks().Get(b)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestDeleteBucketCascadesObjectCleanup(t *testing.T) {
	cfg := testConfig()
	st := newTestStore(t, cfg)

	body := bytes.Repeat([]byte("m"), int(cfg.ChunkSize)*2)
	rec, err := st.PutObject(context.Background(), "bucket", "k", bytes.NewReader(body))
	require.NoError(t, err)

	require.NoError(t, st.DeleteBucket("bucket"))

	exists, err := st.BucketExists("bucket")
	require.NoError(t, err)
	assert.False(t, exists)

	for _, b := range rec.Blocks {
		_, ok, err := st.pool.Blocks().Get(b)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
