package tenant

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/kvstore/memstore"
	"github.com/threefoldtech/s3-cas/internal/metrics"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.InlineThreshold = 4
	cfg.ChunkSize = 8

	shared, err := NewShared(memstore.New(), t.TempDir(), cfg, metrics.Noop{})
	require.NoError(t, err)

	opener := func(tenantID string) (kvstore.Store, error) {
		return memstore.New(), nil
	}

	return NewRegistry(shared, cfg, metrics.Noop{}, zerolog.Nop(), opener)
}

func TestRegistryGetCachesPerTenant(t *testing.T) {
	reg := newTestRegistry(t)

	st1, err := reg.Get("alice")
	require.NoError(t, err)
	st2, err := reg.Get("alice")
	require.NoError(t, err)
	assert.Same(t, st1, st2, "repeated Get for the same tenant must return the cached Store")

	st3, err := reg.Get("bob")
	require.NoError(t, err)
	assert.NotSame(t, st1, st3, "distinct tenants must get distinct Store instances")

	ids := reg.Tenants()
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)
}

func TestRegistryTenantsHaveIndependentMetadataNamespaces(t *testing.T) {
	reg := newTestRegistry(t)

	alice, err := reg.Get("alice")
	require.NoError(t, err)
	bob, err := reg.Get("bob")
	require.NoError(t, err)

	require.NoError(t, alice.CreateBucket("b"))
	exists, err := bob.BucketExists("b")
	require.NoError(t, err)
	assert.False(t, exists, "one tenant's bucket must not be visible to another")
}

func TestRegistryTenantsShareBlockPoolDedup(t *testing.T) {
	reg := newTestRegistry(t)

	alice, err := reg.Get("alice")
	require.NoError(t, err)
	bob, err := reg.Get("bob")
	require.NoError(t, err)

	require.NoError(t, alice.CreateBucket("b"))
	require.NoError(t, bob.CreateBucket("b"))

	body := bytes.Repeat([]byte("t"), 8)
	recA, err := alice.PutObject(context.Background(), "b", "k", bytes.NewReader(body))
	require.NoError(t, err)
	recB, err := bob.PutObject(context.Background(), "b", "k", bytes.NewReader(body))
	require.NoError(t, err)

	require.Len(t, recA.Blocks, 1)
	assert.Equal(t, recA.Blocks, recB.Blocks, "identical content across tenants dedups onto the shared block pool")

	blockRec, ok, err := reg.shared.Pool.Blocks().Get(recA.Blocks[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 2, blockRec.RC)
}
