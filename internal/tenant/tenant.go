// Package tenant implements the CAS engine's multi-tenant routing layer
// (spec.md §6 "Multi-tenant mode"): a shared block pool feeding lazily
// constructed, per-tenant metadata namespaces.
package tenant

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/threefoldtech/s3-cas/internal/blockpool"
	"github.com/threefoldtech/s3-cas/internal/caslog"
	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/engine"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/metadb"
	"github.com/threefoldtech/s3-cas/internal/metrics"
)

// Shared owns the block pool and the multipart partition, both shared by
// every tenant regardless of routing mode.
type Shared struct {
	Pool      *blockpool.Pool
	Multipart *metadb.MultipartTree
}

// NewShared opens the shared block pool, with its block files under
// blockRoot and its partitions in kv (e.g. the store at
// "<meta-root>/blocks/db" in multi-tenant mode, or the single
// "<meta-root>/db" store in single-tenant mode), and its _MULTIPART_PARTS
// partition in kv.
func NewShared(kv kvstore.Store, blockRoot string, cfg config.Config, sink metrics.Sink) (*Shared, error) {
	pool := blockpool.New(kv, blockRoot, cfg.PathDepth, cfg.Durability, sink)
	if err := pool.Init(); err != nil {
		return nil, fmt.Errorf("init shared block pool: %w", err)
	}
	mp := metadb.NewMultipartTree(kv)
	if err := mp.Init(); err != nil {
		return nil, fmt.Errorf("init multipart partition: %w", err)
	}
	return &Shared{Pool: pool, Multipart: mp}, nil
}

// KVOpener opens (creating if necessary) the metadata kvstore.Store backing
// one tenant's bucket and object partitions. In single-tenant mode this is
// called once for the fixed tenant ID "default"; in multi-tenant mode it is
// called lazily, the first time each distinct tenant ID is seen.
type KVOpener func(tenantID string) (kvstore.Store, error)

// DefaultTenantID is the fixed tenant identifier used when the deployment
// has multi-tenant routing switched off.
const DefaultTenantID = "default"

// Registry lazily constructs and caches one engine.Store per tenant ID,
// guarded by a read-mostly lock with double-checked insertion: the common
// case (tenant already resolved) only ever takes the read lock.
type Registry struct {
	shared *Shared
	cfg    config.Config
	sink   metrics.Sink
	logger zerolog.Logger
	open   KVOpener

	mu    sync.RWMutex
	cache map[string]*engine.Store
}

// NewRegistry constructs a Registry over shared and an opener for per-tenant
// metadata stores.
func NewRegistry(shared *Shared, cfg config.Config, sink metrics.Sink, logger zerolog.Logger, open KVOpener) *Registry {
	return &Registry{
		shared: shared,
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		open:   open,
		cache:  make(map[string]*engine.Store),
	}
}

// Get returns the engine.Store for tenantID, constructing and caching it on
// first use.
func (r *Registry) Get(tenantID string) (*engine.Store, error) {
	r.mu.RLock()
	st, ok := r.cache[tenantID]
	r.mu.RUnlock()
	if ok {
		return st, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.cache[tenantID]; ok {
		return st, nil
	}

	kv, err := r.open(tenantID)
	if err != nil {
		return nil, fmt.Errorf("open metadata store for tenant %s: %w", tenantID, err)
	}
	st = engine.New(kv, r.shared.Pool, r.shared.Multipart, r.cfg, r.sink, caslog.Component(r.logger, "engine"))
	if err := st.Init(); err != nil {
		return nil, fmt.Errorf("init engine store for tenant %s: %w", tenantID, err)
	}
	r.cache[tenantID] = st
	return st, nil
}

// Tenants returns the IDs of every tenant resolved so far.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	return ids
}
