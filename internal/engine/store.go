// Package engine implements the CAS engine's object-facing operations:
// bucket lifecycle, the object writer and reader (spec.md §4.F/§4.G), and
// multipart upload staging (§4.H). It composes internal/blockpool (the
// shared block pool) with a per-tenant internal/metadb metadata store.
package engine

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/threefoldtech/s3-cas/internal/blockpool"
	"github.com/threefoldtech/s3-cas/internal/caserr"
	"github.com/threefoldtech/s3-cas/internal/config"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/metadb"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// Store implements one tenant's bucket and object surface. The block pool
// and multipart partition are shared across every tenant in a deployment;
// the bucket and object partitions live in this tenant's own kvstore.Store.
type Store struct {
	kv        kvstore.Store
	buckets   *metadb.BucketsTree
	objects   *metadb.ObjectsTree
	multipart *metadb.MultipartTree
	pool      *blockpool.Pool
	cfg       config.Config
	sink      metrics.Sink
	logger    zerolog.Logger
}

// New constructs a Store over a tenant's metadata store and the deployment's
// shared block pool and multipart partition.
func New(kv kvstore.Store, pool *blockpool.Pool, multipart *metadb.MultipartTree, cfg config.Config, sink metrics.Sink, logger zerolog.Logger) *Store {
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Store{
		kv:        kv,
		buckets:   metadb.NewBucketsTree(kv),
		objects:   metadb.NewObjectsTree(kv),
		multipart: multipart,
		pool:      pool,
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
	}
}

// Init opens this tenant's bucket partition. The object partition for each
// bucket is opened by CreateBucket.
func (s *Store) Init() error {
	return s.buckets.Init()
}

func (s *Store) requireBucket(name string) error {
	ok, err := s.buckets.Exists(name)
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %v", caserr.ErrMetadata, name, err)
	}
	if !ok {
		return fmt.Errorf("bucket %s: %w", name, caserr.ErrNoSuchBucket)
	}
	return nil
}

// CreateBucket creates a new bucket and opens its object partition.
func (s *Store) CreateBucket(name string) error {
	if err := s.buckets.Create(name, time.Now()); err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "create_bucket", "error")
		return err
	}
	if err := s.objects.Init(name); err != nil {
		return fmt.Errorf("%w: open object partition for %s: %v", caserr.ErrMetadata, name, err)
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "create_bucket", "ok")
	return nil
}

// BucketExists reports whether name is a known bucket.
func (s *Store) BucketExists(name string) (bool, error) {
	return s.buckets.Exists(name)
}

// ListBuckets returns every bucket record.
func (s *Store) ListBuckets() ([]model.BucketRecord, error) {
	return s.buckets.List()
}

// DeleteBucket cascades: every object in the bucket has its blocks released
// and its record removed, the object partition is dropped, then the bucket
// record itself is removed.
func (s *Store) DeleteBucket(name string) error {
	if err := s.requireBucket(name); err != nil {
		return err
	}

	var after string
	for {
		entries, _, err := s.objects.List(name, "", after, "", 1000)
		if err != nil {
			return fmt.Errorf("%w: list objects in %s: %v", caserr.ErrMetadata, name, err)
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if err := s.releaseObjectBlocks(e.Record); err != nil {
				return err
			}
			after = e.Key
		}
	}

	if err := s.objects.Drop(name); err != nil {
		return fmt.Errorf("%w: drop object partition for %s: %v", caserr.ErrMetadata, name, err)
	}
	if err := s.buckets.Drop(name); err != nil {
		return fmt.Errorf("%w: drop bucket %s: %v", caserr.ErrMetadata, name, err)
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "delete_bucket", "ok")
	return nil
}

func (s *Store) releaseObjectBlocks(rec model.ObjectRecord) error {
	if rec.Kind == model.PayloadInline {
		return nil
	}
	toDelete, err := s.pool.ReleaseObject(rec.Blocks)
	if err != nil {
		return fmt.Errorf("%w: release blocks: %v", caserr.ErrMetadata, err)
	}
	for _, d := range toDelete {
		if err := s.pool.RemoveBlockFile(d.Path); err != nil {
			s.logger.Warn().Err(err).Str("block", d.ID.String()).Msg("failed to remove block file")
		}
	}
	return nil
}

// ListObjects lists bucket's object partition; see internal/metadb.ObjectsTree.List.
func (s *Store) ListObjects(bucket, prefix, startAfter, continuationToken string, maxKeys int) ([]metadb.Entry, string, error) {
	if err := s.requireBucket(bucket); err != nil {
		return nil, "", err
	}
	return s.objects.List(bucket, prefix, startAfter, continuationToken, maxKeys)
}

// HeadObject returns an object's metadata record without its bytes.
func (s *Store) HeadObject(bucket, key string) (model.ObjectRecord, error) {
	if err := s.requireBucket(bucket); err != nil {
		return model.ObjectRecord{}, err
	}
	rec, ok, err := s.objects.Get(bucket, key)
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: get object %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	if !ok {
		return model.ObjectRecord{}, fmt.Errorf("%s/%s: %w", bucket, key, caserr.ErrNoSuchKey)
	}
	return rec, nil
}

// GetObject returns a lazy, range-clamped reader over an object's bytes
// alongside its metadata record, per spec.md §4.G.
func (s *Store) GetObject(bucket, key string, rng model.RangeSpec) (io.ReadCloser, model.ObjectRecord, error) {
	rec, err := s.HeadObject(bucket, key)
	if err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "get_object", "error")
		return nil, model.ObjectRecord{}, err
	}
	lo, hi := rng.Clamp(rec.Size)
	r, err := openObjectReader(s.pool, rec, lo, hi)
	if err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "get_object", "error")
		return nil, rec, err
	}
	if hi >= lo {
		s.sink.AddCounter(metrics.CounterBytesSent, float64(hi-lo+1))
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "get_object", "ok")
	return r, rec, nil
}

// PutObject implements the object writer (spec.md §4.F): small bodies take
// the inline fast path (no block pool interaction); larger bodies are
// chunked, deduplicated against the object's previous blocks (if any) and
// reserved through the shared pool, then the previous blocks are released
// through the key-replacement pass.
func (s *Store) PutObject(ctx context.Context, bucket, key string, r io.Reader) (model.ObjectRecord, error) {
	if err := s.requireBucket(bucket); err != nil {
		return model.ObjectRecord{}, err
	}

	oldRec, hadOld, err := s.objects.Get(bucket, key)
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: get existing object %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	var oldBlocks []model.BlockID
	if hadOld && oldRec.Kind != model.PayloadInline {
		oldBlocks = oldRec.Blocks
	}

	rec, err := s.writeObjectBody(ctx, r, oldBlocks)
	if err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "put_object", "error")
		return model.ObjectRecord{}, err
	}
	rec.CreatedAt = time.Now()

	if rec.Kind == model.PayloadInline && len(oldBlocks) > 0 {
		toDelete, rerr := s.pool.ReplaceKey(oldBlocks, nil)
		if rerr != nil {
			return model.ObjectRecord{}, fmt.Errorf("%w: release superseded blocks: %v", caserr.ErrMetadata, rerr)
		}
		s.cleanupDeleted(toDelete)
	} else if rec.Kind != model.PayloadInline {
		toDelete, rerr := s.pool.ReplaceKey(oldBlocks, rec.Blocks)
		if rerr != nil {
			return model.ObjectRecord{}, fmt.Errorf("%w: release superseded blocks: %v", caserr.ErrMetadata, rerr)
		}
		s.cleanupDeleted(toDelete)
	}

	if err := s.objects.Put(bucket, key, rec); err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: write object record %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	s.sink.AddCounter(metrics.CounterBytesReceived, float64(rec.Size))
	s.sink.IncCounter(metrics.CounterAPIRequests, "put_object", "ok")
	return rec, nil
}

// writeObjectBody implements the small-object fast path plus the general
// chunked path shared with multipart part uploads. It does not know about
// key replacement — callers release superseded blocks themselves.
func (s *Store) writeObjectBody(ctx context.Context, r io.Reader, oldBlocks []model.BlockID) (model.ObjectRecord, error) {
	threshold := s.cfg.InlineThreshold
	if threshold > 0 {
		peek := make([]byte, threshold+1)
		n, rerr := io.ReadFull(r, peek)
		switch {
		case rerr == io.EOF || rerr == io.ErrUnexpectedEOF:
			data := append([]byte(nil), peek[:n]...)
			hash := md5.Sum(data)
			return model.ObjectRecord{Size: int64(n), Hash: hash, Kind: model.PayloadInline, Inline: data}, nil
		case rerr != nil:
			return model.ObjectRecord{}, fmt.Errorf("%w: read object body: %v", caserr.ErrIO, rerr)
		default:
			r = io.MultiReader(bytes.NewReader(peek[:n]), r)
		}
	}

	blocks, hash, size, err := writeChunks(ctx, s.pool, r, s.cfg.ChunkSize, s.cfg.MaxInFlightChunks, oldBlocks, s.sink)
	if err != nil {
		return model.ObjectRecord{}, err
	}
	return model.ObjectRecord{Size: size, Hash: hash, Kind: model.PayloadSinglePart, Blocks: blocks}, nil
}

func (s *Store) cleanupDeleted(toDelete []blockpool.DeletedBlock) {
	for _, d := range toDelete {
		if err := s.pool.RemoveBlockFile(d.Path); err != nil {
			s.logger.Warn().Err(err).Str("block", d.ID.String()).Msg("failed to remove block file")
		}
	}
}

// DeleteObject removes an object's record and releases its blocks.
// Deleting an absent key is not an error, matching S3 semantics.
func (s *Store) DeleteObject(bucket, key string) error {
	if err := s.requireBucket(bucket); err != nil {
		return err
	}
	rec, ok, err := s.objects.Get(bucket, key)
	if err != nil {
		return fmt.Errorf("%w: get object %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	if !ok {
		s.sink.IncCounter(metrics.CounterAPIRequests, "delete_object", "ok")
		return nil
	}
	if err := s.releaseObjectBlocks(rec); err != nil {
		return err
	}
	if err := s.objects.Delete(bucket, key); err != nil {
		return fmt.Errorf("%w: delete object record %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "delete_object", "ok")
	return nil
}

// CreateMultipartUpload allocates a fresh upload ID. No metadata is written
// until the first part is uploaded.
func (s *Store) CreateMultipartUpload(bucket, key string) (uuid.UUID, error) {
	if err := s.requireBucket(bucket); err != nil {
		return uuid.UUID{}, err
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "create_multipart_upload", "ok")
	return uuid.New(), nil
}
