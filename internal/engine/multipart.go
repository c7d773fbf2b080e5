package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/threefoldtech/s3-cas/internal/caserr"
	"github.com/threefoldtech/s3-cas/internal/chunk"
	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/metrics"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// UploadPart runs the object writer for one part, without writing a final
// object record (spec.md §4.H). declaredLength must be known up front: the
// body is never inlined and must be chunked, so there is no peek-based
// fallback the way there is for put_object.
func (s *Store) UploadPart(ctx context.Context, bucket, key string, uploadID uuid.UUID, partNumber uint32, r io.Reader, declaredLength int64) (model.MultipartPartRecord, error) {
	if err := s.requireBucket(bucket); err != nil {
		return model.MultipartPartRecord{}, err
	}
	if partNumber == 0 {
		return model.MultipartPartRecord{}, fmt.Errorf("part number %d: %w", partNumber, caserr.ErrInvalidArgument)
	}
	if declaredLength < 0 {
		return model.MultipartPartRecord{}, fmt.Errorf("upload part %d: %w", partNumber, caserr.ErrMissingContentLength)
	}

	id := [16]byte(uploadID)

	existing, had, err := s.multipart.Get(bucket, key, id, partNumber)
	if err != nil {
		return model.MultipartPartRecord{}, fmt.Errorf("%w: get existing part: %v", caserr.ErrMetadata, err)
	}
	var oldBlocks []model.BlockID
	if had {
		oldBlocks = existing.Blocks
	}

	blocks, hash, size, err := writeChunks(ctx, s.pool, r, s.cfg.ChunkSize, s.cfg.MaxInFlightChunks, oldBlocks, s.sink)
	if err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "upload_part", "error")
		return model.MultipartPartRecord{}, err
	}

	if had {
		toDelete, rerr := s.pool.ReplaceKey(oldBlocks, blocks)
		if rerr != nil {
			return model.MultipartPartRecord{}, fmt.Errorf("%w: release superseded part blocks: %v", caserr.ErrMetadata, rerr)
		}
		s.cleanupDeleted(toDelete)
	}

	rec := model.MultipartPartRecord{Size: size, PartHash: hash, Blocks: blocks}
	if err := s.multipart.Insert(bucket, key, id, partNumber, rec); err != nil {
		return model.MultipartPartRecord{}, fmt.Errorf("%w: write part record: %v", caserr.ErrMetadata, err)
	}
	s.sink.AddCounter(metrics.CounterBytesReceived, float64(size))
	s.sink.IncCounter(metrics.CounterAPIRequests, "upload_part", "ok")
	return rec, nil
}

// CompleteMultipartUpload validates that partNumbers is a strictly
// increasing, contiguous run from 1, assembles the final object record from
// the concatenated part block lists, releases any superseded blocks of the
// key being overwritten, and removes the staged part records.
func (s *Store) CompleteMultipartUpload(bucket, key string, uploadID uuid.UUID, partNumbers []uint32) (model.ObjectRecord, error) {
	if err := s.requireBucket(bucket); err != nil {
		return model.ObjectRecord{}, err
	}
	if err := validatePartOrder(partNumbers); err != nil {
		s.sink.IncCounter(metrics.CounterAPIRequests, "complete_multipart_upload", "error")
		return model.ObjectRecord{}, err
	}

	id := [16]byte(uploadID)

	var blocks []model.BlockID
	var digests [][16]byte
	var size int64
	for _, n := range partNumbers {
		rec, ok, err := s.multipart.Get(bucket, key, id, n)
		if err != nil {
			return model.ObjectRecord{}, fmt.Errorf("%w: get part %d: %v", caserr.ErrMetadata, n, err)
		}
		if !ok {
			return model.ObjectRecord{}, fmt.Errorf("part %d: %w", n, caserr.ErrInvalidPart)
		}
		blocks = append(blocks, rec.Blocks...)
		digests = append(digests, rec.PartHash)
		size += rec.Size
	}

	oldRec, hadOld, err := s.objects.Get(bucket, key)
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: get existing object %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}
	var oldBlocks []model.BlockID
	if hadOld && oldRec.Kind != model.PayloadInline {
		oldBlocks = oldRec.Blocks
	}
	if len(oldBlocks) > 0 {
		toDelete, rerr := s.pool.ReplaceKey(oldBlocks, blocks)
		if rerr != nil {
			return model.ObjectRecord{}, fmt.Errorf("%w: release superseded blocks: %v", caserr.ErrMetadata, rerr)
		}
		s.cleanupDeleted(toDelete)
	}

	rec := model.ObjectRecord{
		Size:      size,
		Hash:      chunk.HashBlocks(digests),
		Kind:      model.PayloadMultiPart,
		Blocks:    blocks,
		PartCount: uint32(len(partNumbers)),
	}
	if err := s.objects.Put(bucket, key, rec); err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: write object record %s/%s: %v", caserr.ErrMetadata, bucket, key, err)
	}

	if err := s.kv.Update(func(tx kvstore.Tx) error {
		return s.multipart.DeleteUpload(tx, bucket, key, id, partNumbers)
	}); err != nil {
		return model.ObjectRecord{}, fmt.Errorf("%w: clear staged parts: %v", caserr.ErrMetadata, err)
	}

	s.sink.IncCounter(metrics.CounterAPIRequests, "complete_multipart_upload", "ok")
	return rec, nil
}

// AbortMultipartUpload releases every staged part's blocks and removes the
// staged part records. Aborting an upload with no staged parts is a no-op.
func (s *Store) AbortMultipartUpload(bucket, key string, uploadID uuid.UUID) error {
	if err := s.requireBucket(bucket); err != nil {
		return err
	}
	id := [16]byte(uploadID)

	parts, err := s.multipart.ListUpload(bucket, key, id)
	if err != nil {
		return fmt.Errorf("%w: list staged parts: %v", caserr.ErrMetadata, err)
	}
	if len(parts) == 0 {
		s.sink.IncCounter(metrics.CounterAPIRequests, "abort_multipart_upload", "ok")
		return nil
	}

	numbers := make([]uint32, 0, len(parts))
	for _, p := range parts {
		numbers = append(numbers, p.PartNumber)
		if err := s.releaseObjectBlocks(model.ObjectRecord{Kind: model.PayloadSinglePart, Blocks: p.Record.Blocks}); err != nil {
			return err
		}
	}

	if err := s.kv.Update(func(tx kvstore.Tx) error {
		return s.multipart.DeleteUpload(tx, bucket, key, id, numbers)
	}); err != nil {
		return fmt.Errorf("%w: clear staged parts: %v", caserr.ErrMetadata, err)
	}
	s.sink.IncCounter(metrics.CounterAPIRequests, "abort_multipart_upload", "ok")
	return nil
}

// validatePartOrder enforces that partNumbers is non-empty, starts at 1, and
// increases by exactly 1 with no gaps — spec.md §4.H.
func validatePartOrder(partNumbers []uint32) error {
	if len(partNumbers) == 0 {
		return fmt.Errorf("empty part list: %w", caserr.ErrInvalidPartOrder)
	}
	for i, n := range partNumbers {
		if n != uint32(i)+1 {
			return fmt.Errorf("part %d out of sequence: %w", n, caserr.ErrInvalidPartOrder)
		}
	}
	return nil
}
