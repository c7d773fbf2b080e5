package metadb

import (
	"fmt"

	"github.com/threefoldtech/s3-cas/internal/model"
)

// EncodeBlock serializes a BlockRecord: size(u32) path-LP rc(u64).
func EncodeBlock(r model.BlockRecord) []byte {
	buf := make([]byte, 0, 4+4+len(r.Path)+8)
	buf = putUint32(buf, r.Size)
	buf = putBytesLP(buf, r.Path)
	buf = putUint64(buf, r.RC)
	return buf
}

// DecodeBlock parses a value produced by EncodeBlock.
func DecodeBlock(data []byte) (model.BlockRecord, error) {
	d := &decoder{buf: data}
	size, err := d.u32()
	if err != nil {
		return model.BlockRecord{}, fmt.Errorf("decode block record: %w", err)
	}
	path, err := d.bytesLP()
	if err != nil {
		return model.BlockRecord{}, fmt.Errorf("decode block record: %w", err)
	}
	rc, err := d.u64()
	if err != nil {
		return model.BlockRecord{}, fmt.Errorf("decode block record: %w", err)
	}
	return model.BlockRecord{Size: size, Path: path, RC: rc}, nil
}

// EncodeBucket serializes a BucketRecord: name-LP creation_time(u64 seconds).
func EncodeBucket(r model.BucketRecord) []byte {
	buf := make([]byte, 0, 4+len(r.Name)+8)
	buf = putStringLP(buf, r.Name)
	buf = putTime(buf, r.CreationTime)
	return buf
}

// DecodeBucket parses a value produced by EncodeBucket.
func DecodeBucket(data []byte) (model.BucketRecord, error) {
	d := &decoder{buf: data}
	name, err := d.stringLP()
	if err != nil {
		return model.BucketRecord{}, fmt.Errorf("decode bucket record: %w", err)
	}
	t, err := d.time()
	if err != nil {
		return model.BucketRecord{}, fmt.Errorf("decode bucket record: %w", err)
	}
	return model.BucketRecord{Name: name, CreationTime: t}, nil
}

// EncodeObject serializes an ObjectRecord:
//
//	size(u64) hash(16) created_at(u64) kind(u8) inline-LP block_count(u32) blocks(16 each) part_count(u32)
func EncodeObject(r model.ObjectRecord) []byte {
	buf := make([]byte, 0, 8+16+8+1+4+len(r.Inline)+4+len(r.Blocks)*model.BlockIDSize+4)
	buf = putUint64(buf, uint64(r.Size))
	buf = append(buf, r.Hash[:]...)
	buf = putTime(buf, r.CreatedAt)
	buf = append(buf, byte(r.Kind))
	buf = putBytesLP(buf, r.Inline)
	buf = putUint32(buf, uint32(len(r.Blocks)))
	for _, b := range r.Blocks {
		buf = encodeBlockID(buf, b)
	}
	buf = putUint32(buf, r.PartCount)
	return buf
}

// DecodeObject parses a value produced by EncodeObject.
func DecodeObject(data []byte) (model.ObjectRecord, error) {
	d := &decoder{buf: data}
	size, err := d.u64()
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
	}
	if d.remaining() < 16 {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: truncated hash")
	}
	var hash [16]byte
	copy(hash[:], d.buf[d.off:d.off+16])
	d.off += 16
	createdAt, err := d.time()
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
	}
	kindByte, err := d.byte()
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
	}
	inline, err := d.bytesLP()
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
	}
	count, err := d.u32()
	if err != nil {
		return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
	}
	blocks := make([]model.BlockID, count)
	for i := range blocks {
		blocks[i], err = decodeBlockID(d)
		if err != nil {
			return model.ObjectRecord{}, fmt.Errorf("decode object record: %w", err)
		}
	}
	partCount := d.u32OrZero()

	return model.ObjectRecord{
		Size:      int64(size),
		Hash:      hash,
		CreatedAt: createdAt,
		Kind:      model.PayloadKind(kindByte),
		Inline:    inline,
		Blocks:    blocks,
		PartCount: partCount,
	}, nil
}

// EncodeMultipartPart serializes a MultipartPartRecord:
//
//	size(u64) part_hash(16) block_count(u32) blocks(16 each)
func EncodeMultipartPart(r model.MultipartPartRecord) []byte {
	buf := make([]byte, 0, 8+16+4+len(r.Blocks)*model.BlockIDSize)
	buf = putUint64(buf, uint64(r.Size))
	buf = append(buf, r.PartHash[:]...)
	buf = putUint32(buf, uint32(len(r.Blocks)))
	for _, b := range r.Blocks {
		buf = encodeBlockID(buf, b)
	}
	return buf
}

// DecodeMultipartPart parses a value produced by EncodeMultipartPart.
func DecodeMultipartPart(data []byte) (model.MultipartPartRecord, error) {
	d := &decoder{buf: data}
	size, err := d.u64()
	if err != nil {
		return model.MultipartPartRecord{}, fmt.Errorf("decode part record: %w", err)
	}
	if d.remaining() < 16 {
		return model.MultipartPartRecord{}, fmt.Errorf("decode part record: truncated hash")
	}
	var hash [16]byte
	copy(hash[:], d.buf[d.off:d.off+16])
	d.off += 16
	count, err := d.u32()
	if err != nil {
		return model.MultipartPartRecord{}, fmt.Errorf("decode part record: %w", err)
	}
	blocks := make([]model.BlockID, count)
	for i := range blocks {
		blocks[i], err = decodeBlockID(d)
		if err != nil {
			return model.MultipartPartRecord{}, fmt.Errorf("decode part record: %w", err)
		}
	}
	return model.MultipartPartRecord{Size: int64(size), PartHash: hash, Blocks: blocks}, nil
}

// MultipartKey encodes the (bucket, objectKey, uploadID, partNumber) tuple
// so that parts of the same upload sort lexicographically adjacent and by
// ascending part number: bucket and objectKey are length-prefixed, uploadID
// is a fixed 16-byte UUID, and partNumber is big-endian so ascending numeric
// order matches ascending byte order.
func MultipartKey(bucket, objectKey string, uploadID [16]byte, partNumber uint32) []byte {
	buf := make([]byte, 0, 4+len(bucket)+4+len(objectKey)+16+4)
	buf = putStringLP(buf, bucket)
	buf = putStringLP(buf, objectKey)
	buf = append(buf, uploadID[:]...)
	tmp := make([]byte, 4)
	tmp[0] = byte(partNumber >> 24)
	tmp[1] = byte(partNumber >> 16)
	tmp[2] = byte(partNumber >> 8)
	tmp[3] = byte(partNumber)
	buf = append(buf, tmp...)
	return buf
}

// MultipartUploadPrefix encodes the key prefix shared by every part of one
// upload, for use as a ScanOptions.Prefix.
func MultipartUploadPrefix(bucket, objectKey string, uploadID [16]byte) []byte {
	buf := make([]byte, 0, 4+len(bucket)+4+len(objectKey)+16)
	buf = putStringLP(buf, bucket)
	buf = putStringLP(buf, objectKey)
	buf = append(buf, uploadID[:]...)
	return buf
}
