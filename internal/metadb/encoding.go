// Package metadb implements typed facades over kvstore.Store: buckets,
// per-bucket objects, blocks, paths, and multipart parts. Every facade
// enforces a fixed little-endian, length-framed binary encoding for its
// values — the engine is the only writer, so there is no need for a
// reflection-based codec; versioning is out of scope, and forward
// compatibility is maintained by only ever appending new fields with
// default-zero semantics (spec.md §4.B).
package metadb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/threefoldtech/s3-cas/internal/model"
)

// Partition names for the fixed metadata partitions. _BUCKETS lives in each
// tenant's own store; the other three are shared across tenants.
const (
	PartitionBuckets   = "_BUCKETS"
	PartitionBlocks    = "_BLOCKS"
	PartitionPaths     = "_PATHS"
	PartitionMultipart = "_MULTIPART_PARTS"
)

// ObjectPartition returns the per-bucket object partition name.
func ObjectPartition(bucket string) string {
	return "obj_" + bucket
}

func putUint16(buf []byte, v uint16) []byte {
	tmp := make([]byte, 2)
	binary.LittleEndian.PutUint16(tmp, v)
	return append(buf, tmp...)
}

func putUint32(buf []byte, v uint32) []byte {
	tmp := make([]byte, 4)
	binary.LittleEndian.PutUint32(tmp, v)
	return append(buf, tmp...)
}

func putUint64(buf []byte, v uint64) []byte {
	tmp := make([]byte, 8)
	binary.LittleEndian.PutUint64(tmp, v)
	return append(buf, tmp...)
}

func putBytesLP(buf []byte, b []byte) []byte {
	buf = putUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

func putStringLP(buf []byte, s string) []byte {
	return putBytesLP(buf, []byte(s))
}

func putTime(buf []byte, t time.Time) []byte {
	return putUint64(buf, uint64(t.Unix()))
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) u16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, fmt.Errorf("metadb: truncated uint16")
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("metadb: truncated uint32")
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("metadb: truncated uint64")
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) bytesLP() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.remaining() < int(n) {
		return nil, fmt.Errorf("metadb: truncated byte field")
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return out, nil
}

func (d *decoder) stringLP() (string, error) {
	b, err := d.bytesLP()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) time() (time.Time, error) {
	v, err := d.u64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0).UTC(), nil
}

func (d *decoder) byte() (byte, error) {
	if d.remaining() < 1 {
		return 0, fmt.Errorf("metadb: truncated byte")
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

// default-zero for append-only fields: decode does not fail when the
// remaining buffer runs out while decoding a trailing field added after the
// original value was written.
func (d *decoder) u32OrZero() uint32 {
	v, err := d.u32()
	if err != nil {
		return 0
	}
	return v
}

func encodeBlockID(buf []byte, id model.BlockID) []byte {
	return append(buf, id[:]...)
}

func decodeBlockID(d *decoder) (model.BlockID, error) {
	var id model.BlockID
	if d.remaining() < model.BlockIDSize {
		return id, fmt.Errorf("metadb: truncated block id")
	}
	copy(id[:], d.buf[d.off:d.off+model.BlockIDSize])
	d.off += model.BlockIDSize
	return id, nil
}
