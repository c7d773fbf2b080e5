// Package model defines the CAS engine's on-disk data model: block
// identities, object records, and the range grammar accepted by reads.
// Encoding of these types into KV-store values lives in internal/metadb.
package model

import (
	"encoding/hex"
	"time"
)

// BlockIDSize is the byte length of a BlockID (an MD5 digest).
const BlockIDSize = 16

// BlockID identifies both a logical block (for dedup) and its physical file.
type BlockID [BlockIDSize]byte

// String renders the BlockID as lowercase hex, used for logging only.
func (b BlockID) String() string {
	return hex.EncodeToString(b[:])
}

// IsZero reports whether b is the zero value (never a valid content hash,
// used as a sentinel for "no block").
func (b BlockID) IsZero() bool {
	return b == BlockID{}
}

// BlockRecord is the value stored under a BlockID in the block partition.
type BlockRecord struct {
	Size uint32 // byte length of the block's data, <= chunk size
	Path []byte // path-allocator-chosen byte prefix locating the file on disk
	RC   uint64 // reference count; invariant rc >= 1 while the record exists
}

// BucketRecord is the value stored under a bucket name.
type BucketRecord struct {
	Name         string
	CreationTime time.Time
}

// PayloadKind tags how an object's bytes are stored.
type PayloadKind uint8

const (
	PayloadInline PayloadKind = iota
	PayloadSinglePart
	PayloadMultiPart
)

// ObjectRecord is the value stored under an object key within a bucket partition.
type ObjectRecord struct {
	Size      int64
	Hash      [16]byte // MD5 of the whole stream (Inline/SinglePart) or of the concatenated part digests (MultiPart)
	CreatedAt time.Time
	Kind      PayloadKind

	// Inline holds the object bytes directly when Kind == PayloadInline.
	Inline []byte
	// Blocks is the ordered block list for SinglePart and MultiPart objects.
	Blocks []BlockID
	// PartCount is the number of multipart parts assembled into Blocks, set only for PayloadMultiPart.
	PartCount uint32
}

// ETag renders the client-visible object identity: hex(hash), with a
// "-<part_count>" suffix for multipart objects.
func (o *ObjectRecord) ETag() string {
	tag := hex.EncodeToString(o.Hash[:])
	if o.Kind == PayloadMultiPart {
		tag += "-" + itoa(int(o.PartCount))
	}
	return tag
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// MultipartPartRecord is the value stored for one uploaded part.
type MultipartPartRecord struct {
	Size     int64
	PartHash [16]byte
	Blocks   []BlockID
}

// RangeKind selects the shape of a byte-range request.
type RangeKind uint8

const (
	RangeAll RangeKind = iota
	RangeBetween
	RangeToBytes
	RangeFromBytes
)

// RangeSpec is the S3-compatible range grammar: All, Range(lo,hi) inclusive,
// ToBytes(n) (prefix of length n), FromBytes(n) (suffix starting at n).
type RangeSpec struct {
	Kind RangeKind
	Lo   int64
	Hi   int64 // inclusive, only meaningful for RangeBetween
	N    int64 // only meaningful for RangeToBytes / RangeFromBytes
}

// All returns the range spanning an entire object.
func All() RangeSpec { return RangeSpec{Kind: RangeAll} }

// Between returns an inclusive byte range [lo, hi].
func Between(lo, hi int64) RangeSpec { return RangeSpec{Kind: RangeBetween, Lo: lo, Hi: hi} }

// ToBytes returns a request for the first n bytes of the object.
func ToBytes(n int64) RangeSpec { return RangeSpec{Kind: RangeToBytes, N: n} }

// FromBytes returns a request for the suffix starting at byte n.
func FromBytes(n int64) RangeSpec { return RangeSpec{Kind: RangeFromBytes, N: n} }

// Clamp resolves the range against an object of the given size, returning
// the inclusive [lo, hi] byte offsets to serve. Out-of-range requests are
// clamped rather than rejected; an empty result is represented by lo > hi.
func (r RangeSpec) Clamp(size int64) (lo, hi int64) {
	if size <= 0 {
		return 0, -1
	}
	switch r.Kind {
	case RangeAll:
		return 0, size - 1
	case RangeBetween:
		lo, hi = r.Lo, r.Hi
		if lo < 0 {
			lo = 0
		}
		if hi > size-1 {
			hi = size - 1
		}
		if lo > hi {
			return lo, lo - 1
		}
		return lo, hi
	case RangeToBytes:
		n := r.N
		if n > size {
			n = size
		}
		if n <= 0 {
			return 0, -1
		}
		return 0, n - 1
	case RangeFromBytes:
		lo := r.N
		if lo < 0 {
			lo = 0
		}
		if lo >= size {
			return lo, lo - 1
		}
		return lo, size - 1
	default:
		return 0, size - 1
	}
}
