// Package chunk re-frames a byte stream into fixed-size chunks, computing a
// per-chunk MD5 (the chunk's BlockID) and a running whole-stream MD5 (the
// eventual object hash) in a single pass. Chunking runs in a goroutine
// feeding a bounded channel, so a slow downstream consumer throttles the
// upstream reader rather than buffering the whole stream in memory.
package chunk

import (
	"context"
	"crypto/md5"
	"fmt"
	"hash"
	"io"

	"github.com/threefoldtech/s3-cas/internal/model"
)

// Result is one chunk's data plus its content hash, or a terminal error.
type Result struct {
	Index int
	Data  []byte
	ID    model.BlockID
	Err   error
}

// Stream re-chunks r into pieces of size (the last piece may be short),
// sending each on the returned channel in stream order. The channel is
// closed after the final chunk or after an error Result. StreamHash must be
// called only once the channel has been fully drained; it then reports the
// MD5 of the entire stream read so far.
//
// buffered bounds how many chunks may be read ahead of the consumer,
// implementing the writer's backpressure window (spec.md §4.E/§4.F).
func Stream(ctx context.Context, r io.Reader, size int64, buffered int) (<-chan Result, func() [16]byte) {
	out := make(chan Result, buffered)
	streamHash := md5.New()

	go func() {
		defer close(out)
		buf := make([]byte, size)
		index := 0
		for {
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				chunkData := make([]byte, n)
				copy(chunkData, buf[:n])

				id := md5.Sum(chunkData)
				writeHash(streamHash, chunkData)

				select {
				case out <- Result{Index: index, Data: chunkData, ID: model.BlockID(id)}:
				case <-ctx.Done():
					return
				}
				index++
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				select {
				case out <- Result{Index: index, Err: fmt.Errorf("read stream: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return out, func() [16]byte {
		var sum [16]byte
		copy(sum[:], streamHash.Sum(nil))
		return sum
	}
}

// writeHash feeds data into h; hash.Hash.Write never errors per its contract.
func writeHash(h hash.Hash, data []byte) {
	_, _ = h.Write(data)
}

// HashBlocks computes the spec.md §4.F multipart ETag hash: MD5 of the
// concatenation of each part's content digest, in order.
func HashBlocks(digests [][16]byte) [16]byte {
	h := md5.New()
	for _, d := range digests {
		writeHash(h, d[:])
	}
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
