package blockpool

import (
	"encoding/hex"
	"strings"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
	"github.com/threefoldtech/s3-cas/internal/metadb"
	"github.com/threefoldtech/s3-cas/internal/model"
)

// allocatePath chooses the shortest hex prefix of id that is not already
// reserved in paths, formatted with a directory separator inserted every
// depth hex characters so the on-disk tree fans out gradually as the
// population grows. Must run inside the same transaction as the _BLOCKS
// insert that will make the reservation visible.
func allocatePath(tx kvstore.Tx, paths *metadb.PathTree, id model.BlockID, depth int) ([]byte, error) {
	full := hex.EncodeToString(id[:])
	for plen := 2; plen <= len(full); plen += 2 {
		candidate := []byte(formatPath(full[:plen], depth))
		exists, err := paths.ExistsTx(tx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			return candidate, nil
		}
	}
	// Every prefix up to and including the full digest is reserved; this can
	// only happen if the same BlockID was concurrently reserved by another
	// writer outside of this transaction's isolation, which the caller's
	// Get-before-allocate check should have already caught.
	return []byte(formatPath(full, depth)), nil
}

// formatPath groups hex into depth-sized directory segments, e.g. with
// depth=2 "a3f1e2" becomes "a3/f1/e2".
func formatPath(hexPrefix string, depth int) string {
	if depth <= 0 {
		return hexPrefix
	}
	var b strings.Builder
	for i := 0; i < len(hexPrefix); i += depth {
		end := i + depth
		if end > len(hexPrefix) {
			end = len(hexPrefix)
		}
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(hexPrefix[i:end])
	}
	return b.String()
}
