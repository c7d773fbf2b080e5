package blockpool

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/threefoldtech/s3-cas/internal/caserr"
	"github.com/threefoldtech/s3-cas/internal/config"
)

// blockFileName is the fixed leaf filename every block is written under.
//
// The _PATHS key is only a *prefix* of the BlockID's hex digest, formatted
// with '/' inserted for directory fan-out (pathalloc.go): a short prefix
// reserved by one block (e.g. "ab") can be a directory ancestor of a
// longer prefix reserved later by a distinct, colliding-prefix block (e.g.
// "ab/02"). Resolving the bare prefix directly to a file, as a shorter
// prefix would need to, makes that ancestor directory path unusable once
// the deeper sibling shows up — os.MkdirAll then fails because "ab" is
// already a regular file. Appending a fixed terminal segment after the
// prefix-derived directories means the prefix path is always a directory
// and never doubles as a block's own file, so two blocks whose prefixes
// share an ancestor can coexist as siblings underneath it.
const blockFileName = "data"

// fsPath resolves a _PATHS record's path bytes to an absolute filesystem path under root.
func fsPath(root string, path []byte) string {
	return filepath.Join(root, filepath.FromSlash(string(path)), blockFileName)
}

// writeBlockFile writes data to the block file at path and, unless d is
// DurabilityBuffer, syncs it before returning. It runs after Reserve has
// returned isNew=true, so the _BLOCKS record for path is already committed
// (the reserve transaction is metadata-only and does no file I/O); any
// failure here is reported to the writer, which releases the just-reserved
// block through the standard release path rather than a transaction rollback.
func writeBlockFile(root string, path []byte, data []byte, d config.Durability) error {
	full := fsPath(root, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", caserr.ErrIO, filepath.Dir(full), err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", caserr.ErrIO, full, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %v", caserr.ErrIO, full, err)
	}
	if d != config.DurabilityBuffer {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %v", caserr.ErrIO, full, err)
		}
	}
	return nil
}

// openBlockFile opens a block file for reading.
func openBlockFile(root string, path []byte) (*os.File, error) {
	full := fsPath(root, path)
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", caserr.ErrIO, full, err)
	}
	return f, nil
}

// removeBlockFile deletes a block file. Missing files are not an error —
// deletion is best-effort cleanup after a committed metadata transaction.
func removeBlockFile(root string, path []byte) error {
	full := fsPath(root, path)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove %s: %v", caserr.ErrIO, full, err)
	}
	return nil
}
