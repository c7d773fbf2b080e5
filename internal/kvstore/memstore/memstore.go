// Package memstore implements kvstore.Store as an in-process map, standing
// in for the spec's "best_effort_undo" storage engine mode: writes are
// applied immediately and rolled back via a recorded undo list if the
// transaction function fails, rather than through a real transaction log.
// This backend is documented (spec.md §4.A) as unsafe for multi-writer
// block-pool sharing — a crash between two Update calls can expose
// partially-applied state, since there is no atomic commit point.
package memstore

import (
	"sort"
	"sync"

	"github.com/threefoldtech/s3-cas/internal/kvstore"
)

// Store is an in-memory kvstore.Store, useful for tests and for exercising
// the best-effort-undo contract without touching a filesystem.
type Store struct {
	mu         sync.Mutex
	partitions map[string]map[string][]byte
}

var _ kvstore.Store = (*Store)(nil)

// New returns an empty in-memory store.
func New() *Store {
	return &Store{partitions: make(map[string]map[string][]byte)}
}

func (s *Store) OpenPartition(partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = make(map[string][]byte)
	}
	return nil
}

func (s *Store) DropPartition(partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, partition)
	return nil
}

func (s *Store) Close() error { return nil }

// View runs fn with a read-only snapshot view. Since the store is a single
// in-memory map guarded by one mutex, "snapshot" here means "holds the lock
// for the duration of fn" rather than true MVCC isolation.
func (s *Store) View(fn func(kvstore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{store: s}
	return fn(tx)
}

// undoOp records one mutation so it can be reversed if the surrounding
// Update fails.
type undoOp struct {
	partition string
	key       string
	hadValue  bool
	oldValue  []byte
}

// Update applies fn's mutations directly to the store, recording an undo
// list. If fn returns an error, every recorded mutation is reversed in
// reverse order before Update returns that error.
func (s *Store) Update(fn func(kvstore.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, recording: true}
	err := fn(tx)
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			op := tx.undo[i]
			part := s.partitions[op.partition]
			if part == nil {
				continue
			}
			if op.hadValue {
				part[op.key] = op.oldValue
			} else {
				delete(part, op.key)
			}
		}
		return err
	}
	return nil
}

type memTx struct {
	store     *Store
	recording bool
	undo      []undoOp
}

func (t *memTx) partition(name string) (map[string][]byte, bool) {
	p, ok := t.store.partitions[name]
	return p, ok
}

func (t *memTx) Get(partition string, key []byte) ([]byte, bool, error) {
	p, ok := t.partition(partition)
	if !ok {
		return nil, false, nil
	}
	v, ok := p[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *memTx) Put(partition string, key, value []byte) error {
	p, ok := t.partition(partition)
	if !ok {
		p = make(map[string][]byte)
		t.store.partitions[partition] = p
	}
	k := string(key)
	if t.recording {
		old, had := p[k]
		t.undo = append(t.undo, undoOp{partition: partition, key: k, hadValue: had, oldValue: old})
	}
	v := make([]byte, len(value))
	copy(v, value)
	p[k] = v
	return nil
}

func (t *memTx) Delete(partition string, key []byte) error {
	p, ok := t.partition(partition)
	if !ok {
		return nil
	}
	k := string(key)
	if t.recording {
		old, had := p[k]
		if had {
			t.undo = append(t.undo, undoOp{partition: partition, key: k, hadValue: true, oldValue: old})
		}
	}
	delete(p, k)
	return nil
}

func (t *memTx) Count(partition string) (int, error) {
	p, ok := t.partition(partition)
	if !ok {
		return 0, nil
	}
	return len(p), nil
}

func (t *memTx) Scan(partition string, opts kvstore.ScanOptions, fn func(key, value []byte) error) error {
	p, ok := t.partition(partition)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	visited := 0
	for _, k := range keys {
		if opts.Prefix != nil && !hasPrefix(k, string(opts.Prefix)) {
			continue
		}
		if opts.StartAfter != nil && k <= string(opts.StartAfter) {
			continue
		}
		if err := fn([]byte(k), p[k]); err != nil {
			return err
		}
		visited++
		if opts.Limit > 0 && visited >= opts.Limit {
			break
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return s[:len(prefix)] == prefix
}
