package storage

import (
	"bytes"

	"github.com/cockroachdb/pebble"
)

// PebbleKV is a persistent KVStore backed by PebbleDB. It is the backend
// used by full nodes; the in-memory store serves tests and the zk replay
// path, where the witness is injected rather than read from disk.
type PebbleKV struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at the given path.
func OpenPebble(path string) (*PebbleKV, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

// Get retrieves the value for a key. Returns ErrNotFound if absent.
func (p *PebbleKV) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	closer.Close()
	return cp, nil
}

// Put stores a key-value pair.
func (p *PebbleKV) Put(key, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

// Delete removes a key.
func (p *PebbleKV) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

// Has returns whether the key exists.
func (p *PebbleKV) Has(key []byte) (bool, error) {
	_, closer, err := p.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// Close closes the underlying database.
func (p *PebbleKV) Close() error { return p.db.Close() }

// NewBatch creates a pebble-backed write batch.
func (p *PebbleKV) NewBatch() Batch {
	return &pebbleBatch{db: p.db, b: p.db.NewBatch()}
}

// NewIterator returns an iterator over keys matching the prefix, starting
// at or after start.
func (p *PebbleKV) NewIterator(prefix, start []byte) Iterator {
	lower := prefix
	if len(start) > 0 && bytes.Compare(start, prefix) > 0 {
		lower = start
	}
	opts := &pebble.IterOptions{LowerBound: lower}
	if len(prefix) > 0 {
		opts.UpperBound = prefixUpperBound(prefix)
	}
	it, err := p.db.NewIter(opts)
	if err != nil {
		return &memIterator{pos: -1}
	}
	it.First()
	return &pebbleIterator{it: it, first: true}
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if no such bound exists.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

type pebbleBatch struct {
	db      *pebble.DB
	b       *pebble.Batch
	written bool
}

func (pb *pebbleBatch) Put(key, value []byte) {
	pb.b.Set(key, value, nil)
}

func (pb *pebbleBatch) Delete(key []byte) {
	pb.b.Delete(key, nil)
}

func (pb *pebbleBatch) Write() error {
	if pb.written {
		return ErrBatchApplied
	}
	pb.written = true
	return pb.b.Commit(pebble.Sync)
}

func (pb *pebbleBatch) Reset() {
	pb.b.Reset()
	pb.written = false
}

func (pb *pebbleBatch) Len() int { return int(pb.b.Count()) }

type pebbleIterator struct {
	it    *pebble.Iterator
	first bool
}

func (it *pebbleIterator) Next() bool {
	if it.first {
		it.first = false
		return it.it.Valid()
	}
	return it.it.Next()
}

func (it *pebbleIterator) Key() []byte {
	if !it.it.Valid() {
		return nil
	}
	cp := make([]byte, len(it.it.Key()))
	copy(cp, it.it.Key())
	return cp
}

func (it *pebbleIterator) Value() []byte {
	if !it.it.Valid() {
		return nil
	}
	cp := make([]byte, len(it.it.Value()))
	copy(cp, it.it.Value())
	return cp
}

func (it *pebbleIterator) Release() { it.it.Close() }
