// Package storage implements the authenticated state store: a versioned
// key/value store that produces one cryptographic commitment per committed
// height and serves immutable historical read views.
package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// KV errors.
var (
	ErrNotFound     = errors.New("storage: key not found")
	ErrBatchApplied = errors.New("storage: batch already written")
	ErrClosed       = errors.New("storage: store closed")
)

// KVStore is the interface for a flat key-value store with batch and
// iteration support. Both backends (memory, pebble) are safe for
// concurrent use.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	NewBatch() Batch
	NewIterator(prefix, start []byte) Iterator
	Close() error
}

// Batch buffers put and delete operations for atomic application to the
// backing store. Operations are applied in order when Write is called.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
	Write() error
	Reset()
	Len() int
}

// Iterator iterates over key-value pairs in ascending key order. Release
// must be called when done.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

// MemoryKV is an in-memory implementation of KVStore. Iterators operate on
// a point-in-time snapshot of the data.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates a new in-memory key-value store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get retrieves the value for a key. Returns ErrNotFound if absent.
func (m *MemoryKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

// Put stores a key-value pair. Both key and value are copied.
func (m *MemoryKV) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

// Delete removes a key from the store. It is a no-op if the key does not
// exist.
func (m *MemoryKV) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has returns whether the key exists in the store.
func (m *MemoryKV) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// Len returns the number of entries.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close is a no-op for the in-memory store.
func (m *MemoryKV) Close() error { return nil }

// NewBatch creates a new write batch targeting this store.
func (m *MemoryKV) NewBatch() Batch {
	return &memBatch{store: m}
}

// NewIterator returns an iterator over all keys matching the given prefix,
// starting at or after the start key. Keys are returned in ascending
// lexicographic order over a snapshot taken at call time.
func (m *MemoryKV) NewIterator(prefix, start []byte) Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.data {
		kb := []byte(k)
		if len(prefix) > 0 && !bytes.HasPrefix(kb, prefix) {
			continue
		}
		if len(start) > 0 && bytes.Compare(kb, start) < 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	items := make([]kvItem, len(keys))
	for i, k := range keys {
		val := make([]byte, len(m.data[k]))
		copy(val, m.data[k])
		items[i] = kvItem{key: []byte(k), value: val}
	}
	return &memIterator{items: items, pos: -1}
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	store   *MemoryKV
	ops     []batchOp
	written bool
}

func (b *memBatch) Put(key, value []byte) {
	keyCp := make([]byte, len(key))
	copy(keyCp, key)
	valCp := make([]byte, len(value))
	copy(valCp, value)
	b.ops = append(b.ops, batchOp{key: keyCp, value: valCp})
}

func (b *memBatch) Delete(key []byte) {
	keyCp := make([]byte, len(key))
	copy(keyCp, key)
	b.ops = append(b.ops, batchOp{key: keyCp, delete: true})
}

// Write applies all buffered operations atomically to the backing store.
// A batch can only be written once; subsequent calls return ErrBatchApplied.
func (b *memBatch) Write() error {
	if b.written {
		return ErrBatchApplied
	}
	b.written = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.store.data, string(op.key))
		} else {
			b.store.data[string(op.key)] = op.value
		}
	}
	return nil
}

func (b *memBatch) Reset() {
	b.ops = b.ops[:0]
	b.written = false
}

func (b *memBatch) Len() int { return len(b.ops) }

type kvItem struct {
	key   []byte
	value []byte
}

type memIterator struct {
	items []kvItem
	pos   int
}

func (it *memIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *memIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].key
}

func (it *memIterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.items) {
		return nil
	}
	return it.items[it.pos].value
}

func (it *memIterator) Release() { it.items = nil }
