package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/tiderollup/tide/core/types"
)

// Versioned store errors.
var (
	ErrNoPending      = errors.New("storage: commit without pending height context")
	ErrPendingActive  = errors.New("storage: pending height already begun")
	ErrUnknownVersion = errors.New("storage: unknown version")
	ErrCorrupted      = errors.New("storage: state store corrupted")
)

// Internal key space of the backing KVStore:
//
//	's' <uvarint key len> <key> <version be64>  ->  0x01 <value> | 0x00 (tombstone)
//	'r' <version be64>                          ->  32-byte commitment
//	"m/latest"                                  ->  <version be64>
var (
	dataTag   = byte('s')
	rootTag   = byte('r')
	metaKey   = []byte("m/latest")
	tombstone = []byte{0x00}
)

// Config carries store policy knobs. Retain is the number of historical
// versions kept queryable behind the latest; zero means full retention.
// Retention is policy, never consulted by the state transition itself.
type Config struct {
	Retain uint64
}

// VersionedStore is the authenticated state store. Writes within one block
// are buffered in a pending set opened by Begin and only become durable
// and visible to historical readers at Commit, which appends exactly one
// new version and returns its commitment. Exactly one writer drives
// Begin/Write/Commit; any number of readers may use OpenAt concurrently.
type VersionedStore struct {
	db  KVStore
	cfg Config

	mu          sync.RWMutex
	next        uint64 // version the next Commit will create
	pending     map[string][]byte
	pendingKeys []string // insertion order, for deterministic batch layout
	pendingOn   bool
}

// Open initializes a versioned store over the given backend, recovering
// the latest committed version if the backend holds prior state.
func Open(db KVStore) (*VersionedStore, error) {
	return OpenWithConfig(db, Config{})
}

// OpenWithConfig is Open with an explicit retention policy.
func OpenWithConfig(db KVStore, cfg Config) (*VersionedStore, error) {
	s := &VersionedStore{db: db, cfg: cfg}
	raw, err := db.Get(metaKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("%w: meta entry has length %d", ErrCorrupted, len(raw))
		}
		latest := binary.BigEndian.Uint64(raw)
		if _, err := db.Get(rootKey(latest)); err != nil {
			return nil, fmt.Errorf("%w: missing root for version %d", ErrCorrupted, latest)
		}
		s.next = latest + 1
	case errors.Is(err, ErrNotFound):
		s.next = 0
	default:
		return nil, err
	}
	return s, nil
}

// Latest returns the most recently committed version. ok is false when
// nothing has been committed yet.
func (s *VersionedStore) Latest() (version uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.next == 0 {
		return 0, false
	}
	return s.next - 1, true
}

// Begin opens the pending height context for the next version. It fails if
// a pending context is already open; block application is strictly
// sequential.
func (s *VersionedStore) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOn {
		return ErrPendingActive
	}
	s.pending = make(map[string][]byte)
	s.pendingKeys = s.pendingKeys[:0]
	s.pendingOn = true
	return nil
}

// Read returns the value for key as seen by the in-progress height:
// pending writes shadow the latest committed version. Returns ErrNotFound
// for absent or deleted keys.
func (s *VersionedStore) Read(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pendingOn {
		if v, ok := s.pending[string(key)]; ok {
			if v == nil {
				return nil, ErrNotFound
			}
			cp := make([]byte, len(v))
			copy(cp, v)
			return cp, nil
		}
	}
	if s.next == 0 {
		return nil, ErrNotFound
	}
	return s.lookup(key, s.next-1)
}

// Write buffers a key-value pair into the pending height.
func (s *VersionedStore) Write(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingOn {
		return ErrNoPending
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.stagePending(key, cp)
	return nil
}

// Delete buffers a key deletion into the pending height.
func (s *VersionedStore) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pendingOn {
		return ErrNoPending
	}
	s.stagePending(key, nil)
	return nil
}

func (s *VersionedStore) stagePending(key []byte, value []byte) {
	k := string(key)
	if _, seen := s.pending[k]; !seen {
		s.pendingKeys = append(s.pendingKeys, k)
	}
	s.pending[k] = value
}

// Commit finalizes the pending writes into a new immutable version and
// returns its commitment. Calling Commit without a pending height context
// is a contract violation and returns ErrNoPending.
func (s *VersionedStore) Commit() (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pendingOn {
		return types.Hash{}, ErrNoPending
	}

	version := s.next
	pairs, err := s.flattenLocked()
	if err != nil {
		return types.Hash{}, err
	}
	root := HashRoot(pairs)

	batch := s.db.NewBatch()
	for _, k := range s.pendingKeys {
		v := s.pending[k]
		if v == nil {
			batch.Put(dataKey([]byte(k), version), tombstone)
		} else {
			batch.Put(dataKey([]byte(k), version), append([]byte{0x01}, v...))
		}
	}
	batch.Put(rootKey(version), root.Bytes())
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], version)
	batch.Put(metaKey, meta[:])
	if err := batch.Write(); err != nil {
		return types.Hash{}, err
	}

	s.next = version + 1
	s.pending = nil
	s.pendingKeys = s.pendingKeys[:0]
	s.pendingOn = false

	if s.cfg.Retain > 0 && version > s.cfg.Retain {
		s.pruneLocked(version - s.cfg.Retain)
	}
	return root, nil
}

// Discard drops the pending height without committing. It is a no-op when
// no pending context is open.
func (s *VersionedStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.pendingKeys = s.pendingKeys[:0]
	s.pendingOn = false
}

// Root returns the commitment of an already-committed version.
func (s *VersionedStore) Root(version uint64) (types.Hash, error) {
	raw, err := s.db.Get(rootKey(version))
	if errors.Is(err, ErrNotFound) {
		return types.Hash{}, ErrUnknownVersion
	}
	if err != nil {
		return types.Hash{}, err
	}
	if len(raw) != types.HashLength {
		return types.Hash{}, fmt.Errorf("%w: root for version %d has length %d", ErrCorrupted, version, len(raw))
	}
	return types.BytesToHash(raw), nil
}

// OpenAt returns a read-only view of an already-committed version. Views
// are immutable and safe for concurrent use; they never observe pending
// writes. A view outlives neither truncation nor pruning of its version.
func (s *VersionedStore) OpenAt(version uint64) (*ReadHandle, error) {
	if _, err := s.Root(version); err != nil {
		return nil, err
	}
	return &ReadHandle{store: s, version: version}, nil
}

// Truncate discards every version strictly greater than the given one,
// along with any pending writes. This is the rollback primitive used when
// a soft confirmation fails reconciliation against finalized DA data.
func (s *VersionedStore) Truncate(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next == 0 || version >= s.next-1 {
		// Nothing above the requested version.
		s.pending = nil
		s.pendingKeys = s.pendingKeys[:0]
		s.pendingOn = false
		return nil
	}
	if _, err := s.db.Get(rootKey(version)); err != nil {
		return ErrUnknownVersion
	}

	batch := s.db.NewBatch()
	it := s.db.NewIterator([]byte{dataTag}, nil)
	for it.Next() {
		_, v, err := parseDataKey(it.Key())
		if err != nil {
			it.Release()
			return err
		}
		if v > version {
			batch.Delete(it.Key())
		}
	}
	it.Release()
	for v := version + 1; v < s.next; v++ {
		batch.Delete(rootKey(v))
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], version)
	batch.Put(metaKey, meta[:])
	if err := batch.Write(); err != nil {
		return err
	}

	s.next = version + 1
	s.pending = nil
	s.pendingKeys = s.pendingKeys[:0]
	s.pendingOn = false
	return nil
}

// lookup returns the live value of key as of version. Caller holds a read
// lock.
func (s *VersionedStore) lookup(key []byte, version uint64) ([]byte, error) {
	prefix := dataKeyPrefix(key)
	it := s.db.NewIterator(prefix, nil)
	defer it.Release()

	var found []byte
	for it.Next() {
		_, v, err := parseDataKey(it.Key())
		if err != nil {
			return nil, err
		}
		if v > version {
			break
		}
		found = it.Value()
	}
	if found == nil || len(found) < 1 || found[0] == 0x00 {
		return nil, ErrNotFound
	}
	return found[1:], nil
}

// flattenLocked materializes the full key/value set of the in-progress
// height: the latest committed entries overlaid with the pending writes.
func (s *VersionedStore) flattenLocked() ([]Pair, error) {
	live := make(map[string][]byte)

	if s.next > 0 {
		latest := s.next - 1
		it := s.db.NewIterator([]byte{dataTag}, nil)
		for it.Next() {
			key, v, err := parseDataKey(it.Key())
			if err != nil {
				it.Release()
				return nil, err
			}
			if v > latest {
				continue
			}
			val := it.Value()
			if len(val) < 1 || val[0] == 0x00 {
				delete(live, string(key))
				continue
			}
			// Entries for one key iterate in ascending version order,
			// so the last one wins.
			live[string(key)] = val[1:]
		}
		it.Release()
	}

	for k, v := range s.pending {
		if v == nil {
			delete(live, k)
		} else {
			live[k] = v
		}
	}

	pairs := make([]Pair, 0, len(live))
	for k, v := range live {
		pairs = append(pairs, Pair{Key: []byte(k), Value: v})
	}
	return pairs, nil
}

// pruneLocked drops whole versions strictly older than before: their roots
// and any data entries superseded at or before the cutoff. The latest
// entry of each key at the cutoff is kept so reads at retained versions
// still resolve.
func (s *VersionedStore) pruneLocked(before uint64) {
	batch := s.db.NewBatch()

	it := s.db.NewIterator([]byte{dataTag}, nil)
	var prevKey []byte
	var prevEntry []byte
	for it.Next() {
		key, v, err := parseDataKey(it.Key())
		if err != nil {
			it.Release()
			return
		}
		if v >= before {
			continue
		}
		// Within one key, a later entry still below the cutoff
		// supersedes the previous one.
		if prevEntry != nil && string(prevKey) == string(key) {
			batch.Delete(prevEntry)
		}
		prevKey = key
		prevEntry = it.Key()
	}
	it.Release()

	for v := uint64(0); v < before; v++ {
		batch.Delete(rootKey(v))
	}
	batch.Write()
}

func dataKeyPrefix(key []byte) []byte {
	buf := make([]byte, 1+binary.MaxVarintLen32+len(key))
	buf[0] = dataTag
	n := binary.PutUvarint(buf[1:], uint64(len(key)))
	copy(buf[1+n:], key)
	return buf[:1+n+len(key)]
}

func dataKey(key []byte, version uint64) []byte {
	prefix := dataKeyPrefix(key)
	out := make([]byte, len(prefix)+8)
	copy(out, prefix)
	binary.BigEndian.PutUint64(out[len(prefix):], version)
	return out
}

func parseDataKey(raw []byte) (key []byte, version uint64, err error) {
	if len(raw) < 1 || raw[0] != dataTag {
		return nil, 0, fmt.Errorf("%w: malformed data key", ErrCorrupted)
	}
	klen, n := binary.Uvarint(raw[1:])
	if n <= 0 || len(raw) != 1+n+int(klen)+8 {
		return nil, 0, fmt.Errorf("%w: malformed data key", ErrCorrupted)
	}
	key = raw[1+n : 1+n+int(klen)]
	version = binary.BigEndian.Uint64(raw[1+n+int(klen):])
	return key, version, nil
}

func rootKey(version uint64) []byte {
	out := make([]byte, 9)
	out[0] = rootTag
	binary.BigEndian.PutUint64(out[1:], version)
	return out
}

// ReadHandle is an immutable read-only view of one committed version.
type ReadHandle struct {
	store   *VersionedStore
	version uint64
}

// Version returns the version this handle reads.
func (h *ReadHandle) Version() uint64 { return h.version }

// Root returns the commitment of the handle's version.
func (h *ReadHandle) Root() (types.Hash, error) {
	return h.store.Root(h.version)
}

// Get returns the value of key at the handle's version.
func (h *ReadHandle) Get(key []byte) ([]byte, error) {
	h.store.mu.RLock()
	defer h.store.mu.RUnlock()
	return h.store.lookup(key, h.version)
}
