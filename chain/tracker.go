// Package chain implements the chain state tracker: the append-only,
// height-indexed history of chain records that forms the canonical rollup
// chain. Records are never mutated after being written; the only rollback
// mechanism is explicit truncation of trailing records during
// soft-confirmation reconciliation failure.
package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/storage"
)

// Tracker errors.
var (
	ErrRecordNotFound = errors.New("chain: no record at height")
	ErrNotSequential  = errors.New("chain: record height is not head+1")
	ErrConflict       = errors.New("chain: conflicting finalized records at one height")
	ErrEmptyChain     = errors.New("chain: no records")
)

// Key space within the backing KVStore:
//
//	"c/" <height be64>  ->  rlp(ChainRecord)
//	"c/head"            ->  <height be64>
//	"c/dafrontier"      ->  <da height be64>
var (
	recordPrefix  = []byte("c/")
	headKey       = []byte("c/head")
	daFrontierKey = []byte("c/dafrontier")
)

// Tracker owns the chain record history. Appends happen on the single
// block-application goroutine; reads may come from anywhere.
type Tracker struct {
	db storage.KVStore

	mu         sync.RWMutex
	head       uint64
	hasHead    bool
	daFrontier uint64
}

// NewTracker opens a tracker over the given store, recovering the head
// height if prior records exist.
func NewTracker(db storage.KVStore) (*Tracker, error) {
	t := &Tracker{db: db}
	raw, err := db.Get(headKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("chain: corrupt head entry (length %d)", len(raw))
		}
		t.head = binary.BigEndian.Uint64(raw)
		t.hasHead = true
	case errors.Is(err, storage.ErrNotFound):
		// Fresh chain.
	default:
		return nil, err
	}

	raw, err = db.Get(daFrontierKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return nil, fmt.Errorf("chain: corrupt da frontier entry (length %d)", len(raw))
		}
		t.daFrontier = binary.BigEndian.Uint64(raw)
	case errors.Is(err, storage.ErrNotFound):
		// No DA block consumed yet.
	default:
		return nil, err
	}
	return t, nil
}

// Append adds the record for the next height. The first record may start
// at any height (genesis); every later record must extend the head by
// exactly one. Re-appending an identical record at the head is idempotent;
// a different record at an existing height is a determinism violation
// surfaced as ErrConflict, which callers must treat as fatal.
func (t *Tracker) Append(rec *types.ChainRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasHead {
		switch {
		case rec.Height == t.head+1:
			// Normal extension.
		case rec.Height <= t.head:
			existing, err := t.recordLocked(rec.Height)
			if err != nil {
				return err
			}
			if existing.Hash() == rec.Hash() {
				return nil
			}
			return fmt.Errorf("%w: height %d", ErrConflict, rec.Height)
		default:
			return fmt.Errorf("%w: have head %d, got %d", ErrNotSequential, t.head, rec.Height)
		}
	}

	raw, err := types.EncodeChainRecord(rec)
	if err != nil {
		return err
	}
	batch := t.db.NewBatch()
	batch.Put(recordKey(rec.Height), raw)
	var headBuf [8]byte
	binary.BigEndian.PutUint64(headBuf[:], rec.Height)
	batch.Put(headKey, headBuf[:])
	if err := batch.Write(); err != nil {
		return err
	}

	t.head = rec.Height
	t.hasHead = true
	return nil
}

// Record returns the record at the given height.
func (t *Tracker) Record(height uint64) (*types.ChainRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.recordLocked(height)
}

func (t *Tracker) recordLocked(height uint64) (*types.ChainRecord, error) {
	raw, err := t.db.Get(recordKey(height))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRecordNotFound, height)
	}
	if err != nil {
		return nil, err
	}
	return types.DecodeChainRecord(raw)
}

// Head returns the record at the current head height.
func (t *Tracker) Head() (*types.ChainRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasHead {
		return nil, ErrEmptyChain
	}
	return t.recordLocked(t.head)
}

// HeadHeight returns the current head height. ok is false for an empty
// chain.
func (t *Tracker) HeadHeight() (height uint64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.head, t.hasHead
}

// DaFrontier returns the highest DA height whose finalized block has been
// consumed. Chain records anchored by soft confirmations may name a DA
// slot ahead of the frontier; reconciliation catches up to them as the DA
// chain finalizes.
func (t *Tracker) DaFrontier() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.daFrontier
}

// AdvanceDaFrontier records daHeight as consumed. The frontier never
// moves backwards; rollbacks discard rollup state, not DA progress.
func (t *Tracker) AdvanceDaFrontier(daHeight uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if daHeight <= t.daFrontier {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], daHeight)
	if err := t.db.Put(daFrontierKey, buf[:]); err != nil {
		return err
	}
	t.daFrontier = daHeight
	return nil
}

// Truncate removes every record at or above the given height. This is the
// reorg primitive: it runs only when a soft confirmation fails
// reconciliation and the chain must resume from the last DA-derived state.
func (t *Tracker) Truncate(from uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasHead || from > t.head {
		return nil
	}

	batch := t.db.NewBatch()
	for h := from; h <= t.head; h++ {
		batch.Delete(recordKey(h))
	}
	if from == 0 {
		batch.Delete(headKey)
	} else {
		var headBuf [8]byte
		binary.BigEndian.PutUint64(headBuf[:], from-1)
		batch.Put(headKey, headBuf[:])
	}
	if err := batch.Write(); err != nil {
		return err
	}

	if from == 0 {
		t.hasHead = false
		t.head = 0
	} else {
		t.head = from - 1
	}
	return nil
}

func recordKey(height uint64) []byte {
	out := make([]byte, len(recordPrefix)+8)
	copy(out, recordPrefix)
	binary.BigEndian.PutUint64(out[len(recordPrefix):], height)
	return out
}
