package stf

import (
	"github.com/tiderollup/tide/storage"
)

// workingSet is the transaction-level write buffer layered on top of the
// store's block-level pending set. Writes go to the dirty overlay first;
// Checkpoint folds them down into the store, Revert drops them. This gives
// per-transaction atomicity without disturbing earlier transactions in the
// same block.
type workingSet struct {
	store *storage.VersionedStore
	dirty map[string][]byte // nil value marks a delete
	order []string
}

func newWorkingSet(store *storage.VersionedStore) *workingSet {
	return &workingSet{
		store: store,
		dirty: make(map[string][]byte),
	}
}

func (ws *workingSet) get(key []byte) ([]byte, error) {
	if v, ok := ws.dirty[string(key)]; ok {
		if v == nil {
			return nil, storage.ErrNotFound
		}
		cp := make([]byte, len(v))
		copy(cp, v)
		return cp, nil
	}
	return ws.store.Read(key)
}

func (ws *workingSet) set(key, value []byte) {
	k := string(key)
	if _, seen := ws.dirty[k]; !seen {
		ws.order = append(ws.order, k)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	ws.dirty[k] = cp
}

func (ws *workingSet) delete(key []byte) {
	k := string(key)
	if _, seen := ws.dirty[k]; !seen {
		ws.order = append(ws.order, k)
	}
	ws.dirty[k] = nil
}

// checkpoint flushes the dirty overlay into the store's pending set, in
// write order, and clears the overlay.
func (ws *workingSet) checkpoint() error {
	for _, k := range ws.order {
		v := ws.dirty[k]
		var err error
		if v == nil {
			err = ws.store.Delete([]byte(k))
		} else {
			err = ws.store.Write([]byte(k), v)
		}
		if err != nil {
			return err
		}
	}
	ws.dirty = make(map[string][]byte)
	ws.order = ws.order[:0]
	return nil
}

// revert drops the dirty overlay, leaving the store's pending set exactly
// as it was at the last checkpoint.
func (ws *workingSet) revert() {
	ws.dirty = make(map[string][]byte)
	ws.order = ws.order[:0]
}

// scopedHandle is the namespaced StateHandle modules receive. It prefixes
// every key with the module id and forwards to the working set.
type scopedHandle struct {
	ws       *workingSet
	moduleID uint32
}

func (h *scopedHandle) Get(key []byte) ([]byte, error) {
	return h.ws.get(ModuleKey(h.moduleID, key))
}

func (h *scopedHandle) Set(key, value []byte) error {
	h.ws.set(ModuleKey(h.moduleID, key), value)
	return nil
}

func (h *scopedHandle) Delete(key []byte) error {
	h.ws.delete(ModuleKey(h.moduleID, key))
	return nil
}
