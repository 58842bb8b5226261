// Package stf implements the state transition function of the rollup: blob
// selection, the static module dispatch table, and the blueprint that turns
// one DA block or soft confirmation into a new state commitment plus
// receipts.
package stf

import (
	"encoding/binary"
	"errors"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/storage"
)

// Module contract errors.
var (
	ErrDuplicateModule = errors.New("stf: duplicate module id in dispatch table")
	ErrReservedModule  = errors.New("stf: module id 0 is reserved for the account namespace")
	ErrUnknownModule   = errors.New("stf: no module registered for id")
)

// accountsNamespace is the reserved namespace (module id 0) where the
// pipeline keeps per-sender nonces.
const accountsNamespace uint32 = 0

// ModuleTx is a module's decoded transaction form. The pipeline treats it
// as opaque and hands it straight back to the owning module's Apply.
type ModuleTx interface{}

// StateHandle is the scoped read/write view a module receives for the
// duration of one call. Keys are private to the module's namespace.
// Modules must not retain the handle across calls.
type StateHandle interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Module is a pluggable state-transition unit. Each module owns a key
// namespace derived from its id and a transaction payload format. Ids must
// be unique and stable for the lifetime of the dispatch table.
type Module interface {
	// ModuleID returns the module's unique, stable identifier. Id 0 is
	// reserved.
	ModuleID() uint32

	// Name returns a short human-readable module name for logs.
	Name() string

	// InitGenesis seeds the module's namespace from its genesis config.
	// Called exactly once, before the first block.
	InitGenesis(config []byte, state StateHandle) error

	// DecodeTx parses a transaction payload into the module's decoded
	// form. Decode failures reject the transaction without touching
	// state.
	DecodeTx(payload []byte) (ModuleTx, error)

	// Apply executes a decoded transaction against the module's state.
	// An error reverts every write the call performed; the pipeline
	// records a failed receipt and moves on.
	Apply(tx ModuleTx, sender types.Address, state StateHandle) error
}

// SequencerSet is the read-only registry view the pipeline consults when
// selecting blobs. The view is always taken at the previous committed
// height so selection is independent of the block's own effects.
type SequencerSet interface {
	IsRegistered(view *storage.ReadHandle, addr types.Address) (bool, error)
}

// Slasher is implemented by the registry module to punish a sequencer
// whose blob failed batch decoding.
type Slasher interface {
	Slash(addr types.Address, state StateHandle) error
}

// ModuleKey prefixes a module-private key with the module's namespace so
// modules can never collide in the flat state store.
func ModuleKey(moduleID uint32, key []byte) []byte {
	out := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(out, moduleID)
	copy(out[4:], key)
	return out
}
