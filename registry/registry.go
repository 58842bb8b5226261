// Package registry implements the sequencer registry: the module that
// tracks which DA-layer addresses are authorized sequencers and the bond
// each has staked. Registration and deregistration travel as ordinary
// transactions through the dispatch table; the pipeline itself only ever
// reads the registry, at the previous committed height.
package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/stf"
	"github.com/tiderollup/tide/storage"
)

// ModuleID is the registry's fixed module id in the dispatch table.
const ModuleID uint32 = 2

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("registry: sequencer already registered")
	ErrNotRegistered     = errors.New("registry: sequencer not registered")
	ErrBondTooLow        = errors.New("registry: bond below minimum")
	ErrBadTxKind         = errors.New("registry: unknown transaction kind")
)

// Transaction kinds.
const (
	TxRegister uint8 = iota
	TxDeregister
)

// Tx is the registry's decoded transaction form.
type Tx struct {
	Kind uint8
	Bond *uint256.Int `rlp:"nil"`
}

// entry is the stored per-sequencer record.
type entry struct {
	Bond   *uint256.Int
	Active bool
}

// GenesisSequencer seeds one sequencer at genesis.
type GenesisSequencer struct {
	Addr types.Address
	Bond *uint256.Int `rlp:"nil"`
}

// GenesisConfig is the registry's genesis configuration.
type GenesisConfig struct {
	MinBond    *uint256.Int `rlp:"nil"`
	Sequencers []GenesisSequencer
}

// EncodeGenesis serializes a genesis config for stf.Genesis.
func EncodeGenesis(cfg *GenesisConfig) ([]byte, error) {
	return rlp.EncodeToBytes(cfg)
}

// EncodeTx serializes a registry transaction payload.
func EncodeTx(tx *Tx) ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

// minBondKey stores the genesis minimum bond in the registry's state
// namespace. Sequencer entries are keyed by 20-byte addresses, so the
// name cannot collide.
var minBondKey = []byte("minbond")

// Registry is the sequencer registry module. It implements stf.Module,
// stf.SequencerSet and stf.Slasher. The module is stateless; the minimum
// bond lives in the state store so that a restarted node enforces the
// same floor as one replaying from genesis.
type Registry struct{}

// New creates the registry module.
func New() *Registry {
	return &Registry{}
}

// ModuleID implements stf.Module.
func (r *Registry) ModuleID() uint32 { return ModuleID }

// Name implements stf.Module.
func (r *Registry) Name() string { return "sequencer_registry" }

// InitGenesis seeds the registered sequencer set and the minimum bond.
func (r *Registry) InitGenesis(config []byte, state stf.StateHandle) error {
	if len(config) == 0 {
		return nil
	}
	var cfg GenesisConfig
	if err := rlp.DecodeBytes(config, &cfg); err != nil {
		return fmt.Errorf("registry: decoding genesis: %w", err)
	}
	minBond := uint256.NewInt(0)
	if cfg.MinBond != nil {
		minBond = cfg.MinBond
	}
	if err := state.Set(minBondKey, minBond.Bytes()); err != nil {
		return err
	}
	for _, seq := range cfg.Sequencers {
		bond := seq.Bond
		if bond == nil {
			bond = uint256.NewInt(0)
		}
		if bond.Lt(minBond) {
			return fmt.Errorf("%w: %s at genesis", ErrBondTooLow, seq.Addr)
		}
		if err := putEntry(state, seq.Addr, &entry{Bond: bond, Active: true}); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTx implements stf.Module.
func (r *Registry) DecodeTx(payload []byte) (stf.ModuleTx, error) {
	var tx Tx
	if err := rlp.DecodeBytes(payload, &tx); err != nil {
		return nil, err
	}
	if tx.Kind > TxDeregister {
		return nil, ErrBadTxKind
	}
	return &tx, nil
}

// Apply implements stf.Module. Register stakes the sender's bond and
// activates it; Deregister deactivates the sender, releasing the seat from
// the next height onward (selection reads the previous height's view).
func (r *Registry) Apply(mtx stf.ModuleTx, sender types.Address, state stf.StateHandle) error {
	tx := mtx.(*Tx)
	switch tx.Kind {
	case TxRegister:
		if e, err := getEntry(state, sender); err == nil && e.Active {
			return ErrAlreadyRegistered
		}
		minBond, err := readMinBond(state)
		if err != nil {
			return err
		}
		bond := tx.Bond
		if bond == nil {
			bond = uint256.NewInt(0)
		}
		if bond.Lt(minBond) {
			return fmt.Errorf("%w: have %s, want %s", ErrBondTooLow, bond, minBond)
		}
		return putEntry(state, sender, &entry{Bond: bond.Clone(), Active: true})

	case TxDeregister:
		e, err := getEntry(state, sender)
		if err != nil || !e.Active {
			return ErrNotRegistered
		}
		e.Active = false
		return putEntry(state, sender, e)

	default:
		return ErrBadTxKind
	}
}

// Slash implements stf.Slasher: the sequencer loses its bond and its seat.
// Invoked by the blueprint when a registered sequencer posts a blob that
// does not decode into a batch.
func (r *Registry) Slash(addr types.Address, state stf.StateHandle) error {
	e, err := getEntry(state, addr)
	if err != nil {
		return ErrNotRegistered
	}
	e.Bond = uint256.NewInt(0)
	e.Active = false
	return putEntry(state, addr, e)
}

// IsRegistered reports whether addr is an active sequencer in the given
// historical view. Implements stf.SequencerSet.
func (r *Registry) IsRegistered(view *storage.ReadHandle, addr types.Address) (bool, error) {
	e, err := readEntry(view, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Active, nil
}

// BondOf returns the bond staked by addr in the given historical view.
// Unregistered addresses have a zero bond.
func (r *Registry) BondOf(view *storage.ReadHandle, addr types.Address) (*uint256.Int, error) {
	e, err := readEntry(view, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return e.Bond, nil
}

func readMinBond(state stf.StateHandle) (*uint256.Int, error) {
	raw, err := state.Get(minBondKey)
	if errors.Is(err, storage.ErrNotFound) {
		return uint256.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func getEntry(state stf.StateHandle, addr types.Address) (*entry, error) {
	raw, err := state.Get(addr.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeEntry(raw)
}

func readEntry(view *storage.ReadHandle, addr types.Address) (*entry, error) {
	raw, err := view.Get(stf.ModuleKey(ModuleID, addr.Bytes()))
	if err != nil {
		return nil, err
	}
	return decodeEntry(raw)
}

func decodeEntry(raw []byte) (*entry, error) {
	var e entry
	if err := rlp.DecodeBytes(raw, &e); err != nil {
		return nil, fmt.Errorf("registry: corrupt entry: %w", err)
	}
	if e.Bond == nil {
		e.Bond = uint256.NewInt(0)
	}
	return &e, nil
}

func putEntry(state stf.StateHandle, addr types.Address, e *entry) error {
	raw, err := rlp.EncodeToBytes(e)
	if err != nil {
		return err
	}
	return state.Set(addr.Bytes(), raw)
}
