package registry

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/stf"
	"github.com/tiderollup/tide/storage"
)

// mapHandle is an in-memory stf.StateHandle for module unit tests.
type mapHandle map[string][]byte

func (h mapHandle) Get(key []byte) ([]byte, error) {
	v, ok := h[string(key)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (h mapHandle) Set(key, value []byte) error {
	h[string(key)] = value
	return nil
}

func (h mapHandle) Delete(key []byte) error {
	delete(h, string(key))
	return nil
}

func addr(b byte) types.Address {
	return types.BytesToAddress([]byte{b})
}

func encodeTx(t *testing.T, tx *Tx) []byte {
	t.Helper()
	raw, err := EncodeTx(tx)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestRegistryGenesis(t *testing.T) {
	r := New()
	state := mapHandle{}

	cfg, err := EncodeGenesis(&GenesisConfig{
		MinBond: uint256.NewInt(100),
		Sequencers: []GenesisSequencer{
			{Addr: addr(1), Bond: uint256.NewInt(500)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InitGenesis(cfg, state); err != nil {
		t.Fatal(err)
	}

	e, err := getEntry(state, addr(1))
	if err != nil {
		t.Fatal(err)
	}
	if !e.Active || e.Bond.Uint64() != 500 {
		t.Errorf("entry = %+v, want active with bond 500", e)
	}
}

func TestRegistryGenesisBondTooLow(t *testing.T) {
	r := New()
	cfg, err := EncodeGenesis(&GenesisConfig{
		MinBond: uint256.NewInt(100),
		Sequencers: []GenesisSequencer{
			{Addr: addr(1), Bond: uint256.NewInt(10)},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InitGenesis(cfg, mapHandle{}); !errors.Is(err, ErrBondTooLow) {
		t.Errorf("got %v, want ErrBondTooLow", err)
	}
}

func TestRegistryRegister(t *testing.T) {
	r := New()
	state := mapHandle{}

	decoded, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(50)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(decoded, addr(2), state); err != nil {
		t.Fatal(err)
	}

	e, err := getEntry(state, addr(2))
	if err != nil {
		t.Fatal(err)
	}
	if !e.Active || e.Bond.Uint64() != 50 {
		t.Errorf("entry = %+v, want active with bond 50", e)
	}

	// Registering twice is an error.
	if err := r.Apply(decoded, addr(2), state); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("got %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegistryRegisterBondTooLow(t *testing.T) {
	r := New()
	state := mapHandle{}
	cfg, err := EncodeGenesis(&GenesisConfig{MinBond: uint256.NewInt(100)})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InitGenesis(cfg, state); err != nil {
		t.Fatal(err)
	}

	decoded, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(99)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(decoded, addr(2), state); !errors.Is(err, ErrBondTooLow) {
		t.Errorf("got %v, want ErrBondTooLow", err)
	}
}

func TestRegistryDeregister(t *testing.T) {
	r := New()
	state := mapHandle{}

	reg, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(10)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(reg, addr(3), state); err != nil {
		t.Fatal(err)
	}

	dereg, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxDeregister}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(dereg, addr(3), state); err != nil {
		t.Fatal(err)
	}

	e, err := getEntry(state, addr(3))
	if err != nil {
		t.Fatal(err)
	}
	if e.Active {
		t.Error("entry still active after deregister")
	}
	// The bond is retained, only the seat is released.
	if e.Bond.Uint64() != 10 {
		t.Errorf("bond = %s, want 10", e.Bond)
	}

	// Deregistering an inactive or unknown sequencer fails.
	if err := r.Apply(dereg, addr(3), state); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("got %v, want ErrNotRegistered", err)
	}
	if err := r.Apply(dereg, addr(9), state); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("got %v, want ErrNotRegistered", err)
	}
}

func TestRegistrySlash(t *testing.T) {
	r := New()
	state := mapHandle{}

	reg, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(777)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(reg, addr(4), state); err != nil {
		t.Fatal(err)
	}
	if err := r.Slash(addr(4), state); err != nil {
		t.Fatal(err)
	}

	e, err := getEntry(state, addr(4))
	if err != nil {
		t.Fatal(err)
	}
	if e.Active || !e.Bond.IsZero() {
		t.Errorf("entry = %+v, want inactive with zero bond", e)
	}

	if err := r.Slash(addr(9), state); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("slash of unknown: got %v, want ErrNotRegistered", err)
	}
}

func TestRegistryDecodeTx(t *testing.T) {
	r := New()
	if _, err := r.DecodeTx([]byte("junk")); err == nil {
		t.Error("decoded junk payload")
	}
	if _, err := r.DecodeTx(encodeTx(t, &Tx{Kind: 9})); !errors.Is(err, ErrBadTxKind) {
		t.Errorf("got %v, want ErrBadTxKind", err)
	}
}

func TestRegistryIsRegisteredView(t *testing.T) {
	store, err := storage.Open(storage.NewMemoryKV())
	if err != nil {
		t.Fatal(err)
	}
	r := New()
	state := storeHandle{store: store}

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	cfg, err := EncodeGenesis(&GenesisConfig{
		Sequencers: []GenesisSequencer{{Addr: addr(1), Bond: uint256.NewInt(5)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.InitGenesis(cfg, state); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatal(err)
	}

	view, err := store.OpenAt(0)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := r.IsRegistered(view, addr(1))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("genesis sequencer not registered in view")
	}
	ok, err = r.IsRegistered(view, addr(9))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("unknown address registered in view")
	}

	bond, err := r.BondOf(view, addr(1))
	if err != nil {
		t.Fatal(err)
	}
	if bond.Uint64() != 5 {
		t.Errorf("bond = %s, want 5", bond)
	}
}

// storeHandle writes through to a versioned store under the registry's
// namespace, mirroring what the dispatch pipeline does.
type storeHandle struct {
	store *storage.VersionedStore
}

func (h storeHandle) Get(key []byte) ([]byte, error) {
	return h.store.Read(stf.ModuleKey(ModuleID, key))
}

func (h storeHandle) Set(key, value []byte) error {
	return h.store.Write(stf.ModuleKey(ModuleID, key), value)
}

func (h storeHandle) Delete(key []byte) error {
	return h.store.Delete(stf.ModuleKey(ModuleID, key))
}

func TestRegistryMinBondSurvivesRestart(t *testing.T) {
	store, err := storage.Open(storage.NewMemoryKV())
	if err != nil {
		t.Fatal(err)
	}
	state := storeHandle{store: store}

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	cfg, err := EncodeGenesis(&GenesisConfig{MinBond: uint256.NewInt(100)})
	if err != nil {
		t.Fatal(err)
	}
	if err := New().InitGenesis(cfg, state); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Commit(); err != nil {
		t.Fatal(err)
	}

	// A fresh module instance over the persisted state, as after a node
	// restart that skips genesis, must enforce the same floor.
	r := New()
	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	low, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(1)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(low, addr(2), state); !errors.Is(err, ErrBondTooLow) {
		t.Errorf("got %v, want ErrBondTooLow", err)
	}

	enough, err := r.DecodeTx(encodeTx(t, &Tx{Kind: TxRegister, Bond: uint256.NewInt(150)}))
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(enough, addr(2), state); err != nil {
		t.Fatal(err)
	}
}
