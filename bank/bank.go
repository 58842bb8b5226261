// Package bank implements a minimal token module: per-account balances
// with a single transfer operation. It exists to exercise the module
// contract end to end; richer asset semantics live outside the engine.
package bank

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/stf"
	"github.com/tiderollup/tide/storage"
)

// ModuleID is the bank's fixed module id in the dispatch table.
const ModuleID uint32 = 1

// Bank errors.
var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrZeroAmount        = errors.New("bank: transfer amount is zero")
	ErrSelfTransfer      = errors.New("bank: transfer to self")
)

// Transfer is the bank's decoded transaction: move Amount from the tx
// sender to To.
type Transfer struct {
	To     types.Address
	Amount *uint256.Int `rlp:"nil"`
}

// EncodeTransfer serializes a transfer payload.
func EncodeTransfer(t *Transfer) ([]byte, error) {
	return rlp.EncodeToBytes(t)
}

// GenesisAccount seeds one balance at genesis.
type GenesisAccount struct {
	Addr    types.Address
	Balance *uint256.Int `rlp:"nil"`
}

// GenesisConfig is the bank's genesis configuration.
type GenesisConfig struct {
	Accounts []GenesisAccount
}

// EncodeGenesis serializes a genesis config for stf.Genesis.
func EncodeGenesis(cfg *GenesisConfig) ([]byte, error) {
	return rlp.EncodeToBytes(cfg)
}

// Bank is the token transfer module. Implements stf.Module.
type Bank struct{}

// New creates the bank module.
func New() *Bank { return &Bank{} }

// ModuleID implements stf.Module.
func (b *Bank) ModuleID() uint32 { return ModuleID }

// Name implements stf.Module.
func (b *Bank) Name() string { return "bank" }

// InitGenesis seeds the genesis balances.
func (b *Bank) InitGenesis(config []byte, state stf.StateHandle) error {
	if len(config) == 0 {
		return nil
	}
	var cfg GenesisConfig
	if err := rlp.DecodeBytes(config, &cfg); err != nil {
		return fmt.Errorf("bank: decoding genesis: %w", err)
	}
	for _, acct := range cfg.Accounts {
		if acct.Balance == nil {
			continue
		}
		if err := putBalance(state, acct.Addr, acct.Balance); err != nil {
			return err
		}
	}
	return nil
}

// DecodeTx implements stf.Module.
func (b *Bank) DecodeTx(payload []byte) (stf.ModuleTx, error) {
	var t Transfer
	if err := rlp.DecodeBytes(payload, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Apply moves funds from the sender to the recipient. Any failure leaves
// both balances untouched; the pipeline reverts the handle's writes.
func (b *Bank) Apply(mtx stf.ModuleTx, sender types.Address, state stf.StateHandle) error {
	t := mtx.(*Transfer)
	if t.Amount == nil || t.Amount.IsZero() {
		return ErrZeroAmount
	}
	if t.To == sender {
		return ErrSelfTransfer
	}

	from := getBalance(state, sender)
	if from.Lt(t.Amount) {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientFunds, from, t.Amount)
	}
	to := getBalance(state, t.To)

	from.Sub(from, t.Amount)
	to.Add(to, t.Amount)

	if err := putBalance(state, sender, from); err != nil {
		return err
	}
	return putBalance(state, t.To, to)
}

// BalanceOf returns addr's balance in the given historical view.
func BalanceOf(view *storage.ReadHandle, addr types.Address) *uint256.Int {
	raw, err := view.Get(stf.ModuleKey(ModuleID, addr.Bytes()))
	if err != nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).SetBytes(raw)
}

func getBalance(state stf.StateHandle, addr types.Address) *uint256.Int {
	raw, err := state.Get(addr.Bytes())
	if err != nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).SetBytes(raw)
}

func putBalance(state stf.StateHandle, addr types.Address, amount *uint256.Int) error {
	b := amount.Bytes32()
	return state.Set(addr.Bytes(), b[:])
}
