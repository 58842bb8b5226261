// Package softconf implements the soft-confirmation kernel: the state
// machine that validates sequencer-asserted blocks before their DA anchor
// finalizes and reconciles each one against the finalized DA data it
// claimed to build on.
package softconf

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/crypto"
	"github.com/tiderollup/tide/log"
)

// Kernel errors.
var (
	ErrBadSignature     = errors.New("softconf: signature does not recover to the sequencer")
	ErrBlockNumberGap   = errors.New("softconf: block number must increase by exactly one")
	ErrDaSlotRegression = errors.New("softconf: da slot height must not decrease")
	ErrUnknownBlock     = errors.New("softconf: no entry for block number")
	ErrNotDaConfirmed   = errors.New("softconf: entry is not DaConfirmed")
	ErrSlotLimit        = errors.New("softconf: block count at da slot exceeds limit")
)

// DefaultMaxBlocksPerSlot caps how many rollup blocks may anchor to a
// single DA slot. Zero disables the cap.
const DefaultMaxBlocksPerSlot = 100

// Status is the lifecycle state of one soft-confirmed block.
type Status uint8

const (
	// StatusPending: assembled by the sequencer, DA anchor not yet
	// finalized.
	StatusPending Status = iota

	// StatusDaConfirmed: the anchoring DA block finalized and its blob
	// set exactly matches the one the sequencer asserted.
	StatusDaConfirmed

	// StatusFinalized: folded permanently into the chain tracker.
	StatusFinalized

	// StatusReverted: the finalized DA data diverged from the asserted
	// blob set; this block and everything after it was discarded.
	StatusReverted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusDaConfirmed:
		return "DaConfirmed"
	case StatusFinalized:
		return "Finalized"
	case StatusReverted:
		return "Reverted"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// entry tracks one soft confirmation through its lifecycle.
type entry struct {
	sc     *types.SoftConfirmation
	status Status
}

// Outcome reports the result of reconciling one DA height.
type Outcome struct {
	// Confirmed lists block numbers that moved Pending -> DaConfirmed.
	Confirmed []uint64

	// RevertFrom is the first rollup height whose derived state must be
	// discarded. Meaningful only when Diverged is true.
	RevertFrom uint64

	// Diverged indicates at least one pending entry did not match the
	// finalized blob set.
	Diverged bool
}

// Kernel validates and tracks soft confirmations for a single sequencer
// identity. Only the sequencer role produces Pending entries; a full node
// feeds confirmations it hears about into the same kernel and lets DA
// reconciliation decide their fate.
type Kernel struct {
	sequencer types.Address
	logger    *log.Logger

	mu         sync.Mutex
	entries    map[uint64]*entry // keyed by block number
	nextBlock  uint64
	lastDaSlot uint64
	maxPerSlot uint64
}

// NewKernel creates a kernel expecting soft confirmations signed by the
// given sequencer address, starting at nextBlock on top of a DA slot no
// lower than lastDaSlot. maxPerSlot caps the number of blocks anchored at
// one DA slot; zero means unlimited.
func NewKernel(sequencer types.Address, nextBlock, lastDaSlot, maxPerSlot uint64, logger *log.Logger) *Kernel {
	if logger == nil {
		logger = log.Discard()
	}
	return &Kernel{
		sequencer:  sequencer,
		logger:     logger.Module("softconf"),
		entries:    make(map[uint64]*entry),
		nextBlock:  nextBlock,
		lastDaSlot: lastDaSlot,
		maxPerSlot: maxPerSlot,
	}
}

// Verify checks a soft confirmation against the kernel's admission rules
// without recording it: the signature must recover to the kernel's
// sequencer, the block number must extend the previous one by exactly
// one, the DA slot height must be non-decreasing, and the slot must have
// room under the per-slot block cap. Callers that re-execute before
// accepting use this first and Submit only once the result checks out.
func (k *Kernel) Verify(sc *types.SoftConfirmation) error {
	if err := k.verifySigner(sc); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.admitLocked(sc)
}

// Submit validates a soft confirmation and records it as Pending.
func (k *Kernel) Submit(sc *types.SoftConfirmation) error {
	if err := k.verifySigner(sc); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.admitLocked(sc); err != nil {
		return err
	}

	k.entries[sc.BlockNumber] = &entry{sc: sc, status: StatusPending}
	k.nextBlock = sc.BlockNumber + 1
	k.lastDaSlot = sc.DaSlotHeight
	k.logger.Debug("soft confirmation pending",
		"block_number", sc.BlockNumber, "da_slot", sc.DaSlotHeight)
	return nil
}

func (k *Kernel) verifySigner(sc *types.SoftConfirmation) error {
	signer, err := crypto.Recover(sc.SigHash(), sc.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != k.sequencer {
		return fmt.Errorf("%w: got %s, want %s", ErrBadSignature, signer, k.sequencer)
	}
	return nil
}

func (k *Kernel) admitLocked(sc *types.SoftConfirmation) error {
	if sc.BlockNumber != k.nextBlock {
		return fmt.Errorf("%w: got %d, want %d", ErrBlockNumberGap, sc.BlockNumber, k.nextBlock)
	}
	if sc.DaSlotHeight < k.lastDaSlot {
		return fmt.Errorf("%w: got %d, floor %d", ErrDaSlotRegression, sc.DaSlotHeight, k.lastDaSlot)
	}
	if k.maxPerSlot > 0 {
		var count uint64
		for _, e := range k.entries {
			if e.sc.DaSlotHeight == sc.DaSlotHeight && e.status != StatusReverted {
				count++
			}
		}
		if count >= k.maxPerSlot {
			return fmt.Errorf("%w: slot %d already carries %d blocks", ErrSlotLimit, sc.DaSlotHeight, count)
		}
	}
	return nil
}

// Reconcile compares the Pending entries anchored at the finalized DA
// block's height against the authoritative blob set (post-selection). In
// block order, the entries must partition the set exactly: each entry
// claims the next run of blobs, with nothing left over at the end. A full
// match moves every entry at the slot to DaConfirmed. Any mismatch,
// including surplus finalized blobs no entry claimed, reverts the whole
// slot and every later tracked entry; the caller truncates chain records
// and state from the reported revert point and resumes from DA data.
// Blocks at a slot are reconciled together because the revert primitive
// replays the full DA block: confirming a prefix of the slot while
// reverting its tail would apply that prefix twice.
func (k *Kernel) Reconcile(daHeight uint64, authoritative []types.Blob) Outcome {
	k.mu.Lock()
	defer k.mu.Unlock()

	numbers := make([]uint64, 0, len(k.entries))
	for n, e := range k.entries {
		if e.status == StatusPending && e.sc.DaSlotHeight == daHeight {
			numbers = append(numbers, n)
		}
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	var out Outcome
	if len(numbers) == 0 {
		return out
	}

	cursor := 0
	matched := true
	for _, n := range numbers {
		claimed := k.entries[n].sc.Blobs
		next := cursor + len(claimed)
		if next > len(authoritative) || !types.BlobsEqual(claimed, authoritative[cursor:next]) {
			matched = false
			k.logger.Warn("soft confirmation diverged from DA",
				"block_number", n, "da_height", daHeight)
			break
		}
		cursor = next
	}
	if matched && cursor != len(authoritative) {
		matched = false
		k.logger.Warn("finalized DA data exceeds the asserted blob set",
			"da_height", daHeight, "surplus", len(authoritative)-cursor)
	}

	if matched {
		for _, n := range numbers {
			k.entries[n].status = StatusDaConfirmed
		}
		out.Confirmed = numbers
		return out
	}

	out.Diverged = true
	out.RevertFrom = numbers[0]
	// Everything at and above the revert point was built on discarded
	// state.
	for n, e := range k.entries {
		if n >= out.RevertFrom && e.status != StatusFinalized {
			e.status = StatusReverted
		}
	}
	k.nextBlock = out.RevertFrom
	return out
}

// Finalize moves a DaConfirmed entry to Finalized and drops entries below
// it from the working set; their fate is permanent.
func (k *Kernel) Finalize(blockNumber uint64) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[blockNumber]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, blockNumber)
	}
	if e.status != StatusDaConfirmed {
		return fmt.Errorf("%w: %d is %s", ErrNotDaConfirmed, blockNumber, e.status)
	}
	e.status = StatusFinalized
	for n, prev := range k.entries {
		if n < blockNumber && (prev.status == StatusFinalized || prev.status == StatusReverted) {
			delete(k.entries, n)
		}
	}
	return nil
}

// Status returns the lifecycle state of the given block number.
func (k *Kernel) Status(blockNumber uint64) (Status, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e, ok := k.entries[blockNumber]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownBlock, blockNumber)
	}
	return e.status, nil
}

// NextBlock returns the block number the kernel expects next.
func (k *Kernel) NextBlock() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nextBlock
}
