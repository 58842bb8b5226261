package node

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/crypto"
	"github.com/tiderollup/tide/metrics"
)

// Sequencer errors.
var (
	ErrBatchEmpty = errors.New("node: no transactions to publish")
	ErrBatchFull  = errors.New("node: batch is full")
	ErrTxEmpty    = errors.New("node: transaction payload is empty")
)

// SequencerConfig controls batch assembly.
type SequencerConfig struct {
	// MaxBatchSize is the maximum number of transactions per batch.
	MaxBatchSize int
}

// DefaultSequencerConfig returns a SequencerConfig with sensible defaults.
func DefaultSequencerConfig() SequencerConfig {
	return SequencerConfig{MaxBatchSize: 1000}
}

// Sequencer assembles transactions into batches, publishes them as blobs
// to the DA layer, and soft-confirms the resulting block ahead of DA
// finality.
type Sequencer struct {
	runner *Runner
	key    *ecdsa.PrivateKey
	addr   types.Address
	cfg    SequencerConfig

	mu      sync.Mutex
	pending []types.Transaction
}

// NewSequencer creates a sequencer bound to a runner in the sequencer
// role. The key signs soft confirmations; its derived address must be a
// registered sequencer on the DA layer or every published blob will be
// dropped by selection.
func NewSequencer(runner *Runner, key *ecdsa.PrivateKey, cfg SequencerConfig) (*Sequencer, error) {
	if runner.cfg.Role != RoleSequencer {
		return nil, ErrNotSequencer
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultSequencerConfig().MaxBatchSize
	}
	return &Sequencer{
		runner: runner,
		key:    key,
		addr:   crypto.PubkeyToAddress(key.PublicKey),
		cfg:    cfg,
	}, nil
}

// Address returns the sequencer's DA-layer address.
func (s *Sequencer) Address() types.Address { return s.addr }

// AddTransaction appends a transaction to the current pending batch.
func (s *Sequencer) AddTransaction(tx types.Transaction) error {
	if len(tx.Payload) == 0 {
		return ErrTxEmpty
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.cfg.MaxBatchSize {
		return ErrBatchFull
	}
	s.pending = append(s.pending, tx)
	return nil
}

// PendingCount returns the number of transactions waiting to be sealed.
func (s *Sequencer) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// PublishBatch seals the pending transactions into a batch, posts it to
// the DA layer, applies it locally on top of the head, and returns the
// signed soft confirmation asserting the resulting state root. The soft
// confirmation is tracked as Pending until its DA anchor finalizes.
func (s *Sequencer) PublishBatch(ctx context.Context) (*types.SoftConfirmation, error) {
	s.mu.Lock()
	txs := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(txs) == 0 {
		return nil, ErrBatchEmpty
	}
	restore := func() {
		s.mu.Lock()
		s.pending = append(txs, s.pending...)
		s.mu.Unlock()
	}

	data, err := types.EncodeBatch(&types.Batch{Txs: txs})
	if err != nil {
		restore()
		return nil, err
	}
	receipt, err := s.runner.adapter.SubmitBlob(ctx, data)
	if err != nil {
		restore()
		return nil, fmt.Errorf("node: blob submission: %w", err)
	}

	head, err := s.runner.tracker.Head()
	if err != nil {
		return nil, err
	}
	sc := &types.SoftConfirmation{
		BlockNumber:  head.Height + 1,
		DaSlotHeight: receipt.DaHeight,
		Blobs: []types.Blob{{
			Sender:        s.addr,
			Data:          data,
			SequenceIndex: 0,
		}},
	}

	res, err := s.runner.bp.ApplySoftConfirmation(sc, head.StateRoot)
	if err != nil {
		return nil, err
	}
	sc.StateRoot = res.NewStateRoot

	sig, err := crypto.Sign(sc.SigHash(), s.key)
	if err != nil {
		return nil, err
	}
	sc.Signature = sig

	if err := s.runner.kernel.Submit(sc); err != nil {
		// The speculative version is already committed; drop it so the
		// store stays aligned with the tracker.
		if terr := s.runner.store.Truncate(head.Height); terr != nil {
			return nil, terr
		}
		restore()
		return nil, err
	}
	if err := s.runner.tracker.Append(&res.Record); err != nil {
		return nil, err
	}
	s.runner.observe(res)
	metrics.SoftConfirmationsApplied.Inc()
	s.runner.logger.Info("soft confirmation published",
		"block_number", sc.BlockNumber, "da_slot", sc.DaSlotHeight,
		"txs", len(txs), "root", sc.StateRoot)
	return sc, nil
}
