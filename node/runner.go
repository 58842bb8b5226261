// Package node drives the rollup: the runner pulls finalized DA blocks
// (or sequencer soft confirmations), pushes them through the STF
// blueprint, persists chain records, and exposes the resulting chain for
// queries. Block application is strictly sequential; only DA prefetching
// happens concurrently.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tiderollup/tide/chain"
	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/da"
	"github.com/tiderollup/tide/log"
	"github.com/tiderollup/tide/metrics"
	"github.com/tiderollup/tide/softconf"
	"github.com/tiderollup/tide/stf"
	"github.com/tiderollup/tide/storage"
)

// Runner errors.
var (
	ErrNotSequencer      = errors.New("node: operation requires the sequencer role")
	ErrRoleSequencer     = errors.New("node: sequencer does not accept external soft confirmations")
	ErrStateRootMismatch = errors.New("node: soft confirmation state root mismatch")
	ErrHeightMismatch    = errors.New("node: soft confirmation does not extend the chain head")
)

// Role selects the node's behavior around soft confirmations.
type Role uint8

const (
	// RoleFullNode re-executes published blocks; it never produces
	// Pending soft confirmations itself.
	RoleFullNode Role = iota

	// RoleSequencer assembles and publishes blocks ahead of DA
	// finality.
	RoleSequencer
)

// Config controls the runner.
type Config struct {
	// Role is the node role. Defaults to RoleFullNode.
	Role Role

	// StartDaHeight is the first DA height the rollup consumes.
	StartDaHeight uint64

	// PollInterval is how long to wait when the DA head has not reached
	// the wanted height yet.
	PollInterval time.Duration

	// RetryBackoff is the initial backoff after a transient DA fetch
	// failure; it doubles up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// Logger is the parent logger. Defaults to the discard logger.
	Logger *log.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Role:            RoleFullNode,
		StartDaHeight:   1,
		PollInterval:    500 * time.Millisecond,
		RetryBackoff:    250 * time.Millisecond,
		MaxRetryBackoff: 10 * time.Second,
	}
}

// Runner is the outer driver loop of the rollup node.
type Runner struct {
	cfg     Config
	adapter da.Adapter
	bp      *stf.Blueprint
	tracker *chain.Tracker
	kernel  *softconf.Kernel
	store   *storage.VersionedStore
	logger  *log.Logger

	prefetch *prefetcher
}

// NewRunner wires a runner over the given collaborators.
func NewRunner(cfg Config, adapter da.Adapter, bp *stf.Blueprint, tracker *chain.Tracker, kernel *softconf.Kernel) *Runner {
	if cfg.StartDaHeight == 0 {
		cfg.StartDaHeight = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 250 * time.Millisecond
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Runner{
		cfg:     cfg,
		adapter: adapter,
		bp:      bp,
		tracker: tracker,
		kernel:  kernel,
		store:   bp.Store(),
		logger:  logger.Module("runner"),
	}
}

// Tracker returns the chain state tracker for queries.
func (r *Runner) Tracker() *chain.Tracker { return r.tracker }

// Kernel returns the soft-confirmation kernel.
func (r *Runner) Kernel() *softconf.Kernel { return r.kernel }

// InitGenesis initializes the state store and appends the genesis chain
// record at height zero. It is a no-op error if genesis already exists.
func (r *Runner) InitGenesis(genesis *stf.Genesis) error {
	root, err := r.bp.InitGenesis(genesis)
	if err != nil {
		return err
	}
	rec := types.ChainRecord{
		Height:       0,
		DaHeight:     r.cfg.StartDaHeight - 1,
		StateRoot:    root,
		ReceiptsRoot: types.ReceiptsRoot(nil),
	}
	if err := r.tracker.Append(&rec); err != nil {
		return err
	}
	r.logger.Info("genesis committed", "root", root)
	return nil
}

// Run drives the node until the context is cancelled or a fatal error
// surfaces. The loop walks the DA chain by the tracker's consumption
// frontier, never the head record's anchor slot: a soft-confirmed head
// names a DA slot that has not finalized yet, and skipping ahead to it
// would leave its anchor block unreconciled. Transient DA failures are
// retried with backoff; consistency violations trigger rollback and
// resumption from DA data; fatal errors are returned for the process to
// exit non-zero.
func (r *Runner) Run(ctx context.Context) error {
	r.prefetch = newPrefetcher(r.fetchBlock)
	defer r.prefetch.stop()

	for {
		frontier := r.tracker.DaFrontier()
		if frontier+1 < r.cfg.StartDaHeight {
			frontier = r.cfg.StartDaHeight - 1
		}
		nextDa := frontier + 1

		block, err := r.prefetch.take(ctx, nextDa)
		if err != nil {
			return err
		}
		// Start fetching the next block while this one applies.
		r.prefetch.start(ctx, nextDa+1)

		if err := r.applyDaBlock(block); err != nil {
			return err
		}
		if err := r.tracker.AdvanceDaFrontier(nextDa); err != nil {
			return err
		}
	}
}

// applyDaBlock reconciles pending soft confirmations against the
// finalized block, rolling back on divergence, and applies the block's
// data unless identical soft confirmations already carried it.
func (r *Runner) applyDaBlock(block *types.DaBlock) error {
	selected, err := r.bp.SelectAtHead(block.Blobs)
	if err != nil {
		return err
	}

	outcome := r.kernel.Reconcile(block.Height, selected)
	if outcome.Diverged {
		r.logger.Warn("soft confirmation reverted, resuming from DA",
			"revert_from", outcome.RevertFrom, "da_height", block.Height)
		if err := r.rollback(outcome.RevertFrom); err != nil {
			return err
		}
		metrics.SoftConfirmationsReverted.Inc()
		return r.applyAuthoritative(block)
	}

	if len(outcome.Confirmed) > 0 {
		// The block's selected blobs were already applied when the
		// matching soft confirmations arrived; fold them in for good.
		for _, n := range outcome.Confirmed {
			if err := r.kernel.Finalize(n); err != nil {
				return err
			}
		}
		r.logger.Debug("soft confirmations finalized",
			"count", len(outcome.Confirmed), "da_height", block.Height)
		return nil
	}

	return r.applyAuthoritative(block)
}

// applyAuthoritative applies one finalized DA block on top of the head.
func (r *Runner) applyAuthoritative(block *types.DaBlock) error {
	head, err := r.tracker.Head()
	if err != nil {
		return err
	}
	res, err := r.bp.ApplyBlock(block, head.Height+1, head.StateRoot)
	if err != nil {
		return err
	}
	if err := r.tracker.Append(&res.Record); err != nil {
		return err
	}
	r.observe(res)
	metrics.BlocksApplied.Inc()
	r.logger.Info("block applied",
		"height", res.Record.Height, "da_height", block.Height,
		"txs", len(res.Receipts), "root", res.NewStateRoot)
	return nil
}

// SubmitSoftConfirmation feeds an externally received soft confirmation
// into the node. Full-node role only: the kernel validates signature and
// monotonicity, the blueprint re-executes the asserted blobs, and the
// kernel records the confirmation as Pending only once the resulting
// commitment equals the one the sequencer asserted. A rejected
// confirmation leaves the kernel untouched, so a corrected one for the
// same block number is still accepted.
func (r *Runner) SubmitSoftConfirmation(sc *types.SoftConfirmation) error {
	if r.cfg.Role == RoleSequencer {
		return ErrRoleSequencer
	}
	head, err := r.tracker.Head()
	if err != nil {
		return err
	}
	if sc.BlockNumber != head.Height+1 {
		return fmt.Errorf("%w: got %d, head %d", ErrHeightMismatch, sc.BlockNumber, head.Height)
	}
	if err := r.kernel.Verify(sc); err != nil {
		return err
	}

	res, err := r.bp.ApplySoftConfirmation(sc, head.StateRoot)
	if err != nil {
		return err
	}
	if res.NewStateRoot != sc.StateRoot {
		// Divergence between local re-execution and the sequencer's
		// assertion. Discard the speculative version; DA
		// reconciliation settles who was wrong.
		if terr := r.store.Truncate(head.Height); terr != nil {
			return terr
		}
		return fmt.Errorf("%w: computed %s, asserted %s",
			ErrStateRootMismatch, res.NewStateRoot, sc.StateRoot)
	}
	if err := r.kernel.Submit(sc); err != nil {
		if terr := r.store.Truncate(head.Height); terr != nil {
			return terr
		}
		return err
	}
	if err := r.tracker.Append(&res.Record); err != nil {
		return err
	}
	r.observe(res)
	metrics.SoftConfirmationsApplied.Inc()
	r.logger.Info("soft confirmation applied",
		"block_number", sc.BlockNumber, "da_slot", sc.DaSlotHeight,
		"root", res.NewStateRoot)
	return nil
}

// rollback discards every chain record and state version at or above the
// given height and resumes from the last DA-derived state.
func (r *Runner) rollback(from uint64) error {
	if from == 0 {
		return errors.New("node: refusing to roll back genesis")
	}
	if err := r.store.Truncate(from - 1); err != nil {
		return err
	}
	return r.tracker.Truncate(from)
}

func (r *Runner) observe(res *stf.BlockResult) {
	for _, rec := range res.Receipts {
		if rec.Status == types.TxSuccessful {
			metrics.TxsSuccessful.Inc()
		} else {
			metrics.TxsReverted.Inc()
		}
	}
	metrics.BlobsDropped.Add(int64(res.DroppedBlobs))
	metrics.HeadHeight.Set(int64(res.Record.Height))
}

// fetchBlock fetches one DA block, waiting for the DA head to reach the
// height and retrying transient failures with capped exponential backoff.
// No state is mutated before a fetch fully succeeds, so cancellation and
// retry are side-effect free.
func (r *Runner) fetchBlock(ctx context.Context, height uint64) (*types.DaBlock, error) {
	backoff := r.cfg.RetryBackoff
	for {
		head, err := r.adapter.HeadHeight(ctx)
		switch {
		case err != nil:
			metrics.DaFetchRetries.Inc()
			r.logger.Warn("DA head fetch failed, retrying", "err", err, "backoff", backoff)
		case head < height:
			if err := sleep(ctx, r.cfg.PollInterval); err != nil {
				return nil, err
			}
			continue
		default:
			block, err := r.adapter.GetBlock(ctx, height)
			if err == nil {
				return block, nil
			}
			metrics.DaFetchRetries.Inc()
			r.logger.Warn("DA block fetch failed, retrying",
				"height", height, "err", err, "backoff", backoff)
		}

		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > r.cfg.MaxRetryBackoff {
			backoff = r.cfg.MaxRetryBackoff
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
