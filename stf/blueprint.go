package stf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/log"
	"github.com/tiderollup/tide/storage"
)

// Blueprint errors.
var (
	ErrNoGenesis        = errors.New("stf: state store has no genesis commitment")
	ErrGenesisExists    = errors.New("stf: genesis already initialized")
	ErrPrevRootMismatch = errors.New("stf: previous commitment does not match store head")
)

// Genesis carries each module's genesis configuration, keyed by module id.
// Modules are initialized in the dispatch table's fixed order; a module
// with no entry receives a nil config.
type Genesis struct {
	Modules map[uint32][]byte
}

// BlockResult is the outcome of applying one DA block or soft confirmation.
type BlockResult struct {
	NewStateRoot  types.Hash
	Receipts      []types.Receipt
	BatchReceipts []types.BatchReceipt
	DroppedBlobs  int
	Record        types.ChainRecord
}

// Blueprint orchestrates one full block application: blob selection against
// the previous height's registry view, strictly ordered dispatch through
// the module table, and the commit producing the new state commitment. It
// performs no I/O beyond the state store handle it owns and is a
// deterministic function of its inputs, so the same code path replays
// identically inside a proving environment.
type Blueprint struct {
	table    *Table
	store    *storage.VersionedStore
	registry SequencerSet

	slasher   Slasher
	slasherID uint32

	logger *log.Logger
}

// NewBlueprint wires a blueprint over the given store, dispatch table and
// registry view. If one of the table's modules implements Slasher, it is
// used to punish sequencers posting undecodable blobs.
func NewBlueprint(store *storage.VersionedStore, table *Table, registry SequencerSet, logger *log.Logger) *Blueprint {
	if logger == nil {
		logger = log.Discard()
	}
	bp := &Blueprint{
		table:    table,
		store:    store,
		registry: registry,
		logger:   logger.Module("stf"),
	}
	for _, m := range table.Modules() {
		if sl, ok := m.(Slasher); ok {
			bp.slasher = sl
			bp.slasherID = m.ModuleID()
			break
		}
	}
	return bp
}

// Store returns the blueprint's state store.
func (bp *Blueprint) Store() *storage.VersionedStore { return bp.store }

// SelectAtHead filters and orders blobs against the registry view at the
// head commitment, without applying anything. The runner uses it to
// reconcile soft confirmations against a finalized DA block.
func (bp *Blueprint) SelectAtHead(blobs []types.Blob) ([]types.Blob, error) {
	latest, ok := bp.store.Latest()
	if !ok {
		return nil, ErrNoGenesis
	}
	view, err := bp.store.OpenAt(latest)
	if err != nil {
		return nil, err
	}
	selected, _, err := SelectBlobs(blobs, bp.registry, view)
	return selected, err
}

// InitGenesis runs every module's genesis hook in table order and commits
// version zero, returning the genesis commitment.
func (bp *Blueprint) InitGenesis(genesis *Genesis) (types.Hash, error) {
	if _, ok := bp.store.Latest(); ok {
		return types.Hash{}, ErrGenesisExists
	}
	if err := bp.store.Begin(); err != nil {
		return types.Hash{}, err
	}

	ws := newWorkingSet(bp.store)
	for _, m := range bp.table.Modules() {
		var cfg []byte
		if genesis != nil {
			cfg = genesis.Modules[m.ModuleID()]
		}
		handle := &scopedHandle{ws: ws, moduleID: m.ModuleID()}
		if err := m.InitGenesis(cfg, handle); err != nil {
			bp.store.Discard()
			return types.Hash{}, fmt.Errorf("stf: genesis of module %q: %w", m.Name(), err)
		}
		if err := ws.checkpoint(); err != nil {
			bp.store.Discard()
			return types.Hash{}, err
		}
	}
	root, err := bp.store.Commit()
	if err != nil {
		return types.Hash{}, err
	}
	bp.logger.Info("genesis initialized", "root", root)
	return root, nil
}

// ApplyBlock applies one finalized DA block at the given rollup height.
// prevRoot must equal the store's head commitment; a mismatch means the
// caller's view of the chain has diverged from the store, which is a
// determinism fault, not a recoverable input error.
func (bp *Blueprint) ApplyBlock(block *types.DaBlock, height uint64, prevRoot types.Hash) (*BlockResult, error) {
	res, err := bp.applyBlobs(block.Blobs, block.Height, height, prevRoot)
	if err != nil {
		return nil, err
	}
	bp.logger.Debug("applied DA block",
		"da_height", block.Height, "height", height,
		"receipts", len(res.Receipts), "dropped", res.DroppedBlobs,
		"root", res.NewStateRoot)
	return res, nil
}

// ApplySoftConfirmation applies a sequencer-asserted block through the
// identical execution path as a DA block, anchored at the claimed DA slot
// height. The caller (the soft-confirmation kernel) compares the resulting
// commitment against the one the sequencer asserted.
func (bp *Blueprint) ApplySoftConfirmation(sc *types.SoftConfirmation, prevRoot types.Hash) (*BlockResult, error) {
	res, err := bp.applyBlobs(sc.Blobs, sc.DaSlotHeight, sc.BlockNumber, prevRoot)
	if err != nil {
		return nil, err
	}
	bp.logger.Debug("applied soft confirmation",
		"block_number", sc.BlockNumber, "da_slot", sc.DaSlotHeight,
		"root", res.NewStateRoot)
	return res, nil
}

func (bp *Blueprint) applyBlobs(blobs []types.Blob, daHeight, height uint64, prevRoot types.Hash) (*BlockResult, error) {
	latest, ok := bp.store.Latest()
	if !ok {
		return nil, ErrNoGenesis
	}
	headRoot, err := bp.store.Root(latest)
	if err != nil {
		return nil, err
	}
	if headRoot != prevRoot {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrPrevRootMismatch, headRoot, prevRoot)
	}

	// Registry view at the previous committed height: selection must not
	// observe the block's own effects.
	view, err := bp.store.OpenAt(latest)
	if err != nil {
		return nil, err
	}
	selected, dropped, err := SelectBlobs(blobs, bp.registry, view)
	if err != nil {
		return nil, err
	}

	if err := bp.store.Begin(); err != nil {
		return nil, err
	}
	ws := newWorkingSet(bp.store)

	batchReceipts := make([]types.BatchReceipt, 0, len(selected))
	var receipts []types.Receipt
	for i := range selected {
		br := bp.applyBlob(ws, &selected[i])
		receipts = append(receipts, br.Receipts...)
		batchReceipts = append(batchReceipts, br)
	}

	newRoot, err := bp.store.Commit()
	if err != nil {
		return nil, err
	}

	return &BlockResult{
		NewStateRoot:  newRoot,
		Receipts:      receipts,
		BatchReceipts: batchReceipts,
		DroppedBlobs:  dropped,
		Record: types.ChainRecord{
			Height:       height,
			DaHeight:     daHeight,
			StateRoot:    newRoot,
			ReceiptsRoot: types.ReceiptsRoot(receipts),
		},
	}, nil
}

// applyBlob decodes one selected blob into a batch and dispatches its
// transactions strictly in order. A blob that fails batch decoding applies
// nothing; the posting sequencer is slashed and the batch is ignored.
func (bp *Blueprint) applyBlob(ws *workingSet, blob *types.Blob) types.BatchReceipt {
	br := types.BatchReceipt{
		BlobHash: blob.Hash(),
		Sender:   blob.Sender,
	}

	batch, err := types.DecodeBatch(blob.Data)
	if err != nil {
		bp.logger.Warn("undecodable blob, slashing sequencer",
			"sender", blob.Sender, "err", err)
		if bp.slasher != nil {
			handle := &scopedHandle{ws: ws, moduleID: bp.slasherID}
			if serr := bp.slasher.Slash(blob.Sender, handle); serr != nil {
				bp.logger.Error("slash failed", "sender", blob.Sender, "err", serr)
				ws.revert()
			} else if cerr := ws.checkpoint(); cerr != nil {
				bp.logger.Error("slash checkpoint failed", "sender", blob.Sender, "err", cerr)
				ws.revert()
			}
		}
		br.Outcome = types.BatchIgnored
		return br
	}

	br.Outcome = types.BatchApplied
	br.Receipts = make([]types.Receipt, 0, len(batch.Txs))
	for i := range batch.Txs {
		br.Receipts = append(br.Receipts, bp.applyTx(ws, &batch.Txs[i]))
	}
	return br
}

// applyTx applies a single transaction with per-transaction atomicity:
// a failed apply rolls back every write the transaction made, while the
// nonce increment performed before dispatch is kept.
func (bp *Blueprint) applyTx(ws *workingSet, tx *types.Transaction) types.Receipt {
	receipt := types.Receipt{
		TxHash:   tx.Hash(),
		ModuleID: tx.ModuleID,
		Status:   types.TxReverted,
	}

	mod, ok := bp.table.Lookup(tx.ModuleID)
	if !ok {
		receipt.Error = fmt.Sprintf("%v: %d", ErrUnknownModule, tx.ModuleID)
		return receipt
	}

	// Nonce gate: a mismatch rejects the transaction without mutating
	// state.
	stored := bp.readNonce(ws, tx.Sender)
	if tx.Nonce != stored {
		receipt.Error = fmt.Sprintf("stf: bad nonce: have %d, want %d", tx.Nonce, stored)
		return receipt
	}
	bp.writeNonce(ws, tx.Sender, stored+1)
	if err := ws.checkpoint(); err != nil {
		receipt.Error = err.Error()
		return receipt
	}

	decoded, err := mod.DecodeTx(tx.Payload)
	if err != nil {
		receipt.Error = fmt.Sprintf("stf: decode by module %q: %v", mod.Name(), err)
		return receipt
	}

	handle := &scopedHandle{ws: ws, moduleID: tx.ModuleID}
	if err := mod.Apply(decoded, tx.Sender, handle); err != nil {
		ws.revert()
		receipt.Error = err.Error()
		bp.logger.Debug("tx reverted", "tx", receipt.TxHash, "module", mod.Name(), "err", err)
		return receipt
	}
	if err := ws.checkpoint(); err != nil {
		ws.revert()
		receipt.Error = err.Error()
		return receipt
	}

	receipt.Status = types.TxSuccessful
	receipt.Error = ""
	return receipt
}

func (bp *Blueprint) readNonce(ws *workingSet, sender types.Address) uint64 {
	raw, err := ws.get(ModuleKey(accountsNamespace, sender.Bytes()))
	if err != nil || len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (bp *Blueprint) writeNonce(ws *workingSet, sender types.Address, nonce uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	ws.set(ModuleKey(accountsNamespace, sender.Bytes()), buf[:])
}
