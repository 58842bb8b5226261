package types

// TxStatus is the outcome of applying a single transaction.
type TxStatus uint8

const (
	// TxSuccessful indicates the transaction applied and its writes
	// were committed into the block's working state.
	TxSuccessful TxStatus = iota

	// TxReverted indicates apply failed; all of the transaction's
	// writes were rolled back. Prior transactions are unaffected.
	TxReverted
)

// String implements fmt.Stringer.
func (s TxStatus) String() string {
	switch s {
	case TxSuccessful:
		return "successful"
	case TxReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Receipt records the outcome of one transaction application.
type Receipt struct {
	TxHash   Hash
	ModuleID uint32
	Status   TxStatus

	// Error holds the apply or decode failure message for reverted
	// transactions; empty on success. Informational only, not part of
	// any commitment.
	Error string
}

// BatchOutcome is the blob-level result of applying one selected blob.
type BatchOutcome uint8

const (
	// BatchApplied: the blob decoded into a batch and its transactions
	// were dispatched (individually succeeding or reverting).
	BatchApplied BatchOutcome = iota

	// BatchIgnored: the blob data did not decode into a batch; nothing
	// was applied and the posting sequencer was slashed.
	BatchIgnored
)

// BatchReceipt groups the transaction receipts produced by one blob.
type BatchReceipt struct {
	BlobHash Hash
	Sender   Address
	Outcome  BatchOutcome
	Receipts []Receipt
}

// ReceiptsRoot computes a commitment over an ordered receipt list. Only
// the consensus-relevant fields (tx hash, module, status) enter the
// commitment; error strings do not.
func ReceiptsRoot(receipts []Receipt) Hash {
	type sealed struct {
		TxHash   Hash
		ModuleID uint32
		Status   uint8
	}
	list := make([]sealed, len(receipts))
	for i, r := range receipts {
		list[i] = sealed{TxHash: r.TxHash, ModuleID: r.ModuleID, Status: uint8(r.Status)}
	}
	return rlpHash(list)
}
