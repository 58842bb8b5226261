package types

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
)

// Transaction errors.
var (
	ErrTxEmptyPayload = errors.New("types: transaction payload is empty")
	ErrBatchEmpty     = errors.New("types: batch contains no transactions")
)

// Transaction is a module-tagged opaque payload. The payload bytes are
// decoded by the module identified by ModuleID; the pipeline itself never
// interprets them. Nonce is the sender's per-account sequence number and
// must match the account's stored nonce exactly for the transaction to
// apply.
type Transaction struct {
	ModuleID uint32
	Sender   Address
	Nonce    uint64
	Payload  []byte
}

// Hash returns the Keccak-256 hash of the RLP-encoded transaction.
func (tx *Transaction) Hash() Hash {
	return rlpHash(tx)
}

// Encode RLP-encodes the transaction.
func (tx *Transaction) Encode() ([]byte, error) {
	if len(tx.Payload) == 0 {
		return nil, ErrTxEmptyPayload
	}
	return rlp.EncodeToBytes(tx)
}

// Batch is the unit a sequencer posts as a single blob: an ordered list of
// transactions. A blob that fails to decode into a Batch is attributable
// misbehavior by the posting sequencer.
type Batch struct {
	Txs []Transaction
}

// EncodeBatch RLP-encodes a batch for posting as blob data.
func EncodeBatch(b *Batch) ([]byte, error) {
	if len(b.Txs) == 0 {
		return nil, ErrBatchEmpty
	}
	return rlp.EncodeToBytes(b)
}

// DecodeBatch decodes blob data into a batch.
func DecodeBatch(data []byte) (*Batch, error) {
	var b Batch
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
