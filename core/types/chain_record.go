package types

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// ChainRecord is the per-height tuple the chain tracker persists: the
// rollup height, the DA height the block was derived from, and the
// resulting state and receipts commitments. Records are append-only; the
// only mutation ever performed on the history is truncation of trailing
// records during soft-confirmation rollback.
type ChainRecord struct {
	Height       uint64
	DaHeight     uint64
	StateRoot    Hash
	ReceiptsRoot Hash
}

// Hash returns the Keccak-256 hash of the RLP-encoded record.
func (r *ChainRecord) Hash() Hash {
	return rlpHash(r)
}

// EncodeChainRecord RLP-encodes a chain record for storage.
func EncodeChainRecord(r *ChainRecord) ([]byte, error) {
	return rlp.EncodeToBytes(r)
}

// DecodeChainRecord decodes a stored chain record.
func DecodeChainRecord(data []byte) (*ChainRecord, error) {
	var r ChainRecord
	if err := rlp.DecodeBytes(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
