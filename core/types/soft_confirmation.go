package types

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// SoftConfirmation is a sequencer-asserted rollup block produced before the
// DA block it anchors to is finalized. BlockNumber is the rollup height the
// sequencer claims; DaSlotHeight is the DA height the blob set was built
// against. StateRoot is the commitment the sequencer asserts results from
// applying Blobs on top of the previous height.
type SoftConfirmation struct {
	BlockNumber  uint64
	DaSlotHeight uint64
	Blobs        []Blob
	StateRoot    Hash
	Signature    []byte
}

// SigHash returns the hash the sequencer signs: the Keccak-256 of the RLP
// encoding of every field except the signature itself.
func (sc *SoftConfirmation) SigHash() Hash {
	return rlpHash([]interface{}{
		sc.BlockNumber,
		sc.DaSlotHeight,
		sc.Blobs,
		sc.StateRoot,
	})
}

// Hash returns the Keccak-256 hash of the fully RLP-encoded confirmation,
// signature included.
func (sc *SoftConfirmation) Hash() Hash {
	return rlpHash(sc)
}

// EncodeSoftConfirmation RLP-encodes a soft confirmation.
func EncodeSoftConfirmation(sc *SoftConfirmation) ([]byte, error) {
	return rlp.EncodeToBytes(sc)
}

// DecodeSoftConfirmation decodes an RLP-encoded soft confirmation.
func DecodeSoftConfirmation(data []byte) (*SoftConfirmation, error) {
	var sc SoftConfirmation
	if err := rlp.DecodeBytes(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}
