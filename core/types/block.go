package types

import (
	"bytes"

	"github.com/ethereum/go-ethereum/rlp"
)

// Blob is an opaque byte payload posted to the DA layer, attributed to a
// sender address. SequenceIndex is the blob's position within its DA block
// and is the deterministic ordering key; indices are unique per block.
type Blob struct {
	Sender        Address
	Data          []byte
	SequenceIndex uint32
}

// Hash returns the Keccak-256 hash of the RLP-encoded blob.
func (b *Blob) Hash() Hash {
	return rlpHash(b)
}

// Copy returns a deep copy of the blob.
func (b *Blob) Copy() Blob {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)
	return Blob{Sender: b.Sender, Data: data, SequenceIndex: b.SequenceIndex}
}

// DaBlock is one finalized block of the DA layer: an ordered sequence of
// blobs under a height and block hash. Immutable once fetched.
type DaBlock struct {
	Height uint64
	Hash   Hash
	Blobs  []Blob
}

// BlobsEqual reports whether two blob sequences carry identical payloads
// from identical senders in identical order. Sequence indices are excluded:
// they are assigned by the DA layer at inclusion time and are not part of
// blob identity during soft-confirmation reconciliation.
func BlobsEqual(a, b []Blob) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Sender != b[i].Sender {
			return false
		}
		if !bytes.Equal(a[i].Data, b[i].Data) {
			return false
		}
	}
	return true
}

// EncodeBlock RLP-encodes a DA block.
func EncodeBlock(b *DaBlock) ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

// DecodeBlock decodes an RLP-encoded DA block.
func DecodeBlock(data []byte) (*DaBlock, error) {
	var b DaBlock
	if err := rlp.DecodeBytes(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
