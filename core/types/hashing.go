package types

import (
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"
)

// rlpHash encodes x in RLP and returns the Keccak-256 hash of the encoding.
func rlpHash(x interface{}) (h Hash) {
	d := sha3.NewLegacyKeccak256()
	rlp.Encode(d, x)
	d.Sum(h[:0])
	return h
}
