package storage

import (
	"bytes"
	"sort"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/crypto"
)

// Pair is one key/value entry of the state at a given version.
type Pair struct {
	Key   []byte
	Value []byte
}

// EmptyRoot is the commitment of the empty state.
var EmptyRoot = crypto.Keccak256Hash(nil)

// HashRoot computes the state commitment over a set of key-value pairs.
// Pairs are sorted by key, each leaf is Keccak-256 over the length-framed
// key and value, and the leaf layer is reduced pairwise to a single root
// (an odd trailing node is promoted unchanged). The result is a pure
// function of the pair set: insertion order never matters.
func HashRoot(pairs []Pair) types.Hash {
	if len(pairs) == 0 {
		return EmptyRoot
	}

	sorted := make([]Pair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})

	layer := make([][]byte, len(sorted))
	for i, p := range sorted {
		layer[i] = crypto.Keccak256(uint32be(uint32(len(p.Key))), p.Key, p.Value)
	}

	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, crypto.Keccak256(layer[i], layer[i+1]))
			} else {
				next = append(next, layer[i])
			}
		}
		layer = next
	}
	return types.BytesToHash(layer[0])
}

func uint32be(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
