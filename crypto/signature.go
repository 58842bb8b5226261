package crypto

import (
	"crypto/ecdsa"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tiderollup/tide/core/types"
)

// Signature errors.
var (
	ErrInvalidSigLen = errors.New("crypto: signature must be 65 bytes")
)

// SignatureLength is the byte length of a recoverable secp256k1 signature
// (r || s || v).
const SignatureLength = 65

// GenerateKey creates a fresh secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// PubkeyToAddress derives the 20-byte address from a public key, using the
// last 20 bytes of the Keccak-256 of the uncompressed key.
func PubkeyToAddress(pub ecdsa.PublicKey) types.Address {
	raw := ethcrypto.FromECDSAPub(&pub)
	return types.BytesToAddress(Keccak256(raw[1:])[12:])
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func Sign(digest types.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	return ethcrypto.Sign(digest.Bytes(), key)
}

// Recover returns the address that produced the given signature over the
// digest.
func Recover(digest types.Hash, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, ErrInvalidSigLen
	}
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return types.Address{}, err
	}
	return PubkeyToAddress(*pub), nil
}
