package crypto

import (
	"errors"
	"testing"

	"github.com/tiderollup/tide/core/types"
)

func TestSignRecover(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := PubkeyToAddress(key.PublicKey)
	digest := Keccak256Hash([]byte("message"))

	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatal(err)
	}
	if len(sig) != SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), SignatureLength)
	}

	recovered, err := Recover(digest, sig)
	if err != nil {
		t.Fatal(err)
	}
	if recovered != addr {
		t.Errorf("recovered %s, want %s", recovered, addr)
	}
}

func TestRecoverWrongDigest(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	addr := PubkeyToAddress(key.PublicKey)

	sig, err := Sign(Keccak256Hash([]byte("signed")), key)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := Recover(Keccak256Hash([]byte("different")), sig)
	if err == nil && recovered == addr {
		t.Error("signature verified against the wrong digest")
	}
}

func TestRecoverBadLength(t *testing.T) {
	_, err := Recover(types.Hash{}, []byte{1, 2, 3})
	if !errors.Is(err, ErrInvalidSigLen) {
		t.Errorf("got %v, want ErrInvalidSigLen", err)
	}
}

func TestKeccak256(t *testing.T) {
	// Known vector: keccak256 of the empty input.
	want := "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got := Keccak256Hash(nil).Hex(); got != want {
		t.Errorf("Keccak256Hash(nil) = %s, want %s", got, want)
	}

	// Concatenation framing.
	a := Keccak256([]byte("ab"), []byte("c"))
	b := Keccak256([]byte("abc"))
	if types.BytesToHash(a) != types.BytesToHash(b) {
		t.Error("multi-slice input differs from the concatenated digest")
	}
}

func TestPubkeyToAddressStable(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if PubkeyToAddress(key.PublicKey) != PubkeyToAddress(key.PublicKey) {
		t.Error("address derivation is unstable")
	}
	if PubkeyToAddress(key.PublicKey).IsZero() {
		t.Error("derived address is zero")
	}
}
