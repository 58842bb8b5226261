package types

import (
	"bytes"
	"errors"
	"testing"
)

func testAddr(b byte) Address {
	return BytesToAddress([]byte{b})
}

func TestHashSetBytes(t *testing.T) {
	var h Hash
	h.SetBytes([]byte{1, 2, 3})
	// Short input is left-padded.
	if h[31] != 3 || h[30] != 2 || h[29] != 1 || h[0] != 0 {
		t.Errorf("SetBytes misaligned: %x", h)
	}
	if !BytesToHash(nil).IsZero() {
		t.Error("zero hash not reported as zero")
	}
}

func TestBlobHashAndCopy(t *testing.T) {
	b := Blob{Sender: testAddr(1), Data: []byte("data"), SequenceIndex: 3}
	h1 := b.Hash()

	cp := b.Copy()
	cp.Data[0] = 'x'
	if !bytes.Equal(b.Data, []byte("data")) {
		t.Error("Copy aliases the data buffer")
	}
	if b.Hash() != h1 {
		t.Error("hash changed without mutation")
	}

	other := Blob{Sender: testAddr(1), Data: []byte("data"), SequenceIndex: 4}
	if other.Hash() == h1 {
		t.Error("blobs differing in sequence index share a hash")
	}
}

func TestBlobsEqual(t *testing.T) {
	a := []Blob{
		{Sender: testAddr(1), Data: []byte("one"), SequenceIndex: 0},
		{Sender: testAddr(2), Data: []byte("two"), SequenceIndex: 1},
	}

	// Sequence indices are assigned by the DA layer; identity is sender
	// and payload in order.
	b := []Blob{
		{Sender: testAddr(1), Data: []byte("one"), SequenceIndex: 7},
		{Sender: testAddr(2), Data: []byte("two"), SequenceIndex: 9},
	}
	if !BlobsEqual(a, b) {
		t.Error("equal blob sets reported unequal")
	}

	shuffled := []Blob{a[1], a[0]}
	if BlobsEqual(a, shuffled) {
		t.Error("order ignored")
	}
	if BlobsEqual(a, a[:1]) {
		t.Error("length ignored")
	}
	edited := []Blob{a[0], {Sender: testAddr(2), Data: []byte("TWO"), SequenceIndex: 1}}
	if BlobsEqual(a, edited) {
		t.Error("payload edit ignored")
	}
}

func TestBatchRoundtrip(t *testing.T) {
	batch := &Batch{Txs: []Transaction{
		{ModuleID: 1, Sender: testAddr(1), Nonce: 0, Payload: []byte("p1")},
		{ModuleID: 2, Sender: testAddr(2), Nonce: 7, Payload: []byte("p2")},
	}}
	data, err := EncodeBatch(batch)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeBatch(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded.Txs) != 2 {
		t.Fatalf("decoded %d txs, want 2", len(decoded.Txs))
	}
	if decoded.Txs[1].Hash() != batch.Txs[1].Hash() {
		t.Error("transaction changed across the roundtrip")
	}
}

func TestBatchValidation(t *testing.T) {
	if _, err := EncodeBatch(&Batch{}); !errors.Is(err, ErrBatchEmpty) {
		t.Errorf("got %v, want ErrBatchEmpty", err)
	}
	tx := Transaction{ModuleID: 1, Sender: testAddr(1)}
	if _, err := tx.Encode(); !errors.Is(err, ErrTxEmptyPayload) {
		t.Errorf("got %v, want ErrTxEmptyPayload", err)
	}
	if _, err := DecodeBatch([]byte("not rlp at all")); err == nil {
		t.Error("decoded garbage into a batch")
	}
}

func TestReceiptsRoot(t *testing.T) {
	receipts := []Receipt{
		{TxHash: BytesToHash([]byte{1}), ModuleID: 1, Status: TxSuccessful},
		{TxHash: BytesToHash([]byte{2}), ModuleID: 1, Status: TxReverted, Error: "kv: scripted failure"},
	}
	root := ReceiptsRoot(receipts)

	// Error strings are informational and never enter the commitment.
	scrubbed := make([]Receipt, len(receipts))
	copy(scrubbed, receipts)
	scrubbed[1].Error = ""
	if ReceiptsRoot(scrubbed) != root {
		t.Error("commitment depends on the error string")
	}

	flipped := make([]Receipt, len(receipts))
	copy(flipped, receipts)
	flipped[1].Status = TxSuccessful
	if ReceiptsRoot(flipped) == root {
		t.Error("commitment ignores the status")
	}

	if ReceiptsRoot(nil) == (Hash{}) {
		t.Error("empty receipts root is the zero hash")
	}
}

func TestSoftConfirmationSigHash(t *testing.T) {
	sc := &SoftConfirmation{
		BlockNumber:  5,
		DaSlotHeight: 100,
		Blobs:        []Blob{{Sender: testAddr(1), Data: []byte("d"), SequenceIndex: 0}},
		StateRoot:    BytesToHash([]byte{9}),
	}
	h := sc.SigHash()

	// The signature itself is excluded from the signed content.
	sc.Signature = []byte("whatever")
	if sc.SigHash() != h {
		t.Error("SigHash covers the signature")
	}

	sc.BlockNumber = 6
	if sc.SigHash() == h {
		t.Error("SigHash ignores the block number")
	}
}

func TestSoftConfirmationRoundtrip(t *testing.T) {
	sc := &SoftConfirmation{
		BlockNumber:  1,
		DaSlotHeight: 2,
		Blobs:        []Blob{{Sender: testAddr(3), Data: []byte("d"), SequenceIndex: 0}},
		StateRoot:    BytesToHash([]byte{4}),
		Signature:    bytes.Repeat([]byte{5}, 65),
	}
	data, err := EncodeSoftConfirmation(sc)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeSoftConfirmation(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Hash() != sc.Hash() {
		t.Error("soft confirmation changed across the roundtrip")
	}
}

func TestChainRecordRoundtrip(t *testing.T) {
	rec := &ChainRecord{
		Height:       3,
		DaHeight:     30,
		StateRoot:    BytesToHash([]byte{1}),
		ReceiptsRoot: BytesToHash([]byte{2}),
	}
	data, err := EncodeChainRecord(rec)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeChainRecord(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Hash() != rec.Hash() {
		t.Error("record changed across the roundtrip")
	}

	other := *rec
	other.DaHeight = 31
	if other.Hash() == rec.Hash() {
		t.Error("record hash ignores the DA height")
	}
}
