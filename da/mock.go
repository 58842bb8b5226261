package da

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/crypto"
)

// MockDA is a fully synchronous in-memory DA layer. Blobs submitted via
// SubmitBlob (and posted via PostBlob) accumulate in a pending set until
// ProduceBlock seals them into the next finalized block. Block hashes are
// derived from the height and contents, so two mocks fed the same inputs
// produce identical chains.
type MockDA struct {
	// Submitter is the sender address attributed to blobs posted through
	// SubmitBlob.
	Submitter types.Address

	mu      sync.Mutex
	blocks  []*types.DaBlock
	pending []types.Blob
}

// NewMockDA creates an empty mock DA layer.
func NewMockDA(submitter types.Address) *MockDA {
	return &MockDA{Submitter: submitter}
}

// HeadHeight implements Adapter. Heights start at 1; zero means no block
// has been produced yet.
func (m *MockDA) HeadHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.blocks)), nil
}

// GetBlock implements Adapter.
func (m *MockDA) GetBlock(ctx context.Context, height uint64) (*types.DaBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height == 0 || height > uint64(len(m.blocks)) {
		return nil, ErrFutureHeight
	}
	b := m.blocks[height-1]
	cp := &types.DaBlock{Height: b.Height, Hash: b.Hash, Blobs: make([]types.Blob, len(b.Blobs))}
	for i := range b.Blobs {
		cp.Blobs[i] = b.Blobs[i].Copy()
	}
	return cp, nil
}

// SubmitBlob implements Adapter, attributing the blob to the configured
// submitter address.
func (m *MockDA) SubmitBlob(ctx context.Context, data []byte) (*BlobReceipt, error) {
	return m.PostBlob(m.Submitter, data)
}

// PostBlob queues a blob from an arbitrary sender, mimicking the public
// nature of DA data: anyone may post.
func (m *MockDA) PostBlob(sender types.Address, data []byte) (*BlobReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob := types.Blob{
		Sender:        sender,
		Data:          append([]byte(nil), data...),
		SequenceIndex: uint32(len(m.pending)),
	}
	m.pending = append(m.pending, blob)
	return &BlobReceipt{
		DaHeight: uint64(len(m.blocks)) + 1,
		BlobHash: blob.Hash(),
	}, nil
}

// ProduceBlock seals all pending blobs into the next finalized DA block
// and returns it.
func (m *MockDA) ProduceBlock() *types.DaBlock {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := uint64(len(m.blocks)) + 1
	blobs := m.pending
	m.pending = nil

	enc, _ := rlp.EncodeToBytes([]interface{}{height, blobs})
	block := &types.DaBlock{
		Height: height,
		Hash:   crypto.Keccak256Hash(enc),
		Blobs:  blobs,
	}
	m.blocks = append(m.blocks, block)
	return block
}
