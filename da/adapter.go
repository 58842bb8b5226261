// Package da defines the interface to the external data-availability
// layer and provides a deterministic in-memory implementation for tests
// and local development. A Bitcoin-backed adapter implements the same
// interface out of tree, mapping DA blocks to Bitcoin blocks and blobs to
// witness-embedded data.
package da

import (
	"context"
	"errors"

	"github.com/tiderollup/tide/core/types"
)

// Adapter errors.
var (
	ErrBlockNotFound = errors.New("da: block not found")
	ErrFutureHeight  = errors.New("da: height not yet finalized")
)

// BlobReceipt acknowledges a submitted blob.
type BlobReceipt struct {
	// DaHeight is the DA height the blob is expected to land at.
	DaHeight uint64

	// BlobHash identifies the submitted blob.
	BlobHash types.Hash
}

// Adapter is the boundary to the DA layer. Fetches may block on network
// or disk I/O and honor context cancellation; a cancelled or failed fetch
// has no side effects and may be retried.
type Adapter interface {
	// HeadHeight returns the highest finalized DA height.
	HeadHeight(ctx context.Context) (uint64, error)

	// GetBlock fetches the finalized DA block at the given height.
	GetBlock(ctx context.Context, height uint64) (*types.DaBlock, error)

	// SubmitBlob posts data to the DA layer. Sequencer role only.
	SubmitBlob(ctx context.Context, data []byte) (*BlobReceipt, error)
}
