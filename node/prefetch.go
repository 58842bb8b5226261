package node

import (
	"context"
	"sync"

	"github.com/tiderollup/tide/core/types"
)

// fetchFunc fetches one DA block, blocking until it is available or the
// context is cancelled.
type fetchFunc func(ctx context.Context, height uint64) (*types.DaBlock, error)

// prefetched is one completed background fetch.
type prefetched struct {
	block *types.DaBlock
	err   error
}

// prefetcher overlaps the fetch of the next DA block with the application
// of the current one. At most one background fetch runs at a time; block
// application itself stays strictly sequential.
type prefetcher struct {
	fetch fetchFunc

	mu      sync.Mutex
	height  uint64
	pending chan prefetched
	cancel  context.CancelFunc
}

func newPrefetcher(fetch fetchFunc) *prefetcher {
	return &prefetcher{fetch: fetch}
}

// start begins fetching the block at height in the background. A fetch
// already in flight for the same height is left alone; one for a
// different height is cancelled first.
func (p *prefetcher) start(ctx context.Context, height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending != nil && p.height == height {
		return
	}
	p.cancelLocked()

	fctx, cancel := context.WithCancel(ctx)
	ch := make(chan prefetched, 1)
	p.height = height
	p.pending = ch
	p.cancel = cancel

	go func() {
		block, err := p.fetch(fctx, height)
		ch <- prefetched{block: block, err: err}
	}()
}

// take returns the block at height, consuming the background fetch if it
// targeted that height and fetching synchronously otherwise.
func (p *prefetcher) take(ctx context.Context, height uint64) (*types.DaBlock, error) {
	p.mu.Lock()
	ch := p.pending
	match := ch != nil && p.height == height
	if match {
		p.pending = nil
		p.cancel = nil
	}
	p.mu.Unlock()

	if match {
		select {
		case res := <-ch:
			if res.err == nil {
				return res.block, nil
			}
			// Fall through to a fresh synchronous fetch; the
			// background attempt may have been cancelled.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.fetch(ctx, height)
}

// stop cancels any in-flight background fetch.
func (p *prefetcher) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *prefetcher) cancelLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.pending = nil
	}
}
