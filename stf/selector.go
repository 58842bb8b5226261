package stf

import (
	"sort"

	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/storage"
)

// SelectBlobs filters a DA block's blobs down to those posted by
// registered sequencers and orders them ascending by sequence index. The
// registry view must be taken at the previous committed height, never the
// in-progress one. Blobs from unregistered senders are silently dropped:
// DA data is public and anyone may post.
func SelectBlobs(blobs []types.Blob, registry SequencerSet, view *storage.ReadHandle) ([]types.Blob, int, error) {
	selected := make([]types.Blob, 0, len(blobs))
	dropped := 0
	for i := range blobs {
		ok, err := registry.IsRegistered(view, blobs[i].Sender)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			dropped++
			continue
		}
		selected = append(selected, blobs[i].Copy())
	}
	// Sequence indices are unique within a block, so the stable sort has
	// no ties to break.
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].SequenceIndex < selected[j].SequenceIndex
	})
	return selected, dropped, nil
}
