package collection

import (
	"time"

	"github.com/kelpdb/kelp/pkg/index"
)

// Backend is the nearest-neighbor search engine a Collection delegates
// insert, delete, and query work to, instead of calling *index.HNSW's
// methods directly. pkg/index's HNSW graph is the only implementation in
// this repository, but depending on this interface is the seam an
// alternative backend would implement to slot in without touching
// Collection's insert/search/rebuild logic: a GPU-resident index keeping
// its vectors in VRAM, for instance, behind the same contract. Building
// that backend would mean a CUDA or Vulkan bridge, which isn't reachable
// from idiomatic Go without cgo, so only the CPU backend exists here —
// matching how straga-Mimir_lite/nornicdb carries pkg/gpu/cuda and
// pkg/gpu/vulkan packages in its tree without wiring either into its
// default build.
type Backend interface {
	// Insert adds vector under extID. Returns index.ErrDuplicateID if
	// extID already has a live entry.
	Insert(extID string, vector []float32) error
	// Delete tombstones extID. Returns index.ErrNotFound if it has none.
	Delete(extID string) error
	// Search returns the approximate k nearest neighbors to query, honoring
	// deadline the same way index.HNSW.Search does.
	Search(query []float32, k int, ef int, deadline time.Time) ([]index.Result, bool)
	// Size reports the number of live (non-tombstoned) entries.
	Size() int
	// TombstoneRatio reports the fraction of ever-inserted entries that are
	// currently tombstoned.
	TombstoneRatio() float64
	// EstimatedBytes reports the backend's own resident memory use (graph
	// structure and whatever vector copies it keeps for search), separate
	// from the quantized byte count Collection.Stats reports for its
	// records map.
	EstimatedBytes() int
	// Stats reports backend-shape fields for CollectionHandle.Stats.
	Stats() map[string]any
}
