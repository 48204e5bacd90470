// Package shard implements deterministic id-based routing across a fixed
// number of collection shards, and the fan-out/merge helpers a sharded
// search uses to combine per-shard top-k results into one ranked list.
package shard

import (
	"context"
	"sort"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/filter"
	"github.com/kelpdb/kelp/pkg/vector"
)

// Router assigns ids to one of N shards by hash(id) mod N. The mapping is a
// pure function of id and shard count — no shard-count change migrates
// existing data, it only changes future routing, so growing N without a
// resharding pass leaves old ids pointing at their original shard only by
// coincidence. Resharding is out of scope here; callers that change N own
// recomputing placement themselves.
type Router struct {
	shards []*collection.Collection
}

// New constructs a Router over shards, indexed by their position in the
// slice (shard index == hash(id) % len(shards)).
func New(shards []*collection.Collection) *Router {
	return &Router{shards: shards}
}

// ShardFor returns the shard index id routes to.
func (r *Router) ShardFor(id string) int {
	return int(xxhash.Sum64String(id) % uint64(len(r.shards)))
}

// Insert routes rec to its owning shard and inserts it there.
func (r *Router) Insert(rec vector.Record) error {
	return r.shards[r.ShardFor(rec.ID)].Insert(rec)
}

// Update routes rec to its owning shard and updates it there.
func (r *Router) Update(rec vector.Record) error {
	return r.shards[r.ShardFor(rec.ID)].Update(rec)
}

// Delete routes id to its owning shard and deletes it there.
func (r *Router) Delete(id string) error {
	return r.shards[r.ShardFor(id)].Delete(id)
}

// Get routes id to its owning shard and fetches it there.
func (r *Router) Get(id string) (vector.Record, bool) {
	return r.shards[r.ShardFor(id)].Get(id)
}

// SearchResult is one shard-tagged, merged hit.
type SearchResult struct {
	collection.Result
	Shard int
}

// Search fans a query out to every shard concurrently via errgroup, then
// merges each shard's top-k into one globally ranked top-k. A per-shard
// failure aborts the whole search (errgroup's first-error-wins semantics):
// a sharded collection is only as available as its least available shard.
func (r *Router) Search(ctx context.Context, query []float32, k int, ef int, expr *filter.Expr) ([]SearchResult, error) {
	perShard := make([][]collection.Result, len(r.shards))
	g, _ := errgroup.WithContext(ctx)
	for i, s := range r.shards {
		i, s := i, s
		g.Go(func() error {
			deadline, _ := ctx.Deadline()
			res, _, err := s.Search(query, k, ef, deadline, expr)
			if err != nil {
				return err
			}
			perShard[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]SearchResult, 0, k*len(r.shards))
	for i, res := range perShard {
		for _, r := range res {
			merged = append(merged, SearchResult{Result: r, Shard: i})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Shards returns the underlying per-shard collections, for snapshot/restore
// and stats aggregation.
func (r *Router) Shards() []*collection.Collection { return r.shards }

// Count returns the number of shards.
func (r *Router) Count() int { return len(r.shards) }
