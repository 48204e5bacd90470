package kelp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/metric"
	"github.com/kelpdb/kelp/pkg/quantization"
	"github.com/kelpdb/kelp/pkg/vector"
)

func testConfig(dim int) collection.Config {
	return collection.Config{
		Dimension: dim,
		Metric:    metric.Euclidean,
		Codec:     quantization.Params{Kind: quantization.KindNone, Dimension: dim},
		HNSW:      index.Params{M: 8, EfConstruction: 64, Seed: 1},
	}
}

func TestCreateCollectionThenInsertAndSearch(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)

	results, err := h.Insert([]vector.Record{
		vector.NewDense("a", []float32{1, 0, 0}),
		vector.NewDense("b", []float32{0, 1, 0}),
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	found, err := h.Search(context.Background(), []float32{1, 0, 0}, 1, SearchOptions{Ef: 32})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "a", found[0].ID)
}

func TestCreateCollectionDuplicateNameConflicts(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	err = store.CreateCollection("docs", testConfig(3))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetCollectionUnknownNameNotFound(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	_, err = store.GetCollection("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDropCollectionRemovesIt(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	require.NoError(t, store.DropCollection("docs"))
	_, err = store.GetCollection("docs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotAndReopenRestoresData(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)
	_, err = h.Insert([]vector.Record{vector.NewDenseWithPayload("a", []float32{1, 2, 3}, map[string]any{"tag": "x"})})
	require.NoError(t, err)
	require.NoError(t, h.Snapshot())

	reopened, err := OpenStore(dir)
	require.NoError(t, err)
	h2, err := reopened.GetCollection("docs")
	require.NoError(t, err)
	rec, err := h2.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, rec.Dense)
	assert.Equal(t, "x", rec.Payload["tag"])
}

func TestShardedCollectionEndToEnd(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.CreateShardedCollection("wide", 3, testConfig(3)))
	h, err := store.GetCollection("wide")
	require.NoError(t, err)

	recs := make([]vector.Record, 30)
	for i := range recs {
		id := string(rune('a' + i%26))
		if i >= 26 {
			id += string(rune('0' + i - 26))
		}
		recs[i] = vector.NewDense(id, []float32{float32(i), 0, 0})
	}
	_, err = h.Insert(recs)
	require.NoError(t, err)

	results, err := h.Search(context.Background(), []float32{0, 0, 0}, 5, SearchOptions{Ef: 32})
	require.NoError(t, err)
	assert.Len(t, results, 5)

	require.NoError(t, h.Snapshot())
	reopened, err := OpenStore(dir)
	require.NoError(t, err)
	h2, err := reopened.GetCollection("wide")
	require.NoError(t, err)
	results2, err := h2.Search(context.Background(), []float32{0, 0, 0}, 5, SearchOptions{Ef: 32})
	require.NoError(t, err)
	assert.Len(t, results2, 5)
}

func TestCreateShardedCollectionRejectsTooFewShards(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	err = store.CreateShardedCollection("wide", 1, testConfig(3))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInsertRespectsMemoryCeiling(t *testing.T) {
	store, err := OpenStore(t.TempDir(), WithMemoryCeiling(1))
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)
	_, err = h.Insert([]vector.Record{vector.NewDense("a", []float32{1, 2, 3})})
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestUpdateAndDeleteThroughHandle(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)
	_, err = h.Insert([]vector.Record{vector.NewDense("a", []float32{1, 2, 3})})
	require.NoError(t, err)

	require.NoError(t, h.Update(vector.NewDense("a", []float32{9, 9, 9})))
	rec, err := h.Get("a")
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9}, rec.Dense)

	require.NoError(t, h.Delete("a"))
	_, err = h.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildThroughHandle(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		_, err := h.Insert([]vector.Record{vector.NewDense(id, []float32{float32(i), 0, 0})})
		require.NoError(t, err)
	}
	require.NoError(t, h.Delete("a"))
	require.NoError(t, h.Rebuild())
	stats := h.Stats()
	assert.Equal(t, 4, stats["live_nodes"])
}

func TestSearchPastDeadlineReturnsWithoutError(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.CreateCollection("docs", testConfig(3)))
	h, err := store.GetCollection("docs")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		_, err := h.Insert([]vector.Record{vector.NewDense(id, []float32{float32(i), 0, 0})})
		require.NoError(t, err)
	}
	past := time.Now().Add(-time.Hour)
	_, err = h.Search(context.Background(), []float32{0, 0, 0}, 3, SearchOptions{Ef: 16, Deadline: past})
	assert.NoError(t, err)
}
