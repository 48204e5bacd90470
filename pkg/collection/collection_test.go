package collection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelpdb/kelp/pkg/filter"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/metric"
	"github.com/kelpdb/kelp/pkg/quantization"
	"github.com/kelpdb/kelp/pkg/vector"
)

func newCollection(t *testing.T, m metric.Kind) *Collection {
	t.Helper()
	c, err := New(Config{
		Name:      "t",
		Dimension: 3,
		Metric:    m,
		Codec:     quantization.Params{Kind: quantization.KindNone, Dimension: 3},
		HNSW:      index.Params{M: 8, EfConstruction: 64, Seed: 1},
	})
	require.NoError(t, err)
	return c
}

func TestCollectionInsertGetRoundTrips(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	rec := vector.NewDenseWithPayload("a", []float32{1, 2, 3}, map[string]any{"k": "v"})
	require.NoError(t, c.Insert(rec))

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, rec.Dense, got.Dense)
	assert.Equal(t, "v", got.Payload["k"])
}

func TestCollectionInsertRejectsWrongDimension(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	err := c.Insert(vector.NewDense("a", []float32{1, 2}))
	assert.Error(t, err)
}

func TestCollectionInsertRejectsDuplicateID(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Insert(vector.NewDense("a", []float32{1, 2, 3})))
	err := c.Insert(vector.NewDense("a", []float32{4, 5, 6}))
	assert.ErrorIs(t, err, index.ErrDuplicateID)
}

func TestCollectionCosineNormalizesOnInsert(t *testing.T) {
	c := newCollection(t, metric.Cosine)
	require.NoError(t, c.Insert(vector.NewDense("a", []float32{3, 4, 0})))
	got, _ := c.Get("a")
	assert.InDelta(t, 1.0, float64(metric.Norm(got.Dense)), 1e-5)
}

func TestCollectionUpdateReplacesVector(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Insert(vector.NewDense("a", []float32{1, 2, 3})))
	require.NoError(t, c.Update(vector.NewDense("a", []float32{9, 9, 9})))
	got, _ := c.Get("a")
	assert.Equal(t, []float32{9, 9, 9}, got.Dense)
}

func TestCollectionUpdateMissingIDFails(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	err := c.Update(vector.NewDense("missing", []float32{1, 2, 3}))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionDeleteRemovesRecord(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Insert(vector.NewDense("a", []float32{1, 2, 3})))
	require.NoError(t, c.Delete("a"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.ErrorIs(t, c.Delete("a"), ErrNotFound)
}

func TestCollectionSearchEmptyQueryErrors(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	_, _, err := c.Search(nil, 1, 10, time.Time{}, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestCollectionSearchAppliesFilter(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Insert(vector.NewDenseWithPayload("a", []float32{0, 0, 0}, map[string]any{"color": "red"})))
	require.NoError(t, c.Insert(vector.NewDenseWithPayload("b", []float32{0.1, 0, 0}, map[string]any{"color": "blue"})))

	results, _, err := c.Search([]float32{0, 0, 0}, 5, 32, time.Time{}, filter.Eq("color", "blue"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestCollectionOperationsFailAfterClose(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Insert(vector.NewDense("a", []float32{1, 2, 3})), ErrClosed)
	assert.ErrorIs(t, c.Delete("a"), ErrClosed)
	assert.ErrorIs(t, c.Rebuild(), ErrClosed)
}

func TestCollectionRebuildClearsTombstones(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Insert(vector.NewDense(id, []float32{float32(i), 0, 0})))
	}
	require.NoError(t, c.Delete("a"))
	require.NoError(t, c.Delete("b"))
	require.NoError(t, c.Rebuild())
	assert.Equal(t, 0.0, c.idx.TombstoneRatio())
	assert.Equal(t, 8, c.idx.Size())
}

func TestCollectionNeedsRebuildRespectsThreshold(t *testing.T) {
	c, err := New(Config{
		Name: "t", Dimension: 3, Metric: metric.Euclidean,
		Codec: quantization.Params{Kind: quantization.KindNone, Dimension: 3},
		HNSW:  index.Params{M: 8, EfConstruction: 32, Seed: 2},
		TombstoneRebuildThreshold: 0.2,
	})
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Insert(vector.NewDense(id, []float32{float32(i), 0, 0})))
	}
	assert.False(t, c.NeedsRebuild())
	require.NoError(t, c.Delete("a"))
	require.NoError(t, c.Delete("b"))
	require.NoError(t, c.Delete("c"))
	assert.True(t, c.NeedsRebuild())
}

func TestCollectionStatsReportsShape(t *testing.T) {
	c := newCollection(t, metric.Euclidean)
	require.NoError(t, c.Insert(vector.NewDense("a", []float32{1, 2, 3})))
	stats := c.Stats()
	assert.Equal(t, "t", stats["name"])
	assert.Equal(t, 3, stats["dimension"])
	assert.Equal(t, 1, stats["live_nodes"])
}

func TestCollectionTrainsCodecAfterThreshold(t *testing.T) {
	c, err := New(Config{
		Name: "t", Dimension: 4, Metric: metric.Euclidean,
		Codec:               quantization.Params{Kind: quantization.KindScalar8, Dimension: 4},
		HNSW:                index.Params{M: 8, EfConstruction: 32, Seed: 5},
		CodecTrainThreshold: 8,
	})
	require.NoError(t, err)
	assert.False(t, c.Codec().Trained())
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Insert(vector.NewDense(id, []float32{float32(i), float32(i) * 2, 1, 0})))
	}
	assert.True(t, c.Codec().Trained())
}

func TestCollectionGetReturnsLossilyReconstructedVectorOncePastThreshold(t *testing.T) {
	c, err := New(Config{
		Name: "t", Dimension: 4, Metric: metric.Euclidean,
		Codec:               quantization.Params{Kind: quantization.KindScalar8, Dimension: 4},
		HNSW:                index.Params{M: 8, EfConstruction: 32, Seed: 5},
		CodecTrainThreshold: 8,
	})
	require.NoError(t, err)

	// First insert, made before training completes, should come back exact
	// (raw fallback storage).
	first := []float32{0, 4, 1, 0}
	require.NoError(t, c.Insert(vector.NewDense("a", first)))
	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, first, got.Dense)
	assert.False(t, c.Codec().Trained())

	for i := 1; i < 8; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Insert(vector.NewDense(id, []float32{float32(i), float32(i) * 2, 1, 0})))
	}
	require.True(t, c.Codec().Trained())

	// Both the vector inserted before training (now requantized) and one
	// inserted after come back close to, but not necessarily bit-identical
	// to, their original values.
	gotA, ok := c.Get("a")
	require.True(t, ok)
	for i, v := range first {
		assert.InDelta(t, float64(v), float64(gotA.Dense[i]), 0.2)
	}

	last, ok := c.Get("g")
	require.True(t, ok)
	want := []float32{6, 12, 1, 0}
	for i, v := range want {
		assert.InDelta(t, float64(v), float64(last.Dense[i]), 0.2)
	}
}

func TestCollectionStatsEstimatedBytesMatchesActualStorage(t *testing.T) {
	c, err := New(Config{
		Name: "t", Dimension: 4, Metric: metric.Euclidean,
		Codec:               quantization.Params{Kind: quantization.KindScalar8, Dimension: 4},
		HNSW:                index.Params{M: 8, EfConstruction: 32, Seed: 5},
		CodecTrainThreshold: 8,
	})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		require.NoError(t, c.Insert(vector.NewDense(id, []float32{float32(i), float32(i) * 2, 1, 0})))
	}
	require.True(t, c.Codec().Trained())

	stats := c.Stats()
	// Once trained, scalar-8 packs 4 dims at 8 bits each into 4 bytes per
	// vector; 8 live records should report exactly that, not the 128 bytes
	// (8 records * 4 dims * 4-byte float32) raw storage would take.
	assert.Equal(t, 32, stats["estimated_bytes"])
}
