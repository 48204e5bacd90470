// Package collection implements a single named collection: the owner of a
// vector store, its HNSW index, its quantization codec, and the
// reader-writer lock that serializes mutation against the index's
// single-writer requirement.
package collection

import (
	"fmt"
	"sync"
	"time"

	"github.com/kelpdb/kelp/pkg/filter"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/metric"
	"github.com/kelpdb/kelp/pkg/quantization"
	"github.com/kelpdb/kelp/pkg/vector"
)

// Config describes how a collection stores and searches its vectors.
// Dimension and Metric are immutable for the collection's lifetime; there
// is no migration path that changes them in place.
type Config struct {
	Name      string
	Dimension int
	Metric    metric.Kind
	Codec     quantization.Params
	HNSW      index.Params

	// TombstoneRebuildThreshold is the tombstone ratio at which Stats
	// reports NeedsRebuild. 0 disables the suggestion.
	TombstoneRebuildThreshold float64

	// CodecTrainThreshold is how many inserted vectors accumulate before
	// the codec is trained. Ignored for quantization.KindNone.
	CodecTrainThreshold int
}

func (c Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("collection: name required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("collection: dimension must be positive")
	}
	return nil
}

// Result is one ranked hit from Search, carrying the similarity score (not
// raw distance — higher is always better) and the record's payload.
type Result struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// storedRecord is a record's live in-memory storage form: the vector
// encoded under the collection's codec, so quantization actually shrinks
// the collection's resident memory rather than only the on-disk snapshot.
// raw marks bytes encoded with the lossless identity codec because the
// configured codec hadn't finished training yet; requantize upgrades these
// once training completes.
type storedRecord struct {
	encoded []byte
	raw     bool
	payload map[string]any
}

// Collection owns one dimension/metric-fixed set of vectors plus the
// structures searching them. Not safe for concurrent writers beyond its own
// lock: Insert/Update/Delete/Rebuild take the write lock; Get/Search take
// the read lock.
type Collection struct {
	mu sync.RWMutex

	cfg   Config
	dist  func(a, b []float32) float32
	codec quantization.Codec
	idx   Backend

	records map[string]storedRecord

	trainBuf [][]float32 // accumulates vectors until the codec trains

	closed bool
}

// New constructs an empty collection from cfg.
func New(cfg Config) (*Collection, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.CodecTrainThreshold <= 0 {
		cfg.CodecTrainThreshold = 256
	}
	codec, err := quantization.New(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("collection: %w", err)
	}
	dist := cfg.Metric.Func()
	return &Collection{
		cfg:     cfg,
		dist:    dist,
		codec:   codec,
		idx:     index.New(cfg.HNSW, dist),
		records: make(map[string]storedRecord),
	}, nil
}

// Restore reconstructs a Collection from already-decoded snapshot state: a
// frozen config, a trained (or untrained) codec, the id->record map, and a
// pre-built index graph. Used by pkg/persist after it decodes a snapshot
// file; bypasses Insert's validation and training-sample bookkeeping since
// the data already passed those checks when it was first written. Records
// are re-encoded into the collection's live storage form (quantized if the
// restored codec is trained, raw otherwise) rather than kept as the dense
// floats the snapshot reader decoded them into.
func Restore(cfg Config, codec quantization.Codec, records map[string]vector.Record, idx *index.HNSW) *Collection {
	c := &Collection{
		cfg:     cfg,
		dist:    cfg.Metric.Func(),
		codec:   codec,
		idx:     idx,
		records: make(map[string]storedRecord, len(records)),
	}
	for id, rec := range records {
		sr, err := c.encode(rec.Dense, rec.Payload)
		if err != nil {
			// The dense values came from decoding this exact codec's own
			// output moments earlier in the snapshot reader, so re-encoding
			// should never fail; fall back to an uncompressed copy rather
			// than dropping the record if it somehow does.
			raw, rawErr := rawCodec(cfg.Dimension).Encode(rec.Dense)
			if rawErr == nil {
				sr = storedRecord{encoded: raw, raw: true, payload: rec.Payload}
			}
		}
		c.records[id] = sr
	}
	return c
}

// rawCodec is the lossless identity codec used to hold a vector in storage
// before the configured codec has finished training.
func rawCodec(dimension int) *quantization.NoneCodec {
	return &quantization.NoneCodec{Dimension: dimension}
}

// encode compresses dense into the collection's live storage form: the
// trained codec if one is ready, otherwise a lossless raw fallback that
// requantizeRaw upgrades once training completes.
func (c *Collection) encode(dense []float32, payload map[string]any) (storedRecord, error) {
	if c.codec.Trained() {
		encoded, err := c.codec.Encode(dense)
		if err != nil {
			return storedRecord{}, err
		}
		return storedRecord{encoded: encoded, payload: payload}, nil
	}
	encoded, err := rawCodec(c.cfg.Dimension).Encode(dense)
	if err != nil {
		return storedRecord{}, err
	}
	return storedRecord{encoded: encoded, raw: true, payload: payload}, nil
}

// decode reconstructs a record's dense vector from its live storage form.
// Lossy once the configured codec is trained and in use; exact while still
// in raw fallback.
func (c *Collection) decode(sr storedRecord) ([]float32, error) {
	if sr.raw {
		return rawCodec(c.cfg.Dimension).Decode(sr.encoded)
	}
	return c.codec.Decode(sr.encoded)
}

func (c *Collection) prepare(rec vector.Record) vector.Record {
	if !rec.IsSparse() && c.cfg.Metric.Normalizes() {
		rec.Dense = metric.Normalize(rec.Dense)
	} else if rec.IsSparse() {
		dense := rec.ToDense(c.cfg.Dimension)
		if c.cfg.Metric.Normalizes() {
			dense = metric.Normalize(dense)
		}
		rec = vector.Record{ID: rec.ID, Dense: dense, Payload: rec.Payload}
	}
	return rec
}

// Insert admits a new record. Returns vector.ErrInvalid-wrapping errors for
// malformed records and index.ErrDuplicateID if the id already exists.
func (c *Collection) Insert(rec vector.Record) error {
	if err := rec.Validate(c.cfg.Dimension); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.records[rec.ID]; exists {
		return index.ErrDuplicateID
	}

	rec = c.prepare(rec)
	c.maybeTrain(rec.Dense)
	sr, err := c.encode(rec.Dense, rec.Payload)
	if err != nil {
		return fmt.Errorf("collection: encode %q: %w", rec.ID, err)
	}
	c.records[rec.ID] = sr
	return c.idx.Insert(rec.ID, rec.Dense)
}

// Update replaces an existing record's vector and payload in place: delete
// then insert under the same id, so the index reflects the new vector
// exactly (no in-place graph edge edit).
func (c *Collection) Update(rec vector.Record) error {
	if err := rec.Validate(c.cfg.Dimension); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.records[rec.ID]; !exists {
		return ErrNotFound
	}

	rec = c.prepare(rec)
	sr, err := c.encode(rec.Dense, rec.Payload)
	if err != nil {
		return fmt.Errorf("collection: encode %q: %w", rec.ID, err)
	}
	_ = c.idx.Delete(rec.ID)
	c.records[rec.ID] = sr
	return c.idx.Insert(rec.ID, rec.Dense)
}

// Delete tombstones id in the index and removes its stored record.
func (c *Collection) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, exists := c.records[id]; !exists {
		return ErrNotFound
	}
	delete(c.records, id)
	return c.idx.Delete(id)
}

// Get returns the record stored for id, reconstructed from its live
// storage form: exact while the codec is untrained, lossily decoded once
// quantization is in effect.
func (c *Collection) Get(id string) (vector.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sr, ok := c.records[id]
	if !ok {
		return vector.Record{}, false
	}
	dense, err := c.decode(sr)
	if err != nil {
		return vector.Record{}, false
	}
	return vector.Record{ID: id, Dense: dense, Payload: sr.payload}, true
}

// Search runs an approximate k-nearest-neighbor query, applying expr (nil
// for no filter) to each candidate's payload before ranking. A non-zero
// deadline bounds the underlying beam search; partial reports whether the
// deadline was hit before the search converged.
func (c *Collection) Search(query []float32, k int, ef int, deadline time.Time, expr *filter.Expr) (results []Result, partial bool, err error) {
	if len(query) == 0 {
		return nil, false, ErrEmptyQuery
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, false, ErrClosed
	}

	q := query
	if c.cfg.Metric.Normalizes() {
		q = metric.Normalize(query)
	}

	// Filtering happens post-search against an over-fetched candidate set:
	// HNSW has no notion of predicates, so a restrictive filter means
	// widening ef fourfold per pass, for at most five passes, until k
	// survivors are found or ef covers the whole graph.
	fetch := ef
	if fetch < k {
		fetch = k
	}
	for attempt := 0; attempt < 5; attempt++ {
		raw, hitDeadline := c.idx.Search(q, fetch, fetch, deadline)
		results = results[:0]
		for _, r := range raw {
			sr := c.records[r.ID]
			if !filter.Eval(expr, sr.payload) {
				continue
			}
			results = append(results, Result{ID: r.ID, Score: c.cfg.Metric.Score(r.Dist), Payload: sr.payload})
		}
		partial = hitDeadline
		if hitDeadline || len(results) >= k || fetch >= c.idx.Size() {
			break
		}
		fetch *= 4
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, partial, nil
}

// Rebuild discards the current graph and reinserts every live vector fresh,
// clearing accumulated tombstones and their stale edges.
func (c *Collection) Rebuild() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	fresh := index.New(c.cfg.HNSW, c.dist)
	for id, sr := range c.records {
		dense, err := c.decode(sr)
		if err != nil {
			return fmt.Errorf("collection: rebuild: decode %q: %w", id, err)
		}
		if err := fresh.Insert(id, dense); err != nil {
			return fmt.Errorf("collection: rebuild: %w", err)
		}
	}
	c.idx = fresh
	return nil
}

// NeedsRebuild reports whether the index's tombstone ratio has crossed the
// configured threshold.
func (c *Collection) NeedsRebuild() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cfg.TombstoneRebuildThreshold <= 0 {
		return false
	}
	return c.idx.TombstoneRatio() >= c.cfg.TombstoneRebuildThreshold
}

// Stats reports collection shape for operator tooling. estimated_bytes sums
// the actual length of every record's stored encoded form, so it reflects
// what the collection's records map holds right now rather than a
// best-case estimate that assumes every record is already quantized;
// index_bytes reports the backend's separate resident memory (the HNSW
// graph keeps full-precision vector copies for search quality regardless
// of the configured codec).
func (c *Collection) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.idx.Stats()
	s["name"] = c.cfg.Name
	s["dimension"] = c.cfg.Dimension
	s["metric"] = c.cfg.Metric.String()
	s["codec_trained"] = c.codec.Trained()
	recordBytes := 0
	for _, sr := range c.records {
		recordBytes += len(sr.encoded)
	}
	s["estimated_bytes"] = recordBytes
	s["index_bytes"] = c.idx.EstimatedBytes()
	s["needs_rebuild"] = c.cfg.TombstoneRebuildThreshold > 0 && c.idx.TombstoneRatio() >= c.cfg.TombstoneRebuildThreshold
	return s
}

// Close marks the collection unusable for further operations. Idempotent.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// maybeTrain feeds vec into the codec's training sample and trains once
// CodecTrainThreshold vectors have accumulated. Best-effort: a training
// failure (e.g. too few distinct vectors for the requested centroid count)
// leaves the codec untrained and is not surfaced to Insert's caller, since
// quantization is a storage optimization, not a correctness requirement.
// A successful train re-quantizes every record still held in raw fallback
// form, so the memory savings apply retroactively to vectors inserted
// before training finished, not only to ones inserted after.
func (c *Collection) maybeTrain(vec []float32) {
	if c.codec.Trained() || c.cfg.Codec.Kind == "" || c.cfg.Codec.Kind == quantization.KindNone {
		return
	}
	c.trainBuf = append(c.trainBuf, vec)
	if len(c.trainBuf) < c.cfg.CodecTrainThreshold {
		return
	}
	if err := c.codec.Train(c.trainBuf); err != nil {
		c.trainBuf = nil
		return
	}
	c.trainBuf = nil
	c.requantizeRaw()
}

// requantizeRaw re-encodes every record still in raw fallback form under
// the now-trained codec. A decode failure or encode failure leaves that
// record in raw form rather than dropping it.
func (c *Collection) requantizeRaw() {
	raw := rawCodec(c.cfg.Dimension)
	for id, sr := range c.records {
		if !sr.raw {
			continue
		}
		dense, err := raw.Decode(sr.encoded)
		if err != nil {
			continue
		}
		encoded, err := c.codec.Encode(dense)
		if err != nil {
			continue
		}
		c.records[id] = storedRecord{encoded: encoded, payload: sr.payload}
	}
}

// Config returns the collection's frozen configuration.
func (c *Collection) Config() Config { return c.cfg }

// Codec exposes the collection's trained codec for snapshot writers.
func (c *Collection) Codec() quantization.Codec { return c.codec }

// Index exposes the underlying CPU graph for snapshot writers, which rely
// on HNSW-specific binary graph encoding that isn't part of the Backend
// contract — only the CPU backend has a persistence format today. Panics if
// the collection was somehow built over a non-HNSW backend, which cannot
// happen in this repository since no other Backend implementation exists.
func (c *Collection) Index() *index.HNSW {
	hnsw, ok := c.idx.(*index.HNSW)
	if !ok {
		panic("collection: snapshot encoding requires the CPU HNSW backend")
	}
	return hnsw
}

// Records returns a snapshot-time copy of the id->record map, decoded back
// to dense float32 form for the persistence writer to re-encode under its
// own raw-fallback bookkeeping. Callers must not mutate the returned map.
func (c *Collection) Records() map[string]vector.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]vector.Record, len(c.records))
	for id, sr := range c.records {
		dense, err := c.decode(sr)
		if err != nil {
			continue
		}
		out[id] = vector.Record{ID: id, Dense: dense, Payload: sr.payload}
	}
	return out
}
