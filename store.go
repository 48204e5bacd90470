package kelp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kelpdb/kelp/internal/guard"
	"github.com/kelpdb/kelp/internal/telemetry"
	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/filter"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/persist"
	"github.com/kelpdb/kelp/pkg/shard"
	"github.com/kelpdb/kelp/pkg/vector"
)

// Store owns every collection rooted at one filesystem directory: their
// in-memory state, and the directory their snapshots persist to.
type Store struct {
	mu          sync.RWMutex
	root        string
	log         telemetry.Logger
	guard       *guard.MemoryGuard
	collections map[string]*entry
}

type entry struct {
	name    string
	single  *collection.Collection
	sharded *shard.Router
}

// Option configures OpenStore.
type Option func(*Store)

// WithLogger overrides the store's logger, which otherwise discards
// everything.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMemoryCeiling sets a heap-size guardrail in bytes, refusing inserts
// once crossed. 0 (the default) disables the check.
func WithMemoryCeiling(bytes uint64) Option {
	return func(s *Store) { s.guard = guard.New(bytes) }
}

// OpenStore opens or creates a store rooted at dir, loading any collection
// snapshots already present.
func OpenStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapOp("open_store", "", fmt.Errorf("%w: %v", ErrIO, err))
	}
	s := &Store{
		root:        dir,
		log:         telemetry.Nop(),
		guard:       guard.New(0),
		collections: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	consumed := make(map[string]bool)

	manifests, err := filepath.Glob(filepath.Join(dir, "*.manifest.json"))
	if err != nil {
		return nil, wrapOp("open_store", "", fmt.Errorf("%w: %v", ErrIO, err))
	}
	for _, mpath := range manifests {
		m, err := shard.ReadManifest(mpath)
		if err != nil {
			s.log.Warn("skipping unreadable manifest", "path", mpath, "err", err)
			continue
		}
		shards := make([]*collection.Collection, len(m.Shards))
		ok := true
		for _, se := range m.Shards {
			spath := filepath.Join(dir, se.File)
			snap, err := persist.ReadSnapshot(spath)
			if err != nil {
				s.log.Warn("skipping sharded collection: unreadable shard", "collection", m.Collection, "file", se.File, "err", err)
				ok = false
				break
			}
			shards[se.Index] = snap.Collection
			consumed[spath] = true
		}
		if !ok {
			continue
		}
		s.collections[m.Collection] = &entry{name: m.Collection, sharded: shard.New(shards)}
		s.log.Info("loaded sharded collection", "name", m.Collection, "shards", len(shards))
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.kelp"))
	if err != nil {
		return nil, wrapOp("open_store", "", fmt.Errorf("%w: %v", ErrIO, err))
	}
	for _, path := range matches {
		if consumed[path] {
			continue
		}
		name := fileBase(path)
		snap, err := persist.ReadSnapshot(path)
		if err != nil {
			s.log.Warn("skipping unreadable snapshot", "path", path, "err", err)
			continue
		}
		s.collections[name] = &entry{name: name, single: snap.Collection}
		s.log.Info("loaded collection", "name", name, "generation", snap.Generation)
	}
	return s, nil
}

func fileBase(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// CreateCollection creates a new, empty collection named name. Fails with
// ErrConflict if the name is already in use.
func (s *Store) CreateCollection(name string, cfg collection.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return wrapOp("create_collection", name, ErrConflict)
	}
	cfg.Name = name
	coll, err := collection.New(cfg)
	if err != nil {
		return wrapOp("create_collection", name, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	s.collections[name] = &entry{name: name, single: coll}
	s.log.Info("created collection", "name", name, "dimension", cfg.Dimension)
	return nil
}

// CreateShardedCollection creates a logical collection partitioned into
// shardCount independent Collections, routed by hash(id) mod shardCount.
// Each shard gets its own copy of cfg (same dimension, metric, codec, and
// HNSW params — sharding splits data, not configuration).
func (s *Store) CreateShardedCollection(name string, shardCount int, cfg collection.Config) error {
	if shardCount < 2 {
		return wrapOp("create_collection", name, fmt.Errorf("%w: shard count must be >= 2", ErrInvalidConfig))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return wrapOp("create_collection", name, ErrConflict)
	}

	shards := make([]*collection.Collection, shardCount)
	for i := range shards {
		shardCfg := cfg
		shardCfg.Name = fmt.Sprintf("%s.shard%d", name, i)
		coll, err := collection.New(shardCfg)
		if err != nil {
			return wrapOp("create_collection", name, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		shards[i] = coll
	}
	s.collections[name] = &entry{name: name, sharded: shard.New(shards)}
	s.log.Info("created sharded collection", "name", name, "shards", shardCount, "dimension", cfg.Dimension)
	return nil
}

// DropCollection removes a collection from memory and deletes its snapshot
// file, if any; for a sharded collection, its manifest and every shard file.
func (s *Store) DropCollection(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, exists := s.collections[name]
	if !exists {
		return wrapOp("drop_collection", name, ErrNotFound)
	}
	if e.single != nil {
		_ = e.single.Close()
	}
	delete(s.collections, name)
	paths := []string{s.snapshotPath(name)}
	if e.sharded != nil {
		paths = append(paths, filepath.Join(s.root, name+".manifest.json"))
		for i := range e.sharded.Shards() {
			paths = append(paths, filepath.Join(s.root, fmt.Sprintf("%s.shard%d.kelp", name, i)))
		}
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return wrapOp("drop_collection", name, fmt.Errorf("%w: %v", ErrIO, err))
		}
	}
	s.log.Info("dropped collection", "name", name)
	return nil
}

// ListCollections returns every known collection name.
func (s *Store) ListCollections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.collections))
	for name := range s.collections {
		out = append(out, name)
	}
	return out
}

// GetCollection returns a handle to an existing collection.
func (s *Store) GetCollection(name string) (*CollectionHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.collections[name]
	if !exists {
		return nil, wrapOp("get_collection", name, ErrNotFound)
	}
	return &CollectionHandle{store: s, name: name, entry: e}, nil
}

func (s *Store) snapshotPath(name string) string {
	return filepath.Join(s.root, name+".kelp")
}

// CollectionHandle is the per-collection surface transport layers call
// into: point operations, search, stats, rebuild, and snapshot.
type CollectionHandle struct {
	store *Store
	name  string
	entry *entry
}

// PerRecordResult reports the outcome of one record within a batch Insert.
type PerRecordResult struct {
	ID  string
	Err error
}

// Insert admits a batch of records. Each record is validated and inserted
// independently; one invalid record does not abort the rest of the batch.
// Refuses the whole batch with ErrCapacity if the store's memory guardrail
// is tripped.
func (h *CollectionHandle) Insert(records []vector.Record) ([]PerRecordResult, error) {
	if err := h.store.guard.Admit(); err != nil {
		return nil, wrapOp("insert", h.name, fmt.Errorf("%w: %v", ErrCapacity, err))
	}
	out := make([]PerRecordResult, len(records))
	for i, rec := range records {
		var err error
		if h.entry.sharded != nil {
			err = h.entry.sharded.Insert(rec)
		} else {
			err = h.entry.single.Insert(rec)
		}
		out[i] = PerRecordResult{ID: rec.ID, Err: translate(err)}
	}
	return out, nil
}

// Update replaces an existing record's vector and payload.
func (h *CollectionHandle) Update(rec vector.Record) error {
	var err error
	if h.entry.sharded != nil {
		err = h.entry.sharded.Update(rec)
	} else {
		err = h.entry.single.Update(rec)
	}
	return wrapOp("update", h.name, translate(err))
}

// Delete removes a record by id.
func (h *CollectionHandle) Delete(id string) error {
	var err error
	if h.entry.sharded != nil {
		err = h.entry.sharded.Delete(id)
	} else {
		err = h.entry.single.Delete(id)
	}
	return wrapOp("delete", h.name, translate(err))
}

// Get fetches a stored record by id.
func (h *CollectionHandle) Get(id string) (vector.Record, error) {
	var rec vector.Record
	var ok bool
	if h.entry.sharded != nil {
		rec, ok = h.entry.sharded.Get(id)
	} else {
		rec, ok = h.entry.single.Get(id)
	}
	if !ok {
		return vector.Record{}, wrapOp("get", h.name, ErrNotFound)
	}
	return rec, nil
}

// SearchOptions configures a Search call. Zero value searches unfiltered
// with the collection's default ef and no deadline.
type SearchOptions struct {
	Ef       int
	Deadline time.Time
	Filter   *filter.Expr
}

// Search runs an approximate k-nearest-neighbor query against the
// collection (or, if sharded, fans out to every shard and merges).
func (h *CollectionHandle) Search(ctx context.Context, query []float32, k int, opts SearchOptions) ([]collection.Result, error) {
	if k <= 0 {
		return nil, wrapOp("search", h.name, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidDimension, k))
	}
	if h.entry.sharded != nil {
		if !opts.Deadline.IsZero() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
			defer cancel()
		}
		res, err := h.entry.sharded.Search(ctx, query, k, opts.Ef, opts.Filter)
		if err != nil {
			return nil, wrapOp("search", h.name, translate(err))
		}
		out := make([]collection.Result, len(res))
		for i, r := range res {
			out[i] = r.Result
		}
		return out, nil
	}

	res, partial, err := h.entry.single.Search(query, k, opts.Ef, opts.Deadline, opts.Filter)
	if err != nil {
		return nil, wrapOp("search", h.name, translate(err))
	}
	if partial {
		h.store.log.Debug("search returned partial results", "collection", h.name, "k", k)
	}
	return res, nil
}

// Stats reports the collection's shape. For an unsharded collection it is
// collection.Collection.Stats's map (live_nodes, estimated_bytes,
// index_bytes, needs_rebuild and graph fields); for a sharded one it holds
// shard_count and each shard's own map under "shards", with no combined
// totals. There are no vector_count or approx_bytes keys.
func (h *CollectionHandle) Stats() map[string]any {
	if h.entry.sharded != nil {
		shards := h.entry.sharded.Shards()
		agg := map[string]any{"shard_count": len(shards)}
		perShard := make([]map[string]any, len(shards))
		for i, s := range shards {
			perShard[i] = s.Stats()
		}
		agg["shards"] = perShard
		return agg
	}
	return h.entry.single.Stats()
}

// Rebuild discards tombstoned entries and rebuilds the ANN graph from live
// vectors. For a sharded collection, rebuilds every shard.
func (h *CollectionHandle) Rebuild() error {
	if h.entry.sharded != nil {
		for _, s := range h.entry.sharded.Shards() {
			if err := s.Rebuild(); err != nil {
				return wrapOp("rebuild", h.name, err)
			}
		}
		return nil
	}
	return wrapOp("rebuild", h.name, h.entry.single.Rebuild())
}

// Snapshot writes the collection's current state to the store's root
// directory via an atomic tempfile-rename swap.
func (h *CollectionHandle) Snapshot() error {
	generation := uint64(time.Now().Unix())
	createdUnix := time.Now().Unix()

	if h.entry.sharded != nil {
		shards := h.entry.sharded.Shards()
		manifest := shard.Manifest{
			Collection:  h.name,
			RoutePolicy: shard.RoutePolicyHashMod,
			Shards:      make([]shard.ShardEntry, len(shards)),
		}
		for i, s := range shards {
			file := fmt.Sprintf("%s.shard%d.kelp", h.name, i)
			if err := persist.WriteSnapshot(filepath.Join(h.store.root, file), s, generation, createdUnix); err != nil {
				return wrapOp("snapshot", h.name, fmt.Errorf("%w: %v", ErrIO, err))
			}
			manifest.Shards[i] = shard.ShardEntry{Index: i, File: file, Generation: generation}
		}
		manifestPath := filepath.Join(h.store.root, h.name+".manifest.json")
		if err := shard.WriteManifest(manifestPath, manifest); err != nil {
			return wrapOp("snapshot", h.name, fmt.Errorf("%w: %v", ErrIO, err))
		}
		return nil
	}
	if err := persist.WriteSnapshot(h.store.snapshotPath(h.name), h.entry.single, generation, createdUnix); err != nil {
		return wrapOp("snapshot", h.name, fmt.Errorf("%w: %v", ErrIO, err))
	}
	return nil
}

// translate maps a collection/index package's local sentinel onto this
// package's public taxonomy, so callers can errors.Is against the kelp
// sentinels regardless of which internal package actually returned it.
func translate(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, vector.ErrInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidVector, err)
	case errors.Is(err, collection.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, collection.ErrClosed):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	case errors.Is(err, collection.ErrEmptyQuery):
		return fmt.Errorf("%w: %v", ErrEmptyQuery, err)
	case errors.Is(err, index.ErrDuplicateID):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
