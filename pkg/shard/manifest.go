package shard

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest describes a sharded collection's on-disk layout: which files
// hold its shards and what routing policy placed data in them. Stored as
// "<collection>.manifest.json" next to the per-shard binary snapshots, so
// Store.OpenStore can reassemble a sharded CollectionHandle without
// re-deriving routing from scratch.
type Manifest struct {
	Collection  string       `json:"collection"`
	RoutePolicy string       `json:"route_policy"`
	Shards      []ShardEntry `json:"shards"`
}

// ShardEntry names one shard's snapshot file and the generation it was last
// written at.
type ShardEntry struct {
	Index      int    `json:"index"`
	File       string `json:"file"`
	Generation uint64 `json:"generation"`
}

// RoutePolicyHashMod is the only routing policy this router implements:
// hash(id) mod shard count, via a stable non-cryptographic 64-bit hash.
const RoutePolicyHashMod = "hash-mod-xxhash64"

// WriteManifest writes a manifest file for a sharded collection. Not
// atomically swapped like a snapshot: the manifest is small and a reader
// that finds a stale one falls back to whatever shard files are present,
// so a torn write here is far cheaper than a torn snapshot.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("shard: marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("shard: write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest file written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("shard: read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("shard: unmarshal manifest: %w", err)
	}
	return m, nil
}
