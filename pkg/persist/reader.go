package persist

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kelpdb/kelp/internal/encoding"
	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/index"
	"github.com/kelpdb/kelp/pkg/metric"
	"github.com/kelpdb/kelp/pkg/quantization"
	"github.com/kelpdb/kelp/pkg/vector"
)

// Snapshot is a decoded snapshot file: the reconstructed collection plus
// the generation metadata stamped at write time.
type Snapshot struct {
	Collection  *collection.Collection
	Generation  uint64
	CreatedUnix int64
}

// ReadSnapshot loads and verifies a snapshot file, reconstructing a
// Collection ready for use. Returns ErrBadMagic, ErrUnsupportedVersion, or
// ErrChecksum for a corrupt or foreign file, before trusting any of its
// content.
func ReadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read %s: %w", path, err)
	}
	if len(data) < 8+8 {
		return nil, ErrBadMagic
	}
	if !bytes.Equal(data[:4], magic[:]) || !bytes.Equal(data[len(data)-4:], magic[:]) {
		return nil, ErrBadMagic
	}

	trailerStart := len(data) - 8
	wantSum := byteOrder.Uint32(data[trailerStart : trailerStart+4])
	gotSum := crc32.ChecksumIEEE(data[:trailerStart])
	if wantSum != gotSum {
		return nil, ErrChecksum
	}

	r := newByteReader(data[4:trailerStart])
	version, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if version != formatVersion {
		return nil, ErrUnsupportedVersion
	}

	h, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("persist: read header: %w", err)
	}

	cfgBytes, err := r.ReadLenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("persist: read config section: %w", err)
	}
	var cfg collection.Config
	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, fmt.Errorf("persist: unmarshal config: %w", err)
	}

	codecBytes, err := r.ReadLenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("persist: read codec section: %w", err)
	}

	rawFallback := h.Flags&flagRawFallback != 0
	var codec quantization.Codec
	if rawFallback {
		codec, err = quantization.New(cfg.Codec)
	} else {
		codec, err = quantization.UnmarshalState(cfg.Codec, codecBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("persist: build codec: %w", err)
	}
	decodeWith := codec
	if rawFallback {
		decodeWith = &quantization.NoneCodec{Dimension: cfg.Dimension}
	}

	records := make(map[string]vector.Record, h.VectorCount)
	for i := uint32(0); i < h.VectorCount; i++ {
		idBytes, err := r.ReadLenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("persist: read vector %d id: %w", i, err)
		}
		payloadBytes, err := r.ReadLenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("persist: read vector %d payload: %w", i, err)
		}
		userPayloadBytes, err := r.ReadLenPrefixed()
		if err != nil {
			return nil, fmt.Errorf("persist: read vector %d user payload: %w", i, err)
		}

		dense, err := decodeWith.Decode(payloadBytes)
		if err != nil {
			return nil, fmt.Errorf("persist: decode vector %d: %w", i, err)
		}
		if err := encoding.ValidateVector(dense); err != nil {
			return nil, fmt.Errorf("persist: vector %d failed validation: %w", i, err)
		}
		userPayload, err := encoding.DecodePayload(userPayloadBytes)
		if err != nil {
			return nil, fmt.Errorf("persist: decode vector %d user payload: %w", i, err)
		}

		id := string(idBytes)
		records[id] = vector.Record{ID: id, Dense: dense, Payload: userPayload}
	}

	graphBytes, err := r.ReadLenPrefixed()
	if err != nil {
		return nil, fmt.Errorf("persist: read index section: %w", err)
	}
	metricKind := metric.Kind(h.Metric)
	idx, err := index.DecodeGraph(graphBytes, cfg.HNSW, metricKind.Func(), func(extID string) ([]float32, bool) {
		rec, ok := records[extID]
		return rec.Dense, ok
	})
	if err != nil {
		return nil, fmt.Errorf("persist: decode graph: %w", err)
	}

	coll := collection.Restore(cfg, codec, records, idx)
	return &Snapshot{Collection: coll, Generation: h.Generation, CreatedUnix: h.CreatedUnix}, nil
}
