package persist

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kelpdb/kelp/internal/encoding"
	"github.com/kelpdb/kelp/pkg/collection"
	"github.com/kelpdb/kelp/pkg/quantization"
)

// flagRawFallback marks a snapshot whose vector section stores raw f32
// payloads instead of the collection's configured codec, because the codec
// had not finished training when the snapshot was taken.
const flagRawFallback uint32 = 1 << 0

// WriteSnapshot serializes coll to path atomically: the file is built in a
// temp file next to path (named with a uuid so concurrent snapshots of
// different collections never collide) and renamed into place only once
// every byte, including the trailer, is flushed.
func WriteSnapshot(path string, coll *collection.Collection, generation uint64, createdUnix int64) error {
	cfg := coll.Config()
	codec := coll.Codec()
	records := coll.Records()

	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("persist: marshal config: %w", err)
	}
	codecBytes, err := quantization.MarshalState(codec)
	if err != nil {
		return fmt.Errorf("persist: marshal codec state: %w", err)
	}

	useCodec := codec.Trained()
	var flags uint32
	fallback := &quantization.NoneCodec{Dimension: cfg.Dimension}
	if !useCodec {
		flags |= flagRawFallback
	}

	buf := &growBuffer{}
	buf.Write(magic[:])
	buf.WriteUint32(formatVersion)
	writeHeader(buf, header{
		Metric:      uint8(cfg.Metric),
		Dimension:   uint32(cfg.Dimension),
		VectorCount: uint32(len(records)),
		Flags:       flags,
		Generation:  generation,
		CreatedUnix: createdUnix,
	})
	buf.WriteLenPrefixed(cfgBytes)
	buf.WriteLenPrefixed(codecBytes)

	// Deterministic vector order keeps snapshots of an unchanged collection
	// byte-identical, which makes them diffable and testable.
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		var payloadBytes []byte
		if useCodec {
			payloadBytes, err = codec.Encode(rec.Dense)
		} else {
			payloadBytes, err = fallback.Encode(rec.Dense)
		}
		if err != nil {
			return fmt.Errorf("persist: encode vector %q: %w", id, err)
		}
		userPayload, err := encoding.EncodePayload(rec.Payload)
		if err != nil {
			return fmt.Errorf("persist: encode payload %q: %w", id, err)
		}
		buf.WriteLenPrefixed([]byte(id))
		buf.WriteLenPrefixed(payloadBytes)
		buf.WriteLenPrefixed(userPayload)
	}

	buf.WriteLenPrefixed(coll.Index().EncodeGraph())

	sum := crc32.ChecksumIEEE(buf.Bytes())
	buf.WriteUint32(sum)
	buf.Write(magic[:])

	return atomicWrite(path, buf.Bytes())
}

// atomicWrite stages data in a uniquely named temp file in path's directory,
// fsyncs it, then renames it over path. Rename is atomic on the same
// filesystem, so a reader never observes a half-written file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("persist: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("persist: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("persist: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist: rename into place: %w", err)
	}
	return nil
}
