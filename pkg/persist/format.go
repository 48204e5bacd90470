// Package persist implements the on-disk snapshot format: a single binary
// file per collection (or per shard) holding its frozen config, trained
// codec state, vectors, and serialized HNSW graph, closed by a CRC32
// trailer. Writers stage to a temp file and rename into place so a reader
// never observes a partially written snapshot.
package persist

import (
	"encoding/binary"
	"errors"
)

// magic opens and closes every snapshot file. Readers reject anything that
// doesn't start and end with it.
var magic = [4]byte{'K', 'E', 'L', 'P'}

// formatVersion is the single layout version: writers always write it and
// readers accept only a file carrying exactly this value. The header's
// generation/created_unix fields are part of version 1's layout (see
// SPEC_FULL.md §12.3); there is no separate minor-version number.
const formatVersion uint32 = 1

var (
	// ErrBadMagic means the file doesn't start or end with the kelp magic
	// bytes — not a snapshot, or truncated beyond recovery.
	ErrBadMagic = errors.New("persist: bad magic")
	// ErrUnsupportedVersion means the file's version is not the one this
	// reader understands.
	ErrUnsupportedVersion = errors.New("persist: unsupported format version")
	// ErrChecksum means the trailer CRC32 didn't match the file's contents;
	// the file is corrupt or was truncated mid-write.
	ErrChecksum = errors.New("persist: checksum mismatch")
)

// header is the fixed-size leading section of a snapshot file.
type header struct {
	Metric      uint8
	Dimension   uint32
	VectorCount uint32
	Flags       uint32
	Generation  uint64
	CreatedUnix int64
}

const headerFixedLen = 1 + 4 + 4 + 4 + 8 + 8 // Metric..CreatedUnix, magic/version framed separately

func writeHeader(buf *growBuffer, h header) {
	buf.WriteByte(h.Metric)
	buf.WriteUint32(h.Dimension)
	buf.WriteUint32(h.VectorCount)
	buf.WriteUint32(h.Flags)
	buf.WriteUint64(h.Generation)
	buf.WriteUint64(uint64(h.CreatedUnix))
}

func readHeader(r *byteReader) (header, error) {
	var h header
	var err error
	if h.Metric, err = r.ReadByte(); err != nil {
		return h, err
	}
	if h.Dimension, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.VectorCount, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.Flags, err = r.ReadUint32(); err != nil {
		return h, err
	}
	if h.Generation, err = r.ReadUint64(); err != nil {
		return h, err
	}
	created, err := r.ReadUint64()
	if err != nil {
		return h, err
	}
	h.CreatedUnix = int64(created)
	return h, nil
}

// byteOrder is little-endian throughout, per the format contract.
var byteOrder = binary.LittleEndian
