package persist

import (
	"bytes"
	"fmt"
)

// growBuffer is a small wrapper over bytes.Buffer with the fixed-width and
// length-prefixed writes the snapshot format needs, so writer.go reads as a
// sequence of field writes rather than repeated binary.Write boilerplate.
type growBuffer struct {
	bytes.Buffer
}

func (b *growBuffer) WriteUint32(v uint32) {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], v)
	b.Write(tmp[:])
}

func (b *growBuffer) WriteUint64(v uint64) {
	var tmp [8]byte
	byteOrder.PutUint64(tmp[:], v)
	b.Write(tmp[:])
}

// WriteLenPrefixed writes a uint32 length followed by data.
func (b *growBuffer) WriteLenPrefixed(data []byte) {
	b.WriteUint32(uint32(len(data)))
	b.Write(data)
}

// byteReader reads sequentially from a fixed byte slice, the mirror image
// of growBuffer.
type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) require(n int) error {
	if r.pos+n > len(r.data) {
		return fmt.Errorf("persist: unexpected end of snapshot at offset %d (need %d more bytes)", r.pos, n)
	}
	return nil
}

func (r *byteReader) ReadByte() (byte, error) {
	if err := r.require(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) ReadUint32() (uint32, error) {
	if err := r.require(4); err != nil {
		return 0, err
	}
	v := byteOrder.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) ReadUint64() (uint64, error) {
	if err := r.require(8); err != nil {
		return 0, err
	}
	v := byteOrder.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// ReadLenPrefixed reads a uint32 length then that many bytes, returning a
// slice into the reader's backing array (callers that retain it past the
// next read must copy).
func (r *byteReader) ReadLenPrefixed() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	if err := r.require(int(n)); err != nil {
		return nil, err
	}
	v := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *byteReader) Remaining() []byte { return r.data[r.pos:] }
