package quantization

import (
	"encoding/binary"
	"math"
)

// encodeFloat32s packs a f32 slice into little-endian bytes with no length
// prefix — callers already know the dimension from codec state, matching
// the fixed-length "quantized payload" slot in the on-disk vector record.
func encodeFloat32s(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(x))
	}
	return out
}

func decodeFloat32s(b []byte, dim int) []float32 {
	out := make([]float32, dim)
	for i := 0; i < dim; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
