// Package encoding implements small serialization helpers: a
// length-prefixed vector encoding, JSON payload encoding, and the NaN/Inf
// check on vectors. pkg/persist uses the payload helpers and ValidateVector;
// it frames its own fields and stores vectors through the quantization
// codecs rather than EncodeVector.
package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned by EncodeVector/DecodeVector/ValidateVector
// on malformed input.
var ErrInvalidVector = errors.New("encoding: invalid vector")

// EncodeVector serializes a float32 vector as a little-endian int32 length
// prefix followed by that many little-endian float32 values.
func EncodeVector(vec []float32) ([]byte, error) {
	if vec == nil {
		return nil, ErrInvalidVector
	}
	if len(vec) > math.MaxInt32 {
		return nil, fmt.Errorf("encoding: vector too large: %d elements", len(vec))
	}

	buf := new(bytes.Buffer)
	buf.Grow(4 + len(vec)*4)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vec))); err != nil {
		return nil, fmt.Errorf("encoding: write vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("encoding: write vector values: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVector reverses EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}
	r := bytes.NewReader(data)
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("encoding: read vector length: %w", err)
	}
	if length < 0 || r.Len() < int(length)*4 {
		return nil, ErrInvalidVector
	}
	vec := make([]float32, length)
	if length > 0 {
		if err := binary.Read(r, binary.LittleEndian, vec); err != nil {
			return nil, fmt.Errorf("encoding: read vector values: %w", err)
		}
	}
	return vec, nil
}

// EncodePayload serializes an arbitrary record payload as JSON. A nil
// payload encodes to nil (no bytes written by the caller's framing).
func EncodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding: marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload reverses EncodePayload. Empty input decodes to a nil map.
func DecodePayload(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("encoding: unmarshal payload: %w", err)
	}
	return payload, nil
}

// ValidateVector rejects vectors carrying NaN or infinite components, the
// invariant check a snapshot reader runs on every decoded vector as a
// second line of defense behind the snapshot's CRC32 trailer.
func ValidateVector(vec []float32) error {
	if len(vec) == 0 {
		return ErrInvalidVector
	}
	for _, v := range vec {
		if v != v || math.IsInf(float64(v), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}
