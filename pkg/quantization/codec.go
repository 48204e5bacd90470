// Package quantization implements the storage-layer vector codecs: lossless
// None, scalar quantization at a configurable bit width, and product
// quantization. All three satisfy the same Codec contract so a collection
// can swap compression strategy without touching its insert/search paths.
package quantization

import (
	"encoding/json"
	"fmt"
)

// Codec is the closed set of compression strategies a collection's vector
// store can use. Tagged-variant polymorphism (a small, fixed set of
// concrete types behind one interface) rather than open-ended plugins: the
// set changes rarely and this keeps decode on the hot search path
// monomorphic-friendly.
type Codec interface {
	// Train fits codec parameters (min/max per dimension, PQ codebooks)
	// from a representative sample. No-op for None.
	Train(vectors [][]float32) error
	// Encode compresses a dense vector into its stored byte form.
	Encode(vector []float32) ([]byte, error)
	// Decode reconstructs a dense vector from its stored byte form. Lossy
	// for Scalar/Product.
	Decode(encoded []byte) ([]float32, error)
	// EstimatedBytes returns the expected on-disk/in-memory size of count
	// encoded vectors, for memory-footprint reporting.
	EstimatedBytes(count int) int
	// Trained reports whether Train has been called successfully.
	Trained() bool
}

// Kind identifies which Codec variant a collection is configured with; it
// is what's actually persisted in the collection config, since Codec
// instances carry trained state that is serialized separately.
type Kind string

const (
	KindNone    Kind = "none"
	KindScalar4 Kind = "scalar-4"
	KindScalar8 Kind = "scalar-8"
	KindProduct Kind = "product"
)

// Params configures codec construction. M/K only apply to KindProduct.
type Params struct {
	Kind      Kind
	Dimension int
	M         int // number of product-quantization subspaces
	K         int // centroids per subspace (<=256)
}

// New constructs a Codec for the given parameters. Dimension must already
// be validated positive by the caller (pkg/collection does this as part of
// config validation).
func New(p Params) (Codec, error) {
	switch p.Kind {
	case "", KindNone:
		return &NoneCodec{Dimension: p.Dimension}, nil
	case KindScalar4:
		return NewScalarQuantizer(p.Dimension, 4)
	case KindScalar8:
		return NewScalarQuantizer(p.Dimension, 8)
	case KindProduct:
		m, k := p.M, p.K
		if m == 0 {
			m = 8
		}
		if k == 0 {
			k = 256
		}
		return NewProductQuantizer(p.Dimension, m, k)
	default:
		return nil, fmt.Errorf("quantization: unknown codec kind %q", p.Kind)
	}
}

// NoneCodec is the identity codec: dense f32 vectors encoded as raw
// little-endian bytes, decoded back exactly.
type NoneCodec struct {
	Dimension int
}

func (c *NoneCodec) Train([][]float32) error { return nil }

func (c *NoneCodec) Encode(vector []float32) ([]byte, error) {
	if len(vector) != c.Dimension {
		return nil, fmt.Errorf("quantization: vector has %d dims, codec wants %d", len(vector), c.Dimension)
	}
	return encodeFloat32s(vector), nil
}

func (c *NoneCodec) Decode(encoded []byte) ([]float32, error) {
	if len(encoded) != c.Dimension*4 {
		return nil, fmt.Errorf("quantization: encoded length %d doesn't match %d dims", len(encoded), c.Dimension)
	}
	return decodeFloat32s(encoded, c.Dimension), nil
}

func (c *NoneCodec) EstimatedBytes(count int) int { return count * c.Dimension * 4 }

func (c *NoneCodec) Trained() bool { return true }

// MarshalState serializes a codec's trained parameters (per-dimension
// min/max for scalar, codebooks for product) for the snapshot's [codec]
// section. None has no state and marshals to an empty slice.
func MarshalState(c Codec) ([]byte, error) {
	switch t := c.(type) {
	case *NoneCodec:
		return nil, nil
	case *ScalarQuantizer:
		return json.Marshal(t)
	case *ProductQuantizer:
		return json.Marshal(t)
	default:
		return nil, fmt.Errorf("quantization: unknown codec type %T", c)
	}
}

// UnmarshalState reconstructs a trained codec of kind from state bytes
// written by MarshalState.
func UnmarshalState(p Params, state []byte) (Codec, error) {
	switch p.Kind {
	case "", KindNone:
		return &NoneCodec{Dimension: p.Dimension}, nil
	case KindScalar4, KindScalar8:
		sq := &ScalarQuantizer{}
		if len(state) > 0 {
			if err := json.Unmarshal(state, sq); err != nil {
				return nil, fmt.Errorf("quantization: unmarshal scalar state: %w", err)
			}
			sq.trained = true
		}
		return sq, nil
	case KindProduct:
		pq := &ProductQuantizer{}
		if len(state) > 0 {
			if err := json.Unmarshal(state, pq); err != nil {
				return nil, fmt.Errorf("quantization: unmarshal product state: %w", err)
			}
			pq.trained = true
		}
		return pq, nil
	default:
		return nil, fmt.Errorf("quantization: unknown codec kind %q", p.Kind)
	}
}
