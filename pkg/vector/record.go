// Package vector defines the value types stored by a collection: dense and
// sparse vector records, and the validation rules every inserted record
// must satisfy.
package vector

import (
	"fmt"
)

// Record is an immutable vector plus its id and optional payload. Exactly
// one of Dense or (SparseIndices, SparseValues) is populated; IsSparse
// reports which.
type Record struct {
	ID string

	Dense []float32

	SparseIndices []int32
	SparseValues  []float32

	// Payload is caller metadata the engine stores and returns but never
	// interprets arithmetically. Interpreted only by pkg/filter.
	Payload map[string]any
}

// IsSparse reports whether the record uses the sparse representation.
func (r Record) IsSparse() bool {
	return r.SparseIndices != nil
}

// Validate checks the invariants every record must satisfy before it can be
// admitted to a collection: dense length matches dim, or sparse indices are
// strictly increasing, in range, and parallel to values.
func (r Record) Validate(dim int) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if r.IsSparse() {
		return r.validateSparse(dim)
	}
	if len(r.Dense) != dim {
		return fmt.Errorf("%w: dense vector has %d dims, collection wants %d", ErrInvalid, len(r.Dense), dim)
	}
	for _, v := range r.Dense {
		if v != v { // NaN
			return fmt.Errorf("%w: NaN component", ErrInvalid)
		}
	}
	return nil
}

func (r Record) validateSparse(dim int) error {
	if len(r.SparseIndices) != len(r.SparseValues) {
		return fmt.Errorf("%w: sparse indices/values length mismatch (%d vs %d)", ErrInvalid, len(r.SparseIndices), len(r.SparseValues))
	}
	prev := int32(-1)
	for _, idx := range r.SparseIndices {
		if idx <= prev {
			return fmt.Errorf("%w: sparse indices must be strictly increasing", ErrInvalid)
		}
		if idx < 0 || int(idx) >= dim {
			return fmt.Errorf("%w: sparse index %d out of range [0,%d)", ErrInvalid, idx, dim)
		}
		prev = idx
	}
	return nil
}

// ToDense materializes a sparse record into a zero-padded dense buffer of
// length dim. A dense record's own slice is returned as is (not copied),
// and dim is ignored for it.
func (r Record) ToDense(dim int) []float32 {
	if !r.IsSparse() {
		return r.Dense
	}
	out := make([]float32, dim)
	for i, idx := range r.SparseIndices {
		out[idx] = r.SparseValues[i]
	}
	return out
}

// ErrInvalid is the sentinel wrapped by every Validate failure. Kept local
// to this package so vector stays importable without pulling in the root
// package's larger error taxonomy; the root package maps it onto
// ErrInvalidVector via errors.Is.
var ErrInvalid = fmt.Errorf("vector: invalid record")

// NewDense constructs a dense record with no payload.
func NewDense(id string, data []float32) Record {
	return Record{ID: id, Dense: data}
}

// NewDenseWithPayload constructs a dense record carrying metadata.
func NewDenseWithPayload(id string, data []float32, payload map[string]any) Record {
	return Record{ID: id, Dense: data, Payload: payload}
}

// NewSparse constructs a sparse record. indices must already be sorted.
func NewSparse(id string, indices []int32, values []float32) Record {
	return Record{ID: id, SparseIndices: indices, SparseValues: values}
}
