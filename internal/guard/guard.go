// Package guard implements the host-level memory guardrail a Store
// consults before admitting a batch insert, so a runaway ingest can't push
// the process past a configured ceiling.
package guard

import (
	"fmt"
	"runtime"
)

// MemoryGuard refuses new work once the process's reported heap usage
// crosses Ceiling bytes. Ceiling of 0 disables the check.
type MemoryGuard struct {
	Ceiling uint64
}

// New constructs a guard with the given ceiling in bytes.
func New(ceilingBytes uint64) *MemoryGuard {
	return &MemoryGuard{Ceiling: ceilingBytes}
}

// ErrOverCapacity is wrapped by Admit's return value when the ceiling is
// exceeded.
var ErrOverCapacity = fmt.Errorf("guard: memory ceiling exceeded")

// Admit checks current heap usage against the ceiling. Cheap enough to call
// on every batch insert: runtime.ReadMemStats is a few microseconds, far
// below the cost of the insert it's guarding.
func (g *MemoryGuard) Admit() error {
	if g.Ceiling == 0 {
		return nil
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapAlloc >= g.Ceiling {
		return fmt.Errorf("%w: heap_alloc=%d ceiling=%d", ErrOverCapacity, m.HeapAlloc, g.Ceiling)
	}
	return nil
}
