// Package cpubuf implements the CPU-side tensor buffer: a mappable host
// memory block described by a shape.Shape (spec.md §4.3).
package cpubuf

import (
	"fmt"
	"os"
	"sync"

	"github.com/fynet/fyusenet/shape"
)

// MapMode selects the access mode of a Map call.
type MapMode int

const (
	ReadOnly MapMode = iota
	ReadWrite
)

// ErrNotMapped is returned by Map when wait is false and another
// mapping is already live.
var ErrNotMapped = fmt.Errorf("cpubuf: buffer already mapped")

// CPUBuffer owns a contiguous byte block sized by its shape. While
// mapped, the buffer is exclusive to the mapping holder; Unmap releases
// that exclusivity. A CPUBuffer may carry an optional sequence id
// stamped by its producer layer.
type CPUBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	shape  shape.Shape
	data   []byte
	mapped bool
	mode   MapMode

	hasSeq bool
	seq    uint64
}

// New allocates a CPUBuffer sized by s.Bytes(s.Order).
func New(s shape.Shape) *CPUBuffer {
	b := &CPUBuffer{shape: s, data: make([]byte, s.Bytes(s.Order))}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Shape returns the buffer's shape descriptor.
func (b *CPUBuffer) Shape() shape.Shape { return b.shape }

// Bytes returns the full underlying byte slice. It is valid for the
// lifetime of the buffer regardless of mapping state; Map/Unmap track
// the exclusivity invariant but do not gate this accessor, matching how
// GPU-buffer-backed staging memory works in this codebase.
func (b *CPUBuffer) Bytes() []byte { return b.data }

// Map acquires exclusive access to the buffer. If wait is true and the
// buffer is already mapped, Map blocks until it is released; otherwise
// it returns ErrNotMapped immediately.
func (b *CPUBuffer) Map(mode MapMode, wait bool) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mapped {
		if !wait {
			return nil, ErrNotMapped
		}
		for b.mapped {
			b.cond.Wait()
		}
	}
	b.mapped = true
	b.mode = mode
	return b.data, nil
}

// Unmap releases the exclusivity acquired by Map.
func (b *CPUBuffer) Unmap() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.mapped {
		return
	}
	b.mapped = false
	b.cond.Signal()
}

// WriteToFile dumps the buffer's raw bytes, in channel-major, row-major
// order (no padding included), to path.
func (b *CPUBuffer) WriteToFile(path string) error {
	payload := b.data
	switch b.shape.Order {
	case shape.Channelwise:
		// already in the dump format
	case shape.ShallowGPU:
		payload = shape.FromShallow(b.data, b.shape)
	case shape.DeepGPU:
		payload = shape.FromDeep(b.data, b.shape)
	}
	return os.WriteFile(path, payload, 0o644)
}

// AssociateTo stamps the buffer with a producer sequence number.
func (b *CPUBuffer) AssociateTo(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq = seq
	b.hasSeq = true
}

// Sequence returns the last sequence number stamped via AssociateTo,
// and whether one was ever stamped.
func (b *CPUBuffer) Sequence() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq, b.hasSeq
}

// Fill fills the entire buffer with repeated copies of a raw element
// value el (whose length must equal the buffer's element size). Callers
// supply el consistent with the shape's element type.
func (b *CPUBuffer) Fill(el []byte) error {
	if b.data == nil {
		return fmt.Errorf("cpubuf: Fill on null buffer")
	}
	esz := b.shape.Elem.Size()
	if esz == 0 || len(el) != esz {
		return fmt.Errorf("cpubuf: Fill element size %d does not match shape element size %d", len(el), esz)
	}
	for off := 0; off+esz <= len(b.data); off += esz {
		copy(b.data[off:off+esz], el)
	}
	return nil
}
