// Package tensor implements the GPU-resident tensor buffer: an ordered
// set of gpu.Texture slices interpreted according to a shape.Shape's
// data order (spec.md §4.4). Buffer is the unit the buffer manager
// pools and the unit a layer reads/writes during forward execution.
package tensor

import (
	"fmt"

	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/shape"
)

// Buffer is a GPU-resident tensor: one or more Textures, laid out per
// its Shape's DataOrder.
//
//   - ShallowGPU: len(Slices) == Shape.Slices(), one per group of 4
//     channels.
//   - DeepGPU and Sequence: exactly one slice.
//
// A passthrough Buffer shares its slices' Textures with another
// Buffer (its upstream input); in that case Owned is false and Destroy
// is a no-op, since the upstream producer owns the handle's lifetime.
type Buffer struct {
	Shape  shape.Shape
	Slices []gpu.Texture
	Owned  bool

	// LastInputLayerNumber is the layer number of the highest-numbered
	// consumer connected to this buffer so far. Nothing in this module
	// sets or reads it: bufmgr's pool-reuse rule keeps its own
	// per-texture records.
	LastInputLayerNumber int

	// Locked marks the buffer as pinned against pool reuse. Like
	// LastInputLayerNumber, it is not set or read by bufmgr.
	Locked bool
}

// New allocates a fresh Buffer with newly created textures sized per s
// and fmt/interp, via g.
func New(g gpu.GPU, s shape.Shape, fmt_ gpu.PixelFormat, interp gpu.Filter, usg gpu.Usage) (*Buffer, error) {
	n := 1
	w, h := s.Width+2*s.Padding, s.Height+2*s.Padding
	switch s.Order {
	case shape.ShallowGPU:
		n = s.Slices()
	case shape.DeepGPU:
		w, h = s.DeepWidth(), s.DeepHeight()
	case shape.Sequence:
		w, h = s.SequenceWidth(), s.Height
	}
	slices := make([]gpu.Texture, 0, n)
	for i := 0; i < n; i++ {
		tex, err := g.NewTexture(gpu.TextureDesc{Width: w, Height: h, Format: fmt_, Interp: interp, Usage: usg})
		if err != nil {
			for _, t := range slices {
				t.Destroy()
			}
			return nil, fmt.Errorf("tensor: allocate slice %d/%d: %w", i, n, err)
		}
		slices = append(slices, tex)
	}
	return &Buffer{Shape: s, Slices: slices, Owned: true}, nil
}

// Wrap builds a Buffer around pre-existing texture handles (e.g. a
// pool-reused texture or a passthrough alias). The returned Buffer does
// not own the handles: Destroy is a no-op.
func Wrap(s shape.Shape, slices []gpu.Texture) *Buffer {
	return &Buffer{Shape: s, Slices: slices, Owned: false}
}

// Passthrough returns a Buffer that aliases src's slices under the
// given (possibly reinterpreted) shape. Used when a layer's output spec
// requests PassThrough: the producer's output shares the consumer's
// input handle rather than allocating (spec.md §4.4).
func Passthrough(src *Buffer, s shape.Shape) *Buffer {
	return Wrap(s, src.Slices)
}

// Destroy releases the underlying textures if this Buffer owns them.
func (b *Buffer) Destroy() {
	if b == nil || !b.Owned {
		return
	}
	for _, t := range b.Slices {
		t.Destroy()
	}
	b.Slices = nil
}

// Format returns the pixel format of the buffer's slices (they are
// always uniform across a single Buffer).
func (b *Buffer) Format() gpu.PixelFormat {
	if len(b.Slices) == 0 {
		return 0
	}
	return b.Slices[0].Format()
}
