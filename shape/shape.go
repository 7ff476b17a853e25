// Package shape defines the structural descriptors that appear on every
// port of every layer: tensor shapes and the port-level buffer
// specifications built on top of them (spec.md §3, §4.2). Types in this
// package are immutable value types with no GPU or host-allocation
// side effects.
package shape

import "github.com/chewxy/math32"

// ElemType is the scalar element type of a tensor.
type ElemType int

const (
	F32 ElemType = iota
	F16
	U32
	I32
	U16
	I16
	U8
	I8
)

// Size returns the size in bytes of a single element of this type.
func (e ElemType) Size() int {
	switch e {
	case F32, U32, I32:
		return 4
	case F16, U16, I16:
		return 2
	case U8, I8:
		return 1
	default:
		return 0
	}
}

// Family classifies an element type as floating-point or integral, used
// by the buffer manager's format-adoption rule (spec.md §4.5).
type Family int

const (
	Float Family = iota
	Integer
)

// Family returns whether e is a floating-point or integral type.
func (e ElemType) Family() Family {
	switch e {
	case F32, F16:
		return Float
	default:
		return Integer
	}
}

func (e ElemType) String() string {
	switch e {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case U32:
		return "u32"
	case I32:
		return "i32"
	case U16:
		return "u16"
	case I16:
		return "i16"
	case U8:
		return "u8"
	case I8:
		return "i8"
	default:
		return "unknown"
	}
}

// DataOrder is the storage layout of a tensor.
type DataOrder int

const (
	// Channelwise stores data as (channel, row, col), the ordinary
	// CPU tensor layout.
	Channelwise DataOrder = iota
	// ShallowGPU packs up to 4 channels per pixel across
	// ⌈C/4⌉ texture slices.
	ShallowGPU
	// DeepGPU tiles all channels into a single texture slice.
	DeepGPU
	// Sequence stores a (sequence-length × embedding) tensor with at
	// most 4 channels per pixel and no spatial padding.
	Sequence
)

func (o DataOrder) String() string {
	switch o {
	case Channelwise:
		return "channelwise"
	case ShallowGPU:
		return "shallow-gpu"
	case DeepGPU:
		return "deep-gpu"
	case Sequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Shape is an immutable tensor shape descriptor: a 2D image with a
// channel axis, spatial padding, an element type and a storage order.
type Shape struct {
	Width    int
	Height   int
	Channels int
	Padding  int
	Elem     ElemType
	Order    DataOrder
}

// New builds a channel-major Shape with no padding, which is the usual
// starting point before a layer requests a GPU-oriented layout.
func New(width, height, channels int, elem ElemType) Shape {
	return Shape{Width: width, Height: height, Channels: channels, Elem: elem, Order: Channelwise}
}

// WithOrder returns a copy of s under a different data order, leaving
// the logical (width, height, channels) unchanged.
func (s Shape) WithOrder(order DataOrder) Shape {
	s.Order = order
	return s
}

// WithPadding returns a copy of s with the given spatial padding.
func (s Shape) WithPadding(p int) Shape {
	s.Padding = p
	return s
}

// Slices returns the number of texture slices a ShallowGPU tensor of
// this shape occupies. For other orders it returns 1.
func (s Shape) Slices() int {
	if s.Order != ShallowGPU {
		return 1
	}
	return (s.Channels + 3) / 4
}

// DeepTiles computes the (tilesX, tilesY) arrangement used by DeepGPU
// layout: the smallest tilesX·tilesY ≥ ⌈C/4⌉, minimizing
//
//	|tilesX - tilesY| + tilesX*tilesY - ⌈C/4⌉
//
// with ties broken toward squareness (spec.md §4.2).
func (s Shape) DeepTiles() (tilesX, tilesY int) {
	n := (s.Channels + 3) / 4
	if n <= 0 {
		return 1, 1
	}
	bestX, bestY := n, 1
	bestCost := 1<<31 - 1
	// tilesY never needs to exceed roughly sqrt(n): past that point tx
	// would have to shrink below ty, which the cost function already
	// penalizes, so bound the search instead of scanning all of [1,n].
	limit := int(math32.Ceil(math32.Sqrt(float32(n)))) * 2
	if limit < 1 {
		limit = 1
	}
	if limit > n {
		limit = n
	}
	for ty := 1; ty <= limit; ty++ {
		tx := (n + ty - 1) / ty // smallest tx such that tx*ty >= n
		cost := abs(tx-ty) + tx*ty - n
		if cost < bestCost || (cost == bestCost && abs(tx-ty) < abs(bestX-bestY)) {
			bestCost, bestX, bestY = cost, tx, ty
		}
	}
	return bestX, bestY
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// DeepWidth and DeepHeight return the pixel dimensions of the single
// texture slice a DeepGPU tensor of this shape occupies:
//
//	(tilesX*(W+p)+p) x (tilesY*(H+p)+p)
func (s Shape) DeepWidth() int {
	tx, _ := s.DeepTiles()
	return tx*(s.Width+s.Padding) + s.Padding
}

func (s Shape) DeepHeight() int {
	_, ty := s.DeepTiles()
	return ty*(s.Height+s.Padding) + s.Padding
}

// SequenceWidth returns the pixel width of a Sequence-layout tensor's
// single slice: ⌈W/C⌉ (at most 4 channels per pixel, per spec.md §4.4,
// is enforced by the caller when building the shape).
func (s Shape) SequenceWidth() int {
	c := s.Channels
	if c <= 0 {
		c = 1
	}
	return (s.Width + c - 1) / c
}

// Bytes returns the byte size of this tensor under the requested order.
func (s Shape) Bytes(order DataOrder) int64 {
	esz := int64(s.Elem.Size())
	switch order {
	case Channelwise:
		return int64(s.Width) * int64(s.Height) * int64(s.Channels) * esz
	case ShallowGPU:
		slices := int64(s.Slices())
		w := int64(s.Width + 2*s.Padding)
		h := int64(s.Height + 2*s.Padding)
		return slices * w * h * 4 * esz
	case DeepGPU:
		return int64(s.DeepWidth()) * int64(s.DeepHeight()) * 4 * esz
	case Sequence:
		return int64(s.SequenceWidth()) * int64(s.Height) * 4 * esz
	default:
		return 0
	}
}
