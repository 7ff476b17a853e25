package layer

import (
	"errors"

	"github.com/fynet/fyusenet/internal/bitm"
)

// ErrNumberOccupied is returned by Insert when the requested layer
// number is already in use.
var ErrNumberOccupied = errors.New("layer: number already occupied")

// CompiledLayers is the sparse, layer-number-ordered collection the
// network builder fills in once and the engine walks on every forward
// call (spec.md §4.1). Occupancy is tracked with a growable bitmap so
// in-order iteration can skip gaps without scanning a map's key set.
type CompiledLayers struct {
	occ   bitm.Bitm[uint64]
	slots []Layer
}

// Layer is implemented by every concrete layer type; it exposes the
// common Base embedded by that type.
type Layer interface {
	LayerBase() *Base
}

// Insert adds l at its own Number. Fails with ErrNumberOccupied if that
// number is already in use.
func (c *CompiledLayers) Insert(l Layer) error {
	n := int(l.LayerBase().Number)
	if n < 0 {
		return errors.New("layer: negative layer number")
	}
	c.ensure(n + 1)
	if c.occ.IsSet(n) {
		return ErrNumberOccupied
	}
	c.occ.Set(n)
	c.slots[n] = l
	return nil
}

// ensure grows occ/slots so that index i is addressable.
func (c *CompiledLayers) ensure(n int) {
	const bitsPerWord = 64
	for c.occ.Len() < n {
		c.occ.Grow(1)
		c.slots = append(c.slots, make([]Layer, bitsPerWord)...)
	}
}

// ByNumber looks up a layer by its exact number.
func (c *CompiledLayers) ByNumber(n Number) (Layer, bool) {
	i := int(n)
	if i < 0 || i >= c.occ.Len() || !c.occ.IsSet(i) {
		return nil, false
	}
	return c.slots[i], true
}

// ByName resolves a name to the highest-numbered layer carrying it,
// documented best-effort since layer names are not required to be
// unique (spec.md §9).
func (c *CompiledLayers) ByName(name string) (Layer, bool) {
	var found Layer
	var ok bool
	c.Range(func(l Layer) bool {
		if l.LayerBase().Name == name {
			found, ok = l, true
		}
		return true
	})
	return found, ok
}

// Range calls yield for every occupied slot in strictly ascending
// layer-number order, stopping early if yield returns false.
func (c *CompiledLayers) Range(yield func(Layer) bool) {
	for i := 0; i < c.occ.Len(); i++ {
		if !c.occ.IsSet(i) {
			continue
		}
		if !yield(c.slots[i]) {
			return
		}
	}
}

// Len returns the number of occupied layer slots.
func (c *CompiledLayers) Len() int {
	return c.occ.Len() - c.occ.Rem()
}

// Release calls Cleanup on every layer that implements it, in
// ascending layer-number order, then empties the container.
func (c *CompiledLayers) Release() {
	c.Range(func(l Layer) bool {
		if cl, ok := l.(Cleanup); ok {
			cl.Cleanup()
		}
		return true
	})
	c.occ = bitm.Bitm[uint64]{}
	c.slots = nil
}
