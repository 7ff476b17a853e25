// Package param provides network weights and other layer parameter data
// to layer setup code, independent of where the data actually lives
// (spec.md §6). A Provider hands out DataBlobs keyed by a parameter
// name, layer number, and sub-index; the layer owns no storage of its
// own for the underlying bytes.
package param

import "github.com/fynet/fyusenet/shape"

// Type is the data type of a parameter blob, mirroring shape.ElemType's
// element kinds so a layer can check a provider's data against the
// format its GPU pass expects before uploading it.
type Type = shape.ElemType

// DefaultType is returned by a Provider that has no type information
// for a given parameter.
const DefaultType Type = shape.F32

// DataBlob wraps a slice of parameter bytes handed out by a Provider.
// Unlike the reference-counted wrapper this is modeled on, a DataBlob
// needs no explicit release: the byte slice it wraps is kept alive by
// Go's ordinary garbage collector for as long as anything holds a
// reference to the DataBlob or its Bytes, not by a manual refcount.
type DataBlob struct {
	data []byte
}

// NewDataBlob wraps data. An empty DataBlob is returned by Providers
// that have nothing for a requested name/layer/subIndex triple.
func NewDataBlob(data []byte) DataBlob { return DataBlob{data: data} }

// Bytes returns the wrapped data, or nil if the blob is empty.
func (b DataBlob) Bytes() []byte { return b.data }

// Empty reports whether the blob carries no data.
func (b DataBlob) Empty() bool { return b.data == nil }

// Provider supplies parameter data to layers during setup (spec.md §6).
// Implementations typically hold an in-memory weight file, a streaming
// reader, or a generated/constant source; the zero behavior (returning
// an empty DataBlob) is a safe default for anything not covered by a
// given network's parameter file.
type Provider interface {
	// Get returns the DataBlob for name/layerNo/subIndex, or an empty
	// DataBlob if the provider has nothing for that triple.
	Get(name string, layerNo int, subIndex int) DataBlob

	// DataType returns the element type of the data Get would return
	// for the same triple, used by a layer to validate a provider's
	// data against the format its GPU pass requires before uploading.
	DataType(name string, layerNo int, subIndex int) Type
}

// Mapper runs fn against the DataBlob Get would return for the same
// triple, without needing to keep the blob itself alive past fn's
// return. It exists to mirror the bounded-lifetime access pattern
// parameter consumers expect (spec.md §6's mapper variant); in Go this
// buys no extra safety over holding the DataBlob directly, since the
// GC already keeps the backing bytes alive for as long as anything
// references them, but it keeps call sites that only need transient
// access from accidentally retaining a blob past the point they're
// done with it.
func Mapper(p Provider, name string, layerNo int, subIndex int, fn func(DataBlob)) {
	fn(p.Get(name, layerNo, subIndex))
}
