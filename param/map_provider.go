package param

import "fmt"

// key identifies one (name, layerNo, subIndex) parameter triple.
type key struct {
	name     string
	layerNo  int
	subIndex int
}

// MapProvider is an in-memory Provider backed by a plain map, the
// simplest concrete Provider: tests and small networks can populate
// one directly instead of implementing the interface from scratch.
type MapProvider struct {
	blobs map[key][]byte
	types map[key]Type
}

// NewMapProvider returns an empty MapProvider.
func NewMapProvider() *MapProvider {
	return &MapProvider{blobs: make(map[key][]byte), types: make(map[key]Type)}
}

// Set installs data for name/layerNo/subIndex, replacing anything
// previously set for the same triple.
func (p *MapProvider) Set(name string, layerNo int, subIndex int, data []byte, t Type) {
	k := key{name, layerNo, subIndex}
	p.blobs[k] = data
	p.types[k] = t
}

func (p *MapProvider) Get(name string, layerNo int, subIndex int) DataBlob {
	data, ok := p.blobs[key{name, layerNo, subIndex}]
	if !ok {
		return DataBlob{}
	}
	return NewDataBlob(data)
}

func (p *MapProvider) DataType(name string, layerNo int, subIndex int) Type {
	t, ok := p.types[key{name, layerNo, subIndex}]
	if !ok {
		return DefaultType
	}
	return t
}

// String renders the provider's known triples for debugging.
func (p *MapProvider) String() string {
	return fmt.Sprintf("param.MapProvider{%d entries}", len(p.blobs))
}
