// Package layer defines the common state shared by every layer in a
// compiled network and the sparse ordered collection that stores them
// (spec.md §4.1, §4.2).
package layer

import (
	"fmt"

	"github.com/fynet/fyusenet/shape"
)

// Kind tags what a layer does. The engine's asynchronous dispatch loop
// switches on it directly; its synchronous path picks a layer's forward
// entry point by type assertion instead.
type Kind int

const (
	CpuLayer Kind = iota
	SyncGpuLayer
	UploadLayer
	DownloadLayer
	DeepDownloadLayer
)

func (k Kind) String() string {
	switch k {
	case CpuLayer:
		return "cpu"
	case SyncGpuLayer:
		return "sync-gpu"
	case UploadLayer:
		return "upload"
	case DownloadLayer:
		return "download"
	case DeepDownloadLayer:
		return "deep-download"
	default:
		return "unknown"
	}
}

// Flags records boolean layer-level traits consulted by the buffer
// manager and the engine (activation fusion, residual accumulation,
// batch-norm fusion).
type Flags int

const (
	FlagActivation Flags = 1 << iota
	FlagResidual
	FlagBatchNorm
)

// Base is the state every layer carries regardless of kind. Concrete
// layer implementations (shader passes, CPU operators, transfer layers)
// embed Base and add their own forward logic; the engine only ever
// touches the fields and methods declared here plus the Kind tag.
type Base struct {
	Number Number
	Name   string
	Kind   Kind
	Flags  Flags

	Padding        int
	InputChannels  int
	OutputChannels int

	InputSpecs  []shape.Spec
	OutputSpecs []shape.Spec
}

// Number is a layer's position in execution order. Layer numbers are
// unique within a CompiledLayers and non-negative.
type Number int

// Has reports whether f is set in the layer's flags.
func (b *Base) Has(f Flags) bool { return b.Flags&f != 0 }

// IsAsync reports whether this layer's kind participates in the async
// layer contract (§4.6).
func (b *Base) IsAsync() bool {
	switch b.Kind {
	case UploadLayer, DownloadLayer, DeepDownloadLayer:
		return true
	default:
		return false
	}
}

// Cleanup is implemented by layers that hold GPU resources needing
// explicit release; CompiledLayers.Release invokes it on every occupied
// slot before tearing down the container.
type Cleanup interface {
	Cleanup()
}

func (b *Base) String() string {
	return fmt.Sprintf("layer#%d %q (%s)", b.Number, b.Name, b.Kind)
}
