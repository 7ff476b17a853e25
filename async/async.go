// Package async implements the asynchronous upload/download layer
// contract: the hooks an upload or download layer exposes so the
// engine can dispatch a background transfer, track which downstream
// layers depend on it, and receive a single completion callback per
// run (spec.md §4.6).
package async

import (
	"sync"

	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/layer"
)

// State names the lifecycle stages of an async transfer. Callback does
// not carry a State: it reports only the sequence number.
type State int

const (
	UploadCommenced State = iota
	UploadDone
	DownloadCommenced
	DownloadDone
	AsyncError
)

// Callback is invoked by an async layer exactly once per dispatched
// transfer, carrying the sequence number it was dispatched for.
type Callback func(sequenceNo uint64)

// Dependencies tracks the consumer layers registered against an async
// producer: accumulated via AddConsumer, with first/last consumer
// numbers maintained incrementally exactly as the original
// addAsyncDependency does.
type Dependencies struct {
	mu      sync.Mutex
	layers  []layer.Layer
	offsets []int
	first   int
	last    int
}

// NewDependencies returns a Dependencies with no consumers registered
// (First/Last report -1).
func NewDependencies() *Dependencies {
	return &Dependencies{first: -1, last: -1}
}

// AddConsumer records target as a consumer reading this producer's
// output at channelOffset. Re-adding the same layer is a no-op.
func (d *Dependencies) AddConsumer(target layer.Layer, channelOffset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := int(target.LayerBase().Number)
	if d.last == -1 || n > d.last {
		d.last = n
	}
	if d.first == -1 || n < d.first {
		d.first = n
	}
	for _, l := range d.layers {
		if l == target {
			return
		}
	}
	d.layers = append(d.layers, target)
	d.offsets = append(d.offsets, channelOffset)
}

// First returns the lowest layer number among registered consumers, or
// -1 if none.
func (d *Dependencies) First() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.first
}

// Last returns the highest layer number among registered consumers, or
// -1 if none.
func (d *Dependencies) Last() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Consumers returns a snapshot of the registered consumer layers and
// their channel offsets.
func (d *Dependencies) Consumers() ([]layer.Layer, []int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := make([]layer.Layer, len(d.layers))
	offs := make([]int, len(d.offsets))
	copy(ls, d.layers)
	copy(offs, d.offsets)
	return ls, offs
}

// Layer is the common surface of every async-capable layer: dependency
// bookkeeping plus the isAsync query. The engine dispatches the actual
// transfer through the kind-specific interfaces below (Uploader,
// Downloader). The async looper selects them by the layer's layer.Kind
// tag; the synchronous path selects them by type assertion and does not
// consult Kind.
type Layer interface {
	layer.Layer
	Dependencies() *Dependencies
	IsAsync() bool
}

// Uploader is the kind-specific surface of an upload layer: it moves a
// CPU source buffer onto the GPU. AsyncForward begins the transfer in
// a background goroutine and returns true if a transfer slot was
// available (false means the engine must retry later); on completion
// it invokes cb exactly once with the dispatched sequence number.
type Uploader interface {
	Layer
	AsyncForward(sequenceNo uint64, src *cpubuf.CPUBuffer, cb Callback) bool
	Forward(sequenceNo uint64, src *cpubuf.CPUBuffer) error
	SwapOutputTextures(sequenceNo uint64)
	Unlock(sequenceNo uint64)
}

// Downloader is the kind-specific surface of a download layer: it
// moves a producer's GPU texture set into a CPU destination buffer,
// with the same dispatch/callback contract as Uploader.
type Downloader interface {
	Layer
	AsyncForward(sequenceNo uint64, dst *cpubuf.CPUBuffer, cb Callback) bool
	Forward(sequenceNo uint64, dst *cpubuf.CPUBuffer) error
}
