package async

import (
	"sync"

	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/shape"
	"github.com/fynet/fyusenet/tensor"
)

// Upload is an async-capable CPU-to-GPU transfer layer. It owns two
// texture sets (front, back) and promotes the back set to front via
// SwapOutputTextures once a transfer completes and its last consumer
// in the prior sequence has released the front set (spec.md §4.6,
// §4.7's fence/swap protocol).
type Upload struct {
	Base layer.Base
	Deps *Dependencies

	g     gpu.GPU
	shape shape.Shape
	format gpu.PixelFormat
	interp gpu.Filter

	mu       sync.Mutex
	busy     bool
	front    *tensor.Buffer
	back     *tensor.Buffer
	lockedAt uint64
}

// NewUpload allocates an Upload layer's front/back texture sets.
func NewUpload(g gpu.GPU, base layer.Base, s shape.Shape, format gpu.PixelFormat, interp gpu.Filter) (*Upload, error) {
	front, err := tensor.New(g, s, format, interp, gpu.UTransferDst|gpu.UShaderRead)
	if err != nil {
		return nil, err
	}
	back, err := tensor.New(g, s, format, interp, gpu.UTransferDst|gpu.UShaderRead)
	if err != nil {
		front.Destroy()
		return nil, err
	}
	base.Kind = layer.UploadLayer
	return &Upload{Base: base, Deps: NewDependencies(), g: g, shape: s, format: format, interp: interp, front: front, back: back}, nil
}

func (u *Upload) LayerBase() *layer.Base  { return &u.Base }
func (u *Upload) Dependencies() *Dependencies { return u.Deps }
func (u *Upload) IsAsync() bool           { return true }

// AddConsumer satisfies bufmgr.AsyncProducer by delegating to Deps.
func (u *Upload) AddConsumer(target layer.Layer, channelOffset int) {
	u.Deps.AddConsumer(target, channelOffset)
}

// Output returns the texture set currently visible to consumers.
func (u *Upload) Output() *tensor.Buffer {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.front
}

// AsyncForward copies src into the back texture set on a background
// worker goroutine and invokes cb exactly once on completion. Returns
// false without starting a transfer if one is already in flight (the
// engine must retry once the prior transfer's Unlock has been called).
func (u *Upload) AsyncForward(sequenceNo uint64, src *cpubuf.CPUBuffer, cb Callback) bool {
	u.mu.Lock()
	if u.busy {
		u.mu.Unlock()
		return false
	}
	u.busy = true
	back := u.back
	u.mu.Unlock()

	staging, err := u.g.NewBuffer(int64(len(src.Bytes())), true, gpu.UTransferSrc)
	if err != nil {
		u.mu.Lock()
		u.busy = false
		u.mu.Unlock()
		cb(sequenceNo)
		return true
	}
	copy(staging.Bytes(), src.Bytes())

	go func() {
		ch := make(chan error, len(back.Slices))
		off := int64(0)
		for _, slice := range back.Slices {
			if err := u.g.CopyBufferToTexture(staging, off, slice, ch); err != nil {
				ch <- err
			}
			off += int64(slice.Width() * slice.Height() * 4 * 4)
		}
		for range back.Slices {
			<-ch
		}
		staging.Destroy()
		cb(sequenceNo)
	}()
	return true
}

// Forward is the synchronous entry point: it blocks until the transfer
// for sequenceNo has completed and the swap has happened, then frees
// the transfer slot for the next call.
func (u *Upload) Forward(sequenceNo uint64, src *cpubuf.CPUBuffer) error {
	done := make(chan struct{})
	u.AsyncForward(sequenceNo, src, func(uint64) { close(done) })
	<-done
	u.SwapOutputTextures(sequenceNo)
	u.Unlock(sequenceNo)
	return nil
}

// SwapOutputTextures atomically promotes the back texture set (just
// populated by a completed transfer) to be the front set visible on
// this layer's output ports.
func (u *Upload) SwapOutputTextures(sequenceNo uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.front, u.back = u.back, u.front
	u.lockedAt = sequenceNo
}

// Unlock allows the layer to accept a new transfer once sequenceNo's
// last consumer has fenced against the (now-back) texture set.
func (u *Upload) Unlock(sequenceNo uint64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.busy = false
}

// Destroy releases both texture sets.
func (u *Upload) Destroy() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.front.Destroy()
	u.back.Destroy()
}

// Cleanup implements layer.Cleanup.
func (u *Upload) Cleanup() { u.Destroy() }
