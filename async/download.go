package async

import (
	"sync"

	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/tensor"
)

// Download is an async-capable GPU-to-CPU transfer layer. Unlike
// Upload it has no front/back texture sets of its own: it reads
// whatever tensor.Buffer its source currently resolves to. Source is
// a function rather than a fixed buffer because the producer wired to
// it may itself be an Upload layer, whose visible output swaps between
// two underlying textures on every completed transfer (§4.7's
// fence/swap protocol) — a snapshot taken once at construction would
// go stale after the first swap.
type Download struct {
	Base layer.Base
	Deps *Dependencies

	g   gpu.GPU
	src func() *tensor.Buffer

	mu   sync.Mutex
	busy bool
}

// NewDownload returns a Download layer reading whatever src currently
// resolves to at dispatch time. For a plain (non-async) GPU producer,
// pass a closure returning a fixed buffer.
func NewDownload(g gpu.GPU, base layer.Base, src func() *tensor.Buffer, deep bool) *Download {
	if deep {
		base.Kind = layer.DeepDownloadLayer
	} else {
		base.Kind = layer.DownloadLayer
	}
	return &Download{Base: base, Deps: NewDependencies(), g: g, src: src}
}

func (d *Download) LayerBase() *layer.Base      { return &d.Base }
func (d *Download) Dependencies() *Dependencies { return d.Deps }
func (d *Download) IsAsync() bool               { return true }

func (d *Download) AddConsumer(target layer.Layer, channelOffset int) {
	d.Deps.AddConsumer(target, channelOffset)
}

// AsyncForward copies whatever d.src currently resolves to into dst on
// a background goroutine, invoking cb exactly once with sequenceNo on
// completion.
func (d *Download) AsyncForward(sequenceNo uint64, dst *cpubuf.CPUBuffer, cb Callback) bool {
	d.mu.Lock()
	if d.busy {
		d.mu.Unlock()
		return false
	}
	d.busy = true
	d.mu.Unlock()

	src := d.src()
	staging, err := d.g.NewBuffer(int64(len(dst.Bytes())), true, gpu.UTransferDst)
	if err != nil {
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
		cb(sequenceNo)
		return true
	}

	go func() {
		ch := make(chan error, len(src.Slices))
		off := int64(0)
		for _, slice := range src.Slices {
			if err := d.g.CopyTextureToBuffer(slice, staging, off, ch); err != nil {
				ch <- err
			}
			off += int64(slice.Width() * slice.Height() * 4 * 4)
		}
		for range src.Slices {
			<-ch
		}
		copy(dst.Bytes(), staging.Bytes())
		dst.AssociateTo(sequenceNo)
		staging.Destroy()
		d.mu.Lock()
		d.busy = false
		d.mu.Unlock()
		cb(sequenceNo)
	}()
	return true
}

// Forward blocks until the download for sequenceNo completes.
func (d *Download) Forward(sequenceNo uint64, dst *cpubuf.CPUBuffer) error {
	done := make(chan struct{})
	for !d.AsyncForward(sequenceNo, dst, func(uint64) { close(done) }) {
	}
	<-done
	return nil
}

// Cleanup implements layer.Cleanup; Download holds no GPU resources of
// its own (its input texture is owned by the producer it reads from).
func (d *Download) Cleanup() {}
