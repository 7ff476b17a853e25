package glbackend

import (
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"

	"github.com/fynet/fyusenet/gpu"
)

// Buffer is a GL buffer object, optionally persistent-mapped for direct
// CPU access.
type Buffer struct {
	id      uint32
	size    int64
	visible bool
	usage   gpu.Usage
	mapped  []byte
}

func (b *Buffer) Visible() bool { return b.visible }

func (b *Buffer) Bytes() []byte { return b.mapped }

func (b *Buffer) Cap() int64 { return b.size }

func (b *Buffer) Destroy() {
	if b.id == 0 {
		return
	}
	if b.mapped != nil {
		gl.BindBuffer(gl.COPY_READ_BUFFER, b.id)
		gl.UnmapBuffer(gl.COPY_READ_BUFFER)
		gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
		b.mapped = nil
	}
	gl.DeleteBuffers(1, &b.id)
	b.id = 0
}

// mapBytes reinterprets a persistent GL mapping as a Go byte slice. The
// slice is valid for as long as the buffer object backing ptr remains
// mapped.
func mapBytes(ptr unsafe.Pointer, n int) []byte {
	if ptr == nil || n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(ptr), n)
}
