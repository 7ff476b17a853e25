// Package gputest provides an in-memory gpu.Driver used by every
// package's tests that need a GPU without an actual graphics context.
// It performs the copies CopyBufferToTexture/CopyTextureToBuffer
// describe by operating on plain byte slices, and completes every
// fence immediately.
package gputest

import (
	"fmt"
	"sync"
	"time"

	"github.com/fynet/fyusenet/gpu"
)

// New returns a fresh, unregistered GPU instance.
func New() gpu.GPU {
	return &fakeGPU{}
}

type fakeGPU struct {
	mu sync.Mutex
}

type fakeDriver struct{}

func (fakeDriver) Open() (gpu.GPU, error) { return New(), nil }
func (fakeDriver) Name() string           { return "gputest" }
func (fakeDriver) Close()                 {}

func (g *fakeGPU) Driver() gpu.Driver { return fakeDriver{} }

func (g *fakeGPU) Limits() gpu.Limits {
	return gpu.Limits{MaxTextureSize: 16384, MaxTextureLayers: 2048}
}

func (g *fakeGPU) Derive() (gpu.GPU, error) { return New(), nil }

func (g *fakeGPU) NewBuffer(size int64, visible bool, usg gpu.Usage) (gpu.Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("gputest: negative buffer size %d", size)
	}
	b := &fakeBuffer{size: size, visible: visible, usage: usg}
	if visible {
		b.data = make([]byte, size)
	}
	return b, nil
}

func (g *fakeGPU) NewTexture(desc gpu.TextureDesc) (gpu.Texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("gputest: invalid texture dims %dx%d", desc.Width, desc.Height)
	}
	return &fakeTexture{desc: desc, data: make([]byte, desc.Width*desc.Height*4*bytesPerComponent(desc.Format))}, nil
}

func (g *fakeGPU) NewFence() (gpu.Fence, error) { return &fakeFence{}, nil }

func (g *fakeGPU) CopyBufferToTexture(src gpu.Buffer, srcOffset int64, dst gpu.Texture, ch chan<- error) error {
	sb, ok := src.(*fakeBuffer)
	if !ok {
		return fmt.Errorf("gputest: foreign buffer type %T", src)
	}
	dt, ok := dst.(*fakeTexture)
	if !ok {
		return fmt.Errorf("gputest: foreign texture type %T", dst)
	}
	n := copy(dt.data, sb.data[srcOffset:])
	_ = n
	if ch != nil {
		ch <- nil
	}
	return nil
}

func (g *fakeGPU) CopyTextureToBuffer(src gpu.Texture, dst gpu.Buffer, dstOffset int64, ch chan<- error) error {
	st, ok := src.(*fakeTexture)
	if !ok {
		return fmt.Errorf("gputest: foreign texture type %T", src)
	}
	db, ok := dst.(*fakeBuffer)
	if !ok {
		return fmt.Errorf("gputest: foreign buffer type %T", dst)
	}
	copy(db.data[dstOffset:], st.data)
	if ch != nil {
		ch <- nil
	}
	return nil
}

func bytesPerComponent(f gpu.PixelFormat) int {
	switch f {
	case gpu.RGBA32F, gpu.RGBA32UI, gpu.RGBA32I:
		return 4
	case gpu.RGBA16F, gpu.RGBA16UI, gpu.RGBA16I:
		return 2
	default:
		return 1
	}
}

type fakeBuffer struct {
	size    int64
	visible bool
	usage   gpu.Usage
	data    []byte
}

func (b *fakeBuffer) Visible() bool  { return b.visible }
func (b *fakeBuffer) Bytes() []byte  { return b.data }
func (b *fakeBuffer) Cap() int64     { return b.size }
func (b *fakeBuffer) Destroy()       { b.data = nil }

type fakeTexture struct {
	desc gpu.TextureDesc
	data []byte
}

func (t *fakeTexture) Width() int              { return t.desc.Width }
func (t *fakeTexture) Height() int             { return t.desc.Height }
func (t *fakeTexture) Format() gpu.PixelFormat { return t.desc.Format }
func (t *fakeTexture) Interp() gpu.Filter      { return t.desc.Interp }
func (t *fakeTexture) Destroy()                { t.data = nil }

type fakeFence struct{ waited bool }

func (f *fakeFence) Wait(timeout time.Duration) error { f.waited = true; return nil }
func (f *fakeFence) Destroy()                         {}
