package gpu

import "time"

// Destroyer is embedded by resource interfaces that hold externally
// managed memory (GPU handles) which garbage collection does not know
// how to release. Destroy must be called explicitly.
type Destroyer interface {
	// Destroy releases the resource. Destroying an already-destroyed
	// resource has no effect.
	Destroy()
}

// GPU is the main interface to an underlying backend implementation. It is
// obtained from Driver.Open and is used to create buffers, textures and
// fences, and to submit copy operations between them.
//
// A GPU is owned by exactly one goroutine's worth of context state at a
// time. The engine holds a single GPU (engine.WithGPU), used for fences,
// and does not call Derive: its looper and transfer goroutines get no
// context of their own.
type GPU interface {
	// Driver returns the Driver that owns this GPU.
	Driver() Driver

	// NewBuffer creates a new host-visible-or-not buffer of the given
	// byte size.
	NewBuffer(size int64, visible bool, usg Usage) (Buffer, error)

	// NewTexture creates a new 2D texture (optionally array-layered,
	// for DeepGPU/Sequence layouts that need only one slice, layers is
	// always 1; ShallowGPU layouts that need several slices allocate
	// one Texture per slice instead of using array layers, matching
	// how the buffer manager pools individual textures per shallow
	// plane).
	NewTexture(desc TextureDesc) (Texture, error)

	// NewFence inserts a fence into the current command stream and
	// returns an object that can be waited on until the GPU retires
	// every command issued before the fence.
	NewFence() (Fence, error)

	// CopyBufferToTexture issues an asynchronous upload of src into
	// dst. If ch is non-nil, exactly one value (nil on success, a
	// non-nil error otherwise) is sent to it once the backend has
	// finished consuming src; the call itself may return before the
	// copy completes.
	CopyBufferToTexture(src Buffer, srcOffset int64, dst Texture, ch chan<- error) error

	// CopyTextureToBuffer issues an asynchronous download of src into
	// dst, with the same completion-notification contract as
	// CopyBufferToTexture.
	CopyTextureToBuffer(src Texture, dst Buffer, dstOffset int64, ch chan<- error) error

	// Derive creates a new GPU sharing device state (textures, buffers)
	// with this one but usable from a different goroutine. The engine
	// does not call it.
	Derive() (GPU, error)

	// Limits returns implementation limits. Immutable for the GPU's
	// lifetime.
	Limits() Limits
}

// Limits describes backend-imposed implementation limits.
type Limits struct {
	MaxTextureSize   int
	MaxTextureLayers int
}

// Usage is a mask indicating valid uses for a Buffer or Texture.
type Usage int

const (
	// UShaderRead: the resource may be read by a shader pass.
	UShaderRead Usage = 1 << iota
	// UShaderWrite: the resource may be written by a shader pass
	// (render target / image store).
	UShaderWrite
	// UTransferSrc: the resource may be the source of a copy.
	UTransferSrc
	// UTransferDst: the resource may be the destination of a copy.
	UTransferDst
	// UGeneric: the resource may be used for any purpose.
	UGeneric Usage = 1<<iota - 1
)

// Buffer is a fixed-size block of GPU-visible memory. FyuseNet uses
// buffers as upload/download staging areas: a host-visible Buffer backs
// an asynchronous transfer on one side, with a tensor.Texture or
// cpubuf.CPUBuffer on the other.
type Buffer interface {
	Destroyer

	// Visible reports whether the buffer's memory can be read/written
	// directly from the CPU via Bytes.
	Visible() bool

	// Bytes returns a slice of length Cap referring to the
	// underlying memory. Returns nil if !Visible().
	Bytes() []byte

	// Cap returns the buffer's capacity in bytes. Immutable.
	Cap() int64
}

// PixelFormat describes the sized storage format of a Texture. FyuseNet
// textures always pack up to 4 channels per pixel (spec.md §4.4), so a
// format is fully described by channel element type.
type PixelFormat int

const (
	RGBA32F PixelFormat = iota
	RGBA16F
	RGBA32UI
	RGBA32I
	RGBA16UI
	RGBA16I
	RGBA8UI
	RGBA8I
)

// Filter is a texture sampling/interpolation mode.
type Filter int

const (
	FNearest Filter = iota
	FLinear
)

// TextureDesc describes the immutable parameters of a Texture at
// creation time.
type TextureDesc struct {
	Width, Height int
	Format        PixelFormat
	Interp        Filter
	Usage         Usage
}

// Texture is a single 2D GPU image. A tensor.Buffer (§4.4) is composed
// of one or more Textures, depending on data order.
type Texture interface {
	Destroyer

	// Width and Height return the texture's pixel dimensions.
	Width() int
	Height() int

	Format() PixelFormat
	Interp() Filter
}

// Fence is a synchronization point in the GPU command stream. A
// client-wait on a Fence blocks the calling goroutine until the GPU has
// retired every command issued before the fence was created.
type Fence interface {
	Destroyer

	// Wait blocks until the fence is signaled or timeout elapses.
	// Returns ErrFenceTimeout in the latter case.
	Wait(timeout time.Duration) error
}
