package glbackend

import (
	"github.com/go-gl/gl/v4.6-core/gl"

	"github.com/fynet/fyusenet/gpu"
)

// glFormat translates a gpu.PixelFormat into the (sized internal format,
// base format, component type) triple TexStorage2D/TexSubImage2D/
// GetTexImage need.
func glFormat(f gpu.PixelFormat) (internal uint32, format uint32, xtype uint32) {
	switch f {
	case gpu.RGBA32F:
		return gl.RGBA32F, gl.RGBA, gl.FLOAT
	case gpu.RGBA16F:
		return gl.RGBA16F, gl.RGBA, gl.HALF_FLOAT
	case gpu.RGBA32UI:
		return gl.RGBA32UI, gl.RGBA_INTEGER, gl.UNSIGNED_INT
	case gpu.RGBA32I:
		return gl.RGBA32I, gl.RGBA_INTEGER, gl.INT
	case gpu.RGBA16UI:
		return gl.RGBA16UI, gl.RGBA_INTEGER, gl.UNSIGNED_SHORT
	case gpu.RGBA16I:
		return gl.RGBA16I, gl.RGBA_INTEGER, gl.SHORT
	case gpu.RGBA8UI:
		return gl.RGBA8UI, gl.RGBA_INTEGER, gl.UNSIGNED_BYTE
	case gpu.RGBA8I:
		return gl.RGBA8I, gl.RGBA_INTEGER, gl.BYTE
	default:
		return gl.RGBA32F, gl.RGBA, gl.FLOAT
	}
}

func glFilter(f gpu.Filter) int32 {
	if f == gpu.FLinear {
		return gl.LINEAR
	}
	return gl.NEAREST
}
