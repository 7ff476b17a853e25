package glbackend

import (
	"testing"

	"github.com/fynet/fyusenet/gpu"
)

func TestGLFormatCoversAllPixelFormats(t *testing.T) {
	formats := []gpu.PixelFormat{
		gpu.RGBA32F, gpu.RGBA16F, gpu.RGBA32UI, gpu.RGBA32I,
		gpu.RGBA16UI, gpu.RGBA16I, gpu.RGBA8UI, gpu.RGBA8I,
	}
	seen := make(map[uint32]bool)
	for _, f := range formats {
		internal, _, _ := glFormat(f)
		if internal == 0 {
			t.Fatalf("glFormat(%v): internal format is zero", f)
		}
		if seen[internal] {
			t.Fatalf("glFormat(%v): internal format %d collides with another PixelFormat", f, internal)
		}
		seen[internal] = true
	}
}

func TestGLFilter(t *testing.T) {
	if glFilter(gpu.FNearest) == glFilter(gpu.FLinear) {
		t.Fatal("FNearest and FLinear must map to distinct GL enums")
	}
}
