package tensor_test

import (
	"testing"

	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/internal/gputest"
	"github.com/fynet/fyusenet/shape"
	"github.com/fynet/fyusenet/tensor"
)

func TestNewShallowSliceCount(t *testing.T) {
	g := gputest.New()
	s := shape.New(4, 4, 9, shape.F32).WithOrder(shape.ShallowGPU)
	buf, err := tensor.New(g, s, gpu.RGBA32F, gpu.FNearest, gpu.UGeneric)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	defer buf.Destroy()
	want := s.Slices()
	if len(buf.Slices) != want {
		t.Fatalf("ShallowGPU slice count: have %d want %d", len(buf.Slices), want)
	}
}

func TestNewDeepSingleSlice(t *testing.T) {
	g := gputest.New()
	s := shape.New(4, 4, 20, shape.F32).WithOrder(shape.DeepGPU)
	buf, err := tensor.New(g, s, gpu.RGBA32F, gpu.FNearest, gpu.UGeneric)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	defer buf.Destroy()
	if len(buf.Slices) != 1 {
		t.Fatalf("DeepGPU slice count: have %d want 1", len(buf.Slices))
	}
	if buf.Slices[0].Width() != s.DeepWidth() || buf.Slices[0].Height() != s.DeepHeight() {
		t.Fatalf("DeepGPU slice dims: have (%d,%d) want (%d,%d)",
			buf.Slices[0].Width(), buf.Slices[0].Height(), s.DeepWidth(), s.DeepHeight())
	}
}

func TestPassthroughAliasesSlices(t *testing.T) {
	g := gputest.New()
	s := shape.New(2, 2, 4, shape.F32).WithOrder(shape.ShallowGPU)
	src, err := tensor.New(g, s, gpu.RGBA32F, gpu.FNearest, gpu.UGeneric)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	defer src.Destroy()

	out := tensor.Passthrough(src, s)
	if len(out.Slices) != len(src.Slices) || out.Slices[0] != src.Slices[0] {
		t.Fatalf("Passthrough: output slices do not alias input slices")
	}
	if out.Owned {
		t.Fatal("Passthrough buffer must not be Owned")
	}
	out.Destroy() // must not destroy src's textures
	if src.Slices[0] == nil {
		t.Fatal("Passthrough.Destroy destroyed the shared texture")
	}
}

func TestWrapNotOwned(t *testing.T) {
	g := gputest.New()
	tex, err := g.NewTexture(gpu.TextureDesc{Width: 2, Height: 2, Format: gpu.RGBA32F})
	if err != nil {
		t.Fatalf("NewTexture: %v", err)
	}
	buf := tensor.Wrap(shape.New(2, 2, 4, shape.F32), []gpu.Texture{tex})
	if buf.Owned {
		t.Fatal("Wrap must produce a non-owned Buffer")
	}
	buf.Destroy()
	if tex.Width() != 2 {
		t.Fatal("Wrap.Destroy destroyed a borrowed texture")
	}
}
