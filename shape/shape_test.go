package shape_test

import (
	"bytes"
	"testing"

	"github.com/fynet/fyusenet/shape"
)

func fillSeq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestShallowRoundTrip(t *testing.T) {
	s := shape.New(4, 4, 6, shape.U8)
	src := fillSeq(int(s.Bytes(shape.Channelwise)))
	shallow := shape.ToShallow(src, s)
	back := shape.FromShallow(shallow, s)
	if !bytes.Equal(src, back) {
		t.Fatalf("shallow round-trip mismatch\nhave %v\nwant %v", back, src)
	}
}

func TestDeepRoundTrip(t *testing.T) {
	s := shape.New(3, 5, 9, shape.F32)
	src := fillSeq(int(s.Bytes(shape.Channelwise)))
	deep := shape.ToDeep(src, s)
	back := shape.FromDeep(deep, s)
	if !bytes.Equal(src, back) {
		t.Fatalf("deep round-trip mismatch\nhave %v\nwant %v", back, src)
	}
}

func TestDeepTilesCoverage(t *testing.T) {
	cases := []int{1, 3, 4, 5, 8, 13, 16, 30, 64}
	for _, c := range cases {
		s := shape.Shape{Channels: c}
		tx, ty := s.DeepTiles()
		need := (c + 3) / 4
		if tx*ty < need {
			t.Errorf("DeepTiles(%d): tx=%d ty=%d product %d < needed %d", c, tx, ty, tx*ty, need)
		}
	}
}

func TestDeepTilesSquareness(t *testing.T) {
	// 16 channels -> 4 quads of 4 -> should produce a perfectly
	// square 2x2 tiling.
	s := shape.Shape{Channels: 16}
	tx, ty := s.DeepTiles()
	if tx != 2 || ty != 2 {
		t.Fatalf("DeepTiles(16): have (%d,%d) want (2,2)", tx, ty)
	}
}

func TestBytesChannelwise(t *testing.T) {
	s := shape.New(2, 3, 4, shape.F32)
	want := int64(2 * 3 * 4 * 4)
	if got := s.Bytes(shape.Channelwise); got != want {
		t.Fatalf("Bytes(Channelwise): have %d want %d", got, want)
	}
}

func TestAdoptFormat(t *testing.T) {
	a := shape.Shape{Elem: shape.F32, Order: shape.ShallowGPU}
	b := shape.Shape{Elem: shape.F16, Order: shape.ShallowGPU}
	if e, ok := a.AdoptFormat(b); !ok || e != shape.F32 {
		t.Fatalf("AdoptFormat(float/float): have (%v,%v) want (f32,true)", e, ok)
	}
	c := shape.Shape{Elem: shape.I32, Order: shape.ShallowGPU}
	if _, ok := a.AdoptFormat(c); ok {
		t.Fatalf("AdoptFormat(float/int): expected mismatch to fail adoption")
	}
}

func TestInterpMatches(t *testing.T) {
	if !shape.IPAny.Matches(shape.IPNearest) {
		t.Fatal("IPAny should match IPNearest")
	}
	if shape.IPNearest.Matches(shape.IPLinear) {
		t.Fatal("IPNearest should not match IPLinear")
	}
}
