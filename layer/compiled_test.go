package layer_test

import (
	"testing"

	"github.com/fynet/fyusenet/layer"
)

type stubLayer struct {
	base    layer.Base
	cleaned *bool
}

func (s *stubLayer) LayerBase() *layer.Base { return &s.base }

func (s *stubLayer) Cleanup() {
	if s.cleaned != nil {
		*s.cleaned = true
	}
}

func newStub(n int, name string) *stubLayer {
	return &stubLayer{base: layer.Base{Number: layer.Number(n), Name: name}}
}

func TestInsertAndByNumber(t *testing.T) {
	var c layer.CompiledLayers
	if err := c.Insert(newStub(3, "conv")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	l, ok := c.ByNumber(3)
	if !ok {
		t.Fatal("ByNumber(3): have ok=false want true")
	}
	if l.LayerBase().Name != "conv" {
		t.Fatalf("ByNumber(3).Name: have %q want %q", l.LayerBase().Name, "conv")
	}
	if _, ok := c.ByNumber(4); ok {
		t.Fatal("ByNumber(4): have ok=true want false (unoccupied)")
	}
}

func TestInsertDuplicateNumberFails(t *testing.T) {
	var c layer.CompiledLayers
	if err := c.Insert(newStub(1, "a")); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := c.Insert(newStub(1, "b")); err != layer.ErrNumberOccupied {
		t.Fatalf("second Insert: have %v want %v", err, layer.ErrNumberOccupied)
	}
}

func TestRangeSkipsGapsInOrder(t *testing.T) {
	var c layer.CompiledLayers
	for _, n := range []int{5, 0, 130, 2} {
		if err := c.Insert(newStub(n, "l")); err != nil {
			t.Fatalf("Insert(%d): %v", n, err)
		}
	}
	var order []int
	c.Range(func(l layer.Layer) bool {
		order = append(order, int(l.LayerBase().Number))
		return true
	})
	want := []int{0, 2, 5, 130}
	if len(order) != len(want) {
		t.Fatalf("Range order length: have %d want %d (%v)", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Range order[%d]: have %d want %d", i, order[i], want[i])
		}
	}
	if c.Len() != len(want) {
		t.Fatalf("Len: have %d want %d", c.Len(), len(want))
	}
}

func TestByNameHighestNumbered(t *testing.T) {
	var c layer.CompiledLayers
	if err := c.Insert(newStub(1, "dup")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Insert(newStub(9, "dup")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	l, ok := c.ByName("dup")
	if !ok || l.LayerBase().Number != 9 {
		t.Fatalf("ByName(dup): have (%v,%v) want (9,true)", l, ok)
	}
}

func TestReleaseCallsCleanup(t *testing.T) {
	var c layer.CompiledLayers
	var cleaned bool
	s := newStub(0, "x")
	s.cleaned = &cleaned
	if err := c.Insert(s); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	c.Release()
	if !cleaned {
		t.Fatal("Release did not call Cleanup")
	}
	if c.Len() != 0 {
		t.Fatalf("Len after Release: have %d want 0", c.Len())
	}
}
