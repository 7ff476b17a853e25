package bufmgr_test

import (
	"testing"

	"github.com/fynet/fyusenet/bufmgr"
	"github.com/fynet/fyusenet/internal/gputest"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/shape"
)

type testLayer struct {
	base layer.Base
}

func (l *testLayer) LayerBase() *layer.Base { return &l.base }

func gpuShape(w, h, c int) shape.Shape {
	return shape.New(w, h, c, shape.F32).WithOrder(shape.ShallowGPU)
}

func TestConnectGPUAllocatesAndReuses(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)

	s := gpuShape(4, 4, 4)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny, Multiplicity: 1},
	}}}
	consumerA := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	consumerB := &testLayer{base: layer.Base{Number: 3, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}

	if err := m.Connect(producer, consumerA, 0, false); err != nil {
		t.Fatalf("Connect(producer, consumerA): %v", err)
	}
	if err := m.Connect(producer, consumerB, 0, false); err != nil {
		t.Fatalf("Connect(producer, consumerB): %v", err)
	}

	bufA, okA := m.GPUOutput(2, 0, 0)
	bufB, okB := m.GPUOutput(3, 0, 0)
	if !okA || !okB {
		t.Fatalf("GPUOutput: have (%v,%v) want (true,true)", okA, okB)
	}
	if bufA != bufB {
		t.Fatal("two consumers of the same producer output should share one tensor.Buffer")
	}
}

func TestConnectAlreadyConnectedFails(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	s := gpuShape(2, 2, 4)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	consumer := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(producer, consumer, 0, false); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := m.Connect(producer, consumer, 0, false); err != bufmgr.ErrAlreadyConnected {
		t.Fatalf("second Connect: have %v want %v", err, bufmgr.ErrAlreadyConnected)
	}
}

func TestConnectNoIOMatch(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: gpuShape(4, 4, 4), Port: 0, Device: shape.DeviceGPU},
	}}}
	consumer := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: gpuShape(8, 8, 4), Port: 0, Device: shape.DeviceGPU},
	}}}
	if err := m.Connect(producer, consumer, 0, false); err != bufmgr.ErrNoIOMatch {
		t.Fatalf("Connect with mismatched dims: have %v want %v", err, bufmgr.ErrNoIOMatch)
	}
}

func TestConnectZeroDeclaredInputsFails(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: gpuShape(4, 4, 4), Port: 0, Device: shape.DeviceGPU},
	}}}
	consumer := &testLayer{base: layer.Base{Number: 2}}
	if err := m.Connect(producer, consumer, 0, false); err != bufmgr.ErrInvalidArgument {
		t.Fatalf("Connect with no declared inputs: have %v want %v", err, bufmgr.ErrInvalidArgument)
	}
}

func TestConnectAlreadyConnectedAtChannelOffsetFails(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	s := gpuShape(2, 2, 8)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny, ChannelOffset: 4},
	}}}
	consumer := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny, ChannelOffset: 4},
	}}}
	if err := m.Connect(producer, consumer, 0, false); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := m.Connect(producer, consumer, 0, false); err != bufmgr.ErrAlreadyConnected {
		t.Fatalf("reconnect at nonzero channel offset: have %v want %v", err, bufmgr.ErrAlreadyConnected)
	}
}

func TestConnectNullLayer(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	consumer := &testLayer{base: layer.Base{Number: 2}}
	if err := m.Connect(nil, consumer, 0, false); err != bufmgr.ErrNullLayer {
		t.Fatalf("Connect(nil, consumer): have %v want %v", err, bufmgr.ErrNullLayer)
	}
}

func TestConnectCPUSizeDominanceReuse(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	small := shape.New(2, 2, 1, shape.F32)
	large := shape.New(4, 4, 1, shape.F32)

	p1 := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: large, Port: 0, Device: shape.DeviceCPU, Interp: shape.IPAny},
	}}}
	c1 := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: large, Port: 0, Device: shape.DeviceCPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(p1, c1, 0, false); err != nil {
		t.Fatalf("Connect p1->c1: %v", err)
	}

	p2 := &testLayer{base: layer.Base{Number: 10, OutputSpecs: []shape.Spec{
		{Shape: small, Port: 0, Device: shape.DeviceCPU, Interp: shape.IPAny},
	}}}
	c2 := &testLayer{base: layer.Base{Number: 11, InputSpecs: []shape.Spec{
		{Shape: small, Port: 0, Device: shape.DeviceCPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(p2, c2, 0, false); err != nil {
		t.Fatalf("Connect p2->c2: %v", err)
	}
	reused, ok := m.CPUOutput(11, 0, 0)
	if !ok {
		t.Fatal("CPUOutput(11,0,0) not found")
	}
	first, _ := m.CPUOutput(2, 0, 0)
	if reused != first {
		t.Fatal("p2->c2 did not reuse p1->c1's larger pool buffer")
	}
}

// TestConnectMultiSliceOutputNeverPartiallyReused builds two
// independent 8-channel (2-slice) ShallowGPU producer/consumer pairs in
// sequence, where the first pair's texture is eligible for pool reuse
// by layer number by the time the second pair connects. The reused
// buffer must still carry a full slice set, never a single wrapped
// slice claiming Shape.Slices() slices it doesn't have.
func TestConnectMultiSliceOutputNeverPartiallyReused(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	s := gpuShape(2, 2, 8)
	if s.Slices() != 2 {
		t.Fatalf("test shape Slices(): have %d want 2", s.Slices())
	}

	p1 := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	c1 := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(p1, c1, 0, false); err != nil {
		t.Fatalf("Connect p1->c1: %v", err)
	}

	p2 := &testLayer{base: layer.Base{Number: 10, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	c2 := &testLayer{base: layer.Base{Number: 11, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(p2, c2, 0, false); err != nil {
		t.Fatalf("Connect p2->c2: %v", err)
	}

	buf, ok := m.GPUOutput(11, 0, 0)
	if !ok {
		t.Fatal("GPUOutput(11,0,0) not found")
	}
	if len(buf.Slices) != s.Slices() {
		t.Fatalf("reused multi-slice buffer len(Slices): have %d want %d", len(buf.Slices), s.Slices())
	}
}

func TestCleanupClearsPool(t *testing.T) {
	g := gputest.New()
	m := bufmgr.New(g)
	s := gpuShape(2, 2, 4)
	producer := &testLayer{base: layer.Base{Number: 1, OutputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	consumer := &testLayer{base: layer.Base{Number: 2, InputSpecs: []shape.Spec{
		{Shape: s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny},
	}}}
	if err := m.Connect(producer, consumer, 0, false); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if m.EstimatedTextureBytes() == 0 {
		t.Fatal("EstimatedTextureBytes should be non-zero after allocation")
	}
	m.Cleanup()
	if m.EstimatedTextureBytes() != 0 {
		t.Fatalf("EstimatedTextureBytes after Cleanup: have %d want 0", m.EstimatedTextureBytes())
	}
	if _, ok := m.GPUOutput(2, 0, 0); ok {
		t.Fatal("GPUOutput after Cleanup should be empty")
	}
}
