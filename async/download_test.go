package async_test

import (
	"testing"
	"time"

	"github.com/fynet/fyusenet/async"
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/internal/gputest"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/shape"
	"github.com/fynet/fyusenet/tensor"
)

func TestDownloadAsyncForwardCompletes(t *testing.T) {
	g := gputest.New()
	s := shape.New(2, 2, 4, shape.F32).WithOrder(shape.ShallowGPU)
	src, err := tensor.New(g, s, gpu.RGBA32F, gpu.FNearest, gpu.UGeneric)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}
	defer src.Destroy()

	dl := async.NewDownload(g, layer.Base{Number: 3, Name: "dl"}, func() *tensor.Buffer { return src }, false)
	dst := cpubuf.New(s)

	done := make(chan struct{})
	if !dl.AsyncForward(7, dst, func(seq uint64) {
		if seq != 7 {
			t.Errorf("callback sequenceNo: have %d want 7", seq)
		}
		close(done)
	}) {
		t.Fatal("AsyncForward: first dispatch should succeed")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AsyncForward callback never fired")
	}
	if seq, ok := dst.Sequence(); !ok || seq != 7 {
		t.Fatalf("dst.Sequence() after download: have (%d,%v) want (7,true)", seq, ok)
	}
}
