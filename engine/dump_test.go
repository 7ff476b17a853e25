package engine_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fynet/fyusenet/async"
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/engine"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/internal/gputest"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/shape"
)

// TestEnableIntermediateOutputDumpsDownload builds the same
// upload->identity->download chain as TestS1SingleSynchronousInference
// and checks the download layer's output lands on disk once dumping is
// armed.
func TestEnableIntermediateOutputDumpsDownload(t *testing.T) {
	g := gputest.New()
	s := shape.New(2, 2, 4, shape.F32).WithOrder(shape.ShallowGPU)

	up, err := async.NewUpload(g, layer.Base{Number: 1, Name: "up"}, s, gpu.RGBA32F, gpu.FNearest)
	if err != nil {
		t.Fatalf("NewUpload: %v", err)
	}
	defer up.Destroy()

	id := &identity{base: layer.Base{Number: 2, Name: "id", Kind: layer.SyncGpuLayer}}
	dl := async.NewDownload(g, layer.Base{Number: 3, Name: "dl"}, up.Output, false)

	net := buildNetwork(t, up, id, dl)
	e := engine.New(false, engine.WithGPU(g))
	if err := e.Setup(net); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	dir := t.TempDir()
	e.EnableIntermediateOutput(dir)

	src := cpubuf.New(s)
	src.Fill([]byte{9, 0, 0, 0})
	dst := cpubuf.New(s)

	res := e.Forward(nil, map[layer.Number]*cpubuf.CPUBuffer{1: src}, map[layer.Number]*cpubuf.CPUBuffer{3: dst})
	if res.Err != nil {
		t.Fatalf("Forward: %v", res.Err)
	}

	path := filepath.Join(dir, "layer-3-seq-1.bin")
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}
	if len(got) != len(dst.Bytes()) {
		t.Fatalf("dumped length: have %d want %d", len(got), len(dst.Bytes()))
	}

	e.DisableIntermediateOutput()
	res = e.Forward(nil, map[layer.Number]*cpubuf.CPUBuffer{1: src}, map[layer.Number]*cpubuf.CPUBuffer{3: dst})
	if res.Err != nil {
		t.Fatalf("Forward #2: %v", res.Err)
	}
	if _, err := os.Stat(filepath.Join(dir, "layer-3-seq-2.bin")); !os.IsNotExist(err) {
		t.Fatalf("dump after DisableIntermediateOutput: file exists, want none")
	}
}
