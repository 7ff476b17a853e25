// Command fynet-bench drives a synthetic upload -> pass-through ->
// download chain through the network facade and reports per-layer
// timings, exercising the same setup/forward/finish/cleanup sequence a
// real network would use.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/fynet/fyusenet/async"
	"github.com/fynet/fyusenet/bufmgr"
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/gpu"
	_ "github.com/fynet/fyusenet/gpu/glbackend"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/network"
	"github.com/fynet/fyusenet/param"
	"github.com/fynet/fyusenet/shape"
)

func main() {
	var (
		width    = flag.Int("width", 64, "tensor width")
		height   = flag.Int("height", 64, "tensor height")
		channels = flag.Int("channels", 4, "tensor channels")
		runs     = flag.Int("runs", 16, "number of forward runs")
		async_   = flag.Bool("async", false, "dispatch asynchronously")
	)
	flag.Parse()

	drv := openDriver()
	defer drv.Close()
	g, err := drv.Open()
	if err != nil {
		log.Fatalf("fynet-bench: failed to open GPU: %v", err)
	}

	s := shape.New(*width, *height, *channels, shape.F32).WithOrder(shape.ShallowGPU)
	b := &chainBuilder{g: g, s: s}

	n := network.New(g, b, network.WithAsync(*async_))
	if err := n.Setup(); err != nil {
		log.Fatalf("fynet-bench: setup failed: %v", err)
	}
	defer n.Cleanup()
	n.EnableTimings()

	src := cpubuf.New(s)
	dst := cpubuf.New(s)
	for i := range src.Bytes() {
		src.Bytes()[i] = byte(i)
	}

	start := time.Now()
	for i := 0; i < *runs; i++ {
		res := n.Forward(nil,
			map[layer.Number]*cpubuf.CPUBuffer{1: src},
			map[layer.Number]*cpubuf.CPUBuffer{3: dst})
		if res.Err != nil {
			log.Fatalf("fynet-bench: run %d failed: %v", i, res.Err)
		}
	}
	if err := n.Finish(); err != nil {
		log.Fatalf("fynet-bench: finish failed: %v", err)
	}
	elapsed := time.Since(start)

	fmt.Printf("%d runs in %v (%.3f ms/run)\n", *runs, elapsed, float64(elapsed.Milliseconds())/float64(*runs))
	for layerNo, dur := range n.Timings() {
		fmt.Printf("  layer %d: %v total\n", layerNo, dur)
	}
}

// openDriver returns the first registered GPU driver, failing loudly if
// none is available (e.g. no OpenGL/GLFW runtime present).
func openDriver() gpu.Driver {
	drivers := gpu.Drivers()
	if len(drivers) == 0 {
		log.Fatal("fynet-bench: no GPU driver registered")
	}
	return drivers[0]
}

// chainBuilder assembles upload(#1) -> passLayer(#2) -> download(#3),
// the same minimal shape used to exercise the facade in network's own
// tests.
type chainBuilder struct {
	g  gpu.GPU
	s  shape.Shape
	up *async.Upload
	dl *async.Download
}

type passLayer struct{ base layer.Base }

func (l *passLayer) LayerBase() *layer.Base          { return &l.base }
func (l *passLayer) Forward(sequenceNo uint64) error { return nil }

func (b *chainBuilder) BuildLayers() (*layer.CompiledLayers, error) {
	upBase := layer.Base{
		Number: 1, Name: "up",
		OutputSpecs: []shape.Spec{{Shape: b.s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny, Multiplicity: 1}},
	}
	up, err := async.NewUpload(b.g, upBase, b.s, gpu.RGBA32F, gpu.FNearest)
	if err != nil {
		return nil, err
	}
	b.up = up

	id := &passLayer{base: layer.Base{
		Number: 2, Name: "id", Kind: layer.SyncGpuLayer,
		InputSpecs: []shape.Spec{{Shape: b.s, Port: 0, Device: shape.DeviceGPU, Interp: shape.IPAny}},
	}}

	b.dl = async.NewDownload(b.g, layer.Base{Number: 3, Name: "dl"}, up.Output, false)

	cl := &layer.CompiledLayers{}
	for _, l := range []layer.Layer{up, id, b.dl} {
		if err := cl.Insert(l); err != nil {
			return nil, err
		}
	}
	return cl, nil
}

func (b *chainBuilder) ConnectLayers(layers *layer.CompiledLayers, buffers *bufmgr.Manager) error {
	id, _ := layers.ByNumber(2)
	return buffers.Connect(b.up, id, 0, false)
}

func (b *chainBuilder) InitializeWeights(layers *layer.CompiledLayers, params param.Provider) error {
	return nil
}
