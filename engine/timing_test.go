package engine_test

import (
	"testing"

	"github.com/fynet/fyusenet/engine"
	"github.com/fynet/fyusenet/layer"
)

func TestTimingsRecordsPerLayerDuration(t *testing.T) {
	net := buildNetwork(t, &identity{base: layer.Base{Number: 1, Name: "id", Kind: layer.CpuLayer}})
	e := engine.New(false)
	if err := e.Setup(net); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	e.EnableTimings()

	res := e.Forward(nil, nil, nil)
	if res.Err != nil {
		t.Fatalf("Forward: %v", res.Err)
	}

	timings := e.Timings()
	if _, ok := timings[1]; !ok {
		t.Fatalf("Timings: have %v, want an entry for layer 1", timings)
	}

	e.ResetTimings()
	timings = e.Timings()
	if len(timings) != 0 {
		t.Fatalf("Timings after ResetTimings: have %v want empty", timings)
	}

	e.DisableTimings()
	e.Forward(nil, nil, nil)
	if len(e.Timings()) != 0 {
		t.Fatalf("Timings after DisableTimings: have %v want empty (no new samples)", e.Timings())
	}
}
