package engine

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fynet/fyusenet/cpubuf"
)

// dumpState gates the intermediate-output-dumping feature: when armed,
// every download layer's CPU output is written to dir, layer-number-
// prefixed, as soon as the transfer completes.
type dumpState struct {
	mu  sync.Mutex
	dir string
	on  bool
}

// EnableIntermediateOutput arms per-layer CPU output dumping into dir.
// Each download layer's output is written to
// dir/layer-<number>-seq-<sequenceNo>.bin once its transfer completes.
func (e *Engine) EnableIntermediateOutput(dir string) {
	e.dump.mu.Lock()
	defer e.dump.mu.Unlock()
	e.dump.dir = dir
	e.dump.on = true
}

// DisableIntermediateOutput stops dumping without clearing the stored
// dir; resuming still goes through EnableIntermediateOutput, which
// takes the directory again.
func (e *Engine) DisableIntermediateOutput() {
	e.dump.mu.Lock()
	defer e.dump.mu.Unlock()
	e.dump.on = false
}

// maybeDump writes buf to the configured directory if dumping is armed.
// Failures are recorded as background errors rather than aborting the
// run, matching the engine's background-error propagation policy.
func (e *Engine) maybeDump(layerNumber int, sequenceNo uint64, buf *cpubuf.CPUBuffer) {
	e.dump.mu.Lock()
	dir, on := e.dump.dir, e.dump.on
	e.dump.mu.Unlock()
	if !on || buf == nil {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("layer-%d-seq-%d.bin", layerNumber, sequenceNo))
	if err := buf.WriteToFile(path); err != nil {
		e.recordErr(err)
	}
}
