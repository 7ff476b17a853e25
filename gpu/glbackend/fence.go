package glbackend

import (
	"time"

	"github.com/go-gl/gl/v4.6-core/gl"

	"github.com/fynet/fyusenet/gpu"
)

// fenceWaitForever is a negative timeout passed to Fence.Wait to
// request an indefinite wait; Wait loops over glClientWaitSync calls of
// glSyncTimeout each, and stops only once the fence signals or fails.
const fenceWaitForever = -1

const glSyncTimeout = 10 * time.Millisecond

// Fence wraps a GLsync object.
type Fence struct {
	sync uintptr
}

// Wait polls the sync object with glClientWaitSync until it signals or
// timeout elapses. A negative timeout waits indefinitely.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.sync == 0 {
		return nil
	}
	deadline := time.Now().Add(timeout)
	for {
		res := gl.ClientWaitSync(f.sync, gl.SYNC_FLUSH_COMMANDS_BIT, uint64(glSyncTimeout.Nanoseconds()))
		switch res {
		case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
			return nil
		case gl.WAIT_FAILED:
			return gpu.ErrFatal
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return gpu.ErrFenceTimeout
		}
	}
}

func (f *Fence) Destroy() {
	if f.sync == 0 {
		return
	}
	gl.DeleteSync(f.sync)
	f.sync = 0
}
