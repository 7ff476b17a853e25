package engine

import (
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/layer"
)

// ExitState is the outcome of a call to Forward (spec.md §6).
type ExitState int

const (
	// Done means a synchronous run completed end to end.
	Done ExitState = iota
	// Deferred means the run was enqueued and is progressing on the
	// background looper.
	Deferred
	// Stopped means the engine is shutting down and refused the run.
	Stopped
	// Error means the run failed; see ExecResult.Err.
	Error
)

func (s ExitState) String() string {
	switch s {
	case Done:
		return "done"
	case Deferred:
		return "deferred"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// StateToken is the run-scoped input to Forward (spec.md §6).
type StateToken struct {
	SeqLength  int
	SeqIndex   int
	Reset      bool
	MaskLayers map[int]struct{}
}

// Masked reports whether n is listed in the token's MaskLayers. A nil
// token masks nothing.
func (s *StateToken) Masked(n int) bool {
	if s == nil || s.MaskLayers == nil {
		return false
	}
	_, ok := s.MaskLayers[n]
	return ok
}

// ExecResult is returned by Forward and carries everything a caller
// can learn about a run at the point Forward returns control.
type ExecResult struct {
	SequenceNo uint64
	Exit       ExitState
	Err        error
}

// executionState is one in-flight asynchronous run: a sequence number
// plus its current position in the engine's layer iteration order.
// Constructed at forward() time in async mode, parked into
// WaitingStates while blocked on a dependency, and re-enqueued onto
// the ready queue as dependencies resolve (spec.md §4.7).
type executionState struct {
	sequenceNo uint64
	pos        int
	token      *StateToken
	inputs     map[layer.Number]*cpubuf.CPUBuffer
	outputs    map[layer.Number]*cpubuf.CPUBuffer
}

// waitingState is parked when execute() hits an unresolved early
// dependency; it is promoted back onto the ready queue once the
// blocking producer's callback or fence task fires (spec.md §4.7).
type waitingState struct {
	blockingLayer layer.Number
	producer      layer.Layer
	sequenceNo    uint64
	state         *executionState
}
