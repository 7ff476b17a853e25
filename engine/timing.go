package engine

import (
	"time"

	"github.com/fynet/fyusenet/internal/ringlog"
)

// defaultTimingCapacity bounds memory for per-layer timing samples;
// large enough to cover many runs of a mid-sized network without
// reallocating.
const defaultTimingCapacity = 4096

// EnableTimings arms per-layer wall-clock recording (spec.md §4.7's
// optional timing feature). Safe to call before or after Setup.
func (e *Engine) EnableTimings() {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	if e.timings == nil {
		e.timings = ringlog.New(defaultTimingCapacity)
	}
	e.timingsOn = true
}

// DisableTimings stops recording; samples already collected are kept
// until ResetTimings clears them.
func (e *Engine) DisableTimings() {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	e.timingsOn = false
}

// ResetTimings discards every recorded sample.
func (e *Engine) ResetTimings() {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	if e.timings != nil {
		e.timings.Reset()
	}
}

// Timings aggregates every recorded sample into total wall-clock time
// spent per layer number, across every run since the last
// ResetTimings.
func (e *Engine) Timings() map[int]time.Duration {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	out := make(map[int]time.Duration)
	if e.timings == nil {
		return out
	}
	for _, s := range e.timings.Samples() {
		out[s.Layer] += s.Dur
	}
	return out
}

// recordTiming pushes one dispatch sample if timing is currently
// enabled; a no-op otherwise so the hot path costs one lock/branch
// when disabled.
func (e *Engine) recordTiming(layerNumber int, dur time.Duration) {
	e.timingMu.Lock()
	defer e.timingMu.Unlock()
	if e.timingsOn && e.timings != nil {
		e.timings.Push(layerNumber, dur)
	}
}
