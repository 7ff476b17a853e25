// Package engine implements the execution engine: it walks a compiled
// layer graph in layer-number order, dispatching each layer's forward
// entry point either synchronously on the caller's thread or, in
// asynchronous mode, through a background looper that parks and
// resumes runs around GPU upload/download transfers (spec.md §4.7,
// §5).
package engine

import (
	"sync"
	"time"

	"github.com/fynet/fyusenet/async"
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/ferr"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/internal/ringlog"
	"github.com/fynet/fyusenet/layer"
)

// Forwarder is implemented by CPU and synchronous-GPU layers: a plain
// blocking forward call with no async transfer machinery.
type Forwarder interface {
	layer.Layer
	Forward(sequenceNo uint64) error
}

// Network is the one-time setup surface Engine.Setup drives. The
// network facade (built on top of this package) implements it after
// compiling and connecting its layer graph.
type Network interface {
	CompiledLayers() *layer.CompiledLayers
	Setup() error
}

// Callbacks are the time-critical, must-not-block hooks Forward/the
// looper invoke in asynchronous mode (spec.md §6). Any left nil is
// skipped.
type Callbacks struct {
	NewSequence   func(seq uint64)
	SequenceDone  func(seq uint64)
	DownloadReady func(layerName string, seq uint64, buf *cpubuf.CPUBuffer)
	UploadReady   func(layerName string, seq uint64)
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithCallbacks installs the per-run callbacks used in async mode.
func WithCallbacks(cb Callbacks) Option {
	return func(e *Engine) { e.callbacks = cb }
}

// WithFenceTimeout overrides the fence/swap protocol's bound (default
// 5s, spec.md §4.7).
func WithFenceTimeout(d time.Duration) Option {
	return func(e *Engine) { e.fenceTimeout = d }
}

// WithFinishTimeout overrides finish()'s background-task drain bound
// (default 5s, spec.md §4.7).
func WithFinishTimeout(d time.Duration) Option {
	return func(e *Engine) { e.finishTimeout = d }
}

// WithGPU supplies the GPU used to create the fences the fence/swap
// protocol waits on. Unused in synchronous mode since no fence/swap
// protocol ever runs there. In async mode without a GPU, the fence
// task skips the fence wait and unlocks the upload layer directly.
func WithGPU(g gpu.GPU) Option {
	return func(e *Engine) { e.gpu = g }
}

// Engine is the execution engine of spec.md §4.7. Construct with New,
// install a compiled network with Setup, drive runs with Forward, and
// release everything with Cleanup.
type Engine struct {
	async        bool
	callbacks    Callbacks
	fenceTimeout time.Duration
	finishTimeout time.Duration
	gpu          gpu.GPU

	runGuard sync.Mutex

	order []layer.Layer // ascending layer-number order, fixed at Setup

	seqMu       sync.Mutex
	seqDone     *sync.Cond
	nextSeq     uint64
	engineSeq   uint64
	lastErr     error

	looperMu   sync.Mutex
	looperWait *sync.Cond
	pending    int // pending-states count; primary wake signal
	quit       bool

	asyncMu sync.Mutex // async_state_lock (reentrant in the original; Go's Mutex is not, so the engine never re-enters while held)
	deps    *depState

	uploadIssueMu sync.Mutex

	looperDone chan struct{}

	timingMu  sync.Mutex
	timings   *ringlog.Ring
	timingsOn bool

	dump dumpState
}

// New returns an Engine that dispatches synchronously unless asyncMode
// is true, in which case Setup arms a background looper goroutine.
func New(asyncMode bool, opts ...Option) *Engine {
	e := &Engine{
		async:         asyncMode,
		fenceTimeout:  5 * time.Second,
		finishTimeout: 5 * time.Second,
		deps:          newDepState(),
		nextSeq:       1,
	}
	e.seqDone = sync.NewCond(&e.seqMu)
	e.looperWait = sync.NewCond(&e.looperMu)
	for _, o := range opts {
		o(e)
	}
	return e
}

// Setup installs net's compiled layer set and, in async mode, starts
// the background looper.
func (e *Engine) Setup(net Network) error {
	if err := net.Setup(); err != nil {
		return ferr.Wrap(ferr.GpuError, "network setup failed", err)
	}
	var order []layer.Layer
	net.CompiledLayers().Range(func(l layer.Layer) bool {
		order = append(order, l)
		return true
	})
	e.order = order
	if e.async {
		e.looperDone = make(chan struct{})
		go e.loop()
	}
	return nil
}

// Cleanup requests looper shutdown and waits for the looper goroutine
// to exit, runs per-layer cleanup, then invokes broom. broom may be
// nil. Transfer and fence goroutines still in flight are not waited
// for.
func (e *Engine) Cleanup(broom func()) {
	if e.async {
		e.looperMu.Lock()
		e.quit = true
		e.pending++
		e.looperWait.Signal()
		e.looperMu.Unlock()
		<-e.looperDone
	}
	for _, l := range e.order {
		if c, ok := l.(layer.Cleanup); ok {
			c.Cleanup()
		}
	}
	if broom != nil {
		broom()
	}
}

// Forward starts one inference run. inputs supplies the CPU source
// buffer each upload layer should transfer for this run, keyed by the
// upload layer's Number; outputs supplies the CPU destination buffer
// each download layer should write into. Both may be nil for graphs
// with no upload/download layers at their respective ends.
func (e *Engine) Forward(token *StateToken, inputs, outputs map[layer.Number]*cpubuf.CPUBuffer) ExecResult {
	e.runGuard.Lock()
	defer e.runGuard.Unlock()

	e.looperMu.Lock()
	stopping := e.quit
	e.looperMu.Unlock()
	if stopping {
		return ExecResult{Exit: Stopped}
	}

	e.seqMu.Lock()
	seq := e.nextSeq
	e.nextSeq++
	e.seqMu.Unlock()

	if e.callbacks.NewSequence != nil {
		e.callbacks.NewSequence(seq)
	}

	st := &executionState{sequenceNo: seq, pos: 0, token: token}

	if !e.async {
		return e.forwardSync(st, inputs, outputs)
	}

	e.asyncMu.Lock()
	st.inputs, st.outputs = inputs, outputs
	e.deps.pushReady(st)
	e.asyncMu.Unlock()

	e.looperMu.Lock()
	e.pending++
	e.looperWait.Signal()
	e.looperMu.Unlock()

	return ExecResult{SequenceNo: seq, Exit: Deferred}
}

// forwardSync implements spec.md §4.7's synchronous dispatch
// algorithm: every layer, CPU/GPU/upload/download alike, is invoked
// through its blocking forward entry point in ascending layer-number
// order.
func (e *Engine) forwardSync(st *executionState, inputs, outputs map[layer.Number]*cpubuf.CPUBuffer) ExecResult {
	for _, l := range e.order {
		n := int(l.LayerBase().Number)
		if st.token.Masked(n) {
			continue
		}
		if err := e.forwardOne(l, st.sequenceNo, inputs, outputs); err != nil {
			return ExecResult{SequenceNo: st.sequenceNo, Exit: Error, Err: err}
		}
	}
	e.seqMu.Lock()
	e.engineSeq = st.sequenceNo
	e.seqDone.Broadcast()
	e.seqMu.Unlock()
	if e.callbacks.SequenceDone != nil {
		e.callbacks.SequenceDone(st.sequenceNo)
	}
	return ExecResult{SequenceNo: st.sequenceNo, Exit: Done}
}

// forwardOne dispatches a single layer's blocking forward call based
// on which forward interface it implements (async.Uploader,
// async.Downloader, then Forwarder); Kind is not consulted here. It
// runs unconditionally (is_async() = false in synchronous mode, per
// spec.md §4.7).
func (e *Engine) forwardOne(l layer.Layer, seq uint64, inputs, outputs map[layer.Number]*cpubuf.CPUBuffer) error {
	start := time.Now()
	defer func() { e.recordTiming(int(l.LayerBase().Number), time.Since(start)) }()

	if up, ok := l.(async.Uploader); ok {
		return up.Forward(seq, inputs[l.LayerBase().Number])
	}
	if dl, ok := l.(async.Downloader); ok {
		n := l.LayerBase().Number
		dst := outputs[n]
		if err := dl.Forward(seq, dst); err != nil {
			return err
		}
		e.maybeDump(int(n), seq, dst)
		return nil
	}
	if f, ok := l.(Forwarder); ok {
		return f.Forward(seq)
	}
	return ferr.New(ferr.InvalidArgument, "layer implements neither Forwarder nor async.Uploader/Downloader")
}

// Finish blocks until every issued run, including pending async
// transfers, has completed (spec.md §4.7).
func (e *Engine) Finish() error {
	e.seqMu.Lock()
	for e.engineSeq+1 < e.nextSeq {
		e.seqDone.Wait()
	}
	e.seqMu.Unlock()

	deadline := time.Now().Add(e.finishTimeout)
	for {
		e.asyncMu.Lock()
		n := e.deps.backgroundTasks
		e.asyncMu.Unlock()
		if n == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ferr.New(ferr.FinishTimeout, "background tasks did not drain")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// LastError returns the most recent error recorded by background
// looper activity (spec.md §7's propagation policy: "errors in the
// background thread are recorded ... the next forward or finish that
// inspects status surfaces them"), and clears it.
func (e *Engine) LastError() error {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	err := e.lastErr
	e.lastErr = nil
	return err
}

// NextSequenceNo returns the sequence number the next Forward call
// will issue.
func (e *Engine) NextSequenceNo() uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.nextSeq
}

// LastSequenceNo returns the highest sequence number known to have
// completed so far.
func (e *Engine) LastSequenceNo() uint64 {
	e.seqMu.Lock()
	defer e.seqMu.Unlock()
	return e.engineSeq
}
