// Package network is the facade that orchestrates builder, compile,
// connect, parameter-load, and layer-setup into a single ready-to-run
// network, then delegates forward/finish/cleanup to the execution
// engine (spec.md §4.8). A concrete network implements Builder; this
// package supplies everything else.
package network

import (
	"time"

	"github.com/fynet/fyusenet/bufmgr"
	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/engine"
	"github.com/fynet/fyusenet/ferr"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/param"
)

// StateToken is the run-scoped input to Forward, re-exported from
// engine since the facade is the surface callers are expected to use
// it through.
type StateToken = engine.StateToken

// ExecResult is the outcome of one Forward call, re-exported from
// engine for the same reason as StateToken.
type ExecResult = engine.ExecResult

// Builder assembles and wires a network's layers. A concrete network
// implements Builder and passes itself to New; this package drives the
// three calls in the fixed order spec.md §4.8 requires.
type Builder interface {
	// BuildLayers instantiates and compiles every layer, returning
	// them in a CompiledLayers the facade will connect and run.
	BuildLayers() (*layer.CompiledLayers, error)

	// ConnectLayers wires producer outputs to consumer inputs through
	// buffers, which owns every pooled texture/CPU buffer the graph
	// needs.
	ConnectLayers(layers *layer.CompiledLayers, buffers *bufmgr.Manager) error

	// InitializeWeights loads parameter data into every weight-bearing
	// layer using params. params is nil if the network was constructed
	// without WithParams, in which case implementations should load
	// all-zero weights, matching the facade's original fallback.
	InitializeWeights(layers *layer.CompiledLayers, params param.Provider) error
}

// Option configures a Network at construction time.
type Option func(*Network)

// WithParams installs the parameter provider InitializeWeights is
// called with. Without it, Builder.InitializeWeights receives a nil
// Provider.
func WithParams(p param.Provider) Option {
	return func(n *Network) { n.params = p }
}

// WithAsync selects asynchronous dispatch (spec.md §5); synchronous is
// the default.
func WithAsync(async bool) Option {
	return func(n *Network) { n.async = async }
}

// WithCallbacks installs the per-run callbacks used in async mode
// (spec.md §6).
func WithCallbacks(cb engine.Callbacks) Option {
	return func(n *Network) { n.callbacks = cb }
}

// WithEngineOptions passes additional options straight through to the
// underlying engine.New call (e.g. engine.WithFenceTimeout).
func WithEngineOptions(opts ...engine.Option) Option {
	return func(n *Network) { n.engineOpts = append(n.engineOpts, opts...) }
}

// Network is the facade of spec.md §4.8: builder-driven setup, then a
// thin pass-through to the execution engine for every run.
type Network struct {
	gpu     gpu.GPU
	builder Builder
	params  param.Provider

	async      bool
	callbacks  engine.Callbacks
	engineOpts []engine.Option

	buffers  *bufmgr.Manager
	layers   *layer.CompiledLayers
	eng      *engine.Engine
	setupRan bool
}

// New returns a Network driven by builder. Call Setup before Forward.
func New(g gpu.GPU, builder Builder, opts ...Option) *Network {
	n := &Network{gpu: g, builder: builder}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Setup runs the fixed build -> connect -> parameter-load -> engine-
// setup sequence of spec.md §4.8. Calling it twice is an error.
func (n *Network) Setup() error {
	if n.setupRan {
		return ferr.New(ferr.InvalidArgument, "network: Setup already ran")
	}

	layers, err := n.builder.BuildLayers()
	if err != nil {
		return ferr.Wrap(ferr.GpuError, "network: build failed", err)
	}
	n.layers = layers

	n.buffers = bufmgr.New(n.gpu)
	if err := n.builder.ConnectLayers(n.layers, n.buffers); err != nil {
		return ferr.Wrap(ferr.NoIOMatch, "network: connect failed", err)
	}

	if err := n.builder.InitializeWeights(n.layers, n.params); err != nil {
		return ferr.Wrap(ferr.ParameterMissing, "network: weight init failed", err)
	}

	opts := append([]engine.Option{engine.WithGPU(n.gpu), engine.WithCallbacks(n.callbacks)}, n.engineOpts...)
	n.eng = engine.New(n.async, opts...)
	if err := n.eng.Setup(adapter{n.layers}); err != nil {
		return err
	}
	n.setupRan = true
	return nil
}

// adapter satisfies engine.Network for a Network whose Setup has
// already run the build/connect/weight-load sequence; engine.Setup's
// own Setup() call is then a no-op.
type adapter struct{ layers *layer.CompiledLayers }

func (a adapter) CompiledLayers() *layer.CompiledLayers { return a.layers }
func (a adapter) Setup() error                          { return nil }

// Forward runs one inference pass. See engine.Engine.Forward for the
// input/output buffer contract.
func (n *Network) Forward(token *StateToken, inputs, outputs map[layer.Number]*cpubuf.CPUBuffer) ExecResult {
	return n.eng.Forward(token, inputs, outputs)
}

// Finish blocks until every issued run has fully completed, including
// any pending asynchronous transfers.
func (n *Network) Finish() error {
	return n.eng.Finish()
}

// LastError returns and clears the most recent background error
// recorded by asynchronous dispatch.
func (n *Network) LastError() error {
	return n.eng.LastError()
}

// Cleanup releases the engine's looper (if running), runs Cleanup on
// every layer, and empties the compiled layer set.
func (n *Network) Cleanup() {
	if n.eng != nil {
		n.eng.Cleanup(func() {
			if n.layers != nil {
				n.layers.Release()
			}
		})
	}
}

// EnableTimings arms the engine's per-layer wall-clock instrumentation.
func (n *Network) EnableTimings() { n.eng.EnableTimings() }

// DisableTimings stops the engine's per-layer wall-clock
// instrumentation without discarding samples already collected.
func (n *Network) DisableTimings() { n.eng.DisableTimings() }

// ResetTimings discards every timing sample collected so far.
func (n *Network) ResetTimings() { n.eng.ResetTimings() }

// Timings returns total wall-clock time spent per layer number since
// the last ResetTimings.
func (n *Network) Timings() map[int]time.Duration { return n.eng.Timings() }

// EnableIntermediateOutput arms per-layer CPU output dumping into dir;
// see engine.Engine.EnableIntermediateOutput.
func (n *Network) EnableIntermediateOutput(dir string) { n.eng.EnableIntermediateOutput(dir) }

// DisableIntermediateOutput stops intermediate-output dumping.
func (n *Network) DisableIntermediateOutput() { n.eng.DisableIntermediateOutput() }

// Buffers returns the pool manager the facade connected the network
// through, for callers that need to inspect pool occupancy.
func (n *Network) Buffers() *bufmgr.Manager { return n.buffers }

// Layers returns the compiled layer set.
func (n *Network) Layers() *layer.CompiledLayers { return n.layers }

// NextSequenceNo returns the sequence number the next Forward call
// will issue.
func (n *Network) NextSequenceNo() uint64 {
	if n.eng == nil {
		return 0
	}
	return n.eng.NextSequenceNo()
}

// LastSequenceNo returns the highest sequence number known to have
// completed so far.
func (n *Network) LastSequenceNo() uint64 {
	if n.eng == nil {
		return 0
	}
	return n.eng.LastSequenceNo()
}
