// Package bufmgr implements the buffer/texture pool manager: it walks
// a connected graph of layers in layer-number order, allocating or
// reusing textures and CPU buffers so that every producer's declared
// output specification is satisfied and every consumer's input is
// wired to a matching producer output (spec.md §4.5).
package bufmgr

import (
	"errors"
	"fmt"

	"github.com/fynet/fyusenet/cpubuf"
	"github.com/fynet/fyusenet/gpu"
	"github.com/fynet/fyusenet/layer"
	"github.com/fynet/fyusenet/shape"
	"github.com/fynet/fyusenet/tensor"
)

// Failure modes, matching spec.md §4.5.
var (
	ErrNoIOMatch        = errors.New("bufmgr: no matching input/output spec")
	ErrAlreadyConnected = errors.New("bufmgr: port already connected")
	ErrNullLayer        = errors.New("bufmgr: nil layer")
	ErrUnsupportedFormat = errors.New("bufmgr: unsupported format combination")
	ErrPoolExhausted    = errors.New("bufmgr: driver failed to allocate a new resource")
	ErrInvalidArgument  = errors.New("bufmgr: invalid argument")
)

// AsyncProducer is implemented by upload/download layers so the buffer
// manager can register downstream consumers on them without importing
// package async; async.Upload and async.Download satisfy it.
type AsyncProducer interface {
	layer.Layer
	AddConsumer(consumer layer.Layer, channelOffset int)
}

// texEntry is one pooled GPU texture.
type texEntry struct {
	tex                  gpu.Texture
	width, height        int
	format               gpu.PixelFormat
	interp               gpu.Filter
	producerNumber       layer.Number
	lastInputLayerNumber layer.Number
	locked               bool
}

// bufEntry is one pooled CPU buffer.
type bufEntry struct {
	buf                  *cpubuf.CPUBuffer
	size                 int64
	producerNumber       layer.Number
	lastInputLayerNumber layer.Number
	locked               bool
}

// Manager owns every pooled texture and CPU buffer created while
// connecting a compiled layer graph.
type Manager struct {
	gpu gpu.GPU

	textures []*texEntry
	buffers  []*bufEntry

	// outputs maps (layer number, port) -> the connected tensor.Buffer
	// or *cpubuf.CPUBuffer currently attached there, so a second
	// consumer hitting the same output spec reuses it instead of
	// allocating (spec.md §4.5 "If P already has an output...").
	gpuOutputs map[portKey]*tensor.Buffer
	cpuOutputs map[portKey]*cpubuf.CPUBuffer

	estimatedTextureBytes int64
}

type portKey struct {
	layer layer.Number
	port  int
	chOff int
}

// New returns a Manager that allocates resources through g.
func New(g gpu.GPU) *Manager {
	return &Manager{
		gpu:        g,
		gpuOutputs: make(map[portKey]*tensor.Buffer),
		cpuOutputs: make(map[portKey]*cpubuf.CPUBuffer),
	}
}

// EstimatedTextureBytes returns an estimate of GPU memory held by the
// pool's textures.
func (m *Manager) EstimatedTextureBytes() int64 { return m.estimatedTextureBytes }

// match is one compatible (output spec, input spec) pairing found by
// checkIOMatch.
type match struct {
	out shape.Spec
	in  shape.Spec
}

// checkIOMatch enumerates every (output, input) pair satisfying the
// compatibility rule of spec.md §4.5 step 3.
func checkIOMatch(outputs, inputs []shape.Spec, inputPort int) []match {
	var out []match
	for _, in := range inputs {
		if in.Port != inputPort {
			continue
		}
		for _, o := range outputs {
			if o.Device != in.Device {
				continue
			}
			if o.ChannelOffset != in.ChannelOffset {
				continue
			}
			if !o.Shape.SameSpatial(in.Shape) {
				continue
			}
			if !o.Interp.Matches(in.Interp) {
				continue
			}
			if o.Device == shape.DeviceCPU && o.Shape.Channels != in.Shape.Channels {
				continue
			}
			if o.Shape.Elem != in.Shape.Elem {
				if o.Shape.Order != shape.ShallowGPU || in.Shape.Order != shape.ShallowGPU {
					continue
				}
				if in.Usage == shape.UsageOESDest {
					continue
				}
				if _, ok := o.Shape.AdoptFormat(in.Shape); !ok {
					continue
				}
			}
			out = append(out, match{out: o, in: in})
		}
	}
	return out
}

// Connect wires outputLayer's declared outputs to inputLayer's inputs
// at inputPort. lockOutput requests the chosen texture/buffer be
// locked against pool reuse once assigned.
func (m *Manager) Connect(outputLayer, inputLayer layer.Layer, inputPort int, lockOutput bool) error {
	if outputLayer == nil || inputLayer == nil {
		return ErrNullLayer
	}
	ob, ib := outputLayer.LayerBase(), inputLayer.LayerBase()
	if len(ib.InputSpecs) == 0 {
		return ErrInvalidArgument
	}

	matches := checkIOMatch(ob.OutputSpecs, ib.InputSpecs, inputPort)
	if len(matches) == 0 {
		return ErrNoIOMatch
	}
	for _, mt := range matches {
		k := inKey(ib, mt.in.Port, mt.in.ChannelOffset)
		if _, ok := m.gpuOutputs[k]; ok {
			return ErrAlreadyConnected
		}
		if _, ok := m.cpuOutputs[k]; ok {
			return ErrAlreadyConnected
		}
	}
	switch matches[0].out.Device {
	case shape.DeviceGPU:
		return m.connectGPU(outputLayer, inputLayer, matches, lockOutput)
	default:
		return m.connectCPU(outputLayer, inputLayer, matches, lockOutput)
	}
}

func outKey(ob *layer.Base, o shape.Spec) portKey {
	return portKey{layer: ob.Number, port: o.Port, chOff: o.ChannelOffset}
}

func inKey(ib *layer.Base, portIdx int, chOff int) portKey {
	return portKey{layer: ib.Number, port: portIdx, chOff: chOff}
}

// connectGPU implements the GPU connect routine of spec.md §4.5.
func (m *Manager) connectGPU(outputLayer, inputLayer layer.Layer, matches []match, lockOutput bool) error {
	ob, ib := outputLayer.LayerBase(), inputLayer.LayerBase()

	lock := lockOutput
	if async, ok := outputLayer.(AsyncProducer); ok {
		lock = true
		async.AddConsumer(inputLayer, matches[0].in.ChannelOffset)
	}

	for _, mt := range matches {
		ok := outKey(ob, mt.out)
		if existing, found := m.gpuOutputs[ok]; found {
			m.gpuOutputs[inKey(ib, mt.in.Port, mt.in.ChannelOffset)] = existing
			m.touchTexture(existing, ib.Number, lock)
			continue
		}

		if mt.out.Usage == shape.UsagePassThrough {
			srcKey := portKey{layer: ob.Number, port: mt.out.Port, chOff: mt.out.ChannelOffset}
			src, found := m.gpuOutputs[srcKey]
			if !found {
				return fmt.Errorf("bufmgr: passthrough with no bound input at port %d: %w", mt.out.Port, ErrNoIOMatch)
			}
			alias := tensor.Passthrough(src, mt.out.Shape)
			m.gpuOutputs[ok] = alias
			m.gpuOutputs[inKey(ib, mt.in.Port, mt.in.ChannelOffset)] = alias
			continue
		}

		format := m.pixelFormat(mt.out.Shape)
		filter := glFilterFromSpec(mt.out.Interp)
		w, h := dims(mt.out.Shape)

		var entry *texEntry
		if mt.out.Shape.Slices() == 1 {
			entry = m.findReusableTexture(w, h, format, filter, ob.Number, ib.Number)
		}
		var buf *tensor.Buffer
		if entry != nil && !entry.locked && !lock {
			entry.producerNumber = ob.Number
			buf = tensor.Wrap(mt.out.Shape, []gpu.Texture{entry.tex})
		} else {
			newBuf, err := tensor.New(m.gpu, mt.out.Shape, format, filter, gpu.UGeneric)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
			}
			buf = newBuf
			for _, t := range newBuf.Slices {
				e := &texEntry{tex: t, width: w, height: h, format: format, interp: filter, producerNumber: ob.Number}
				m.textures = append(m.textures, e)
				m.estimatedTextureBytes += int64(w) * int64(h) * 4
			}
			for i := 1; i < mt.out.Shadows()+1; i++ {
				shadow, err := tensor.New(m.gpu, mt.out.Shape, format, filter, gpu.UGeneric)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrPoolExhausted, err)
				}
				for _, t := range shadow.Slices {
					m.textures = append(m.textures, &texEntry{tex: t, width: w, height: h, format: format, interp: filter, producerNumber: ob.Number, locked: true})
				}
			}
		}

		m.gpuOutputs[ok] = buf
		m.gpuOutputs[inKey(ib, mt.in.Port, mt.in.ChannelOffset)] = buf
		m.updateLastInput(buf, ib.Number, lock || lockOutput)
	}
	return nil
}

func (m *Manager) touchTexture(buf *tensor.Buffer, consumer layer.Number, lock bool) {
	m.updateLastInput(buf, consumer, lock)
}

// updateLastInput applies the pool-entry bookkeeping update described
// by spec.md §4.5's final paragraph ("update the pool entry's
// last-consumer to number(C)").
func (m *Manager) updateLastInput(buf *tensor.Buffer, consumer layer.Number, lock bool) {
	for _, t := range buf.Slices {
		for _, e := range m.textures {
			if e.tex == t {
				if consumer > e.lastInputLayerNumber {
					e.lastInputLayerNumber = consumer
				}
				if lock {
					e.locked = true
				}
			}
		}
	}
}

// findReusableTexture implements the pool-reuse search of spec.md
// §4.5: dims/format/interp match, not locked, lastInputLayerNumber <
// consumer-1, and producer strictly after lastInputLayerNumber.
func (m *Manager) findReusableTexture(w, h int, format gpu.PixelFormat, filter gpu.Filter, producer, consumer layer.Number) *texEntry {
	for _, e := range m.textures {
		if e.locked {
			continue
		}
		if e.width != w || e.height != h || e.format != format {
			continue
		}
		if filter != e.interp && filter != gpu.FNearest && e.interp != gpu.FNearest {
			// Neither side is a wildcard match; FNearest is this
			// module's stand-in for shape.IPAny at the GL level once
			// translated, so only reject a genuine mismatch.
			continue
		}
		if e.lastInputLayerNumber >= consumer-1 {
			continue
		}
		if producer <= e.lastInputLayerNumber {
			continue
		}
		return e
	}
	return nil
}

func dims(s shape.Shape) (int, int) {
	switch s.Order {
	case shape.DeepGPU:
		return s.DeepWidth(), s.DeepHeight()
	case shape.Sequence:
		return s.SequenceWidth(), s.Height
	default:
		return s.Width + 2*s.Padding, s.Height + 2*s.Padding
	}
}

func (m *Manager) pixelFormat(s shape.Shape) gpu.PixelFormat {
	switch s.Elem {
	case shape.F32:
		return gpu.RGBA32F
	case shape.F16:
		return gpu.RGBA16F
	case shape.U32:
		return gpu.RGBA32UI
	case shape.I32:
		return gpu.RGBA32I
	case shape.U16:
		return gpu.RGBA16UI
	case shape.I16:
		return gpu.RGBA16I
	case shape.U8:
		return gpu.RGBA8UI
	default:
		return gpu.RGBA8I
	}
}

func glFilterFromSpec(i shape.Interp) gpu.Filter {
	if i == shape.IPLinear {
		return gpu.FLinear
	}
	return gpu.FNearest
}

// connectCPU implements the CPU connect routine: the same lock/number
// bookkeeping as connectGPU, but with a size-dominance reuse rule
// instead of exact dimension matching.
func (m *Manager) connectCPU(outputLayer, inputLayer layer.Layer, matches []match, lockOutput bool) error {
	ob, ib := outputLayer.LayerBase(), inputLayer.LayerBase()

	for _, mt := range matches {
		ok := outKey(ob, mt.out)
		if existing, found := m.cpuOutputs[ok]; found {
			m.cpuOutputs[inKey(ib, mt.in.Port, mt.in.ChannelOffset)] = existing
			m.updateBufferUse(existing, ib.Number, lockOutput)
			continue
		}

		need := mt.out.Shape.Bytes(mt.out.Shape.Order)
		entry := m.findReusableBuffer(need, ob.Number, ib.Number)
		var cb *cpubuf.CPUBuffer
		if entry != nil && !entry.locked && !lockOutput {
			cb = entry.buf
			entry.producerNumber = ob.Number
		} else {
			cb = cpubuf.New(mt.out.Shape)
			m.buffers = append(m.buffers, &bufEntry{buf: cb, size: cb.Shape().Bytes(cb.Shape().Order), producerNumber: ob.Number, locked: lockOutput})
		}

		m.cpuOutputs[ok] = cb
		m.cpuOutputs[inKey(ib, mt.in.Port, mt.in.ChannelOffset)] = cb
		m.updateBufferUse(cb, ib.Number, lockOutput)
	}
	return nil
}

func (m *Manager) updateBufferUse(cb *cpubuf.CPUBuffer, consumer layer.Number, lock bool) {
	for _, e := range m.buffers {
		if e.buf == cb {
			if consumer > e.lastInputLayerNumber {
				e.lastInputLayerNumber = consumer
			}
			if lock {
				e.locked = true
			}
		}
	}
}

func (m *Manager) findReusableBuffer(need int64, producer, consumer layer.Number) *bufEntry {
	for _, e := range m.buffers {
		if e.locked || e.size < need {
			continue
		}
		if e.lastInputLayerNumber >= consumer-1 {
			continue
		}
		if producer <= e.lastInputLayerNumber {
			continue
		}
		return e
	}
	return nil
}

// GPUOutput returns the tensor.Buffer connected to (layerNumber, port,
// channelOffset), if any.
func (m *Manager) GPUOutput(layerNumber layer.Number, port, chOff int) (*tensor.Buffer, bool) {
	b, ok := m.gpuOutputs[portKey{layer: layerNumber, port: port, chOff: chOff}]
	return b, ok
}

// CPUOutput returns the CPUBuffer connected to (layerNumber, port,
// channelOffset), if any.
func (m *Manager) CPUOutput(layerNumber layer.Number, port, chOff int) (*cpubuf.CPUBuffer, bool) {
	b, ok := m.cpuOutputs[portKey{layer: layerNumber, port: port, chOff: chOff}]
	return b, ok
}

// Cleanup destroys all pooled textures and CPU buffers. The GPU
// context must be current on the calling thread.
func (m *Manager) Cleanup() {
	seen := make(map[gpu.Texture]bool)
	for _, e := range m.textures {
		if seen[e.tex] {
			continue
		}
		seen[e.tex] = true
		e.tex.Destroy()
	}
	m.textures = nil
	m.buffers = nil
	m.gpuOutputs = make(map[portKey]*tensor.Buffer)
	m.cpuOutputs = make(map[portKey]*cpubuf.CPUBuffer)
	m.estimatedTextureBytes = 0
}
