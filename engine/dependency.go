package engine

import "github.com/fynet/fyusenet/layer"

// earlyDependency parks a consumer at its producer's first-consumer
// layer number until count reaches 0 (spec.md §4.7 step 3). For an
// upload producer, count starts at 1 and is bumped to 2 when a prior
// sequence's upload is still draining (deferredNo records that prior
// sequence). For a download producer, count is always 1: the download
// callback resolves it directly.
type earlyDependency struct {
	producer   layer.Layer
	layerNum   layer.Number
	count      int
	sequenceNo uint64
	deferredNo uint64
	upload     bool
}

// lateDependency marks where an upload producer's previous output
// texture set can finally be reused: at its last consumer for a given
// sequence (spec.md §4.7 step 4, fence/swap protocol).
type lateDependency struct {
	producer   layer.Layer
	layerNum   layer.Number
	sequenceNo uint64
}

// depState holds every dependency-tracking structure the async state
// lock protects (spec.md §5 "async_state_lock").
type depState struct {
	early []*earlyDependency
	late  []*lateDependency

	// earlySet/deferredSet record which layer numbers currently have a
	// pending early/deferred dependency. They are kept up to date but
	// not read: park and resolveDeferred scan early/late directly.
	earlySet    map[layer.Number]bool
	deferredSet map[layer.Number]bool

	// activeUploadDependencies maps an upload producer to the sequence
	// number of its most recently dispatched (still in flight) upload,
	// 0 if none.
	activeUploadDependencies map[layer.Layer]uint64

	uploadWaiters   []*waitingState
	downloadWaiters []*waitingState

	ready []*executionState

	backgroundTasks int
}

func newDepState() *depState {
	return &depState{
		earlySet:                 make(map[layer.Number]bool),
		deferredSet:              make(map[layer.Number]bool),
		activeUploadDependencies: make(map[layer.Layer]uint64),
	}
}

func (d *depState) findEarlyByLayer(n layer.Number) *earlyDependency {
	for _, e := range d.early {
		if e.layerNum == n {
			return e
		}
	}
	return nil
}

// findEarlyByLayerSeq finds the early dependency blocking layer n for
// sequence seq specifically. Two in-flight sequences can each register
// an early dependency at the same consumer layer number (their shared
// producer's first-consumer layer is a fixed property of the graph,
// not of the sequence); a state may only be parked against the record
// its own sequence created.
func (d *depState) findEarlyByLayerSeq(n layer.Number, seq uint64) *earlyDependency {
	for _, e := range d.early {
		if e.layerNum == n && e.sequenceNo == seq {
			return e
		}
	}
	return nil
}

func (d *depState) findEarlyByProducerSeq(producer layer.Layer, seq uint64) *earlyDependency {
	for _, e := range d.early {
		if e.producer == producer && e.sequenceNo == seq {
			return e
		}
	}
	return nil
}

func (d *depState) findEarlyByProducerDeferred(producer layer.Layer, seq uint64) *earlyDependency {
	for _, e := range d.early {
		if e.producer == producer && e.deferredNo == seq {
			return e
		}
	}
	return nil
}

func (d *depState) removeEarly(target *earlyDependency) {
	for i, e := range d.early {
		if e == target {
			d.early = append(d.early[:i], d.early[i+1:]...)
			break
		}
	}
	if d.findEarlyByLayer(target.layerNum) == nil {
		delete(d.earlySet, target.layerNum)
	}
}

func (d *depState) findLateByProducerLayer(n layer.Number) *lateDependency {
	for _, l := range d.late {
		if l.layerNum == n {
			return l
		}
	}
	return nil
}

func (d *depState) removeLate(target *lateDependency) {
	for i, l := range d.late {
		if l == target {
			d.late = append(d.late[:i], d.late[i+1:]...)
			break
		}
	}
	if d.findLateByProducerLayer(target.layerNum) == nil {
		delete(d.deferredSet, target.layerNum)
	}
}

// pushReady enforces the ready-queue discipline of spec.md §4.7: at
// most one entry per sequence number, the smaller current position
// wins when two entries collide.
func (d *depState) pushReady(s *executionState) {
	for i, r := range d.ready {
		if r.sequenceNo == s.sequenceNo {
			if s.pos < r.pos {
				d.ready[i] = s
			}
			return
		}
	}
	d.ready = append(d.ready, s)
}

// popReady removes and returns the front ready entry, or nil if empty.
func (d *depState) popReady() *executionState {
	if len(d.ready) == 0 {
		return nil
	}
	s := d.ready[0]
	d.ready = d.ready[1:]
	return s
}

// promoteWaiters moves every WaitingState matching (producer,
// sequenceNo) from waiters onto the ready queue, returning the
// remaining waiters slice.
func promoteWaiters(waiters []*waitingState, producer layer.Layer, seq uint64, ready *depState) []*waitingState {
	kept := waiters[:0:0]
	for _, w := range waiters {
		if w.producer == producer && w.sequenceNo == seq {
			ready.pushReady(w.state)
			continue
		}
		kept = append(kept, w)
	}
	return kept
}

// promoteSelfReferential moves a waiter parked on producer with
// blockingLayer equal to the producer's own layer number — the marker
// for a retry enqueued after a failed async_forward dispatch (spec.md
// §8 boundary behavior: "re-dispatchable after fence/unlock fires").
// See DESIGN.md's Open Question decision on self-referential waiter
// unparking: it is called from runFenceTask, so the next fence task
// for the same producer, from whichever sequence, retries it.
func promoteSelfReferential(waiters []*waitingState, producer layer.Layer, ready *depState) []*waitingState {
	self := producer.LayerBase().Number
	kept := waiters[:0:0]
	for _, w := range waiters {
		if w.producer == producer && w.blockingLayer == self {
			ready.pushReady(w.state)
			continue
		}
		kept = append(kept, w)
	}
	return kept
}
