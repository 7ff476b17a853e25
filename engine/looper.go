package engine

import (
	"time"

	"github.com/fynet/fyusenet/async"
	"github.com/fynet/fyusenet/ferr"
	"github.com/fynet/fyusenet/layer"
)

// loop is the background looper thread of spec.md §4.7. It blocks on
// the ready-queue condition and, when woken, either retires a stale
// entry or runs execute() on the front of the queue.
func (e *Engine) loop() {
	defer close(e.looperDone)
	for {
		e.looperMu.Lock()
		for e.pending == 0 {
			e.looperWait.Wait()
		}
		quit := e.quit
		e.pending--
		e.looperMu.Unlock()

		if quit {
			return
		}
		e.runOnce()
	}
}

// runOnce implements one wake cycle of the looper: pop the front ready
// state, discard it if stale, otherwise run execute() on it and react
// to the outcome.
func (e *Engine) runOnce() {
	e.asyncMu.Lock()
	st := e.deps.popReady()
	e.asyncMu.Unlock()
	if st == nil {
		return
	}

	e.seqMu.Lock()
	retired := st.sequenceNo <= e.engineSeq
	e.seqMu.Unlock()
	if retired {
		return
	}

	done, err := e.execute(st)
	switch {
	case err != nil:
		e.seqMu.Lock()
		e.lastErr = err
		e.seqMu.Unlock()
	case done:
		e.seqMu.Lock()
		e.engineSeq = st.sequenceNo
		e.seqDone.Broadcast()
		e.seqMu.Unlock()
		if e.callbacks.SequenceDone != nil {
			e.callbacks.SequenceDone(st.sequenceNo)
		}
	}
}

// execute walks st from its current position to the end of the layer
// order, implementing spec.md §4.7's execute(state) state machine. It
// returns done=true on reaching the end, or done=false/err=nil when
// the state has been parked and will resume from a later wake.
func (e *Engine) execute(st *executionState) (done bool, err error) {
	for st.pos < len(e.order) {
		l := e.order[st.pos]
		n := l.LayerBase().Number

		if st.token.Masked(int(n)) {
			st.pos++
			continue
		}

		if e.park(l, st) {
			return false, nil
		}

		parked, err := e.dispatchLayer(l, st)
		if err != nil {
			return false, err
		}
		if parked {
			return false, nil
		}

		e.resolveDeferred(l, st)
		st.pos++
	}
	return true, nil
}

// park checks whether l's layer number carries a pending early
// dependency for st's own sequence and, if so, parks st into the
// matching waiters list (spec.md §4.7 step 2). A dependency recorded
// for a different in-flight sequence at the same layer number must not
// park st — st is only unparked by its own sequence's producer
// resolving, never another sequence's.
func (e *Engine) park(l layer.Layer, st *executionState) bool {
	e.asyncMu.Lock()
	defer e.asyncMu.Unlock()
	n := l.LayerBase().Number
	ed := e.deps.findEarlyByLayerSeq(n, st.sequenceNo)
	if ed == nil {
		return false
	}
	ws := &waitingState{blockingLayer: n, producer: ed.producer, sequenceNo: st.sequenceNo, state: st}
	if ed.upload {
		e.deps.uploadWaiters = append(e.deps.uploadWaiters, ws)
	} else {
		e.deps.downloadWaiters = append(e.deps.downloadWaiters, ws)
	}
	return true
}

// dispatchLayer runs l's forward entry point for st, returning
// parked=true if an upload/download layer had no free transfer slot
// and must be retried later.
func (e *Engine) dispatchLayer(l layer.Layer, st *executionState) (parked bool, err error) {
	switch l.LayerBase().Kind {
	case layer.UploadLayer:
		return e.dispatchUpload(l.(async.Uploader), st)
	case layer.DownloadLayer, layer.DeepDownloadLayer:
		return e.dispatchDownload(l.(async.Downloader), st)
	default:
		f, ok := l.(Forwarder)
		if !ok {
			return false, ferr.New(ferr.InvalidArgument, "layer missing Forward")
		}
		start := time.Now()
		err := f.Forward(st.sequenceNo)
		e.recordTiming(int(l.LayerBase().Number), time.Since(start))
		return false, err
	}
}

// dispatchUpload implements spec.md §4.7 step 3's async-upload-layer
// branch: issue async_forward under the upload-issue lock, then
// register the early/late dependencies before any callback can race
// ahead of them.
func (e *Engine) dispatchUpload(up async.Uploader, st *executionState) (parked bool, err error) {
	e.uploadIssueMu.Lock()
	defer e.uploadIssueMu.Unlock()

	n := up.LayerBase().Number
	src := st.inputs[n]
	ok := up.AsyncForward(st.sequenceNo, src, func(seq uint64) {
		// Resolve only after this function has registered the
		// dependencies and released uploadIssueMu.
		go func() {
			e.uploadIssueMu.Lock()
			e.uploadIssueMu.Unlock()
			e.onUploadDone(up, seq)
		}()
	})
	if !ok {
		e.asyncMu.Lock()
		e.deps.uploadWaiters = append(e.deps.uploadWaiters, &waitingState{blockingLayer: n, producer: up, sequenceNo: st.sequenceNo, state: st})
		e.asyncMu.Unlock()
		return true, nil
	}

	e.asyncMu.Lock()
	first := layer.Number(up.Dependencies().First())
	last := layer.Number(up.Dependencies().Last())
	ed := &earlyDependency{producer: up, layerNum: first, count: 1, sequenceNo: st.sequenceNo, upload: true}
	if prior := e.deps.activeUploadDependencies[up]; prior != 0 {
		ed.count = 2
		ed.deferredNo = prior
	}
	if first >= 0 {
		e.deps.early = append(e.deps.early, ed)
		e.deps.earlySet[first] = true
	}
	if last >= 0 {
		e.deps.late = append(e.deps.late, &lateDependency{producer: up, layerNum: last, sequenceNo: st.sequenceNo})
		e.deps.deferredSet[last] = true
	}
	e.deps.activeUploadDependencies[up] = st.sequenceNo
	e.deps.backgroundTasks++
	e.asyncMu.Unlock()
	return false, nil
}

// dispatchDownload implements spec.md §4.7 step 3's async-download-
// layer branch.
func (e *Engine) dispatchDownload(dl async.Downloader, st *executionState) (parked bool, err error) {
	n := dl.LayerBase().Number
	first := layer.Number(dl.Dependencies().First())

	e.asyncMu.Lock()
	if first >= 0 {
		e.deps.early = append(e.deps.early, &earlyDependency{producer: dl, layerNum: first, count: 1, sequenceNo: st.sequenceNo})
		e.deps.earlySet[first] = true
	}
	e.deps.backgroundTasks++
	e.asyncMu.Unlock()

	dst := st.outputs[n]
	name := dl.LayerBase().Name
	ok := dl.AsyncForward(st.sequenceNo, dst, func(seq uint64) {
		e.onDownloadDone(dl, seq)
		e.maybeDump(int(n), seq, dst)
		if e.callbacks.DownloadReady != nil {
			e.callbacks.DownloadReady(name, seq, dst)
		}
	})
	if !ok {
		e.asyncMu.Lock()
		e.deps.downloadWaiters = append(e.deps.downloadWaiters, &waitingState{blockingLayer: n, producer: dl, sequenceNo: st.sequenceNo, state: st})
		e.asyncMu.Unlock()
		return true, nil
	}
	return false, nil
}

// resolveDeferred runs the fence/swap protocol when l is the last
// consumer of an in-flight upload producer (spec.md §4.7 step 4).
func (e *Engine) resolveDeferred(l layer.Layer, st *executionState) {
	n := l.LayerBase().Number
	e.asyncMu.Lock()
	late := e.deps.findLateByProducerLayer(n)
	if late == nil {
		e.asyncMu.Unlock()
		return
	}
	e.deps.removeLate(late)
	e.asyncMu.Unlock()

	if up, ok := late.producer.(async.Uploader); ok {
		e.fenceSwap(up, late.sequenceNo)
	}
}

// fenceSwap is the fence/swap protocol of spec.md §4.7: it resolves
// the next in-flight upload (if its count has drained), records the
// new active sequence, and fences off the just-finished sequence's
// output textures before unlocking them for reuse.
func (e *Engine) fenceSwap(up async.Uploader, sequenceNo uint64) {
	e.asyncMu.Lock()
	var replacement uint64
	var doSwap bool
	if next := e.deps.findEarlyByProducerDeferred(up, sequenceNo); next != nil {
		next.count--
		replacement = next.sequenceNo
		if next.count == 0 {
			e.deps.removeEarly(next)
			doSwap = true
			e.deps.uploadWaiters = promoteWaiters(e.deps.uploadWaiters, up, next.sequenceNo, e.deps)
		}
	}
	e.deps.activeUploadDependencies[up] = replacement
	e.deps.backgroundTasks++ // the fence-wait task below is itself a background task
	e.asyncMu.Unlock()

	// doSwap means the next sequence's own upload-completion callback
	// already landed while this late dependency was pending; swap its
	// buffers in now. If its callback hasn't fired yet, onUploadDone
	// performs the swap itself once it does — calling it twice here
	// would promote an unfinished transfer's back buffer early.
	if doSwap {
		up.SwapOutputTextures(replacement)
	}

	go e.runFenceTask(up, sequenceNo)
}

// runFenceTask waits for a GPU fence, then unlocks up's previous
// output texture set so it can be reused once no consumer of
// sequenceNo can still be reading it (spec.md §4.7 step 4-5).
func (e *Engine) runFenceTask(up async.Uploader, sequenceNo uint64) {
	defer func() {
		e.asyncMu.Lock()
		e.deps.backgroundTasks--
		e.deps.uploadWaiters = promoteSelfReferential(e.deps.uploadWaiters, up, e.deps)
		e.asyncMu.Unlock()
		e.wakeLooper()
	}()

	if e.gpu == nil {
		up.Unlock(sequenceNo)
		return
	}
	f, err := e.gpu.NewFence()
	if err != nil {
		e.recordErr(ferr.Wrap(ferr.GpuError, "fence creation failed", err))
		up.Unlock(sequenceNo)
		return
	}
	defer f.Destroy()
	if err := f.Wait(e.fenceTimeout); err != nil {
		e.recordErr(ferr.Wrap(ferr.PipelineTimeout, "fence wait exceeded bound", err))
	}
	up.Unlock(sequenceNo)
}

// onUploadDone is the upload callback of spec.md §4.7: it resolves the
// early dependency for (producer, sequenceNo) and, once its count
// drains, swaps the producer's visible output and promotes any
// waiters parked on the same (producer, sequenceNo).
func (e *Engine) onUploadDone(up async.Uploader, sequenceNo uint64) {
	e.asyncMu.Lock()
	ed := e.deps.findEarlyByProducerSeq(up, sequenceNo)
	if ed != nil {
		ed.count--
	}
	swap := ed != nil && ed.count == 0
	if swap {
		e.deps.removeEarly(ed)
		e.deps.uploadWaiters = promoteWaiters(e.deps.uploadWaiters, up, sequenceNo, e.deps)
	}
	e.deps.backgroundTasks--
	e.asyncMu.Unlock()

	if swap {
		up.SwapOutputTextures(sequenceNo)
		if e.callbacks.UploadReady != nil {
			e.callbacks.UploadReady(up.LayerBase().Name, sequenceNo)
		}
	}
	e.wakeLooper()
}

// onDownloadDone is the download callback of spec.md §4.7: it
// promotes every waiter blocked on (producer, sequenceNo) and removes
// the matching download dependency.
func (e *Engine) onDownloadDone(dl async.Downloader, sequenceNo uint64) {
	e.asyncMu.Lock()
	ed := e.deps.findEarlyByProducerSeq(dl, sequenceNo)
	if ed != nil {
		e.deps.removeEarly(ed)
	}
	e.deps.uploadWaiters = promoteWaiters(e.deps.uploadWaiters, dl, sequenceNo, e.deps)
	e.deps.downloadWaiters = promoteWaiters(e.deps.downloadWaiters, dl, sequenceNo, e.deps)
	e.deps.backgroundTasks--
	e.asyncMu.Unlock()
	e.wakeLooper()
}

// wakeLooper bumps the pending-state count and signals the looper, the
// path every async completion uses to get re-examined (spec.md §4.7).
func (e *Engine) wakeLooper() {
	e.looperMu.Lock()
	e.pending++
	e.looperWait.Signal()
	e.looperMu.Unlock()
}

func (e *Engine) recordErr(err error) {
	e.seqMu.Lock()
	e.lastErr = err
	e.seqMu.Unlock()
}
