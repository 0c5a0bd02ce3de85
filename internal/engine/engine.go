// Package engine runs the sensor timing loop: one exposure cycle per frame
// duration, delivering each cycle's capture one cycle later.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-virtual-sensor/internal/cadence"
	"github.com/e7canasta/orion-virtual-sensor/internal/control"
	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
	"github.com/e7canasta/orion-virtual-sensor/internal/handoff"
)

// ErrAlreadyStarted is returned by Start on a running engine.
var ErrAlreadyStarted = errors.New("engine: already started")

// cadenceWindow is the number of cycle start times kept for Stats.
const cadenceWindow = 120

// Capturer fills a buffer set with pixels. It may append to the set.
type Capturer interface {
	Capture(set *frame.BufferSet)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Cycles uint64
	// Overruns counts cycles whose work exceeded the frame duration.
	Overruns uint64
	// Delivered counts frame sets published to the readout slot.
	Delivered uint64
	// Dropped counts frame sets discarded at shutdown.
	Dropped uint64

	Cadence cadence.Stats
}

// pending is a capture waiting for next cycle's readout.
type pending struct {
	set         *frame.BufferSet
	captureTime time.Time
	frameNumber uint32
	traceID     string
}

// Engine is the single timing goroutine.
//
// Goroutine topology:
//   - 1 fixed: loop (spawned by Start, stopped by Stop or ctx cancellation)
//   - N external: consumers blocked in VSync.Wait or Readout.Take
//
// Listener callbacks run on the loop goroutine and must not block.
type Engine struct {
	store    *control.Store
	vsync    *handoff.VSync
	readout  *handoff.Readout
	capturer Capturer

	cycles    atomic.Uint64
	overruns  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64

	cadenceMu  sync.Mutex
	starts     *cadence.Ring
	lastPeriod time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// New wires the engine to its collaborators. Nothing runs until Start.
func New(store *control.Store, vsync *handoff.VSync, readout *handoff.Readout, capturer Capturer) *Engine {
	return &Engine{
		store:    store,
		vsync:    vsync,
		readout:  readout,
		capturer: capturer,
		starts:   cadence.NewRing(cadenceWindow),
	}
}

// Start spawns the timing loop. It returns immediately.
//
// The loop runs until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.startedMu.Lock()
	defer e.startedMu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.started = true

	e.wg.Add(1)
	go e.loop()

	slog.Info("engine: timing loop started")
	return nil
}

// Stop asks the loop to exit and waits for it. A capture in progress runs
// to completion; a blocked readout publish or a pacing sleep is cut short.
//
// Idempotent: safe to call multiple times and before Start.
func (e *Engine) Stop() error {
	e.startedMu.Lock()
	defer e.startedMu.Unlock()

	if !e.started {
		return nil
	}

	e.cancel()
	e.wg.Wait()
	e.started = false

	slog.Info("engine: timing loop stopped",
		"cycles", e.cycles.Load(),
		"overruns", e.overruns.Load(),
	)
	return nil
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.startedMu.Lock()
	defer e.startedMu.Unlock()
	return e.started
}

func (e *Engine) loop() {
	defer e.wg.Done()

	var next *pending
	defer func() {
		if next != nil {
			// Never published: give aux buffers back.
			next.set.Release()
			e.dropped.Add(1)
			slog.Debug("engine: undelivered frame dropped at shutdown",
				"frame_number", next.frameNumber,
				"trace_id", next.traceID,
			)
		}
	}()

	for e.ctx.Err() == nil {
		var err error
		next, err = e.cycle(next)
		if err != nil {
			slog.Debug("engine: cycle interrupted", "error", err)
			return
		}
	}
}

// cycle runs one exposure cycle. prev is the capture of the previous
// cycle, published here; the returned pending is this cycle's capture.
//
// An error means shutdown interrupted the readout publish.
func (e *Engine) cycle(prev *pending) (*pending, error) {
	// The snapshot and the vsync are one step: a producer woken by this
	// vsync submits into the store after the snapshot was taken, so its
	// buffers go to the next cycle.
	snap := e.store.SnapshotAndSignal(e.vsync.Fire)
	start := time.Now()

	if prev != nil {
		err := e.readout.Publish(e.ctx, frame.CapturedFrameSet{
			Buffers:     prev.set,
			CaptureTime: prev.captureTime,
			FrameNumber: prev.frameNumber,
			TraceID:     prev.traceID,
		})
		if err != nil {
			return prev, fmt.Errorf("engine: publish frame %d: %w", prev.frameNumber, err)
		}
		e.delivered.Add(1)
	}

	var next *pending
	if snap.Buffers != nil {
		next = &pending{
			set:         snap.Buffers,
			captureTime: start,
			frameNumber: snap.FrameNumber,
			traceID:     uuid.NewString(),
		}
		if snap.Listener != nil {
			snap.Listener.OnExposureStart(snap.FrameNumber, start)
		}
		e.capturer.Capture(snap.Buffers)
	}

	e.cycles.Add(1)
	e.recordStart(start, snap.FrameDuration)
	e.pace(start, snap.FrameDuration)
	return next, nil
}

// pace sleeps until start+d unless the work already ran within
// cadence.Tolerance of that deadline.
func (e *Engine) pace(start time.Time, d time.Duration) {
	deadline := start.Add(d)
	workDone := time.Now()

	slog.Debug("engine: frame cycle took",
		"work_ms", float64(workDone.Sub(start))/float64(time.Millisecond),
		"target_ms", float64(d)/float64(time.Millisecond),
	)

	if workDone.After(deadline) {
		e.overruns.Add(1)
		return
	}
	if !workDone.Before(deadline.Add(-cadence.Tolerance)) {
		return
	}

	// A timer can fire a little early on some platforms; keep sleeping
	// until the deadline has really passed.
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (e *Engine) recordStart(start time.Time, d time.Duration) {
	e.cadenceMu.Lock()
	e.starts.Add(start)
	e.lastPeriod = d
	e.cadenceMu.Unlock()
}

// Stats returns counters and cadence statistics over the most recent cycles.
func (e *Engine) Stats() Stats {
	e.cadenceMu.Lock()
	starts := e.starts.Snapshot()
	period := e.lastPeriod
	e.cadenceMu.Unlock()

	return Stats{
		Cycles:    e.cycles.Load(),
		Overruns:  e.overruns.Load(),
		Delivered: e.delivered.Load(),
		Dropped:   e.dropped.Load(),
		Cadence:   cadence.Calculate(starts, period),
	}
}
