package handoff

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

// Readout moves completed captures from the timing engine to a consumer.
//
// It is a rendezvous, not a queue: the slot holds at most one
// CapturedFrameSet. Publish on an occupied slot blocks until the consumer
// takes the previous occupant, so a slow consumer slows the whole sensor
// down instead of losing data. Delivery order equals publish order.
type Readout struct {
	slot chan frame.CapturedFrameSet // capacity 1

	published atomic.Uint64
	taken     atomic.Uint64
	stalls    atomic.Uint64
	drained   atomic.Uint64
}

// ReadoutStats is a snapshot of readout counters.
type ReadoutStats struct {
	// Published counts frame sets stored in the slot.
	Published uint64
	// Taken counts frame sets delivered to a consumer.
	Taken uint64
	// Stalls counts publishes that found the slot occupied and had to wait.
	// Non-zero means the consumer is pacing the sensor.
	Stalls uint64
	// Drained counts frame sets discarded unread at shutdown.
	Drained uint64
}

// NewReadout creates an empty slot.
func NewReadout() *Readout {
	return &Readout{slot: make(chan frame.CapturedFrameSet, 1)}
}

// Publish stores f, waiting as long as it takes for the slot to empty.
//
// The only way out of the wait other than a Take is ctx cancellation, used
// at shutdown; f is then not stored and ctx.Err() is returned.
func (r *Readout) Publish(ctx context.Context, f frame.CapturedFrameSet) error {
	select {
	case r.slot <- f:
		r.published.Add(1)
		return nil
	default:
	}

	r.stalls.Add(1)
	slog.Debug("handoff: waiting for readout to catch up",
		"frame_number", f.FrameNumber,
		"trace_id", f.TraceID,
	)

	select {
	case r.slot <- f:
		r.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take removes the slot's frame set, waiting up to timeout for one.
//
// Returns ok=false with a nil error on timeout, and ok=false with
// ctx.Err() if ctx ends first.
func (r *Readout) Take(ctx context.Context, timeout time.Duration) (frame.CapturedFrameSet, bool, error) {
	select {
	case f := <-r.slot:
		r.taken.Add(1)
		return f, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-r.slot:
		r.taken.Add(1)
		return f, true, nil
	case <-timer.C:
		return frame.CapturedFrameSet{}, false, nil
	case <-ctx.Done():
		return frame.CapturedFrameSet{}, false, ctx.Err()
	}
}

// Drain empties the slot without waiting. It is meant for shutdown, once
// the publisher has stopped; the drained frame is not counted as taken.
func (r *Readout) Drain() (frame.CapturedFrameSet, bool) {
	select {
	case f := <-r.slot:
		r.drained.Add(1)
		return f, true
	default:
		return frame.CapturedFrameSet{}, false
	}
}

// Stats returns the current counters.
func (r *Readout) Stats() ReadoutStats {
	return ReadoutStats{
		Published: r.published.Load(),
		Taken:     r.taken.Load(),
		Stalls:    r.stalls.Load(),
		Drained:   r.drained.Load(),
	}
}
