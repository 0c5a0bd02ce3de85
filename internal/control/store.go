// Package control holds the latest per-frame capture parameters written by
// the request producer and read once per cycle by the timing engine.
package control

import (
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

// Sensor limits reported to the camera framework.
var (
	ExposureTimeRange  = [2]time.Duration{1 * time.Microsecond, 300 * time.Millisecond}
	FrameDurationRange = [2]time.Duration{33331760 * time.Nanosecond, 300 * time.Millisecond}
	SensitivityRange   = [2]int32{100, 1600}
)

const (
	MinVerticalBlank   = 10 * time.Microsecond
	DefaultSensitivity = 100
)

// Snapshot is the set of control parameters used for exactly one cycle.
type Snapshot struct {
	FrameDuration time.Duration
	Buffers       *frame.BufferSet
	FrameNumber   uint32
	Listener      frame.Listener
}

// Store is a latest-value store. Writes are never queued: a value written
// twice between two snapshots is only seen once, with its last value.
//
// All methods serialize on one mutex and never block longer than a copy.
type Store struct {
	mu            sync.Mutex
	frameDuration time.Duration
	buffers       *frame.BufferSet
	frameNumber   uint32
	listener      frame.Listener
}

// NewStore creates a store with the minimum frame duration.
func NewStore() *Store {
	return &Store{frameDuration: FrameDurationRange[0]}
}

// SetFrameDuration sets the cycle length. Values above the maximum frame
// duration are clamped to it; zero or negative values are clamped to the
// minimum, since they would leave the timing loop spinning without a sleep.
func (s *Store) SetFrameDuration(d time.Duration) {
	clamped := d
	switch {
	case d <= 0:
		clamped = FrameDurationRange[0]
	case d > FrameDurationRange[1]:
		clamped = FrameDurationRange[1]
	}
	if clamped != d {
		slog.Warn("control: frame duration out of range, clamped",
			"requested", d,
			"clamped", clamped,
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Debug("control: frame duration set", "ms", float64(clamped)/float64(time.Millisecond))
	s.frameDuration = clamped
}

func (s *Store) SetDestinationBuffers(buffers *frame.BufferSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = buffers
}

func (s *Store) SetFrameNumber(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameNumber = n
}

func (s *Store) SetListener(l frame.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// Snapshot reads every field and clears the destination buffers so a
// buffer set is never captured twice.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SnapshotAndSignal takes a snapshot and calls signal before any other
// write can land. A writer that wakes on signal and then submits buffers
// is guaranteed to be seen by the next snapshot, never dropped between
// the two.
func (s *Store) SnapshotAndSignal(signal func()) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked()
	signal()
	return snap
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		FrameDuration: s.frameDuration,
		Buffers:       s.buffers,
		FrameNumber:   s.frameNumber,
		Listener:      s.listener,
	}
	s.buffers = nil
	return snap
}
