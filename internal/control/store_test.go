package control

import (
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

func TestNewStore_Defaults(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()

	if snap.FrameDuration != FrameDurationRange[0] {
		t.Errorf("FrameDuration = %v, want %v", snap.FrameDuration, FrameDurationRange[0])
	}
	if snap.Buffers != nil {
		t.Errorf("Buffers = %v, want nil", snap.Buffers)
	}
	if snap.Listener != nil {
		t.Error("Listener should be nil by default")
	}
}

// TestSnapshot_ClearsBuffers verifies a buffer set is handed out exactly once.
func TestSnapshot_ClearsBuffers(t *testing.T) {
	s := NewStore()
	set := frame.NewBufferSet(&frame.Buffer{Width: 4, Height: 4, Format: frame.RGBA8888})
	s.SetDestinationBuffers(set)
	s.SetFrameNumber(7)

	first := s.Snapshot()
	if first.Buffers != set {
		t.Fatalf("first snapshot buffers = %p, want %p", first.Buffers, set)
	}
	if first.FrameNumber != 7 {
		t.Errorf("FrameNumber = %d, want 7", first.FrameNumber)
	}

	second := s.Snapshot()
	if second.Buffers != nil {
		t.Error("second snapshot must not capture the same buffer set again")
	}
	if second.FrameNumber != 7 {
		t.Errorf("FrameNumber is sticky: got %d, want 7", second.FrameNumber)
	}
}

// TestSnapshot_LatestValueWins verifies writes are not queued.
func TestSnapshot_LatestValueWins(t *testing.T) {
	s := NewStore()
	a := frame.NewBufferSet()
	b := frame.NewBufferSet()

	s.SetDestinationBuffers(a)
	s.SetDestinationBuffers(b)
	s.SetFrameDuration(50 * time.Millisecond)

	snap := s.Snapshot()
	if snap.Buffers != b {
		t.Error("snapshot should carry the most recently set buffer set")
	}
	if snap.FrameDuration != 50*time.Millisecond {
		t.Errorf("FrameDuration = %v, want 50ms", snap.FrameDuration)
	}
}

// TestSnapshot_Isolation verifies later writes do not change a taken snapshot.
func TestSnapshot_Isolation(t *testing.T) {
	s := NewStore()
	a := frame.NewBufferSet()
	s.SetDestinationBuffers(a)
	s.SetFrameNumber(1)

	snap := s.Snapshot()
	s.SetDestinationBuffers(frame.NewBufferSet())
	s.SetFrameNumber(2)

	if snap.Buffers != a || snap.FrameNumber != 1 {
		t.Errorf("snapshot mutated after later writes: %+v", snap)
	}
}

func TestSetListener(t *testing.T) {
	s := NewStore()
	var calls int
	s.SetListener(frame.ListenerFunc(func(uint32, time.Time) { calls++ }))

	snap := s.Snapshot()
	if snap.Listener == nil {
		t.Fatal("listener missing from snapshot")
	}
	snap.Listener.OnExposureStart(1, time.Now())
	if calls != 1 {
		t.Errorf("listener calls = %d, want 1", calls)
	}
}

// TestStore_ConcurrentAccess exercises setters against Snapshot under -race.
func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	sets := make([]*frame.BufferSet, 200)
	for i := range sets {
		sets[i] = frame.NewBufferSet()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i, set := range sets {
			s.SetFrameNumber(uint32(i))
			s.SetDestinationBuffers(set)
		}
	}()

	seen := make(map[*frame.BufferSet]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		snap := s.Snapshot()
		if snap.Buffers != nil {
			seen[snap.Buffers]++
		}
		select {
		case <-done:
			if snap := s.Snapshot(); snap.Buffers != nil {
				seen[snap.Buffers]++
			}
			for set, n := range seen {
				if n != 1 {
					t.Errorf("buffer set %p captured %d times", set, n)
				}
			}
			return
		default:
		}
	}
}

// TestSnapshotAndSignal checks the signal runs once, with the store still
// locked against writers.
func TestSnapshotAndSignal(t *testing.T) {
	s := NewStore()
	set := frame.NewBufferSet()
	s.SetDestinationBuffers(set)

	calls := 0
	snap := s.SnapshotAndSignal(func() {
		calls++
		if s.mu.TryLock() {
			s.mu.Unlock()
			t.Error("store unlocked while signalling")
		}
	})
	if calls != 1 {
		t.Errorf("signal called %d times, want 1", calls)
	}
	if snap.Buffers != set {
		t.Errorf("Buffers = %p, want %p", snap.Buffers, set)
	}
	if next := s.Snapshot(); next.Buffers != nil {
		t.Error("SnapshotAndSignal did not clear the buffers")
	}
}

func TestSetFrameDuration_Clamped(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"zero", 0, FrameDurationRange[0]},
		{"negative", -5 * time.Millisecond, FrameDurationRange[0]},
		{"above max", time.Second, FrameDurationRange[1]},
		{"max", FrameDurationRange[1], FrameDurationRange[1]},
		{"in range", 50 * time.Millisecond, 50 * time.Millisecond},
		// Short positive durations are kept for tests and fast simulation.
		{"short", time.Millisecond, time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			s.SetFrameDuration(tt.in)
			if got := s.Snapshot().FrameDuration; got != tt.want {
				t.Errorf("SetFrameDuration(%v) stored %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
