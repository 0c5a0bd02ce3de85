package handoff

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

// --- VSync ---

func TestVSync_TimeoutWithoutFire(t *testing.T) {
	v := NewVSync()

	start := time.Now()
	got, err := v.Wait(context.Background(), 20*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Wait() error = %v, want nil on timeout", err)
	}
	if got {
		t.Error("Wait() = true without any Fire")
	}
	if elapsed < 20*time.Millisecond {
		t.Errorf("Wait() returned after %v, before the 20ms timeout", elapsed)
	}
}

func TestVSync_FireWakesAllWaiters(t *testing.T) {
	v := NewVSync()
	const waiters = 5

	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	ready := make(chan struct{}, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready <- struct{}{}
			got, _ := v.Wait(context.Background(), time.Second)
			results <- got
		}()
	}
	for i := 0; i < waiters; i++ {
		<-ready
	}
	// Give waiters time to register their wake channel.
	time.Sleep(10 * time.Millisecond)
	v.Fire()
	wg.Wait()
	close(results)

	for got := range results {
		if !got {
			t.Error("waiter did not observe the vsync")
		}
	}
}

// TestVSync_EarlierFireNotObserved verifies Wait clears the flag: a Fire
// that happened before the call does not count.
func TestVSync_EarlierFireNotObserved(t *testing.T) {
	v := NewVSync()
	v.Fire()

	got, err := v.Wait(context.Background(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got {
		t.Error("Wait() observed a vsync fired before it was called")
	}
}

func TestVSync_ContextCancelled(t *testing.T) {
	v := NewVSync()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got, err := v.Wait(ctx, time.Second)
	if got {
		t.Error("Wait() = true on cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

// --- Readout ---

func TestReadout_TakeTimeout(t *testing.T) {
	r := NewReadout()

	_, ok, err := r.Take(context.Background(), 15*time.Millisecond)
	if ok || err != nil {
		t.Errorf("Take() on empty slot = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestReadout_PublishThenTake(t *testing.T) {
	r := NewReadout()
	at := time.Now()

	if err := r.Publish(context.Background(), frame.CapturedFrameSet{CaptureTime: at, FrameNumber: 3}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	f, ok, err := r.Take(context.Background(), time.Second)
	if !ok || err != nil {
		t.Fatalf("Take() = (%v, %v), want ok", ok, err)
	}
	if !f.CaptureTime.Equal(at) || f.FrameNumber != 3 {
		t.Errorf("Take() = %+v, want capture time %v frame 3", f, at)
	}

	stats := r.Stats()
	if stats.Published != 1 || stats.Taken != 1 || stats.Stalls != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

// TestReadout_Backpressure verifies a second Publish blocks until Take.
func TestReadout_Backpressure(t *testing.T) {
	r := NewReadout()
	ctx := context.Background()

	if err := r.Publish(ctx, frame.CapturedFrameSet{FrameNumber: 1}); err != nil {
		t.Fatal(err)
	}

	published := make(chan struct{})
	go func() {
		r.Publish(ctx, frame.CapturedFrameSet{FrameNumber: 2})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("second Publish() overwrote an untaken frame set")
	case <-time.After(30 * time.Millisecond):
	}

	f, ok, _ := r.Take(ctx, time.Second)
	if !ok || f.FrameNumber != 1 {
		t.Fatalf("first Take() = (%+v, %v), want frame 1", f, ok)
	}

	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("second Publish() still blocked after Take()")
	}

	f, ok, _ = r.Take(ctx, time.Second)
	if !ok || f.FrameNumber != 2 {
		t.Fatalf("second Take() = (%+v, %v), want frame 2", f, ok)
	}

	if stalls := r.Stats().Stalls; stalls != 1 {
		t.Errorf("Stalls = %d, want 1", stalls)
	}
}

// TestReadout_Ordering publishes a run of frame sets against a slow
// consumer and checks they arrive complete and in order.
func TestReadout_Ordering(t *testing.T) {
	r := NewReadout()
	ctx := context.Background()
	const n = 50

	go func() {
		for i := 1; i <= n; i++ {
			r.Publish(ctx, frame.CapturedFrameSet{FrameNumber: uint32(i)})
		}
	}()

	for want := uint32(1); want <= n; want++ {
		if want%10 == 0 {
			time.Sleep(time.Millisecond)
		}
		f, ok, err := r.Take(ctx, time.Second)
		if !ok || err != nil {
			t.Fatalf("Take() #%d = (%v, %v)", want, ok, err)
		}
		if f.FrameNumber != want {
			t.Fatalf("out of order: got frame %d, want %d", f.FrameNumber, want)
		}
	}
}

func TestReadout_PublishCancelled(t *testing.T) {
	r := NewReadout()
	ctx, cancel := context.WithCancel(context.Background())
	r.Publish(ctx, frame.CapturedFrameSet{FrameNumber: 1})

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Publish(ctx, frame.CapturedFrameSet{FrameNumber: 2})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Publish() err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish() did not return after cancellation")
	}

	f, ok, _ := r.Take(context.Background(), 10*time.Millisecond)
	if !ok || f.FrameNumber != 1 {
		t.Errorf("slot should still hold frame 1, got (%+v, %v)", f, ok)
	}
}

func TestReadout_Drain(t *testing.T) {
	r := NewReadout()

	if _, ok := r.Drain(); ok {
		t.Fatal("Drain() on empty slot reported a frame")
	}

	if err := r.Publish(context.Background(), frame.CapturedFrameSet{FrameNumber: 9}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	f, ok := r.Drain()
	if !ok || f.FrameNumber != 9 {
		t.Fatalf("Drain() = (%d, %v), want (9, true)", f.FrameNumber, ok)
	}

	// The slot is free again: a consumer finds nothing and a publisher does
	// not stall.
	if _, ok, _ := r.Take(context.Background(), 5*time.Millisecond); ok {
		t.Error("Take() after Drain() returned the drained frame")
	}
	if err := r.Publish(context.Background(), frame.CapturedFrameSet{FrameNumber: 10}); err != nil {
		t.Fatalf("Publish() after Drain() error = %v", err)
	}

	stats := r.Stats()
	if stats.Drained != 1 || stats.Taken != 0 || stats.Stalls != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}
