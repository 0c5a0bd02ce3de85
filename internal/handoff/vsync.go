// Package handoff implements the two synchronization points between the
// timing engine and readout consumers:
//
//   - VSync: a broadcast marking the start of each cycle (one writer, many waiters)
//   - Readout: a single-slot backpressured rendezvous for completed captures
//
// Both avoid missed wakeups by pairing state with the lock that guards it:
// a waiter registers for the next signal under the same lock the signaller
// takes, so a signal can never fall between "check" and "wait".
package handoff

import (
	"context"
	"sync"
	"time"
)

// VSync is a flag-plus-lock broadcast signal.
//
// Fire closes the current wake channel and installs a fresh one. A waiter
// picks up the wake channel while holding the lock, after clearing the
// flag, so any Fire that happens after that point wakes it.
type VSync struct {
	mu   sync.Mutex
	got  bool
	wake chan struct{}
}

// NewVSync creates an unfired signal.
func NewVSync() *VSync {
	return &VSync{wake: make(chan struct{})}
}

// Fire sets the flag and wakes every current waiter.
func (v *VSync) Fire() {
	v.mu.Lock()
	v.got = true
	close(v.wake)
	v.wake = make(chan struct{})
	v.mu.Unlock()
}

// Wait clears the flag and blocks until the next Fire, the timeout, or
// ctx cancellation.
//
// Returns (false, nil) on timeout: timeout is a normal outcome.
// Returns (false, ctx.Err()) if ctx ends first, which callers log as a
// wait failure.
func (v *VSync) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	v.mu.Lock()
	v.got = false
	wake := v.wake
	v.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return true, nil
	case <-timer.C:
		v.mu.Lock()
		got := v.got
		v.mu.Unlock()
		return got, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
