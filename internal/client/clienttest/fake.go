// Package clienttest provides a recording client.Client for tests.
package clienttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
)

// Call is one recorded protocol query.
type Call struct {
	Op     string // connect, query-connect, start, stop, frame, close
	Name   string
	Format client.FourCC
	Width  int
	Height int
	NV21   int // len of the nv21 destination, 0 if nil
	RGBA   int // len of the rgba destination, 0 if nil
}

// Fake records every query and fills frames with a constant byte.
// Errors can be injected per operation.
type Fake struct {
	mu    sync.Mutex
	calls []Call

	// Fill is written into every byte of a requested frame.
	Fill byte

	ConnectErr      error
	QueryConnectErr error
	StartErr        error
	StopErr         error
	FrameErr        error
}

// New returns a fake that fills frames with 0xAB.
func New() *Fake {
	return &Fake{Fill: 0xAB}
}

// record appends c and returns the injected error selected by pick.
func (f *Fake) record(c Call, pick func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if pick == nil {
		return nil
	}
	return pick()
}

func (f *Fake) Connect(ctx context.Context, name string) error {
	return f.record(Call{Op: "connect", Name: name}, func() error { return f.ConnectErr })
}

func (f *Fake) QueryConnect() error {
	return f.record(Call{Op: "query-connect"}, func() error { return f.QueryConnectErr })
}

func (f *Fake) QueryStart(pixFmt client.FourCC, width, height int) error {
	return f.record(Call{Op: "start", Format: pixFmt, Width: width, Height: height}, func() error { return f.StartErr })
}

func (f *Fake) QueryStop() error {
	return f.record(Call{Op: "stop"}, func() error { return f.StopErr })
}

func (f *Fake) QueryFrame(nv21, rgba []byte, wb client.WhiteBalance, exposureCompensation float32) error {
	if err := f.record(Call{Op: "frame", NV21: len(nv21), RGBA: len(rgba)}, func() error { return f.FrameErr }); err != nil {
		return err
	}
	for i := range nv21 {
		nv21[i] = f.Fill
	}
	for i := range rgba {
		rgba[i] = f.Fill
	}
	return nil
}

func (f *Fake) Close() error {
	return f.record(Call{Op: "close"}, nil)
}

// Calls returns a copy of the recorded queries.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ops returns the recorded operation names, in order.
func (f *Fake) Ops() []string {
	calls := f.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Count returns how many times op was queried.
func (f *Fake) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// SetFrameErr changes the injected QueryFrame error while the fake is in use.
func (f *Fake) SetFrameErr(err error) {
	f.mu.Lock()
	f.FrameErr = err
	f.mu.Unlock()
}

// SetStartErr changes the injected QueryStart error while the fake is in use.
func (f *Fake) SetStartErr(err error) {
	f.mu.Lock()
	f.StartErr = err
	f.mu.Unlock()
}

// String summarizes the recorded operations.
func (f *Fake) String() string {
	return fmt.Sprint(f.Ops())
}
