// Package device owns the connection to the image source and its single
// active streaming mode.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
)

// State is the connection state of the source.
type State int

const (
	Disconnected State = iota
	Connected
	Streaming
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Mode is the active streaming configuration.
type Mode struct {
	Width  int
	Height int
	Format client.FourCC
}

// noRequest is the sentinel for "no resolution requested yet".
const noRequest = -1

// Device tracks the source's state and the last resolution requested
// from it. All methods are safe for concurrent use.
//
// Lifecycle queries run with mu held. ReadFrame releases mu before the
// frame fetch so State and Mode never wait on a capture; it must only be
// called from the goroutine that calls EnsureStreaming.
type Device struct {
	client client.Client
	name   string

	mu         sync.Mutex
	state      State
	mode       Mode
	lastWidth  int
	lastHeight int
}

// New wraps c. name identifies the source to connect to.
func New(c client.Client, name string) *Device {
	return &Device{
		client:     c,
		name:       name,
		lastWidth:  noRequest,
		lastHeight: noRequest,
	}
}

// Name returns the source name.
func (d *Device) Name() string {
	return d.name
}

// Connect opens the source and confirms it answers.
// Failure here is fatal to sensor start-up.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.client.Connect(ctx, "name="+d.name); err != nil {
		return fmt.Errorf("device: connect %q: %w", d.name, err)
	}
	if err := d.client.QueryConnect(); err != nil {
		slog.Error("device: connection failed", "device", d.name, "error", err)
		return fmt.Errorf("device: query connect %q: %w", d.name, err)
	}

	d.state = Connected
	slog.Info("device: connected", "device", d.name)
	return nil
}

// EnsureStreaming makes width×height the active mode.
//
// Requesting the resolution of the active stream is a no-op. Any other
// resolution stops the stream (unless this is the first request) and
// restarts it in NV21 at the new size. A failed start is returned and not
// retried here; the next request that needs the stream tries again.
func (d *Device) EnsureStreaming(width, height int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if width == d.lastWidth && height == d.lastHeight && d.state == Streaming {
		return nil
	}

	slog.Info("device: requested dimensions differ from previous request, restarting",
		"device", d.name,
		"requested", fmt.Sprintf("%dx%d", width, height),
		"previous", fmt.Sprintf("%dx%d", d.lastWidth, d.lastHeight),
	)

	if d.lastWidth != noRequest || d.lastHeight != noRequest {
		d.stopLocked()
	}

	pixFmt := client.PixFmtNV21
	if err := d.client.QueryStart(pixFmt, width, height); err != nil {
		slog.Error("device: unable to start",
			"device", d.name,
			"format", pixFmt.String(),
			"resolution", fmt.Sprintf("%dx%d", width, height),
			"error", err,
		)
		return fmt.Errorf("device: start %s %dx%d: %w", pixFmt, width, height, err)
	}

	d.lastWidth = width
	d.lastHeight = height
	d.state = Streaming
	d.mode = Mode{Width: width, Height: height, Format: pixFmt}
	slog.Debug("device: started",
		"device", d.name,
		"format", pixFmt.String(),
		"resolution", fmt.Sprintf("%dx%d", width, height),
	)
	return nil
}

// ReadFrame fetches one frame from the active stream.
func (d *Device) ReadFrame(nv21, rgba []byte, wb client.WhiteBalance, exposureCompensation float32) error {
	d.mu.Lock()
	streaming := d.state == Streaming
	d.mu.Unlock()

	if !streaming {
		return fmt.Errorf("device: read frame: %w", client.ErrNotStreaming)
	}
	if err := d.client.QueryFrame(nv21, rgba, wb, exposureCompensation); err != nil {
		return fmt.Errorf("device: read frame: %w", err)
	}
	return nil
}

// Stop stops the stream if one is active. Idempotent.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Device) stopLocked() error {
	if d.state != Streaming {
		return nil
	}
	if err := d.client.QueryStop(); err != nil {
		slog.Error("device: unable to stop", "device", d.name, "error", err)
		return fmt.Errorf("device: stop %q: %w", d.name, err)
	}
	d.state = Connected
	slog.Debug("device: stopped", "device", d.name)
	return nil
}

// Disconnect stops any stream and closes the source. Idempotent.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == Disconnected {
		return nil
	}
	stopErr := d.stopLocked()
	if err := d.client.Close(); err != nil {
		slog.Error("device: close failed", "device", d.name, "error", err)
		return fmt.Errorf("device: close %q: %w", d.name, err)
	}
	d.state = Disconnected
	d.mode = Mode{}
	d.lastWidth = noRequest
	d.lastHeight = noRequest
	slog.Info("device: disconnected", "device", d.name)
	return stopErr
}

// State returns the connection state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Mode returns the active mode. Meaningful only while Streaming.
func (d *Device) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}
