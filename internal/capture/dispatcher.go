// Package capture fills destination buffers from the image source
// according to each buffer's declared pixel format.
package capture

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
	"github.com/e7canasta/orion-virtual-sensor/internal/device"
	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

// Config tunes what the source applies to every frame.
type Config struct {
	WhiteBalance         client.WhiteBalance
	ExposureCompensation float32
	// AuxPoolSize bounds idle BLOB intermediate buffers kept per size.
	AuxPoolSize int
}

// DefaultConfig applies no white balance or exposure compensation.
func DefaultConfig() Config {
	return Config{
		WhiteBalance:         client.NeutralWhiteBalance,
		ExposureCompensation: 1,
		AuxPoolSize:          4,
	}
}

// Stats counts dispatch outcomes.
type Stats struct {
	// Captured counts buffers filled by the source.
	Captured uint64
	// Skipped counts buffers left unwritten (unsupported format, start or
	// read failure, undersized image).
	Skipped uint64
	// AuxBuffers counts intermediate buffers appended for BLOB streams.
	AuxBuffers uint64
	// AuxAllocs and AuxReuses split AuxBuffers by pool outcome.
	AuxAllocs uint64
	AuxReuses uint64
	// AuxIdle is the number of pooled buffers waiting for reuse.
	AuxIdle int
}

// Dispatcher captures one buffer set per call. It is driven by the timing
// goroutine only; Stats may be read concurrently.
type Dispatcher struct {
	dev  *device.Device
	cfg  Config
	pool *AuxPool

	captured   atomic.Uint64
	skipped    atomic.Uint64
	auxBuffers atomic.Uint64
}

// NewDispatcher reads frames through dev.
func NewDispatcher(dev *device.Device, cfg Config) *Dispatcher {
	return &Dispatcher{
		dev:  dev,
		cfg:  cfg,
		pool: NewAuxPool(cfg.AuxPoolSize),
	}
}

// Capture fills every buffer of set. Failures are logged per buffer and
// never abort the pass.
//
// A BLOB buffer appends an auxiliary YCbCr buffer to set; the loop bound
// is re-read each iteration so the appended buffer is captured in the
// same pass and is ready for the encoder downstream.
func (d *Dispatcher) Capture(set *frame.BufferSet) {
	for i := 0; i < set.Len(); i++ {
		b := set.At(i)
		slog.Debug("capture: buffer",
			"index", i,
			"stream", b.StreamID,
			"resolution", fmt.Sprintf("%dx%d", b.Width, b.Height),
			"format", b.Format.String(),
			"stride", b.Stride,
		)

		switch b.Format {
		case frame.RGB888:
			slog.Error("capture: RGB_888 capture not implemented", "stream", b.StreamID)
			d.skipped.Add(1)
		case frame.RGBA8888:
			d.read(b, frame.RGBA32Size(b.Width, b.Height), false)
		case frame.YCbCr420888:
			d.read(b, frame.NV21Size(b.Width, b.Height), true)
		case frame.Blob:
			if b.DataSpace == frame.DataSpaceDepth {
				slog.Error("capture: depth clouds unsupported", "stream", b.StreamID)
				d.skipped.Add(1)
				continue
			}
			// Assumes a single BLOB buffer per request.
			img := d.pool.Get(frame.AuxBlobSize(b.Width, b.Height))
			set.Append(frame.NewAuxBuffer(b.Width, b.Height, img, d.pool))
			d.auxBuffers.Add(1)
		default:
			slog.Error("capture: unknown/unsupported format, no output",
				"stream", b.StreamID,
				"format", b.Format.String(),
			)
			d.skipped.Add(1)
		}
	}
}

// read brings the source to b's resolution and fetches one frame into b.
func (d *Dispatcher) read(b *frame.Buffer, size int, nv21 bool) {
	if err := d.dev.EnsureStreaming(b.Width, b.Height); err != nil {
		slog.Error("capture: source not streaming, buffer skipped",
			"stream", b.StreamID,
			"error", err,
		)
		d.skipped.Add(1)
		return
	}
	if b.Stride != b.Width {
		slog.Warn("capture: unexpected stride",
			"stream", b.StreamID,
			"expected", b.Width,
			"actual", b.Stride,
		)
	}
	if len(b.Img) < size {
		slog.Error("capture: destination too small, buffer skipped",
			"stream", b.StreamID,
			"size", len(b.Img),
			"need", size,
		)
		d.skipped.Add(1)
		return
	}

	var err error
	if nv21 {
		err = d.dev.ReadFrame(b.Img[:size], nil, d.cfg.WhiteBalance, d.cfg.ExposureCompensation)
	} else {
		err = d.dev.ReadFrame(nil, b.Img[:size], d.cfg.WhiteBalance, d.cfg.ExposureCompensation)
	}
	if err != nil {
		slog.Error("capture: frame read failed", "stream", b.StreamID, "error", err)
		d.skipped.Add(1)
		return
	}
	d.captured.Add(1)
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Captured:   d.captured.Load(),
		Skipped:    d.skipped.Load(),
		AuxBuffers: d.auxBuffers.Load(),
		AuxAllocs:  d.pool.allocs.Load(),
		AuxReuses:  d.pool.reuses.Load(),
		AuxIdle:    d.pool.Idle(),
	}
}
