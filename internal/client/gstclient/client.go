// Package gstclient is an image source backed by a GStreamer pipeline:
// a V4L2 capture device or videotestsrc, converted to NV21 at the
// requested resolution.
package gstclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
	"github.com/e7canasta/orion-virtual-sensor/internal/pixfmt"
)

// ErrFrameTimeout is returned when no frame arrives within Config.FrameTimeout.
var ErrFrameTimeout = errors.New("gstclient: timed out waiting for frame")

// Config selects the GStreamer source.
type Config struct {
	// Pattern is the videotestsrc pattern (default: smpte)
	Pattern string
	// V4L2Device, when set, captures from a device instead of videotestsrc
	V4L2Device string
	// FrameTimeout bounds QueryFrame (default: 2s)
	FrameTimeout time.Duration
}

// Stats contains source statistics
type Stats struct {
	FramesReceived uint64
	FramesDropped  uint64 // overwritten before any QueryFrame read them
	BytesRead      uint64
	ErrorsDevice   uint64
	ErrorsFormat   uint64
	ErrorsUnknown  uint64
}

// Client implements client.Client on GStreamer.
type Client struct {
	cfg Config

	mu        sync.Mutex
	name      string
	connected bool
	elements  *pipelineElements
	slot      *frameSlot
	width     int
	height    int

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	busErr        atomic.Pointer[error]

	frameMu sync.Mutex // serializes QueryFrame
	scratch []byte

	errorCounts [3]atomic.Uint64 // indexed by ErrorCategory
	received    atomic.Uint64    // totals across restarts
	dropped     atomic.Uint64
	bytes       atomic.Uint64
}

// New returns a disconnected client.
func New(cfg Config) *Client {
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	return &Client{cfg: cfg}
}

// Connect verifies GStreamer is usable. name is informational.
func (c *Client) Connect(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("gstclient: connect: %w", err)
	}
	if err := checkGStreamerAvailable(); err != nil {
		return fmt.Errorf("gstclient: connect: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.connected = true
	slog.Info("gstclient: connected",
		"name", name,
		"source", sourceName(PipelineConfig{Pattern: c.cfg.Pattern, V4L2Device: c.cfg.V4L2Device}),
	)
	return nil
}

func (c *Client) QueryConnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return client.ErrNotConnected
	}
	return nil
}

// QueryStart builds and plays a pipeline producing width×height NV21.
func (c *Client) QueryStart(pixFmt client.FourCC, width, height int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case !c.connected:
		return client.ErrNotConnected
	case c.elements != nil:
		return client.ErrDeviceBusy
	case pixFmt != client.PixFmtNV21:
		return fmt.Errorf("gstclient: unsupported pixel format %s", pixFmt)
	case width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0:
		return fmt.Errorf("gstclient: invalid dimensions %dx%d", width, height)
	}

	elements, err := createPipeline(PipelineConfig{
		Pattern:    c.cfg.Pattern,
		V4L2Device: c.cfg.V4L2Device,
		Width:      width,
		Height:     height,
	})
	if err != nil {
		return fmt.Errorf("gstclient: start: %w", err)
	}

	slot := newFrameSlot(width, height)
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, slot)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		destroyPipeline(elements)
		return fmt.Errorf("gstclient: failed to start pipeline: %w", err)
	}

	c.busErr.Store(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.monitorBus(ctx, elements.Pipeline); err != nil {
			c.busErr.Store(&err)
		}
	}()

	c.elements = elements
	c.slot = slot
	c.width, c.height = width, height
	c.monitorCancel, c.monitorDone = cancel, done

	slog.Info("gstclient: pipeline started",
		"format", pixFmt.String(),
		"resolution", fmt.Sprintf("%dx%d", width, height),
	)
	return nil
}

func (c *Client) QueryStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.elements == nil {
		return client.ErrNotStreaming
	}
	return c.stopLocked()
}

func (c *Client) stopLocked() error {
	c.monitorCancel()
	<-c.monitorDone

	err := destroyPipeline(c.elements)
	c.received.Add(c.slot.received.Load())
	c.dropped.Add(c.slot.dropped.Load())
	c.bytes.Add(c.slot.bytes.Load())
	c.elements = nil
	c.slot = nil

	if err != nil {
		return fmt.Errorf("gstclient: stop: %w", err)
	}
	slog.Debug("gstclient: pipeline stopped")
	return nil
}

// QueryFrame waits for a frame newer than the last one read and copies it
// into nv21 and/or rgba.
func (c *Client) QueryFrame(nv21, rgba []byte, wb client.WhiteBalance, exposureCompensation float32) error {
	c.frameMu.Lock()
	defer c.frameMu.Unlock()

	c.mu.Lock()
	slot := c.slot
	width, height := c.width, c.height
	c.mu.Unlock()

	if slot == nil {
		return client.ErrNotStreaming
	}
	if err := client.ValidateFrameRequest(nv21, rgba, width, height); err != nil {
		return err
	}
	if p := c.busErr.Load(); p != nil {
		return fmt.Errorf("gstclient: pipeline failed: %w", *p)
	}

	timer := time.NewTimer(c.cfg.FrameTimeout)
	defer timer.Stop()
	select {
	case <-slot.fresh:
	case <-timer.C:
		return ErrFrameTimeout
	}

	gains := pixfmt.Gains{R: wb.R, G: wb.G, B: wb.B, Exposure: exposureCompensation}
	size := width * height * 12 / 8

	if nv21 != nil {
		slot.read(nv21[:size])
		pixfmt.ApplyGainsNV21(nv21[:size], width, height, gains)
	}
	if rgba != nil {
		if len(c.scratch) != size {
			c.scratch = make([]byte, size)
		}
		slot.read(c.scratch)
		if err := pixfmt.NV21ToRGBA(rgba, c.scratch, width, height, gains); err != nil {
			return fmt.Errorf("gstclient: %w", err)
		}
	}
	return nil
}

// Close stops any pipeline and disconnects. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.elements != nil {
		err = c.stopLocked()
	}
	if c.connected {
		slog.Info("gstclient: disconnected", "name", c.name)
	}
	c.connected = false
	return err
}

// Stats returns counters across all pipelines run by this client.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		FramesReceived: c.received.Load(),
		FramesDropped:  c.dropped.Load(),
		BytesRead:      c.bytes.Load(),
	}
	if c.slot != nil {
		s.FramesReceived += c.slot.received.Load()
		s.FramesDropped += c.slot.dropped.Load()
		s.BytesRead += c.slot.bytes.Load()
	}
	c.mu.Unlock()

	s.ErrorsDevice = c.errorCounts[ErrCategoryDevice].Load()
	s.ErrorsFormat = c.errorCounts[ErrCategoryFormat].Load()
	s.ErrorsUnknown = c.errorCounts[ErrCategoryUnknown].Load()
	return s
}

// monitorBus watches the pipeline bus until ctx ends or the pipeline
// fails. A returned error is reported by later QueryFrame calls.
func (c *Client) monitorBus(ctx context.Context, pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		// Poll with short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstclient: end of stream received")
			return fmt.Errorf("end of stream")

		case gst.MessageError:
			gerr := msg.ParseError()
			category := classifyGStreamerError(gerr)
			c.errorCounts[category].Add(1)

			slog.Error("gstclient: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
			)
			return fmt.Errorf("pipeline error [%s]: %s", category.String(), gerr.Error())

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstclient: pipeline state changed", "from", old, "to", new)
			}
		}
	}
}
