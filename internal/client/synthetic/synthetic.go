// Package synthetic is an in-process image source that renders moving
// colour bars. It needs no hardware and is the default source of the
// virtual sensor.
package synthetic

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
	"github.com/e7canasta/orion-virtual-sensor/internal/pixfmt"
)

var bars = []color.RGBA{
	{235, 235, 235, 255}, // white
	{235, 235, 16, 255},  // yellow
	{16, 235, 235, 255},  // cyan
	{16, 235, 16, 255},   // green
	{235, 16, 235, 255},  // magenta
	{235, 16, 16, 255},   // red
	{16, 16, 235, 255},   // blue
	{16, 16, 16, 255},    // black
}

// Source implements client.Client.
type Source struct {
	mu        sync.Mutex
	name      string
	connected bool
	streaming bool
	width     int
	height    int
	frames    uint64
	scratch   []byte
}

// New returns a disconnected source.
func New() *Source {
	return &Source{}
}

func (s *Source) Connect(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("synthetic: connect: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
	s.connected = true
	slog.Debug("synthetic: connected", "name", name)
	return nil
}

func (s *Source) QueryConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return client.ErrNotConnected
	}
	return nil
}

func (s *Source) QueryStart(pixFmt client.FourCC, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.connected:
		return client.ErrNotConnected
	case s.streaming:
		return client.ErrDeviceBusy
	case pixFmt != client.PixFmtNV21:
		return fmt.Errorf("synthetic: unsupported pixel format %s", pixFmt)
	case width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0:
		return fmt.Errorf("synthetic: invalid dimensions %dx%d", width, height)
	}

	s.streaming = true
	s.width = width
	s.height = height
	s.scratch = make([]byte, width*height*12/8)
	slog.Debug("synthetic: streaming started", "format", pixFmt.String(), "width", width, "height", height)
	return nil
}

func (s *Source) QueryStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return client.ErrNotStreaming
	}
	s.streaming = false
	s.scratch = nil
	return nil
}

// QueryFrame renders the next frame. Bars scroll one column per frame.
func (s *Source) QueryFrame(nv21, rgba []byte, wb client.WhiteBalance, exposureCompensation float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.streaming {
		return client.ErrNotStreaming
	}
	if err := client.ValidateFrameRequest(nv21, rgba, s.width, s.height); err != nil {
		return err
	}

	shift := int(s.frames % uint64(s.width))
	s.frames++
	barWidth := s.width / len(bars)
	if barWidth == 0 {
		barWidth = 1
	}
	at := func(x, _ int) color.RGBA {
		return bars[((x+shift)/barWidth)%len(bars)]
	}

	if err := pixfmt.FillNV21(s.scratch, s.width, s.height, at); err != nil {
		return err
	}
	gains := pixfmt.Gains{R: wb.R, G: wb.G, B: wb.B, Exposure: exposureCompensation}
	if nv21 != nil {
		n := copy(nv21, s.scratch)
		pixfmt.ApplyGainsNV21(nv21[:n], s.width, s.height, gains)
	}
	if rgba != nil {
		if err := pixfmt.NV21ToRGBA(rgba, s.scratch, s.width, s.height, gains); err != nil {
			return err
		}
	}
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.streaming = false
	s.scratch = nil
	return nil
}

// Frames returns how many frames have been rendered.
func (s *Source) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}
