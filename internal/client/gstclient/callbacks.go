package gstclient

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// frameSlot holds the most recent NV21 frame delivered by the appsink.
// Older frames are overwritten; QueryFrame always reads the newest one.
type frameSlot struct {
	mu     sync.Mutex
	data   []byte
	seq    uint64
	fresh  chan struct{} // capacity 1, signalled on every store
	width  int
	height int

	received atomic.Uint64
	dropped  atomic.Uint64 // overwritten before being read
	bytes    atomic.Uint64
	readSeq  uint64
}

func newFrameSlot(width, height int) *frameSlot {
	return &frameSlot{
		data:   make([]byte, width*height*12/8),
		fresh:  make(chan struct{}, 1),
		width:  width,
		height: height,
	}
}

// store repacks src into the slot and signals waiters.
func (s *frameSlot) store(src []byte) error {
	s.mu.Lock()
	if err := repackNV21(s.data, src, s.width, s.height); err != nil {
		s.mu.Unlock()
		return err
	}
	s.seq++
	if s.seq-s.readSeq > 1 {
		s.dropped.Add(1)
	}
	s.mu.Unlock()

	s.received.Add(1)
	s.bytes.Add(uint64(len(src)))

	select {
	case s.fresh <- struct{}{}:
	default:
	}
	return nil
}

// read copies the newest frame into dst and returns its sequence number.
func (s *frameSlot) read(dst []byte) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(dst, s.data)
	s.readSeq = s.seq
	return s.seq
}

// onNewSample is called by GStreamer when a new frame is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer to read pixel data
//  3. Copies data into the slot (GStreamer will reuse the buffer)
//
// A bad sample is skipped, never fatal to the stream.
func onNewSample(sink *app.Sink, slot *frameSlot) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstclient: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstclient: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstclient: empty buffer received")
		return gst.FlowOK
	}
	err := slot.store(data)
	buffer.Unmap()

	if err != nil {
		slog.Warn("gstclient: unexpected frame layout, skipping frame", "error", err)
	}
	return gst.FlowOK
}

// repackNV21 copies a GStreamer NV21 frame into a tightly packed dst.
//
// GStreamer aligns each plane row to 4 bytes, so a frame whose width is not
// a multiple of 4 arrives with padded rows.
func repackNV21(dst, src []byte, width, height int) error {
	tight := width * height * 12 / 8
	if len(dst) < tight {
		return fmt.Errorf("destination too small (%d < %d)", len(dst), tight)
	}
	if len(src) == tight {
		copy(dst, src)
		return nil
	}

	stride := (width + 3) &^ 3
	chromaRows := (height + 1) / 2
	if len(src) < stride*height+stride*chromaRows {
		return fmt.Errorf("nv21 frame size %d does not match %dx%d (stride %d)", len(src), width, height, stride)
	}

	for y := 0; y < height; y++ {
		copy(dst[y*width:(y+1)*width], src[y*stride:y*stride+width])
	}
	srcVU := src[stride*height:]
	dstVU := dst[width*height:]
	for y := 0; y < height/2; y++ {
		copy(dstVU[y*width:(y+1)*width], srcVU[y*stride:y*stride+width])
	}
	return nil
}
