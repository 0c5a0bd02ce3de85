// Package frame holds the data model shared by the sensor pipeline stages:
// destination buffers, captured frame sets and the exposure listener.
package frame

import (
	"fmt"
	"sync"
	"time"
)

// PixelFormat is the declared layout of a destination buffer.
// Values follow the HAL pixel format codes used by camera pipelines.
type PixelFormat int

const (
	RGBA8888       PixelFormat = 0x1
	RGB888         PixelFormat = 0x3
	RAW16          PixelFormat = 0x20
	Blob           PixelFormat = 0x21
	Implementation PixelFormat = 0x22
	// YCbCr420888 is delivered in NV21 layout (Y plane, interleaved VU).
	YCbCr420888 PixelFormat = 0x23
)

// String returns a human-readable name for the format
func (f PixelFormat) String() string {
	switch f {
	case RGBA8888:
		return "RGBA_8888"
	case RGB888:
		return "RGB_888"
	case RAW16:
		return "RAW16"
	case Blob:
		return "BLOB"
	case Implementation:
		return "IMPLEMENTATION_DEFINED"
	case YCbCr420888:
		return "YCbCr_420_888"
	default:
		return fmt.Sprintf("format(%#x)", int(f))
	}
}

// BytesPerPixel is the packed pixel size, or 0 for planar and opaque formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case RGBA8888:
		return 4
	case RGB888:
		return 3
	case RAW16:
		return 2
	default:
		return 0
	}
}

// DataSpace describes how the bytes of a buffer are to be interpreted.
type DataSpace int

const (
	DataSpaceUnknown DataSpace = iota
	DataSpaceJFIF
	DataSpaceDepth
)

// String returns a human-readable name for the data space
func (d DataSpace) String() string {
	switch d {
	case DataSpaceJFIF:
		return "jfif"
	case DataSpaceDepth:
		return "depth"
	default:
		return "unknown"
	}
}

// NV21Size is the byte size of a width×height NV21 image (12 bits per pixel).
func NV21Size(width, height int) int {
	return width * height * 12 / 8
}

// RGBA32Size is the byte size of a width×height RGBA image.
func RGBA32Size(width, height int) int {
	return width * height * 4
}

// AuxBlobSize is the size allocated for the intermediate buffer a BLOB
// stream is encoded from.
func AuxBlobSize(width, height int) int {
	return width * height * 3
}

// Buffer is one destination buffer of a capture request.
//
// Img is borrowed from the buffer owner and is only valid for the cycle
// that captures into it. Handle is opaque to the sensor.
type Buffer struct {
	StreamID  int
	Width     int
	Height    int
	Format    PixelFormat
	Stride    int
	Handle    any
	Img       []byte
	DataSpace DataSpace

	// Aux marks an intermediate buffer synthesized by the sensor for a
	// BLOB stream. Its Img belongs to pool until released.
	Aux  bool
	pool Recycler
}

// Recycler takes back sensor-owned memory.
type Recycler interface {
	Put(img []byte)
}

// NewAuxBuffer builds an intermediate YCbCr buffer owned by pool.
func NewAuxBuffer(width, height int, img []byte, pool Recycler) *Buffer {
	return &Buffer{
		Width:  width,
		Height: height,
		Format: YCbCr420888,
		Stride: width,
		Img:    img,
		Aux:    true,
		pool:   pool,
	}
}

// BufferSet is the ordered list of buffers of one capture request.
//
// It is shared by pointer: the sensor may append auxiliary buffers while
// capturing and the owner observes them after readout.
type BufferSet struct {
	mu      sync.Mutex
	buffers []*Buffer
}

// NewBufferSet creates a set holding buffers in order.
func NewBufferSet(buffers ...*Buffer) *BufferSet {
	return &BufferSet{buffers: buffers}
}

// Len returns the current number of buffers.
func (s *BufferSet) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers)
}

// At returns the i-th buffer.
func (s *BufferSet) At(i int) *Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffers[i]
}

// Append adds b at the end of the set.
func (s *BufferSet) Append(b *Buffer) {
	s.mu.Lock()
	s.buffers = append(s.buffers, b)
	s.mu.Unlock()
}

// Buffers returns a copy of the current list.
func (s *BufferSet) Buffers() []*Buffer {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Buffer, len(s.buffers))
	copy(out, s.buffers)
	return out
}

// Release hands every auxiliary buffer back to its pool and removes it
// from the set. Owner buffers are left untouched. Safe to call more than once.
func (s *BufferSet) Release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.buffers[:0]
	for _, b := range s.buffers {
		if !b.Aux {
			kept = append(kept, b)
			continue
		}
		if b.pool != nil && b.Img != nil {
			b.pool.Put(b.Img)
		}
		b.Img = nil
	}
	for i := len(kept); i < len(s.buffers); i++ {
		s.buffers[i] = nil
	}
	s.buffers = kept
}

// CapturedFrameSet is a completed capture travelling from the timing
// engine to the readout consumer.
type CapturedFrameSet struct {
	Buffers     *BufferSet
	CaptureTime time.Time
	FrameNumber uint32
	TraceID     string
}

// Release returns the auxiliary buffers of the set to their pool.
// Consumers call it once they are done with any BLOB intermediate data.
func (f CapturedFrameSet) Release() {
	f.Buffers.Release()
}

// Listener receives sensor events.
//
// OnExposureStart is called synchronously from the timing goroutine and
// must not block.
type Listener interface {
	OnExposureStart(frameNumber uint32, timestamp time.Time)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(frameNumber uint32, timestamp time.Time)

// OnExposureStart calls f(frameNumber, timestamp).
func (f ListenerFunc) OnExposureStart(frameNumber uint32, timestamp time.Time) {
	f(frameNumber, timestamp)
}
