package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	virtualsensor "github.com/e7canasta/orion-virtual-sensor"
)

// inFlight bounds the requests owned by the sensor or the consumer at once.
// The sensor holds at most two (pending capture and readout slot).
const inFlight = 4

const jpegQuality = 90

type streamSpec struct {
	format    virtualsensor.PixelFormat
	dataSpace virtualsensor.DataSpace
}

// parseLayout maps config format names to the buffers of one request.
func parseLayout(formats []string) ([]streamSpec, error) {
	layout := make([]streamSpec, 0, len(formats))
	for _, f := range formats {
		switch strings.ToLower(f) {
		case "rgba":
			layout = append(layout, streamSpec{format: virtualsensor.RGBA8888})
		case "nv21":
			layout = append(layout, streamSpec{format: virtualsensor.YCbCr420888})
		case "blob":
			layout = append(layout, streamSpec{format: virtualsensor.Blob, dataSpace: virtualsensor.DataSpaceJFIF})
		default:
			return nil, fmt.Errorf("unknown format %q", f)
		}
	}
	if len(layout) == 0 {
		return nil, fmt.Errorf("no formats requested")
	}
	return layout, nil
}

// request owns the memory of one capture request. It is recycled once the
// consumer is done with the captured frame.
type request struct {
	width, height int
	layout        []streamSpec
	imgs          [][]byte
}

func newRequest(width, height int, layout []streamSpec) *request {
	r := &request{width: width, height: height, layout: layout}
	for _, s := range layout {
		var size int
		switch s.format {
		case virtualsensor.RGBA8888:
			size = virtualsensor.RGBA32Size(width, height)
		case virtualsensor.YCbCr420888:
			size = virtualsensor.NV21Size(width, height)
		default:
			size = virtualsensor.AuxBlobSize(width, height)
		}
		r.imgs = append(r.imgs, make([]byte, size))
	}
	return r
}

// bufferSet builds a fresh set over the request memory. Each buffer's
// Handle points back at r.
func (r *request) bufferSet() *virtualsensor.BufferSet {
	buffers := make([]*virtualsensor.Buffer, len(r.layout))
	for i, s := range r.layout {
		buffers[i] = &virtualsensor.Buffer{
			StreamID:  i,
			Width:     r.width,
			Height:    r.height,
			Format:    s.format,
			Stride:    r.width,
			Handle:    r,
			Img:       r.imgs[i],
			DataSpace: s.dataSpace,
		}
	}
	return virtualsensor.NewBufferSet(buffers...)
}

// Producer submits one request per vertical sync, as a HAL request thread
// does.
type Producer struct {
	sensor *virtualsensor.Sensor
	free   chan *request
	limit  int

	submitted atomic.Uint64
	starved   atomic.Uint64 // syncs with no free request
}

func NewProducer(sensor *virtualsensor.Sensor, width, height int, layout []streamSpec, limit int) *Producer {
	p := &Producer{
		sensor: sensor,
		free:   make(chan *request, inFlight),
		limit:  limit,
	}
	for i := 0; i < inFlight; i++ {
		p.free <- newRequest(width, height, layout)
	}
	return p
}

// Run submits requests until ctx is cancelled or the frame limit is reached.
func (p *Producer) Run(ctx context.Context) {
	var frameNumber uint32
	for p.limit == 0 || int(frameNumber) < p.limit {
		if !p.sensor.WaitForVSync(time.Second) {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("producer: no vertical sync within 1s")
			continue
		}
		if ctx.Err() != nil {
			return
		}

		var req *request
		select {
		case req = <-p.free:
		default:
			p.starved.Add(1)
			slog.Debug("producer: all requests in flight, skipping sync", "frame_number", frameNumber)
			continue
		}

		p.sensor.SetFrameNumber(frameNumber)
		p.sensor.SetDestinationBuffers(req.bufferSet())
		p.submitted.Add(1)
		frameNumber++
	}
	slog.Info("producer: frame limit reached", "frames", p.limit)
}

func (p *Producer) recycle(r *request) {
	select {
	case p.free <- r:
	default:
	}
}

// Consumer reads captured frames, encodes BLOB streams and returns request
// memory to the producer.
type Consumer struct {
	sensor   *virtualsensor.Sensor
	producer *Producer
	saver    *FrameSaver
	limit    int

	received    atomic.Uint64
	encoded     atomic.Uint64
	encodeFails atomic.Uint64
	lastLatency atomic.Int64 // capture time to readout, ns
}

func NewConsumer(sensor *virtualsensor.Sensor, producer *Producer, saver *FrameSaver, limit int) *Consumer {
	return &Consumer{sensor: sensor, producer: producer, saver: saver, limit: limit}
}

// Run reads frames until ctx is cancelled or limit frames were received.
func (c *Consumer) Run(ctx context.Context) {
	for {
		fs, ok := c.sensor.WaitForNewFrame(time.Second)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		c.handle(fs)
		if c.limit > 0 && c.received.Load() >= uint64(c.limit) {
			return
		}
	}
}

func (c *Consumer) handle(fs virtualsensor.CapturedFrameSet) {
	defer fs.Release()

	c.received.Add(1)
	c.lastLatency.Store(int64(time.Since(fs.CaptureTime)))

	buffers := fs.Buffers.Buffers()
	var aux *virtualsensor.Buffer
	for _, b := range buffers {
		if b.Aux {
			aux = b
		}
	}

	var req *request
	for _, b := range buffers {
		if r, ok := b.Handle.(*request); ok {
			req = r
		}
		if b.Format != virtualsensor.Blob || b.DataSpace != virtualsensor.DataSpaceJFIF {
			continue
		}
		if aux == nil {
			slog.Warn("consumer: blob buffer without intermediate image", "frame_number", fs.FrameNumber)
			continue
		}

		n, err := encodeJPEG(b.Img, aux.Img, aux.Width, aux.Height, jpegQuality)
		if err != nil {
			c.encodeFails.Add(1)
			slog.Warn("consumer: jpeg encode failed", "frame_number", fs.FrameNumber, "error", err)
			continue
		}
		c.encoded.Add(1)
		if c.saver != nil {
			c.saver.SaveJPEG(fs.FrameNumber, b.StreamID, fs.CaptureTime, b.Img[:n])
		}
	}

	if c.saver != nil {
		for _, b := range buffers {
			if !b.Aux && b.Format != virtualsensor.Blob {
				c.saver.SaveBuffer(fs.FrameNumber, fs.CaptureTime, b)
			}
		}
	}

	slog.Debug("consumer: frame read out",
		"frame_number", fs.FrameNumber,
		"trace_id", fs.TraceID,
		"buffers", len(buffers),
	)

	if req != nil {
		c.producer.recycle(req)
	}
}

// encodeJPEG compresses an NV21 image into dst and returns the encoded size.
func encodeJPEG(dst, nv21 []byte, width, height, quality int) (int, error) {
	img, err := nv21ToYCbCr(nv21, width, height)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return 0, fmt.Errorf("jpeg encode: %w", err)
	}
	if buf.Len() > len(dst) {
		return 0, fmt.Errorf("jpeg of %d bytes does not fit blob buffer of %d", buf.Len(), len(dst))
	}
	return copy(dst, buf.Bytes()), nil
}

// nv21ToYCbCr splits the interleaved VU plane into the planar layout
// image.YCbCr uses.
func nv21ToYCbCr(nv21 []byte, width, height int) (*image.YCbCr, error) {
	if want := virtualsensor.NV21Size(width, height); len(nv21) < want {
		return nil, fmt.Errorf("nv21 image too small (%d < %d)", len(nv21), want)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, nv21[:width*height])

	vu := nv21[width*height:]
	for i := range img.Cb {
		img.Cr[i] = vu[2*i]
		img.Cb[i] = vu[2*i+1]
	}
	return img, nil
}
