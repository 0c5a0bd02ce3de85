package main

import (
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	virtualsensor "github.com/e7canasta/orion-virtual-sensor"
)

// FrameSaver writes one frame out of every N to disk.
//
// RGBA and YCbCr buffers are saved as PNG, encoded BLOB streams as the
// JPEG bytes the consumer produced.
type FrameSaver struct {
	outputDir     string
	every         uint32
	framesSaved   atomic.Uint64
	framesDropped atomic.Uint64
}

// NewFrameSaver creates the output directory if needed.
func NewFrameSaver(outputDir string, every int) (*FrameSaver, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if every < 1 {
		every = 1
	}
	return &FrameSaver{outputDir: outputDir, every: uint32(every)}, nil
}

func (fs *FrameSaver) selected(frameNumber uint32) bool {
	return frameNumber%fs.every == 0
}

// filename format: frame_{seq:06d}_s{stream}_{timestamp}.{ext}
// Example: frame_000042_s0_20251105_234517.123.png
func (fs *FrameSaver) path(frameNumber uint32, stream int, ts time.Time, ext string) string {
	name := fmt.Sprintf("frame_%06d_s%d_%s.%s",
		frameNumber,
		stream,
		ts.Format("20060102_150405.000"),
		ext)
	return filepath.Join(fs.outputDir, name)
}

// SaveBuffer saves an RGBA8888 or YCbCr420888 buffer as PNG.
func (fs *FrameSaver) SaveBuffer(frameNumber uint32, ts time.Time, b *virtualsensor.Buffer) {
	if !fs.selected(frameNumber) {
		return
	}

	var img image.Image
	switch b.Format {
	case virtualsensor.RGBA8888:
		if len(b.Img) < virtualsensor.RGBA32Size(b.Width, b.Height) {
			fs.drop("rgba buffer too small", frameNumber)
			return
		}
		img = &image.RGBA{
			Pix:    b.Img,
			Stride: b.Width * 4,
			Rect:   image.Rect(0, 0, b.Width, b.Height),
		}
	case virtualsensor.YCbCr420888:
		ycc, err := nv21ToYCbCr(b.Img, b.Width, b.Height)
		if err != nil {
			fs.drop(err.Error(), frameNumber)
			return
		}
		img = ycc
	default:
		return
	}

	file, err := os.Create(fs.path(frameNumber, b.StreamID, ts, "png"))
	if err != nil {
		fs.drop(err.Error(), frameNumber)
		return
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		fs.drop(err.Error(), frameNumber)
		return
	}
	fs.framesSaved.Add(1)
}

// SaveJPEG writes already encoded JPEG data.
func (fs *FrameSaver) SaveJPEG(frameNumber uint32, stream int, ts time.Time, data []byte) {
	if !fs.selected(frameNumber) {
		return
	}
	if err := os.WriteFile(fs.path(frameNumber, stream, ts, "jpg"), data, 0644); err != nil {
		fs.drop(err.Error(), frameNumber)
		return
	}
	fs.framesSaved.Add(1)
}

func (fs *FrameSaver) drop(reason string, frameNumber uint32) {
	fs.framesDropped.Add(1)
	slog.Error("failed to save frame", "frame_number", frameNumber, "error", reason)
}

// Stats returns current save statistics.
func (fs *FrameSaver) Stats() (saved, dropped uint64) {
	return fs.framesSaved.Load(), fs.framesDropped.Load()
}
