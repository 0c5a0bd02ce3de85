// Package client defines the protocol spoken to the image source that
// backs the virtual sensor (a host webcam, a GStreamer pipeline, a test
// pattern generator).
//
// The source supports exactly one active streaming mode at a time.
package client

import (
	"context"
	"errors"
	"fmt"
)

// FourCC is a V4L2 pixel format code.
type FourCC uint32

// NewFourCC packs four characters into a FourCC.
func NewFourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	// PixFmtNV21 is the native format of every source.
	PixFmtNV21 = NewFourCC('N', 'V', '2', '1')
	// PixFmtRGB32 is the preview format sources convert to on request.
	PixFmtRGB32 = NewFourCC('R', 'G', 'B', '4')
)

// String returns the four characters of the code
func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// WhiteBalance holds per-channel gains applied by the source.
type WhiteBalance struct {
	R, G, B float32
}

// NeutralWhiteBalance applies no correction.
var NeutralWhiteBalance = WhiteBalance{R: 1, G: 1, B: 1}

var (
	// ErrNotConnected is returned by queries issued before Connect.
	ErrNotConnected = errors.New("client: not connected")
	// ErrNotStreaming is returned by QueryFrame and QueryStop while no
	// mode is active.
	ErrNotStreaming = errors.New("client: not streaming")
	// ErrDeviceBusy is returned by QueryStart while another mode is active.
	ErrDeviceBusy = errors.New("client: device already streaming")
)

// Client is the collaborator the capture dispatcher reads frames through.
//
// Sizes are carried by slice lengths: QueryFrame fills nv21 (if non-nil)
// with len(nv21) bytes of NV21 data and rgba (if non-nil) with len(rgba)
// bytes of RGBA data.
type Client interface {
	Connect(ctx context.Context, name string) error
	QueryConnect() error
	QueryStart(pixFmt FourCC, width, height int) error
	QueryStop() error
	QueryFrame(nv21, rgba []byte, wb WhiteBalance, exposureCompensation float32) error
	Close() error
}

// ValidateFrameRequest checks the buffer sizes of a QueryFrame call
// against the active mode.
func ValidateFrameRequest(nv21, rgba []byte, width, height int) error {
	if nv21 == nil && rgba == nil {
		return fmt.Errorf("client: frame request without destination")
	}
	if need := width * height * 12 / 8; nv21 != nil && len(nv21) < need {
		return fmt.Errorf("client: nv21 buffer too small (%d < %d)", len(nv21), need)
	}
	if need := width * height * 4; rgba != nil && len(rgba) < need {
		return fmt.Errorf("client: rgba buffer too small (%d < %d)", len(rgba), need)
	}
	return nil
}
