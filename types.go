package virtualsensor

import (
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/client"
	"github.com/e7canasta/orion-virtual-sensor/internal/client/synthetic"
	"github.com/e7canasta/orion-virtual-sensor/internal/control"
	"github.com/e7canasta/orion-virtual-sensor/internal/frame"
)

// Buffer is one destination image the sensor writes into.
type Buffer = frame.Buffer

// BufferSet is the ordered list of destination buffers for one request.
// The sensor may append auxiliary buffers to it (see Blob).
type BufferSet = frame.BufferSet

// CapturedFrameSet is a completed capture delivered by WaitForNewFrame.
type CapturedFrameSet = frame.CapturedFrameSet

// Listener receives exposure-start events on the timing goroutine.
// Implementations must not block.
type Listener = frame.Listener

// ListenerFunc adapts a function to Listener.
type ListenerFunc = frame.ListenerFunc

// PixelFormat is a destination buffer's declared format.
type PixelFormat = frame.PixelFormat

// DataSpace qualifies Blob buffers.
type DataSpace = frame.DataSpace

// Supported and recognized pixel formats.
const (
	RGB888         = frame.RGB888
	RGBA8888       = frame.RGBA8888
	YCbCr420888    = frame.YCbCr420888
	Blob           = frame.Blob
	RAW16          = frame.RAW16
	Implementation = frame.Implementation
)

const (
	DataSpaceUnknown = frame.DataSpaceUnknown
	DataSpaceJFIF    = frame.DataSpaceJFIF
	DataSpaceDepth   = frame.DataSpaceDepth
)

// Client is the image source protocol the sensor reads pixels from.
type Client = client.Client

// WhiteBalance holds per-channel gains applied by the source.
type WhiteBalance = client.WhiteBalance

// NeutralWhiteBalance applies no correction.
var NeutralWhiteBalance = client.NeutralWhiteBalance

// Sensor limits.
var (
	ExposureTimeRange  = control.ExposureTimeRange
	FrameDurationRange = control.FrameDurationRange
	SensitivityRange   = control.SensitivityRange
)

const (
	MinVerticalBlank   = control.MinVerticalBlank
	DefaultSensitivity = control.DefaultSensitivity
)

// NewBufferSet groups buffers into one request.
func NewBufferSet(buffers ...*Buffer) *BufferSet {
	return frame.NewBufferSet(buffers...)
}

// NV21Size, RGBA32Size and AuxBlobSize return the byte sizes the sensor
// writes for each format.
func NV21Size(width, height int) int    { return frame.NV21Size(width, height) }
func RGBA32Size(width, height int) int  { return frame.RGBA32Size(width, height) }
func AuxBlobSize(width, height int) int { return frame.AuxBlobSize(width, height) }

// NewSyntheticClient returns an in-process source producing moving colour
// bars. It needs no hardware.
func NewSyntheticClient() Client {
	return synthetic.New()
}

// Stats contains current sensor statistics
type Stats struct {
	// Cycles is the number of exposure cycles run
	Cycles uint64
	// Overruns counts cycles whose work exceeded the frame duration
	Overruns uint64
	// Delivered counts frames handed to the readout slot
	Delivered uint64
	// Dropped counts frames discarded at shutdown, captured but never
	// published or published but never taken
	Dropped uint64
	// ReadoutStalls counts cycles that waited on a slow consumer
	ReadoutStalls uint64

	// Captured counts destination buffers filled
	Captured uint64
	// Skipped counts destination buffers left unwritten
	Skipped uint64
	// AuxBuffers counts auxiliary Blob buffers synthesized
	AuxBuffers uint64
	// AuxReuses counts auxiliary buffers served from the pool
	AuxReuses uint64

	// FPSMean is the measured cycle rate over recent cycles
	FPSMean float64
	// MaxDeviation is the largest recent |cycle interval - frame duration|
	MaxDeviation time.Duration
	// OnCadence is true when every recent cycle was within 2ms of target
	OnCadence bool

	// DeviceState is disconnected, connected or streaming
	DeviceState string
	// Resolution is the active source resolution (e.g., "640x480")
	Resolution string
}
