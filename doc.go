// Package virtualsensor emulates a rolling-shutter camera sensor on top of
// an ordinary image source.
//
// A single timing goroutine runs one exposure cycle per frame duration.
// Each cycle it fires VSync, hands the previous cycle's capture to the
// readout consumer, and fills the destination buffers most recently
// submitted. Captured pixels therefore reach the consumer exactly one
// cycle after the request, as on a physical sensor.
//
// # Quick Start
//
//	sensor, err := virtualsensor.New(virtualsensor.DefaultConfig(), virtualsensor.NewSyntheticClient())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sensor.StartUp(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer sensor.ShutDown()
//
//	img := make([]byte, virtualsensor.RGBA32Size(640, 480))
//	sensor.SetFrameNumber(1)
//	sensor.SetDestinationBuffers(virtualsensor.NewBufferSet(&virtualsensor.Buffer{
//	    Width: 640, Height: 480, Stride: 640,
//	    Format: virtualsensor.RGBA8888,
//	    Img:    img,
//	}))
//
//	if f, ok := sensor.WaitForNewFrame(time.Second); ok {
//	    // img holds frame 1, exposed at f.CaptureTime
//	    f.Release()
//	}
//
// # Threading
//
// The control setters and the readout waits are safe for concurrent use.
// There is one producer of frames (the timing goroutine) and any number of
// consumers. The readout slot holds one frame: a consumer that falls
// behind blocks the timing goroutine rather than losing frames.
//
// # Formats
//
//   - RGBA8888: filled from the source's RGBA output
//   - YCbCr420888: filled directly in NV21
//   - Blob (non-depth): an auxiliary NV21 buffer of the same size is appended
//     to the set and filled, for a downstream encoder
//   - RGB888, depth Blob and anything else are logged and left unwritten
//
// Auxiliary buffers come from a bounded pool. Call CapturedFrameSet.Release
// once they are consumed to recycle them; unreleased buffers are simply
// garbage collected.
package virtualsensor
