package gstclient

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// videotestsrc pattern enum values
var patterns = map[string]int{
	"smpte":      0,
	"snow":       1,
	"black":      2,
	"white":      3,
	"red":        4,
	"green":      5,
	"blue":       6,
	"checkers-1": 7,
	"circular":   12,
	"ball":       18,
	"smpte100":   19,
	"bar":        20,
}

// PipelineConfig contains configuration for GStreamer pipeline creation
type PipelineConfig struct {
	// Pattern selects a videotestsrc pattern when V4L2Device is empty
	Pattern string
	// V4L2Device is a capture device path (e.g., "/dev/video0")
	V4L2Device string
	Width      int
	Height     int
}

// pipelineElements holds references to GStreamer pipeline elements
// needed for callbacks and cleanup
type pipelineElements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	CapsFilter *gst.Element
}

// createPipeline creates and configures a GStreamer pipeline producing
// NV21 frames at the configured resolution.
//
// Pipeline structure:
//
//	(v4l2src | videotestsrc) → videoconvert → videoscale → capsfilter(NV21) → appsink
//
// The pipeline is configured but NOT started (state remains NULL).
func createPipeline(cfg PipelineConfig) (*pipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	if cfg.V4L2Device != "" {
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.V4L2Device)
	} else {
		src, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create videotestsrc: %w", err)
		}
		pattern, ok := patterns[cfg.Pattern]
		if !ok {
			slog.Warn("gstclient: unknown pattern, using smpte", "pattern", cfg.Pattern)
		}
		src.SetProperty("pattern", pattern)
		src.SetProperty("is-live", true) // Produce at the source framerate
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := buildCaps(cfg.Width, cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames

	pipeline.AddMany(src, converter, scaler, capsfilter, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, scaler, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("gstclient: pipeline created",
		"source", sourceName(cfg),
		"caps", capsStr,
	)

	return &pipelineElements{
		Pipeline:   pipeline,
		AppSink:    appsink,
		CapsFilter: capsfilter,
	}, nil
}

// destroyPipeline sets the pipeline to NULL, releasing its resources.
// Safe to call on a nil or already destroyed pipeline.
func destroyPipeline(elements *pipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// buildCaps locks the appsink input to tightly sized NV21 frames.
func buildCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=NV21,width=%d,height=%d", width, height)
}

func sourceName(cfg PipelineConfig) string {
	if cfg.V4L2Device != "" {
		return "v4l2src:" + cfg.V4L2Device
	}
	if cfg.Pattern == "" {
		return "videotestsrc:smpte"
	}
	return "videotestsrc:" + cfg.Pattern
}

// checkGStreamerAvailable checks that GStreamer can build elements.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
