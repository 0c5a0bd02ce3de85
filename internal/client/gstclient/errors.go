package gstclient

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryDevice indicates capture device failures (missing, busy, permissions)
	ErrCategoryDevice ErrorCategory = iota
	// ErrCategoryFormat indicates caps negotiation failures (resolution or format unsupported)
	ErrCategoryFormat
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryFormat:
		return "format"
	default:
		return "unknown"
	}
}

var deviceKeywords = []string{
	"no such file",
	"not found",
	"busy",
	"permission denied",
	"cannot identify device",
	"could not open device",
	"failed to open",
	"v4l2",
}

var formatKeywords = []string{
	"not negotiated",
	"not-negotiated",
	"negotiation",
	"caps",
	"format",
	"resolution",
	"no supported",
}

// classifyGStreamerError categorizes a bus error.
// go-gst's GError does not expose Domain(), so classification relies on
// string matching.
func classifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classifyMessage(gerr.Error(), gerr.DebugString())
}

// classifyMessage checks format keywords first: a v4l2 negotiation
// failure mentions both.
func classifyMessage(errMsg, debugStr string) ErrorCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	if containsAny(combined, formatKeywords) {
		return ErrCategoryFormat
	}
	if containsAny(combined, deviceKeywords) {
		return ErrCategoryDevice
	}
	return ErrCategoryUnknown
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
