// Package cadence measures how closely the exposure cycle follows its
// target frame duration.
package cadence

import (
	"math"
	"time"
)

const (
	// Tolerance is the allowed deviation of a cycle from its target duration.
	// A cycle that finishes its work within Tolerance of the deadline is not
	// paced further.
	Tolerance = 2 * time.Millisecond

	// fpsStabilityThreshold is the maximum allowed FPS standard deviation as a fraction of mean FPS.
	// Example: 30 FPS mean → stable if stddev < 4.5 FPS
	fpsStabilityThreshold = 0.15

	// jitterStabilityThreshold is the maximum allowed mean jitter as a fraction of the target interval.
	// Example: 33ms target → stable if jitter < 6.6ms
	jitterStabilityThreshold = 0.20
)

// Stats summarizes a run of cycle start times.
type Stats struct {
	Cycles    int
	Span      time.Duration
	Target    time.Duration
	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64

	// Jitter is |interval - target|, in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	// MaxDeviation is the largest |interval - target|.
	MaxDeviation time.Duration
	// WithinTolerance reports whether every interval is target ± Tolerance.
	WithinTolerance bool
	// IsStable applies the warm-up criteria: stddev < 15% of mean FPS and
	// mean jitter < 20% of the target interval.
	IsStable bool
}

// Calculate computes cadence statistics from consecutive cycle start times.
//
// Fewer than two starts yield a zero-interval result that is neither
// stable nor within tolerance.
func Calculate(starts []time.Time, target time.Duration) Stats {
	n := len(starts)
	stats := Stats{Cycles: n, Target: target}
	if n < 2 {
		return stats
	}

	stats.Span = starts[n-1].Sub(starts[0])
	if stats.Span <= 0 {
		return stats
	}
	stats.FPSMean = float64(n-1) / stats.Span.Seconds()

	intervals := make([]time.Duration, 0, n-1)
	fps := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		d := starts[i].Sub(starts[i-1])
		intervals = append(intervals, d)
		if d > 0 {
			fps = append(fps, 1.0/d.Seconds())
		}
	}

	if len(fps) > 0 {
		stats.FPSMin, stats.FPSMax = fps[0], fps[0]
		var sumSquares float64
		for _, f := range fps {
			stats.FPSMin = math.Min(stats.FPSMin, f)
			stats.FPSMax = math.Max(stats.FPSMax, f)
			diff := f - stats.FPSMean
			sumSquares += diff * diff
		}
		stats.FPSStdDev = math.Sqrt(sumSquares / float64(len(fps)))
	}

	expected := target
	if expected <= 0 {
		expected = stats.Span / time.Duration(n-1)
	}

	stats.WithinTolerance = true
	jitters := make([]float64, len(intervals))
	var jitterSum float64
	for i, d := range intervals {
		dev := d - expected
		if dev < 0 {
			dev = -dev
		}
		if dev > stats.MaxDeviation {
			stats.MaxDeviation = dev
		}
		if dev > Tolerance {
			stats.WithinTolerance = false
		}
		jitters[i] = dev.Seconds()
		jitterSum += jitters[i]
		stats.JitterMax = math.Max(stats.JitterMax, jitters[i])
	}
	stats.JitterMean = jitterSum / float64(len(jitters))

	var jitterSumSquares float64
	for _, j := range jitters {
		diff := j - stats.JitterMean
		jitterSumSquares += diff * diff
	}
	stats.JitterStdDev = math.Sqrt(jitterSumSquares / float64(len(jitters)))

	fpsStable := stats.FPSStdDev < stats.FPSMean*fpsStabilityThreshold
	jitterStable := stats.JitterMean < expected.Seconds()*jitterStabilityThreshold
	stats.IsStable = fpsStable && jitterStable

	return stats
}

// Ring keeps the most recent cycle start times. It is not safe for
// concurrent use.
type Ring struct {
	buf  []time.Time
	next int
	full bool
}

// NewRing keeps up to size start times.
func NewRing(size int) *Ring {
	if size < 2 {
		size = 2
	}
	return &Ring{buf: make([]time.Time, size)}
}

// Add records a start time, evicting the oldest when full.
func (r *Ring) Add(t time.Time) {
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of recorded start times.
func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Snapshot returns the recorded start times, oldest first.
func (r *Ring) Snapshot() []time.Time {
	if !r.full {
		out := make([]time.Time, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]time.Time, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}
