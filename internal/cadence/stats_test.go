package cadence

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

// generateStarts returns n start times spaced by interval, each shifted by a
// uniform random offset in ±jitter.
func generateStarts(n int, interval, jitter time.Duration, seed int64) []time.Time {
	rng := rand.New(rand.NewSource(seed))
	base := time.Unix(1700000000, 0)
	starts := make([]time.Time, n)
	for i := range starts {
		var off time.Duration
		if jitter > 0 {
			off = time.Duration(rng.Int63n(int64(2*jitter))) - jitter
		}
		starts[i] = base.Add(time.Duration(i)*interval + off)
	}
	return starts
}

func TestCalculate_Exact(t *testing.T) {
	target := 33333333 * time.Nanosecond
	stats := Calculate(generateStarts(31, target, 0, 1), target)

	if stats.Cycles != 31 {
		t.Errorf("Cycles = %d, want 31", stats.Cycles)
	}
	if math.Abs(stats.FPSMean-30) > 0.01 {
		t.Errorf("FPSMean = %.3f, want 30", stats.FPSMean)
	}
	if stats.MaxDeviation != 0 || !stats.WithinTolerance || !stats.IsStable {
		t.Errorf("stats = %+v, want exact cadence", stats)
	}
}

func TestCalculate_Tolerance(t *testing.T) {
	target := 50 * time.Millisecond

	tests := []struct {
		name   string
		jitter time.Duration
		within bool
	}{
		{"sub-millisecond jitter", 400 * time.Microsecond, true},
		{"large jitter", 8 * time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := Calculate(generateStarts(100, target, tt.jitter, 42), target)
			t.Logf("max deviation %v, jitter mean %.2fms", stats.MaxDeviation, stats.JitterMean*1000)
			if stats.WithinTolerance != tt.within {
				t.Errorf("WithinTolerance = %v, want %v", stats.WithinTolerance, tt.within)
			}
		})
	}
}

// TestCalculate_OverrunBreaksTolerance checks a single late cycle is
// reported even when the average is on target.
func TestCalculate_OverrunBreaksTolerance(t *testing.T) {
	target := 40 * time.Millisecond
	starts := generateStarts(20, target, 0, 1)
	for i := 10; i < len(starts); i++ {
		starts[i] = starts[i].Add(15 * time.Millisecond)
	}

	stats := Calculate(starts, target)
	if stats.WithinTolerance {
		t.Error("WithinTolerance = true with a 15ms overrun")
	}
	if stats.MaxDeviation != 15*time.Millisecond {
		t.Errorf("MaxDeviation = %v, want 15ms", stats.MaxDeviation)
	}
}

func TestCalculate_Unstable(t *testing.T) {
	target := 100 * time.Millisecond
	stats := Calculate(generateStarts(50, target, 45*time.Millisecond, 7), target)
	if stats.IsStable {
		t.Errorf("IsStable = true (jitter mean %.1fms)", stats.JitterMean*1000)
	}
}

func TestCalculate_Degenerate(t *testing.T) {
	for _, starts := range [][]time.Time{nil, {time.Now()}} {
		stats := Calculate(starts, time.Second)
		if stats.IsStable || stats.WithinTolerance || stats.FPSMean != 0 {
			t.Errorf("Calculate(%d starts) = %+v", len(starts), stats)
		}
	}
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	base := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.Add(base.Add(time.Duration(i) * time.Second))
		if want := min(i+1, 3); r.Len() != want {
			t.Fatalf("after %d adds Len() = %d, want %d", i+1, r.Len(), want)
		}
	}

	got := r.Snapshot()
	for i, want := range []int64{2, 3, 4} {
		if got[i].Unix() != want {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, got[i].Unix(), want)
		}
	}
}
