package virtualsensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-virtual-sensor/internal/capture"
	"github.com/e7canasta/orion-virtual-sensor/internal/control"
	"github.com/e7canasta/orion-virtual-sensor/internal/device"
	"github.com/e7canasta/orion-virtual-sensor/internal/engine"
	"github.com/e7canasta/orion-virtual-sensor/internal/handoff"
)

// ErrAlreadyStarted is returned by StartUp on a running sensor.
var ErrAlreadyStarted = errors.New("sensor: already started")

// Config configures a Sensor.
type Config struct {
	// DeviceName identifies the source to connect to (e.g., "webcam0")
	DeviceName string
	// FrameDuration is the initial cycle length (default: minimum frame duration, ~30fps)
	FrameDuration time.Duration
	// WhiteBalance gains applied by the source (default: neutral)
	WhiteBalance WhiteBalance
	// ExposureCompensation multiplies source exposure (default: 1.0)
	ExposureCompensation float32
	// AuxPoolSize bounds idle auxiliary Blob buffers kept for reuse (default: 4 when 0)
	AuxPoolSize int
}

// DefaultConfig returns a 30fps configuration with no image correction.
func DefaultConfig() Config {
	return Config{
		DeviceName:           "virtual0",
		FrameDuration:        FrameDurationRange[0],
		WhiteBalance:         NeutralWhiteBalance,
		ExposureCompensation: 1,
		AuxPoolSize:          capture.DefaultConfig().AuxPoolSize,
	}
}

// Sensor is the public face of the virtual sensor: a control API for the
// frame request producer and a readout API for frame consumers.
type Sensor struct {
	cfg Config

	store    *control.Store
	vsync    *handoff.VSync
	readout  *handoff.Readout
	device   *device.Device
	capturer *capture.Dispatcher
	engine   *engine.Engine

	// mu guards the lifecycle; life is cancelled on ShutDown to release
	// blocked readout waits.
	mu      sync.Mutex
	running bool
	life    context.Context
	cancel  context.CancelFunc
}

// New builds a sensor reading pixels from c. Nothing runs until StartUp.
func New(cfg Config, c Client) (*Sensor, error) {
	if c == nil {
		return nil, fmt.Errorf("sensor: client is required")
	}
	def := DefaultConfig()
	if cfg.DeviceName == "" {
		cfg.DeviceName = def.DeviceName
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.WhiteBalance == (WhiteBalance{}) {
		cfg.WhiteBalance = def.WhiteBalance
	}
	if cfg.ExposureCompensation <= 0 {
		cfg.ExposureCompensation = def.ExposureCompensation
	}
	if cfg.AuxPoolSize < 0 {
		return nil, fmt.Errorf("sensor: aux pool size must be >= 0, got %d", cfg.AuxPoolSize)
	}
	if cfg.AuxPoolSize == 0 {
		cfg.AuxPoolSize = def.AuxPoolSize
	}

	s := &Sensor{
		cfg:     cfg,
		store:   control.NewStore(),
		vsync:   handoff.NewVSync(),
		readout: handoff.NewReadout(),
		device:  device.New(c, cfg.DeviceName),
	}
	s.capturer = capture.NewDispatcher(s.device, capture.Config{
		WhiteBalance:         cfg.WhiteBalance,
		ExposureCompensation: cfg.ExposureCompensation,
		AuxPoolSize:          cfg.AuxPoolSize,
	})
	s.engine = engine.New(s.store, s.vsync, s.readout, s.capturer)
	s.store.SetFrameDuration(cfg.FrameDuration)
	s.life, s.cancel = context.WithCancel(context.Background())

	return s, nil
}

// StartUp connects to the source and starts the timing loop.
//
// A connection failure is returned and the loop is not started. The
// sensor keeps running until ShutDown, independent of ctx once StartUp
// has returned.
func (s *Sensor) StartUp(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}
	if s.life.Err() != nil {
		s.life, s.cancel = context.WithCancel(context.Background())
	}

	slog.Info("sensor: starting up", "device", s.cfg.DeviceName)

	if err := s.device.Connect(ctx); err != nil {
		return fmt.Errorf("sensor: start up: %w", err)
	}
	if err := s.engine.Start(s.life); err != nil {
		s.device.Disconnect()
		return fmt.Errorf("sensor: start up: %w", err)
	}

	s.running = true
	slog.Info("sensor: started",
		"device", s.cfg.DeviceName,
		"frame_duration", s.cfg.FrameDuration,
	)
	return nil
}

// ShutDown stops the timing loop, then stops and disconnects the source.
//
// Failures are logged and returned, but every step is attempted.
// Idempotent: calling it on a stopped sensor is a no-op.
func (s *Sensor) ShutDown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	slog.Info("sensor: shutting down", "device", s.cfg.DeviceName)

	var errs []error
	if err := s.engine.Stop(); err != nil {
		slog.Error("sensor: timing loop did not stop cleanly", "error", err)
		errs = append(errs, err)
	}
	s.cancel()
	s.drainReadout()
	if err := s.device.Disconnect(); err != nil {
		slog.Error("sensor: device did not stop cleanly", "device", s.cfg.DeviceName, "error", err)
		errs = append(errs, err)
	}
	s.running = false

	stats := s.Stats()
	slog.Info("sensor: shut down",
		"cycles", stats.Cycles,
		"delivered", stats.Delivered,
		"dropped", stats.Dropped,
		"overruns", stats.Overruns,
	)
	return errors.Join(errs...)
}

// drainReadout releases a frame nobody took before shutdown, so a restart
// does not deliver it and its aux buffers go back to the pool.
func (s *Sensor) drainReadout() {
	f, ok := s.readout.Drain()
	if !ok {
		return
	}
	f.Release()
	slog.Debug("sensor: unread frame discarded at shutdown",
		"frame_number", f.FrameNumber,
		"trace_id", f.TraceID,
	)
}

// Running reports whether the timing loop is active.
func (s *Sensor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetFrameDuration sets the length of cycles that start after this call.
func (s *Sensor) SetFrameDuration(d time.Duration) {
	s.store.SetFrameDuration(d)
}

// SetDestinationBuffers submits the buffers for the next cycle. The set is
// captured once; submit a new set for every frame.
func (s *Sensor) SetDestinationBuffers(buffers *BufferSet) {
	s.store.SetDestinationBuffers(buffers)
}

// SetFrameNumber tags the next captures.
func (s *Sensor) SetFrameNumber(n uint32) {
	s.store.SetFrameNumber(n)
}

// SetListener installs the exposure-start listener. nil removes it.
func (s *Sensor) SetListener(l Listener) {
	s.store.SetListener(l)
}

func (s *Sensor) lifetime() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life
}

// WaitForVSync blocks until the next cycle starts or timeout elapses.
//
// Returns false on timeout. A wait cut short by ShutDown is logged and
// also returns false.
func (s *Sensor) WaitForVSync(timeout time.Duration) bool {
	ok, err := s.vsync.Wait(s.lifetime(), timeout)
	if err != nil {
		slog.Error("sensor: error waiting for vsync", "error", err)
		return false
	}
	return ok
}

// WaitForNewFrame takes the next completed capture, waiting up to timeout.
//
// Returns false on timeout. A wait cut short by ShutDown is logged and
// also returns false.
func (s *Sensor) WaitForNewFrame(timeout time.Duration) (CapturedFrameSet, bool) {
	f, ok, err := s.readout.Take(s.lifetime(), timeout)
	if err != nil {
		slog.Error("sensor: error waiting for new frame", "error", err)
		return CapturedFrameSet{}, false
	}
	return f, ok
}

// Stats returns current counters. Safe to call at any time.
func (s *Sensor) Stats() Stats {
	es := s.engine.Stats()
	rs := s.readout.Stats()
	cs := s.capturer.Stats()
	mode := s.device.Mode()
	state := s.device.State()

	stats := Stats{
		Cycles:        es.Cycles,
		Overruns:      es.Overruns,
		Delivered:     es.Delivered,
		Dropped:       es.Dropped + rs.Drained,
		ReadoutStalls: rs.Stalls,
		Captured:      cs.Captured,
		Skipped:       cs.Skipped,
		AuxBuffers:    cs.AuxBuffers,
		AuxReuses:     cs.AuxReuses,
		FPSMean:       es.Cadence.FPSMean,
		MaxDeviation:  es.Cadence.MaxDeviation,
		OnCadence:     es.Cadence.WithinTolerance,
		DeviceState:   state.String(),
	}
	if state == device.Streaming {
		stats.Resolution = fmt.Sprintf("%dx%d", mode.Width, mode.Height)
	}
	return stats
}
