package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/orion-virtual-sensor/internal/control"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Known request formats
var knownFormats = map[string]bool{
	"rgba": true,
	"nv21": true,
	"blob": true,
}

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "virtual-sensor"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}

	if err := validateLog(&cfg.Log); err != nil {
		return err
	}
	if err := validateSensor(&cfg.Sensor); err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	if err := validateSource(&cfg.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := validateRequest(&cfg.Request); err != nil {
		return fmt.Errorf("request: %w", err)
	}

	if cfg.Output.SaveEvery <= 0 {
		cfg.Output.SaveEvery = 30
	}
	if cfg.Output.StatsS <= 0 {
		cfg.Output.StatsS = 5
	}

	// MQTT is optional; topics get defaults only when a broker is set
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Exposure == "" {
			cfg.MQTT.Topics.Exposure = fmt.Sprintf("sensor/exposure/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Stats == "" {
			cfg.MQTT.Topics.Stats = fmt.Sprintf("sensor/stats/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
		}
		if cfg.MQTT.Queue <= 0 {
			cfg.MQTT.Queue = 64
		}
	}

	return nil
}

func validateLog(l *LogConfig) error {
	switch l.Level {
	case "":
		l.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "":
		l.Format = "text"
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
	return nil
}

func validateSensor(s *SensorConfig) error {
	if s.Device == "" {
		s.Device = "virtual0"
	}

	if s.FrameDuration.Duration == 0 {
		s.FrameDuration.Duration = control.FrameDurationRange[0]
	}
	lo, hi := control.FrameDurationRange[0], control.FrameDurationRange[1]
	if s.FrameDuration.Duration < lo || s.FrameDuration.Duration > hi {
		return fmt.Errorf("frame_duration %v outside [%v, %v]", s.FrameDuration.Duration, lo, hi)
	}

	if s.WhiteBalance == [3]float32{} {
		s.WhiteBalance = [3]float32{1, 1, 1}
	}
	for i, g := range s.WhiteBalance {
		if g <= 0 {
			return fmt.Errorf("white_balance[%d] must be > 0, got %v", i, g)
		}
	}

	if s.ExposureCompensation == 0 {
		s.ExposureCompensation = 1
	}
	if s.ExposureCompensation < 0 {
		return fmt.Errorf("exposure_compensation must be > 0, got %v", s.ExposureCompensation)
	}

	if s.AuxPoolSize < 0 {
		return fmt.Errorf("aux_pool_size must be >= 0, got %d", s.AuxPoolSize)
	}
	if s.AuxPoolSize == 0 {
		s.AuxPoolSize = 4
	}
	return nil
}

func validateSource(s *SourceConfig) error {
	switch s.Kind {
	case "":
		s.Kind = "synthetic"
	case "synthetic", "gstreamer":
	default:
		return fmt.Errorf("kind must be synthetic or gstreamer, got %q", s.Kind)
	}
	if s.Kind == "gstreamer" && s.Pattern == "" && s.V4L2Device == "" {
		s.Pattern = "smpte"
	}
	return nil
}

func validateRequest(r *RequestConfig) error {
	if r.Width == 0 && r.Height == 0 {
		r.Width, r.Height = 640, 480
	}
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", r.Width, r.Height)
	}
	// NV21 chroma is subsampled 2x2
	if r.Width%2 != 0 || r.Height%2 != 0 {
		return fmt.Errorf("resolution must be even, got %dx%d", r.Width, r.Height)
	}

	if len(r.Formats) == 0 {
		r.Formats = []string{"rgba"}
	}
	for _, f := range r.Formats {
		if !knownFormats[f] {
			return fmt.Errorf("unknown format %q (must be rgba, nv21 or blob)", f)
		}
	}

	if r.Frames < 0 {
		return fmt.Errorf("frames must be >= 0, got %d", r.Frames)
	}
	return nil
}
