package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Sensor.FrameDuration.Duration != 33331760*time.Nanosecond {
		t.Errorf("frame_duration = %v, want minimum frame duration", cfg.Sensor.FrameDuration)
	}
	if cfg.Source.Kind != "synthetic" {
		t.Errorf("source.kind = %q, want synthetic", cfg.Source.Kind)
	}
	if cfg.Request.Width != 640 || cfg.Request.Height != 480 {
		t.Errorf("request = %dx%d, want 640x480", cfg.Request.Width, cfg.Request.Height)
	}
	if cfg.Sensor.WhiteBalance != [3]float32{1, 1, 1} || cfg.Sensor.ExposureCompensation != 1 {
		t.Errorf("image correction not neutral: %+v", cfg.Sensor)
	}
	if cfg.MQTT.Topics.Exposure != "" {
		t.Errorf("mqtt topics defaulted without a broker: %+v", cfg.MQTT.Topics)
	}
}

func TestLoad(t *testing.T) {
	doc := `
instance_id: bench-1
log:
  level: debug
  format: json
sensor:
  device: webcam0
  frame_duration: 50ms
  white_balance: [1.2, 1.0, 0.9]
  exposure_compensation: 1.5
source:
  kind: gstreamer
  v4l2_device: /dev/video0
request:
  width: 320
  height: 240
  formats: [rgba, blob]
  frames: 100
mqtt:
  broker: tcp://localhost:1883
  qos: 1
`
	path := filepath.Join(t.TempDir(), "sensor.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Sensor.FrameDuration.Duration != 50*time.Millisecond {
		t.Errorf("frame_duration = %v, want 50ms", cfg.Sensor.FrameDuration)
	}
	if cfg.Sensor.WhiteBalance != [3]float32{1.2, 1.0, 0.9} {
		t.Errorf("white_balance = %v", cfg.Sensor.WhiteBalance)
	}
	if cfg.Source.Pattern != "" {
		t.Errorf("pattern defaulted despite v4l2_device: %q", cfg.Source.Pattern)
	}
	if got := strings.Join(cfg.Request.Formats, ","); got != "rgba,blob" {
		t.Errorf("formats = %s", got)
	}
	if cfg.MQTT.Topics.Exposure != "sensor/exposure/bench-1" || cfg.MQTT.Topics.Stats != "sensor/stats/bench-1" {
		t.Errorf("topics = %+v", cfg.MQTT.Topics)
	}
	if cfg.MQTT.Queue != 64 {
		t.Errorf("mqtt.queue = %d, want 64", cfg.MQTT.Queue)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad instance id", "instance_id: Bench_1", "instance_id"},
		{"duration without unit", "sensor: {frame_duration: 5}", "duration"},
		{"frame duration too short", "sensor: {frame_duration: 10ms}", "frame_duration"},
		{"frame duration too long", "sensor: {frame_duration: 1s}", "frame_duration"},
		{"negative gain", "sensor: {white_balance: [1, -1, 1]}", "white_balance[1]"},
		{"negative pool", "sensor: {aux_pool_size: -2}", "aux_pool_size"},
		{"unknown source", "source: {kind: rtsp}", "kind"},
		{"odd width", "request: {width: 321, height: 240}", "even"},
		{"unknown format", "request: {formats: [rgb]}", "unknown format"},
		{"bad log level", "log: {level: trace}", "log.level"},
		{"bad qos", "mqtt: {broker: tcp://x:1883, qos: 3}", "mqtt.qos"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
