package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete virtual sensor configuration
type Config struct {
	InstanceID       string        `yaml:"instance_id"`
	ShutdownTimeoutS int           `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Log              LogConfig     `yaml:"log"`
	Sensor           SensorConfig  `yaml:"sensor"`
	Source           SourceConfig  `yaml:"source"`
	Request          RequestConfig `yaml:"request"`
	Output           OutputConfig  `yaml:"output"`
	MQTT             MQTTConfig    `yaml:"mqtt"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// SensorConfig contains timing and image correction settings
type SensorConfig struct {
	Device               string     `yaml:"device"`
	FrameDuration        Duration   `yaml:"frame_duration"` // e.g. "33.33176ms"
	WhiteBalance         [3]float32 `yaml:"white_balance"`  // r, g, b gains
	ExposureCompensation float32    `yaml:"exposure_compensation"`
	AuxPoolSize          int        `yaml:"aux_pool_size"`
}

// SourceConfig selects where pixels come from
type SourceConfig struct {
	Kind       string `yaml:"kind"`        // synthetic, gstreamer
	Pattern    string `yaml:"pattern"`     // videotestsrc pattern (gstreamer only)
	V4L2Device string `yaml:"v4l2_device"` // /dev/videoN; overrides pattern (gstreamer only)
}

// RequestConfig describes the buffers the demo producer submits every cycle
type RequestConfig struct {
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
	Formats []string `yaml:"formats"` // rgba, nv21, blob
	Frames  int      `yaml:"frames"`  // 0 = until interrupted
}

// OutputConfig controls frame saving by the demo consumer
type OutputConfig struct {
	SaveDir   string `yaml:"save_dir"`   // empty = don't save
	SaveEvery int    `yaml:"save_every"` // save one frame out of N
	StatsS    int    `yaml:"stats_s"`    // stats print/publish interval in seconds
}

// MQTTConfig contains MQTT broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker string     `yaml:"broker"`
	Topics MQTTTopics `yaml:"topics"`
	QoS    byte       `yaml:"qos"`
	Queue  int        `yaml:"queue"` // pending exposure events before dropping
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Exposure string `yaml:"exposure"`
	Stats    string `yaml:"stats"`
}

// Duration is a time.Duration read from strings like "33ms" or "1.5s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML document
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	if err := Validate(cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not validate: %v", err))
	}
	return cfg
}
