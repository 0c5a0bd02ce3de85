// virtual-sensor runs the virtual camera sensor against a synthetic or
// GStreamer image source, driving it with a request producer and a
// readout consumer the way a camera HAL would.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	virtualsensor "github.com/e7canasta/orion-virtual-sensor"
	"github.com/e7canasta/orion-virtual-sensor/internal/client/gstclient"
	"github.com/e7canasta/orion-virtual-sensor/internal/client/synthetic"
	"github.com/e7canasta/orion-virtual-sensor/internal/config"
	"github.com/e7canasta/orion-virtual-sensor/internal/emitter"
)

const version = "v0.1.0"

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	setupLogging(cfg.Log)
	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received, stopping gracefully", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cancel, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("virtual sensor failed", "error", err)
		os.Exit(1)
	}
	slog.Info("virtual sensor stopped")
}

// parseFlags loads the config file, if any, and applies flags given on the
// command line on top of it.
func parseFlags(args []string) (*config.Config, error) {
	fs := pflag.NewFlagSet("virtual-sensor", pflag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "YAML configuration file (optional)")
	source := fs.String("source", "", "image source: synthetic or gstreamer")
	pattern := fs.String("pattern", "", "videotestsrc pattern (gstreamer source)")
	v4l2 := fs.String("v4l2-device", "", "capture device, e.g. /dev/video0 (gstreamer source)")
	width := fs.Int("width", 0, "request width in pixels")
	height := fs.Int("height", 0, "request height in pixels")
	frameDuration := fs.Duration("frame-duration", 0, "frame duration, e.g. 33.33ms")
	formats := fs.StringSlice("formats", nil, "buffers per request: rgba, nv21, blob")
	frames := fs.Int("frames", 0, "stop after N frames (0 = until interrupted)")
	saveDir := fs.String("save-dir", "", "directory to save frames into")
	saveEvery := fs.Int("save-every", 0, "save one frame out of N")
	statsS := fs.Int("stats-interval", 0, "statistics interval in seconds")
	broker := fs.String("mqtt-broker", "", "MQTT broker for exposure events and stats")
	debug := fs.Bool("debug", false, "enable debug logging")
	jsonLogs := fs.Bool("json", false, "log as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if fs.Changed("source") {
		cfg.Source.Kind = *source
	}
	if fs.Changed("pattern") {
		cfg.Source.Pattern = *pattern
	}
	if fs.Changed("v4l2-device") {
		cfg.Source.V4L2Device = *v4l2
	}
	if fs.Changed("width") {
		cfg.Request.Width = *width
	}
	if fs.Changed("height") {
		cfg.Request.Height = *height
	}
	if fs.Changed("frame-duration") {
		cfg.Sensor.FrameDuration = config.Duration{Duration: *frameDuration}
	}
	if fs.Changed("formats") {
		cfg.Request.Formats = *formats
	}
	if fs.Changed("frames") {
		cfg.Request.Frames = *frames
	}
	if fs.Changed("save-dir") {
		cfg.Output.SaveDir = *saveDir
	}
	if fs.Changed("save-every") {
		cfg.Output.SaveEvery = *saveEvery
	}
	if fs.Changed("stats-interval") {
		cfg.Output.StatsS = *statsS
	}
	if fs.Changed("mqtt-broker") {
		cfg.MQTT.Broker = *broker
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *jsonLogs {
		cfg.Log.Format = "json"
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(l config.LogConfig) {
	var level slog.Level
	switch l.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if l.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func newClient(src config.SourceConfig) virtualsensor.Client {
	if src.Kind == "gstreamer" {
		return gstclient.New(gstclient.Config{
			Pattern:    src.Pattern,
			V4L2Device: src.V4L2Device,
		})
	}
	return synthetic.New()
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config) error {
	c := newClient(cfg.Source)

	sensor, err := virtualsensor.New(virtualsensor.Config{
		DeviceName:    cfg.Sensor.Device,
		FrameDuration: cfg.Sensor.FrameDuration.Duration,
		WhiteBalance: virtualsensor.WhiteBalance{
			R: cfg.Sensor.WhiteBalance[0],
			G: cfg.Sensor.WhiteBalance[1],
			B: cfg.Sensor.WhiteBalance[2],
		},
		ExposureCompensation: cfg.Sensor.ExposureCompensation,
		AuxPoolSize:          cfg.Sensor.AuxPoolSize,
	}, c)
	if err != nil {
		return fmt.Errorf("failed to create sensor: %w", err)
	}

	var em *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		em = emitter.NewMQTTEmitter(cfg.MQTT, cfg.InstanceID)
		if err := em.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer em.Close()
		em.Start()
		sensor.SetListener(em)
		slog.Info("exposure events enabled", "broker", cfg.MQTT.Broker, "topic", cfg.MQTT.Topics.Exposure)
	}

	var saver *FrameSaver
	if cfg.Output.SaveDir != "" {
		saver, err = NewFrameSaver(cfg.Output.SaveDir, cfg.Output.SaveEvery)
		if err != nil {
			return fmt.Errorf("failed to create frame saver: %w", err)
		}
		slog.Info("frame saving enabled", "output_dir", cfg.Output.SaveDir, "every", cfg.Output.SaveEvery)
	}

	if err := sensor.StartUp(ctx); err != nil {
		return fmt.Errorf("failed to start sensor: %w", err)
	}
	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	stopped := false
	defer func() {
		if !stopped {
			shutDown(sensor, shutdownTimeout)
		}
	}()

	layout, err := parseLayout(cfg.Request.Formats)
	if err != nil {
		return err
	}
	producer := NewProducer(sensor, cfg.Request.Width, cfg.Request.Height, layout, cfg.Request.Frames)
	consumer := NewConsumer(sensor, producer, saver, cfg.Request.Frames)

	done := make(chan struct{}, 2)
	go func() {
		producer.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		consumer.Run(ctx)
		// The frame limit was reached: end the run.
		cancel()
		done <- struct{}{}
	}()

	go reportStats(ctx, time.Duration(cfg.Output.StatsS)*time.Second, sensor, c, producer, consumer, saver, em)

	<-ctx.Done()
	<-done
	<-done

	shutDown(sensor, shutdownTimeout)
	stopped = true
	printFinalStats(sensor.Stats(), producer, consumer, saver)
	return ctx.Err()
}

// shutDown stops the sensor, giving up after timeout.
func shutDown(sensor *virtualsensor.Sensor, timeout time.Duration) {
	slog.Info("shutting down gracefully", "timeout", timeout)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sensor.ShutDown()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	case <-time.After(timeout):
		slog.Error("shutdown timed out", "timeout", timeout)
	}
}

func printBanner(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            Virtual Sensor - Rolling Shutter Demo              ║")
	fmt.Printf("║                    Version %-34s ║\n", version)
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Println("Configuration:")

	source := cfg.Source.Kind
	if cfg.Source.Kind == "gstreamer" {
		if cfg.Source.V4L2Device != "" {
			source += " (" + cfg.Source.V4L2Device + ")"
		} else {
			source += " (videotestsrc " + cfg.Source.Pattern + ")"
		}
	}
	fd := cfg.Sensor.FrameDuration.Duration
	fmt.Printf("  Source:          %s\n", source)
	fmt.Printf("  Request:         %dx%d [%s]\n", cfg.Request.Width, cfg.Request.Height, strings.Join(cfg.Request.Formats, ", "))
	fmt.Printf("  Frame Duration:  %v (%.2f fps)\n", fd, float64(time.Second)/float64(fd))
	if cfg.Request.Frames > 0 {
		fmt.Printf("  Frames:          %d\n", cfg.Request.Frames)
	}
	if cfg.MQTT.Broker != "" {
		fmt.Printf("  MQTT:            %s\n", cfg.MQTT.Broker)
	}
	fmt.Println()
	fmt.Println("Pipeline:")
	fmt.Println("  producer → sensor (exposure → capture → readout) → consumer")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop gracefully")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}
