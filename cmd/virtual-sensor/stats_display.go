package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	virtualsensor "github.com/e7canasta/orion-virtual-sensor"
	"github.com/e7canasta/orion-virtual-sensor/internal/client/gstclient"
	"github.com/e7canasta/orion-virtual-sensor/internal/emitter"
)

// statsReport is the document published to the MQTT stats topic.
type statsReport struct {
	UptimeS   float64             `json:"uptime_s"`
	Sensor    virtualsensor.Stats `json:"sensor"`
	Submitted uint64              `json:"submitted"`
	Starved   uint64              `json:"starved"`
	Received  uint64              `json:"received"`
	Encoded   uint64              `json:"encoded"`
	LatencyMS float64             `json:"readout_latency_ms"`
}

// reportStats periodically prints statistics and, when an emitter is
// configured, publishes them.
func reportStats(
	ctx context.Context,
	interval time.Duration,
	sensor *virtualsensor.Sensor,
	source virtualsensor.Client,
	producer *Producer,
	consumer *Consumer,
	saver *FrameSaver,
	em *emitter.MQTTEmitter,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uptime := time.Since(startTime)
			report := statsReport{
				UptimeS:   uptime.Seconds(),
				Sensor:    sensor.Stats(),
				Submitted: producer.submitted.Load(),
				Starved:   producer.starved.Load(),
				Received:  consumer.received.Load(),
				Encoded:   consumer.encoded.Load(),
				LatencyMS: float64(consumer.lastLatency.Load()) / float64(time.Millisecond),
			}
			printLiveStats(uptime, report, source, saver, em)

			if em != nil {
				if err := em.PublishStats(report); err != nil {
					slog.Warn("failed to publish stats", "error", err)
				}
			}
		}
	}
}

func printLiveStats(
	uptime time.Duration,
	r statsReport,
	source virtualsensor.Client,
	saver *FrameSaver,
	em *emitter.MQTTEmitter,
) {
	s := r.Sensor

	fmt.Println()
	fmt.Println("╭─────────────────────────────────────────────────────────────────╮")
	fmt.Printf("│ Sensor Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Println("├─────────────────────────────────────────────────────────────────┤")

	fmt.Println("│ Timing:")
	fmt.Printf("│   Cycles:             %6d\n", s.Cycles)
	fmt.Printf("│   Measured FPS:       %6.2f fps\n", s.FPSMean)
	fmt.Printf("│   Max Deviation:      %6.2f ms\n", float64(s.MaxDeviation)/float64(time.Millisecond))
	fmt.Printf("│   On Cadence:         %6v\n", s.OnCadence)
	fmt.Printf("│   Overruns:           %6d\n", s.Overruns)

	fmt.Println("│")
	fmt.Println("│ Capture:")
	fmt.Printf("│   Device:             %s %s\n", s.DeviceState, s.Resolution)
	fmt.Printf("│   Buffers Captured:   %6d\n", s.Captured)
	fmt.Printf("│   Buffers Skipped:    %6d\n", s.Skipped)
	fmt.Printf("│   Aux Buffers:        %6d (%d reused)\n", s.AuxBuffers, s.AuxReuses)

	if gst, ok := source.(*gstclient.Client); ok {
		gs := gst.Stats()
		fmt.Println("│")
		fmt.Println("│ GStreamer Source:")
		fmt.Printf("│   Frames Received:    %6d\n", gs.FramesReceived)
		fmt.Printf("│   Frames Unread:      %6d\n", gs.FramesDropped)
		fmt.Printf("│   Errors:             %6d device, %d format, %d unknown\n",
			gs.ErrorsDevice, gs.ErrorsFormat, gs.ErrorsUnknown)
	}

	fmt.Println("│")
	fmt.Println("│ Readout:")
	fmt.Printf("│   Requests Submitted: %6d (%d syncs starved)\n", r.Submitted, r.Starved)
	fmt.Printf("│   Frames Delivered:   %6d\n", s.Delivered)
	fmt.Printf("│   Frames Received:    %6d\n", r.Received)
	fmt.Printf("│   Readout Stalls:     %6d\n", s.ReadoutStalls)
	fmt.Printf("│   JPEG Encoded:       %6d\n", r.Encoded)
	fmt.Printf("│   Readout Latency:    %6.1f ms\n", r.LatencyMS)

	if saver != nil {
		saved, dropped := saver.Stats()
		fmt.Println("│")
		fmt.Println("│ Frame Saving:")
		fmt.Printf("│   Files Saved:        %6d (%d failed)\n", saved, dropped)
	}

	if em != nil {
		es := em.Stats()
		fmt.Println("│")
		fmt.Println("│ MQTT:")
		fmt.Printf("│   Connected:          %6v\n", es.Connected)
		fmt.Printf("│   Published:          %6d (%d dropped, %d errors)\n", es.Published, es.Dropped, es.Errors)
	}

	fmt.Println("╰─────────────────────────────────────────────────────────────────╯")
	fmt.Println()
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(s virtualsensor.Stats, producer *Producer, consumer *Consumer, saver *FrameSaver) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                     Final Statistics                         ")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("  Exposure Cycles:       %d (%d overruns)\n", s.Cycles, s.Overruns)
	fmt.Printf("  Requests Submitted:    %d\n", producer.submitted.Load())
	fmt.Printf("  Frames Delivered:      %d\n", s.Delivered)
	fmt.Printf("  Frames Received:       %d\n", consumer.received.Load())
	fmt.Printf("  Frames Dropped:        %d\n", s.Dropped)
	fmt.Printf("  Buffers Captured:      %d (%d skipped)\n", s.Captured, s.Skipped)
	fmt.Printf("  JPEG Encoded:          %d (%d failed)\n", consumer.encoded.Load(), consumer.encodeFails.Load())

	if saver != nil {
		saved, dropped := saver.Stats()
		fmt.Println()
		fmt.Printf("  Files Saved:           %d\n", saved)
		if dropped > 0 {
			fmt.Printf("  Save Failures:         %d\n", dropped)
		}
	}

	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println()
}
