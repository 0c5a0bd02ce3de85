// Package emitter publishes sensor events and statistics to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-virtual-sensor/internal/config"
)

// publisher is the part of mqtt.Client the emitter publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// ExposureEvent is the payload published for every exposure start.
type ExposureEvent struct {
	InstanceID  string    `json:"instance_id"`
	FrameNumber uint32    `json:"frame_number"`
	TimestampNs int64     `json:"timestamp_ns"`
	Timestamp   time.Time `json:"timestamp"`
}

// MQTTEmitter forwards exposure-start events to MQTT.
//
// OnExposureStart runs on the sensor's timing goroutine, so it only
// enqueues; a publisher goroutine does the network work. When the queue is
// full the event is dropped and counted.
type MQTTEmitter struct {
	cfg        config.MQTTConfig
	instanceID string

	client mqtt.Client // nil until Connect
	pub    publisher

	events chan ExposureEvent
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	connected atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// NewMQTTEmitter creates an emitter for cfg. Call Connect, then Start.
func NewMQTTEmitter(cfg config.MQTTConfig, instanceID string) *MQTTEmitter {
	queue := cfg.Queue
	if queue <= 0 {
		queue = 64
	}
	return &MQTTEmitter{
		cfg:        cfg,
		instanceID: instanceID,
		events:     make(chan ExposureEvent, queue),
		done:       make(chan struct{}),
	}
}

// brokerURL adds the tcp scheme when the broker is given as host:port.
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	broker := brokerURL(e.cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.instanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.connected.Store(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", e.instanceID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("emitter: mqtt connect %s: %w", broker, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connect %s: %w", broker, err)
	}

	e.connected.Store(true)
	return nil
}

// Start spawns the publisher goroutine.
func (e *MQTTEmitter) Start() {
	e.wg.Add(1)
	go e.run()
}

func (e *MQTTEmitter) run() {
	defer e.wg.Done()
	for {
		select {
		case ev := <-e.events:
			if err := e.publishJSON(e.cfg.Topics.Exposure, ev); err != nil {
				slog.Debug("emitter: exposure event not published",
					"frame_number", ev.FrameNumber,
					"error", err,
				)
			}
		case <-e.done:
			return
		}
	}
}

// OnExposureStart implements frame.Listener. It never blocks.
func (e *MQTTEmitter) OnExposureStart(frameNumber uint32, timestamp time.Time) {
	ev := ExposureEvent{
		InstanceID:  e.instanceID,
		FrameNumber: frameNumber,
		TimestampNs: timestamp.UnixNano(),
		Timestamp:   timestamp,
	}
	select {
	case e.events <- ev:
	default:
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("emitter: event queue full, dropping exposure events",
				"dropped_total", n,
			)
		}
	}
}

// PublishStats publishes v as JSON on the stats topic (retained).
func (e *MQTTEmitter) PublishStats(v any) error {
	return e.publish(e.cfg.Topics.Stats, true, v)
}

func (e *MQTTEmitter) publishJSON(topic string, v any) error {
	return e.publish(topic, false, v)
}

func (e *MQTTEmitter) publish(topic string, retained bool, v any) error {
	if e.pub == nil || !e.connected.Load() {
		e.errors.Add(1)
		return fmt.Errorf("emitter: mqtt not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		e.errors.Add(1)
		return fmt.Errorf("emitter: marshal payload: %w", err)
	}

	token := e.pub.Publish(topic, e.cfg.QoS, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.errors.Add(1)
		return fmt.Errorf("emitter: publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		e.errors.Add(1)
		return fmt.Errorf("emitter: publish to %s: %w", topic, err)
	}

	e.published.Add(1)
	slog.Debug("emitter: published", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))
	return nil
}

// Close stops the publisher goroutine and disconnects. Queued events are
// discarded. Idempotent.
func (e *MQTTEmitter) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.wg.Wait()
		if e.client != nil && e.client.IsConnected() {
			e.client.Disconnect(250) // 250ms grace period
			slog.Info("emitter: mqtt disconnected")
		}
		e.connected.Store(false)
	})
	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	return Stats{
		Connected: e.connected.Load(),
		Published: e.published.Load(),
		Dropped:   e.dropped.Load(),
		Errors:    e.errors.Load(),
	}
}
