package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/mqtt"
	"github.com/wattwise/wattsync/internal/synchronizer"
)

// Defaults.
const (
	// DefaultQueueSize bounds events waiting to be published.
	DefaultQueueSize = 256

	// DefaultCommandTimeout bounds one toggle issued from an MQTT command.
	DefaultCommandTimeout = 30 * time.Second
)

// Publisher is the broker surface the relay needs. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Controller is the synchronizer surface the relay drives.
// *synchronizer.Synchronizer satisfies it.
type Controller interface {
	HouseID() int
	Devices() []device.Device
	Status() synchronizer.Status
	Device(id int) (device.Device, error)
	Toggle(ctx context.Context, deviceID int) (string, error)
}

// Logger is the logging surface the relay needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Relay.
type Options struct {
	Publisher  Publisher
	Controller Controller
	Logger     Logger

	// QoS for state publishes and the command subscription.
	QoS byte

	QueueSize      int
	CommandTimeout time.Duration
}

// Stats reports relay counters.
type Stats struct {
	Published       uint64
	PublishFailures uint64
	Dropped         uint64
	Commands        uint64
	CommandFailures uint64
}

// connectionPayload is published on the connection topic.
type connectionPayload struct {
	Status synchronizer.Status `json:"status"`
}

// togglePayload is an optional toggle command body. An empty body or any
// body without "on" toggles unconditionally.
type togglePayload struct {
	On *bool `json:"on"`
}

// Relay mirrors synchronizer events onto MQTT and turns toggle commands
// received from the broker into synchronizer toggles.
//
// HandleEvent only queues; Run publishes from its own goroutine so a slow
// broker never holds up the synchronizer.
type Relay struct {
	pub     Publisher
	ctrl    Controller
	logger  Logger
	qos     byte
	timeout time.Duration
	topics  mqtt.Topics

	queue chan synchronizer.Event

	// Owned by the Run goroutine.
	house      int
	subscribed bool
	published  map[int]struct{}

	commands sync.WaitGroup

	stats struct {
		published       atomic.Uint64
		publishFailures atomic.Uint64
		dropped         atomic.Uint64
		commands        atomic.Uint64
		commandFailures atomic.Uint64
	}
}

// New creates a relay. Publisher and Controller are required.
func New(opts Options) (*Relay, error) {
	if opts.Publisher == nil {
		return nil, errors.New("relay: publisher is required")
	}
	if opts.Controller == nil {
		return nil, errors.New("relay: controller is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Relay{
		pub:       opts.Publisher,
		ctrl:      opts.Controller,
		logger:    opts.Logger,
		qos:       opts.QoS,
		timeout:   opts.CommandTimeout,
		queue:     make(chan synchronizer.Event, opts.QueueSize),
		published: make(map[int]struct{}),
	}, nil
}

// HandleEvent queues an event for publishing. It is a synchronizer.Listener
// and never blocks; events are dropped when the queue is full.
func (r *Relay) HandleEvent(ev synchronizer.Event) {
	select {
	case r.queue <- ev:
	default:
		r.stats.dropped.Add(1)
		r.logger.Warn("relay queue full, event dropped", "type", ev.Type, "house_id", ev.HouseID)
	}
}

// Resync queues the active house's full state for republishing. Wire it to
// the broker's connect callback so retained topics survive a broker restart.
func (r *Relay) Resync() {
	houseID := r.ctrl.HouseID()
	if houseID <= 0 {
		return
	}
	r.HandleEvent(synchronizer.Event{Type: synchronizer.EventConnectionStatus, HouseID: houseID, Status: r.ctrl.Status()})
	r.HandleEvent(synchronizer.Event{Type: synchronizer.EventDevicesReplaced, HouseID: houseID, Devices: r.ctrl.Devices()})
}

// Run publishes queued events until ctx is cancelled, then unsubscribes
// and waits for in-flight commands.
func (r *Relay) Run(ctx context.Context) {
	defer func() {
		r.switchHouse(0)
		r.commands.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.queue:
			r.apply(ev)
		}
	}
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published:       r.stats.published.Load(),
		PublishFailures: r.stats.publishFailures.Load(),
		Dropped:         r.stats.dropped.Load(),
		Commands:        r.stats.commands.Load(),
		CommandFailures: r.stats.commandFailures.Load(),
	}
}

func (r *Relay) apply(ev synchronizer.Event) {
	if ev.HouseID > 0 {
		r.switchHouse(ev.HouseID)
	}
	switch ev.Type {
	case synchronizer.EventDevicesReplaced:
		keep := make(map[int]struct{}, len(ev.Devices))
		for _, d := range ev.Devices {
			keep[d.DeviceID] = struct{}{}
			r.publishDevice(ev.HouseID, d)
		}
		for id := range r.published {
			if _, ok := keep[id]; !ok {
				r.clearDevice(ev.HouseID, id)
			}
		}
	case synchronizer.EventDevicesUpdated:
		for _, d := range ev.Devices {
			r.publishDevice(ev.HouseID, d)
		}
	case synchronizer.EventDeviceRemoved:
		r.clearDevice(ev.HouseID, ev.DeviceID)
	case synchronizer.EventConnectionStatus:
		payload, _ := json.Marshal(connectionPayload{Status: ev.Status})
		r.publish(r.topics.Connection(ev.HouseID), payload)
	case synchronizer.EventToggleResult:
		r.logger.Debug("toggle result", "device_id", ev.DeviceID, "ok", ev.OK, "message", ev.Message)
	}
}

// switchHouse moves the toggle subscription to houseID. Retained state of
// the previous house is left to its own empty replace event.
func (r *Relay) switchHouse(houseID int) {
	if houseID != r.house {
		if r.subscribed {
			if err := r.pub.Unsubscribe(r.topics.AllDeviceToggles(r.house)); err != nil {
				r.logger.Warn("unsubscribing toggle commands failed", "house_id", r.house, "error", err)
			}
			r.subscribed = false
		}
		r.house = houseID
		r.published = make(map[int]struct{})
	}
	if houseID <= 0 || r.subscribed {
		return
	}
	// A failed subscribe is retried on the next event or Resync.
	if err := r.pub.Subscribe(r.topics.AllDeviceToggles(houseID), r.qos, r.handleCommand); err != nil {
		r.logger.Error("subscribing toggle commands failed", "house_id", houseID, "error", err)
		return
	}
	r.subscribed = true
	r.logger.Info("relaying toggle commands", "topic", r.topics.AllDeviceToggles(houseID))
}

func (r *Relay) publishDevice(houseID int, d device.Device) {
	payload, err := json.Marshal(d)
	if err != nil {
		r.logger.Error("encoding device state failed", "device_id", d.DeviceID, "error", err)
		return
	}
	if r.publish(r.topics.DeviceState(houseID, d.DeviceID), payload) {
		r.published[d.DeviceID] = struct{}{}
	}
}

// clearDevice deletes the retained state with an empty retained message.
func (r *Relay) clearDevice(houseID, deviceID int) {
	delete(r.published, deviceID)
	r.publish(r.topics.DeviceState(houseID, deviceID), nil)
}

func (r *Relay) publish(topic string, payload []byte) bool {
	if err := r.pub.Publish(topic, payload, r.qos, true); err != nil {
		r.stats.publishFailures.Add(1)
		r.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	r.stats.published.Add(1)
	return true
}

// handleCommand runs on the MQTT client's goroutine; the toggle itself is
// issued asynchronously because it waits on the backend.
func (r *Relay) handleCommand(topic string, payload []byte) error {
	houseID, deviceID, ok := r.topics.ParseDeviceTopic(topic, "toggle")
	if !ok {
		return fmt.Errorf("relay: unexpected command topic %q", topic)
	}
	if active := r.ctrl.HouseID(); houseID != active {
		return fmt.Errorf("relay: command for house %d, active house is %d", houseID, active)
	}

	var body togglePayload
	if trimmed := strings.TrimSpace(string(payload)); trimmed != "" && trimmed != "toggle" {
		if err := json.Unmarshal(payload, &body); err != nil {
			return fmt.Errorf("relay: decoding toggle command: %w", err)
		}
	}

	if body.On != nil {
		current, err := r.ctrl.Device(deviceID)
		if err != nil {
			return fmt.Errorf("relay: toggle command: %w", err)
		}
		if current.On == *body.On {
			r.logger.Debug("toggle command already satisfied", "device_id", deviceID, "on", current.On)
			return nil
		}
	}

	r.stats.commands.Add(1)
	r.commands.Add(1)
	go func() {
		defer r.commands.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		msg, err := r.ctrl.Toggle(ctx, deviceID)
		if err != nil {
			r.stats.commandFailures.Add(1)
			r.logger.Warn("mqtt toggle command failed", "device_id", deviceID, "error", err)
			return
		}
		r.logger.Info("mqtt toggle command applied", "device_id", deviceID, "message", msg)
	}()
	return nil
}
