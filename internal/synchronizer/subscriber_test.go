package synchronizer

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/sse"
)

func TestSubscriber_ReconnectLoop(t *testing.T) {
	h := newHarness(t)
	st := h.start(t)

	for i := 0; i < 3; i++ {
		st.fail(errors.New("connection reset"))

		waitFor(t, "retry timer", func() bool { return h.clock.Pending() == 1 })
		if got := h.syncer.Status(); got != StatusDisconnected {
			t.Fatalf("drop %d: Status() = %v, want disconnected", i+1, got)
		}

		h.clock.Advance(4 * time.Second)
		h.backend.noDial(t)

		h.clock.Advance(time.Second)
		st = h.backend.nextDial(t)
		if st == nil {
			t.Fatalf("drop %d: reopen failed", i+1)
		}
		waitFor(t, "reconnected", func() bool { return h.syncer.Status() == StatusConnected })
		if n := h.clock.Pending(); n != 0 {
			t.Fatalf("drop %d: %d timers pending after reconnect", i+1, n)
		}
	}

	stats := h.syncer.Stats().Channel
	if stats.Reconnects != 3 || stats.Dials != 4 || stats.Drops != 3 {
		t.Errorf("channel stats = %+v, want 3 reconnects, 4 dials, 3 drops", stats)
	}

	want := []Status{StatusConnecting, StatusConnected}
	for i := 0; i < 3; i++ {
		want = append(want, StatusDisconnected, StatusConnecting, StatusConnected)
	}
	if got := h.events.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("status sequence = %v, want %v", got, want)
	}
}

func TestSubscriber_FailedDialsRetryForever(t *testing.T) {
	h := newHarness(t)
	h.backend.dialErr = errors.New("dial tcp: connection refused")

	if err := h.syncer.Start(context.Background(), testHouse, testToken); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if st := h.backend.nextDial(t); st != nil {
			t.Fatal("dial unexpectedly succeeded")
		}
		waitFor(t, "retry timer", func() bool { return h.clock.Pending() == 1 })
		h.clock.Advance(5 * time.Second)
	}

	h.backend.mu.Lock()
	h.backend.dialErr = nil
	h.backend.mu.Unlock()

	for {
		st := h.backend.nextDial(t)
		if st != nil {
			break
		}
		waitFor(t, "retry timer", func() bool { return h.clock.Pending() == 1 })
		h.clock.Advance(5 * time.Second)
	}
	waitFor(t, "connected", func() bool { return h.syncer.Status() == StatusConnected })
}

func TestSubscriber_SingleTimerAcrossDrops(t *testing.T) {
	sub, dialer, clock := newBareSubscriber(t)
	sub.Open(testHouse, testToken)
	st := dialer.nextDial(t)

	st.fail(errors.New("first"))
	waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })

	// A second drop report for the same generation must not arm another timer.
	sub.mu.Lock()
	gen := sub.gen
	sub.mu.Unlock()
	sub.dropped(gen, errors.New("second"))

	if n := clock.Pending(); n != 1 {
		t.Errorf("pending timers = %d, want 1", n)
	}
	if stats := sub.Stats(); !stats.RetryPending {
		t.Errorf("Stats() = %+v, want retry pending", stats)
	}
}

func TestSubscriber_TeardownStopsRetries(t *testing.T) {
	h := newHarness(t)
	st := h.start(t)

	st.fail(errors.New("connection reset"))
	waitFor(t, "retry timer", func() bool { return h.clock.Pending() == 1 })

	h.syncer.Stop()

	if n := h.clock.Pending(); n != 0 {
		t.Errorf("pending timers after Stop = %d, want 0", n)
	}
	h.clock.Advance(time.Minute)
	h.backend.noDial(t)
	if got := h.syncer.Status(); got != StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", got)
	}
}

func TestSubscriber_StaleTimerCallbackIgnored(t *testing.T) {
	sub, dialer, clock := newBareSubscriber(t)
	sub.Open(testHouse, testToken)
	st := dialer.nextDial(t)

	st.fail(errors.New("drop"))
	waitFor(t, "retry timer", func() bool { return clock.Pending() == 1 })

	// Capture the armed callback, then close. Firing it afterwards
	// simulates a timer that raced with teardown.
	clock.mu.Lock()
	fire := clock.timers[len(clock.timers)-1].f
	clock.mu.Unlock()

	sub.Close()
	fire()
	dialer.noDial(t)
	if sub.Status() != StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", sub.Status())
	}
}

func TestSubscriber_OpenClosesPreviousChannel(t *testing.T) {
	sub, dialer, _ := newBareSubscriber(t)
	sub.Open(testHouse, testToken)
	first := dialer.nextDial(t)
	waitFor(t, "connected", func() bool { return sub.Status() == StatusConnected })

	sub.Open(testHouse+1, testToken)
	second := dialer.nextDial(t)

	if !first.closed() {
		t.Error("first channel still open after reopen")
	}
	waitFor(t, "connected", func() bool { return sub.Status() == StatusConnected })
	if second.closed() {
		t.Error("second channel closed")
	}
}

func TestSubscriber_UnauthorizedStopsRetrying(t *testing.T) {
	h := newHarness(t)
	h.backend.dialErr = &backend.APIError{StatusCode: http.StatusUnauthorized, Message: "Invalid token"}

	if err := h.syncer.Start(context.Background(), testHouse, testToken); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h.backend.nextDial(t)

	waitFor(t, "unauthorized callback", func() bool { return h.unauthorizedCount() == 1 })
	if n := h.clock.Pending(); n != 0 {
		t.Errorf("pending timers = %d, want none after credential rejection", n)
	}
	if got := h.syncer.Status(); got != StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", got)
	}
}

func TestLiveEvents_InitReplacesCache(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false), dev(2, "B", true)}
	st := h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	st.send("INIT", `[{"deviceId":3,"deviceName":"C","powerRating":"30W","on":true},{"deviceId":4,"deviceName":"D","powerRating":"40W","on":false}]`)

	waitFor(t, "INIT applied", func() bool {
		return reflect.DeepEqual(ids(h.syncer.Devices()), []int{3, 4})
	})
	c, _ := h.syncer.Device(3)
	if c.Status != device.StatusOn || c.PowerUsage != 30 {
		t.Errorf("C = %+v, want normalized", c)
	}

	stored, err := h.store.Load(context.Background(), testHouse)
	if err != nil || !reflect.DeepEqual(ids(stored), []int{3, 4}) {
		t.Errorf("stored = %v, %v; want [3 4]", ids(stored), err)
	}
}

func TestLiveEvents_UpdateMerges(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"named DEVICE_UPDATE object", "DEVICE_UPDATE", `{"deviceId":1,"on":true}`},
		{"named UPDATE array", "UPDATE", `[{"deviceId":1,"on":true}]`},
		{"unnamed message", "", `{"deviceId":1,"on":true}`},
		{"explicit message", "message", `{"deviceId":1,"on":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.backend.devices = []device.Device{dev(1, "A", false), dev(2, "B", true)}
			st := h.start(t)
			if err := h.syncer.Load(context.Background()); err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			st.send(tt.event, tt.data)
			waitFor(t, "update applied", func() bool {
				d, _ := h.syncer.Device(1)
				return d.Status == device.StatusOn
			})

			a, _ := h.syncer.Device(1)
			b, _ := h.syncer.Device(2)
			if a.DeviceName != "A" || a.PowerUsage != 100 {
				t.Errorf("A = %+v, untouched fields lost", a)
			}
			if b.Status != device.StatusOn || b.DeviceName != "B" {
				t.Errorf("B = %+v, want untouched", b)
			}

			stored, _ := h.store.Load(context.Background(), testHouse)
			if len(stored) != 2 || !stored[0].On {
				t.Errorf("stored = %+v, want merged list", stored)
			}
		})
	}
}

func TestLiveEvents_MalformedDropped(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	st := h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	st.send("DEVICE_UPDATE", `{not json`)
	st.send("INIT", `[{"deviceName":"missing id"}]`)
	st.send("DEVICE_UPDATE", `42`)
	st.send("HEARTBEAT", `{}`)
	st.send("DEVICE_UPDATE", `{"deviceId":1,"on":true}`)

	waitFor(t, "valid update applied", func() bool {
		d, _ := h.syncer.Device(1)
		return d.On
	})

	stats := h.syncer.Stats()
	if stats.MalformedEvents != 3 {
		t.Errorf("MalformedEvents = %d, want 3", stats.MalformedEvents)
	}
	if stats.IgnoredEvents != 1 {
		t.Errorf("IgnoredEvents = %d, want 1", stats.IgnoredEvents)
	}
	if got := ids(h.syncer.Devices()); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("Devices() ids = %v, cache corrupted", got)
	}
	if h.syncer.Status() != StatusConnected {
		t.Errorf("Status() = %v, malformed events broke the channel", h.syncer.Status())
	}
}

func TestLiveEvents_AfterStopIgnored(t *testing.T) {
	h := newHarness(t)
	st := h.start(t)
	h.syncer.Stop()

	st.events <- sse.Event{Name: "INIT", Data: []byte(`[{"deviceId":1}]`)}
	time.Sleep(20 * time.Millisecond)
	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v after Stop", got)
	}
}

// newBareSubscriber builds a Subscriber outside a Synchronizer.
func newBareSubscriber(t *testing.T) (*Subscriber, *fakeBackend, *fakeClock) {
	t.Helper()
	dialer := newFakeBackend()
	clock := &fakeClock{}
	sub := newSubscriber(dialer, clock, 5*time.Second, noopLogger{}, subscriberHooks{
		onEvent:        func(sse.Event) {},
		onStatus:       func(Status) {},
		onUnauthorized: func(error) {},
	})
	t.Cleanup(sub.Close)
	return sub, dialer, clock
}
