package synchronizer

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/snapshot"
	"github.com/wattwise/wattsync/internal/sse"
)

const (
	testHouse = 7
	testToken = "test-token"
	waitLimit = 2 * time.Second
)

// fakeClock fires timers only when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due callbacks on the caller's goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// Pending counts armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeStream is an event stream driven by the test.
type fakeStream struct {
	events chan sse.Event
	errc   chan error
	done   chan struct{}
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		events: make(chan sse.Event, 16),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeStream) Next() (sse.Event, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case err := <-s.errc:
		return sse.Event{}, err
	case <-s.done:
		return sse.Event{}, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeStream) send(name, data string) {
	s.events <- sse.Event{Name: name, Data: []byte(data)}
}

func (s *fakeStream) fail(err error) {
	s.errc <- err
}

func (s *fakeStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// fakeBackend serves canned responses. Each OpenStream call is announced
// on dials; a nil stream marks a failed dial.
type fakeBackend struct {
	mu       sync.Mutex
	devices  []device.Device
	listErr  error
	listGate chan struct{}
	dialErr  error
	toggle   func(ctx context.Context, deviceID int) (backend.ToggleResult, error)
	created  device.Device
	crudErr  error
	deleted  []int
	tokens   []string

	dials chan *fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{dials: make(chan *fakeStream, 32)}
}

func (f *fakeBackend) ListDevices(ctx context.Context, token string, _ int) ([]device.Device, error) {
	f.mu.Lock()
	gate := f.listGate
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]device.Device(nil), f.devices...), nil
}

func (f *fakeBackend) ToggleDevice(ctx context.Context, _ string, deviceID int) (backend.ToggleResult, error) {
	f.mu.Lock()
	fn := f.toggle
	f.mu.Unlock()
	if fn == nil {
		return backend.ToggleResult{Message: "ok"}, nil
	}
	return fn(ctx, deviceID)
}

func (f *fakeBackend) CreateDevice(_ context.Context, _ string, in device.Input) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crudErr != nil {
		return device.Device{}, f.crudErr
	}
	d := f.created
	d.DeviceName = in.DeviceName
	d.DeviceType = in.DeviceType
	d.PowerRating = in.PowerRating
	d.HouseID = in.HouseID
	return device.Normalize(d), nil
}

func (f *fakeBackend) UpdateDevice(_ context.Context, _ string, deviceID int, in device.Input) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crudErr != nil {
		return device.Device{}, f.crudErr
	}
	return device.Normalize(device.Device{
		DeviceID:    deviceID,
		DeviceName:  in.DeviceName,
		DeviceType:  in.DeviceType,
		PowerRating: in.PowerRating,
		HouseID:     in.HouseID,
	}), nil
}

func (f *fakeBackend) DeleteDevice(_ context.Context, _ string, deviceID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.crudErr != nil {
		return f.crudErr
	}
	f.deleted = append(f.deleted, deviceID)
	return nil
}

func (f *fakeBackend) OpenStream(_ context.Context, _ string, _ int) (backend.EventStream, error) {
	f.mu.Lock()
	err := f.dialErr
	f.mu.Unlock()

	if err != nil {
		f.dials <- nil
		return nil, err
	}
	st := newFakeStream()
	f.dials <- st
	return st, nil
}

func (f *fakeBackend) nextDial(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case st := <-f.dials:
		return st
	case <-time.After(waitLimit):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func (f *fakeBackend) noDial(t *testing.T) {
	t.Helper()
	select {
	case <-f.dials:
		t.Fatal("unexpected dial")
	case <-time.After(50 * time.Millisecond):
	}
}

// recorder collects listener events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		if ev.Type == EventConnectionStatus {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (r *recorder) ofType(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	syncer  *Synchronizer
	backend *fakeBackend
	clock   *fakeClock
	store   *snapshot.MemoryStore
	events  *recorder

	mu      sync.Mutex
	unauths []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: newFakeBackend(),
		clock:   &fakeClock{},
		store:   snapshot.NewMemoryStore(),
		events:  &recorder{},
	}
	s, err := New(Options{
		Backend:     h.backend,
		Store:       h.store,
		Clock:       h.clock,
		RetryDelay:  5 * time.Second,
		SettleDelay: time.Second,
		OnUnauthorized: func(err error) {
			h.mu.Lock()
			h.unauths = append(h.unauths, err)
			h.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	s.Subscribe(h.events.listen)
	h.syncer = s
	t.Cleanup(s.Stop)
	return h
}

func (h *harness) unauthorizedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.unauths)
}

// start starts the synchronizer and waits for the live channel.
func (h *harness) start(t *testing.T) *fakeStream {
	t.Helper()
	if err := h.syncer.Start(context.Background(), testHouse, testToken); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	st := h.backend.nextDial(t)
	waitFor(t, "connected", func() bool { return h.syncer.Status() == StatusConnected })
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitLimit)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func dev(id int, name string, on bool) device.Device {
	return device.Normalize(device.Device{
		DeviceID:    id,
		DeviceName:  name,
		DeviceType:  device.TypeAppliance,
		PowerRating: "100W",
		HouseID:     testHouse,
		On:          on,
	})
}

func ids(devices []device.Device) []int {
	out := make([]int, len(devices))
	for i, d := range devices {
		out[i] = d.DeviceID
	}
	return out
}
