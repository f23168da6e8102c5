package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/snapshot"
	"github.com/wattwise/wattsync/internal/sse"
)

// Default policy delays.
const (
	DefaultRetryDelay  = 5 * time.Second
	DefaultSettleDelay = 1 * time.Second

	storeTimeout = 5 * time.Second
)

// Logger is the logging interface used by the synchronizer.
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

// Backend is the subset of the backend client the synchronizer uses.
type Backend interface {
	Dialer
	ListDevices(ctx context.Context, token string, houseID int) ([]device.Device, error)
	ToggleDevice(ctx context.Context, token string, deviceID int) (backend.ToggleResult, error)
	CreateDevice(ctx context.Context, token string, in device.Input) (device.Device, error)
	UpdateDevice(ctx context.Context, token string, deviceID int, in device.Input) (device.Device, error)
	DeleteDevice(ctx context.Context, token string, deviceID int) error
}

// Options configures a Synchronizer. Backend is required.
type Options struct {
	Backend Backend
	// Store is the durable per-house cache. Defaults to a MemoryStore.
	Store snapshot.Store
	Clock Clock
	// Logger defaults to a logger that discards everything.
	Logger Logger

	// RetryDelay is the fixed wait before reopening a dropped channel.
	RetryDelay time.Duration
	// SettleDelay is how long a confirmed toggle stays marked updating so
	// a trailing live update can land first.
	SettleDelay time.Duration

	// OnUnauthorized is called, outside any lock, whenever the backend
	// rejects the credential.
	OnUnauthorized func(error)
}

// Stats summarises activity since the last Start.
type Stats struct {
	HouseID         int
	Status          Status
	Devices         int
	Channel         SubscriberStats
	EventsApplied   uint64
	MalformedEvents uint64
	IgnoredEvents   uint64
	Loads           uint64
	LoadFailures    uint64
	Toggles         uint64
	ToggleFailures  uint64
	PersistFailures uint64
}

type settleTimer struct {
	token uint64
	timer Timer
}

type persistJob struct {
	seq     uint64
	houseID int
	devices []device.Device
}

// Synchronizer keeps a live, locally cached view of one house's devices.
//
// Every cache mutation happens under one mutex, so each snapshot, live
// event, toggle step and timer callback applies atomically. Network calls
// run outside the lock. An epoch counter changes on every Start and Stop;
// results that arrive for an older epoch are discarded.
type Synchronizer struct {
	backend     Backend
	store       snapshot.Store
	clock       Clock
	logger      Logger
	retryDelay  time.Duration
	settleDelay time.Duration
	onUnauth    func(error)

	mu       sync.Mutex
	epoch    uint64
	started  bool
	houseID  int
	token    string
	cache    *Cache
	sub      *Subscriber
	status   Status
	inflight map[int]struct{}
	settling map[int]settleTimer
	settleID uint64
	stats    Stats

	listenersMu sync.Mutex
	listeners   map[uint64]Listener
	nextID      uint64
	outbox      []Event
	notifyMu    sync.Mutex

	persistMu    sync.Mutex
	persistSeq   uint64
	persistedSeq uint64
	persistFails atomic.Uint64
}

// New creates a Synchronizer. Call Start to bind it to a house.
func New(opts Options) (*Synchronizer, error) {
	if opts.Backend == nil {
		return nil, errors.New("synchronizer: backend is required")
	}
	if opts.Store == nil {
		opts.Store = snapshot.NewMemoryStore()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.OnUnauthorized == nil {
		opts.OnUnauthorized = func(error) {}
	}

	return &Synchronizer{
		backend:     opts.Backend,
		store:       opts.Store,
		clock:       opts.Clock,
		logger:      opts.Logger,
		retryDelay:  opts.RetryDelay,
		settleDelay: opts.SettleDelay,
		onUnauth:    opts.OnUnauthorized,
		status:      StatusDisconnected,
		listeners:   make(map[uint64]Listener),
	}, nil
}

// Start binds the synchronizer to a house. Any previous house is stopped
// first. The cache is hydrated from the durable store before Start
// returns, then the live channel is opened in the background. Start does
// not fetch a snapshot; call Load for that.
func (s *Synchronizer) Start(ctx context.Context, houseID int, token string) error {
	if houseID <= 0 {
		return fmt.Errorf("synchronizer: %w", device.ErrInvalidHouse)
	}
	if token == "" {
		return fmt.Errorf("%w: empty credential", ErrUnauthorized)
	}

	s.Stop()

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.started = true
	s.houseID = houseID
	s.token = token
	s.cache = NewCache(houseID)
	s.inflight = make(map[int]struct{})
	s.settling = make(map[int]settleTimer)
	s.stats = Stats{}
	sub := newSubscriber(s.backend, s.clock, s.retryDelay, s.logger, subscriberHooks{
		onEvent:        func(ev sse.Event) { s.handleEvent(epoch, ev) },
		onStatus:       func(st Status) { s.handleStatus(epoch, st) },
		onUnauthorized: func(err error) { s.unauthorized(epoch, err) },
	})
	s.sub = sub
	s.mu.Unlock()

	s.hydrate(ctx, epoch, houseID)

	s.logger.Info("synchronizer started", "house_id", houseID)
	sub.Open(houseID, token)
	return nil
}

// hydrate seeds the cache from the durable store unless a snapshot or live
// write got there first.
func (s *Synchronizer) hydrate(ctx context.Context, epoch uint64, houseID int) {
	devices, err := s.store.Load(ctx, houseID)
	if errors.Is(err, snapshot.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("reading durable snapshot failed", "house_id", houseID, "error", err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.cache.Seeded() {
		s.mu.Unlock()
		return
	}
	shown := s.cache.Replace(devices, SourceStored)
	s.enqueueLocked(Event{Type: EventDevicesReplaced, Devices: shown})
	s.mu.Unlock()

	attrs := []any{"house_id", houseID, "count", len(devices)}
	if aged, ok := s.store.(snapshotAger); ok {
		if at, err := aged.UpdatedAt(ctx, houseID); err == nil {
			attrs = append(attrs, "age", time.Since(at).Round(time.Second).String())
		}
	}
	s.logger.Info("cache hydrated from durable store", attrs...)
	s.flush()
}

// snapshotAger is implemented by stores that record when a snapshot was
// written.
type snapshotAger interface {
	UpdatedAt(ctx context.Context, houseID int) (time.Time, error)
}

// Stop closes the live channel, cancels pending timers and discards the
// cache. Requests still in flight are ignored when they complete. The
// durable store is kept.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	houseID := s.houseID
	s.epoch++
	s.started = false
	sub := s.sub
	s.sub = nil
	s.cache = nil
	s.token = ""
	for id, st := range s.settling {
		st.timer.Stop()
		delete(s.settling, id)
	}
	s.inflight = nil
	s.status = StatusDisconnected
	s.enqueueLocked(Event{Type: EventConnectionStatus, HouseID: houseID, Status: StatusDisconnected})
	s.enqueueLocked(Event{Type: EventDevicesReplaced, HouseID: houseID, Devices: []device.Device{}})
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.logger.Info("synchronizer stopped", "house_id", houseID)
	s.flush()
}

// HouseID returns the active house, or 0 when stopped.
func (s *Synchronizer) HouseID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0
	}
	return s.houseID
}

// Devices returns the displayed devices in server order.
func (s *Synchronizer) Devices() []device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return []device.Device{}
	}
	return s.cache.Devices()
}

// Device returns the displayed state of one device.
func (s *Synchronizer) Device(id int) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return device.Device{}, ErrNotStarted
	}
	d, ok := s.cache.Get(id)
	if !ok {
		return device.Device{}, fmt.Errorf("%w: %d", ErrDeviceNotFound, id)
	}
	return d, nil
}

// Status returns the live channel state.
func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	stats := s.stats
	stats.HouseID = 0
	stats.Status = s.status
	if s.started {
		stats.HouseID = s.houseID
		stats.Devices = s.cache.Len()
	}
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		stats.Channel = sub.Stats()
	}
	stats.PersistFailures = s.persistFails.Load()
	return stats
}

// Subscribe registers a listener and returns a function that removes it.
func (s *Synchronizer) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// enqueueLocked queues an event for delivery after the lock is released.
func (s *Synchronizer) enqueueLocked(ev Event) {
	if ev.HouseID == 0 {
		ev.HouseID = s.houseID
	}
	s.outbox = append(s.outbox, ev)
}

// flush delivers queued events in order. Only one goroutine delivers at a
// time; a flush attempted during delivery, including one triggered by a
// listener, leaves its events to the goroutine already delivering.
func (s *Synchronizer) flush() {
	for {
		if !s.notifyMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			batch := s.outbox
			s.outbox = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			s.deliver(batch)
		}
		s.notifyMu.Unlock()

		s.mu.Lock()
		empty := len(s.outbox) == 0
		s.mu.Unlock()
		if empty {
			return
		}
	}
}

func (s *Synchronizer) deliver(batch []Event) {
	s.listenersMu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.Unlock()

	for _, ev := range batch {
		for _, l := range listeners {
			s.notify(l, ev)
		}
	}
}

func (s *Synchronizer) notify(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("listener panic recovered", "event", string(ev.Type), "panic", r)
		}
	}()
	evCopy := ev
	if ev.Devices != nil {
		evCopy.Devices = append([]device.Device(nil), ev.Devices...)
	}
	l(evCopy)
}

// persistLocked captures the authoritative cache for writing once the
// lock is released.
func (s *Synchronizer) persistLocked() *persistJob {
	s.persistSeq++
	return &persistJob{seq: s.persistSeq, houseID: s.houseID, devices: s.cache.Authoritative()}
}

// persist writes a captured snapshot unless a newer one was already
// written.
func (s *Synchronizer) persist(job *persistJob) {
	if job == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if job.seq <= s.persistedSeq {
		return
	}
	s.persistedSeq = job.seq

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := s.store.Save(ctx, job.houseID, job.devices); err != nil {
		s.persistFails.Add(1)
		s.logger.Warn("writing durable snapshot failed", "house_id", job.houseID, "error", err)
	}
}

// unauthorized reports a rejected credential to the owner.
func (s *Synchronizer) unauthorized(epoch uint64, err error) {
	s.mu.Lock()
	current := s.epoch == epoch
	s.mu.Unlock()
	if current {
		s.onUnauth(err)
	}
}

// authError maps a backend auth failure to ErrUnauthorized and reports it.
// It returns nil for any other error.
func (s *Synchronizer) authError(epoch uint64, err error) error {
	if !errors.Is(err, backend.ErrUnauthorized) {
		return nil
	}
	s.unauthorized(epoch, err)
	return fmt.Errorf("%w: %w", ErrUnauthorized, err)
}
