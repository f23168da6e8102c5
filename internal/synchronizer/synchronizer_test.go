package synchronizer

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"

	"github.com/wattwise/wattsync/internal/backend"
	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/snapshot"
)

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() error = nil, want error")
	}
}

func TestStart_Validation(t *testing.T) {
	h := newHarness(t)

	if err := h.syncer.Start(context.Background(), 0, testToken); !errors.Is(err, device.ErrInvalidHouse) {
		t.Errorf("Start(house 0) error = %v, want ErrInvalidHouse", err)
	}
	if err := h.syncer.Start(context.Background(), testHouse, ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Start(no token) error = %v, want ErrUnauthorized", err)
	}
}

func TestNotStarted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.syncer.Load(ctx); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Load() error = %v, want ErrNotStarted", err)
	}
	if _, err := h.syncer.Toggle(ctx, 1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Toggle() error = %v, want ErrNotStarted", err)
	}
	if _, err := h.syncer.Device(1); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Device() error = %v, want ErrNotStarted", err)
	}
	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %v, want empty", got)
	}
	if h.syncer.Status() != StatusDisconnected {
		t.Errorf("Status() = %v, want disconnected", h.syncer.Status())
	}
}

func TestStart_HydratesFromDurableStoreBeforeAnyFetch(t *testing.T) {
	h := newHarness(t)
	stored := []device.Device{dev(1, "Fridge", true), dev(2, "Lamp", false)}
	if err := h.store.Save(context.Background(), testHouse, stored); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	h.backend.listGate = make(chan struct{}) // the backend never answers

	if err := h.syncer.Start(context.Background(), testHouse, testToken); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := h.syncer.Devices()
	if !reflect.DeepEqual(got, stored) {
		t.Errorf("Devices() = %+v, want durable snapshot %+v", got, stored)
	}
	if replaced := h.events.ofType(EventDevicesReplaced); len(replaced) != 1 || len(replaced[0].Devices) != 2 {
		t.Errorf("replaced events = %+v, want one with 2 devices", replaced)
	}
}

// slowStore reads its snapshot, then holds the result until released.
type slowStore struct {
	*snapshot.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context, houseID int) ([]device.Device, error) {
	devices, err := s.MemoryStore.Load(ctx, houseID)
	close(s.entered)
	<-s.release
	return devices, err
}

func TestStart_EmptySnapshotBeatsSlowHydration(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Save(context.Background(), testHouse, []device.Device{dev(1, "Stale", true)}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	slow := &slowStore{MemoryStore: h.store, entered: make(chan struct{}), release: make(chan struct{})}
	h.syncer.store = slow

	started := make(chan error, 1)
	go func() { started <- h.syncer.Start(context.Background(), testHouse, testToken) }()
	<-slow.entered

	// The house has no devices any more.
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	close(slow.release)
	if err := <-started; err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v, stale stored list overwrote the empty snapshot", got)
	}
}

func TestStart_NoDurableSnapshot(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v, want empty", got)
	}
}

func TestLoad_ReplacesCacheAndStore(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(2, "B", true), dev(1, "A", false)}
	h.start(t)

	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := ids(h.syncer.Devices()); !reflect.DeepEqual(got, []int{2, 1}) {
		t.Errorf("Devices() ids = %v, want server order [2 1]", got)
	}
	stored, err := h.store.Load(context.Background(), testHouse)
	if err != nil {
		t.Fatalf("store.Load() error = %v", err)
	}
	if !reflect.DeepEqual(ids(stored), []int{2, 1}) {
		t.Errorf("stored ids = %v, want [2 1]", ids(stored))
	}
	if h.backend.tokens[0] != testToken {
		t.Errorf("token = %q, want %q", h.backend.tokens[0], testToken)
	}
	if stats := h.syncer.Stats(); stats.Loads != 1 || stats.Devices != 2 || stats.HouseID != testHouse {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestLoad_Unauthorized(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	h.backend.listErr = &backend.APIError{StatusCode: http.StatusUnauthorized, Message: "Token expired"}
	err := h.syncer.Load(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Load() error = %v, want ErrUnauthorized", err)
	}
	if errors.Is(err, ErrLoadFailed) {
		t.Error("unauthorized load also matched ErrLoadFailed")
	}
	if got := ids(h.syncer.Devices()); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("cache mutated: %v", got)
	}
	if h.unauthorizedCount() != 1 {
		t.Errorf("OnUnauthorized calls = %d, want 1", h.unauthorizedCount())
	}
}

func TestLoad_FailureKeepsCache(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	h.backend.listErr = &backend.APIError{StatusCode: http.StatusInternalServerError, Message: "database unavailable"}
	err := h.syncer.Load(context.Background())

	var loadErr *LoadError
	if !errors.As(err, &loadErr) || !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("Load() error = %v, want *LoadError", err)
	}
	if loadErr.Message != "database unavailable" {
		t.Errorf("Message = %q, want server message", loadErr.Message)
	}
	if got := ids(h.syncer.Devices()); !reflect.DeepEqual(got, []int{1}) {
		t.Errorf("cache mutated: %v", got)
	}
	if h.syncer.Stats().LoadFailures != 1 {
		t.Errorf("LoadFailures = %d, want 1", h.syncer.Stats().LoadFailures)
	}

	h.backend.listErr = errors.New("connection reset")
	err = h.syncer.Load(context.Background())
	if !errors.As(err, &loadErr) || loadErr.Message != "connection reset" {
		t.Errorf("Load() error = %v, want transport message", err)
	}
}

func TestLoad_ResultAfterStopIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.backend.listGate = make(chan struct{})
	h.start(t)

	done := make(chan error, 1)
	go func() { done <- h.syncer.Load(context.Background()) }()

	waitFor(t, "fetch in flight", func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return len(h.backend.tokens) == 1
	})
	h.syncer.Stop()
	close(h.backend.listGate)

	if err := <-done; !errors.Is(err, ErrStopped) {
		t.Errorf("Load() error = %v, want ErrStopped", err)
	}
	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v, want empty after stop", got)
	}
	if _, err := h.store.Load(context.Background(), testHouse); err == nil {
		t.Error("discarded snapshot was persisted")
	}
}

func TestLoad_ResultAfterHouseSwitchIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.backend.listGate = make(chan struct{})
	h.start(t)

	done := make(chan error, 1)
	go func() { done <- h.syncer.Load(context.Background()) }()
	waitFor(t, "fetch in flight", func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return len(h.backend.tokens) == 1
	})

	if err := h.syncer.Start(context.Background(), testHouse+1, testToken); err != nil {
		t.Fatalf("Start(other house) error = %v", err)
	}
	close(h.backend.listGate)

	if err := <-done; !errors.Is(err, ErrStopped) {
		t.Errorf("Load() error = %v, want ErrStopped", err)
	}
	if h.syncer.HouseID() != testHouse+1 {
		t.Errorf("HouseID() = %d, want %d", h.syncer.HouseID(), testHouse+1)
	}
	if got := h.syncer.Devices(); len(got) != 0 {
		t.Errorf("Devices() = %+v, stale house resurrected", got)
	}
}

func TestStop_EmitsEmptyReplaceAndDisconnected(t *testing.T) {
	h := newHarness(t)
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	h.syncer.Stop()
	h.syncer.Stop()

	replaced := h.events.ofType(EventDevicesReplaced)
	last := replaced[len(replaced)-1]
	if len(last.Devices) != 0 || last.HouseID != testHouse {
		t.Errorf("last replace = %+v, want empty for house %d", last, testHouse)
	}
	statuses := h.events.statuses()
	if statuses[len(statuses)-1] != StatusDisconnected {
		t.Errorf("last status = %v, want disconnected", statuses[len(statuses)-1])
	}
	if h.syncer.HouseID() != 0 {
		t.Errorf("HouseID() = %d after Stop", h.syncer.HouseID())
	}
}

func TestListener_PanicDoesNotBreakDelivery(t *testing.T) {
	h := newHarness(t)
	h.syncer.Subscribe(func(Event) { panic("boom") })
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.start(t)

	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(h.events.ofType(EventDevicesReplaced)) == 0 {
		t.Error("healthy listener missed the event")
	}
}

func TestListener_Unsubscribe(t *testing.T) {
	h := newHarness(t)
	extra := &recorder{}
	unsubscribe := h.syncer.Subscribe(extra.listen)
	unsubscribe()

	h.start(t)
	if len(extra.ofType(EventConnectionStatus)) != 0 {
		t.Error("unsubscribed listener received events")
	}
}

func TestListener_ReceivesCopies(t *testing.T) {
	h := newHarness(t)
	h.syncer.Subscribe(func(ev Event) {
		for i := range ev.Devices {
			ev.Devices[i].DeviceName = "mutated"
		}
	})
	h.backend.devices = []device.Device{dev(1, "A", false)}
	h.start(t)
	if err := h.syncer.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	d, err := h.syncer.Device(1)
	if err != nil {
		t.Fatalf("Device() error = %v", err)
	}
	if d.DeviceName != "A" {
		t.Errorf("DeviceName = %q, listener mutated the cache", d.DeviceName)
	}
}

func TestDevice_NotFound(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	if _, err := h.syncer.Device(42); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device() error = %v, want ErrDeviceNotFound", err)
	}
}
