package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/database"
	"github.com/wattwise/wattsync/migrations"
)

func sampleDevices() []device.Device {
	return device.NormalizeAll([]device.Device{
		{DeviceID: 1, DeviceName: "Fridge", DeviceType: device.TypeAppliance, PowerRating: "150W", HouseID: 7, On: true, IsUpdating: true},
		{DeviceID: 2, DeviceName: "Lamp", DeviceType: device.TypeLighting, PowerRating: "60W", HouseID: 7},
	})
}

// runStoreTests exercises the Store contract against any implementation.
func runStoreTests(t *testing.T, store Store, houseID int) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing snapshot", func(t *testing.T) {
		if _, err := store.Load(ctx, houseID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("save then load", func(t *testing.T) {
		if err := store.Save(ctx, houseID, sampleDevices()); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := store.Load(ctx, houseID)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != 2 || got[0].DeviceID != 1 || got[1].DeviceID != 2 {
			t.Fatalf("Load() = %+v, want devices 1,2 in order", got)
		}
		if got[0].IsUpdating {
			t.Error("IsUpdating was persisted")
		}
		if got[0].Status != device.StatusOn || got[0].PowerUsage != 150 {
			t.Errorf("derived fields = %s/%d, want ON/150", got[0].Status, got[0].PowerUsage)
		}
	})

	t.Run("save overwrites", func(t *testing.T) {
		replacement := []device.Device{{DeviceID: 3, DeviceName: "TV", PowerRating: "90W", HouseID: houseID}}
		if err := store.Save(ctx, houseID, replacement); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := store.Load(ctx, houseID)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != 1 || got[0].DeviceID != 3 {
			t.Errorf("Load() = %+v, want only device 3", got)
		}
	})

	t.Run("empty list is a snapshot", func(t *testing.T) {
		if err := store.Save(ctx, houseID, nil); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := store.Load(ctx, houseID)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Load() = %+v, want empty", got)
		}
	})

	t.Run("houses are isolated", func(t *testing.T) {
		if _, err := store.Load(ctx, houseID+1); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load(other house) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Delete(ctx, houseID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Load(ctx, houseID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Load() after Delete error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreTests(t, store, 7)
	if store.Saves() != 3 {
		t.Errorf("Saves() = %d, want 3", store.Saves())
	}
}

func openSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "snapshots.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, openSQLiteStore(t), 7)
}

func TestSQLiteStore_UpdatedAt(t *testing.T) {
	store := openSQLiteStore(t)
	ctx := context.Background()

	if _, err := store.UpdatedAt(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdatedAt() error = %v, want ErrNotFound", err)
	}

	before := time.Now().Add(-time.Second)
	if err := store.Save(ctx, 7, sampleDevices()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	at, err := store.UpdatedAt(ctx, 7)
	if err != nil {
		t.Fatalf("UpdatedAt() error = %v", err)
	}
	if at.Before(before) {
		t.Errorf("UpdatedAt() = %v, want after %v", at, before)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("WATTSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rdb, err := OpenRedis(ctx, RedisConfig{Addr: addr, DB: 15})
	if err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	defer rdb.Close() //nolint:errcheck // test cleanup

	store := NewRedisStore(rdb)
	houseID := int(time.Now().UnixNano()%1_000_000) + 1_000_000
	t.Cleanup(func() {
		rdb.Del(context.Background(), store.Key(houseID), store.Key(houseID+1))
	})

	runStoreTests(t, store, houseID)
}

func TestRedisStore_Key(t *testing.T) {
	store := NewRedisStore(nil)
	if got := store.Key(42); got != "wattsync:house:42:devices" {
		t.Errorf("Key() = %q", got)
	}
}

func TestDecode_Corrupt(t *testing.T) {
	if _, err := decode([]byte("{not json")); err == nil {
		t.Error("decode() error = nil, want error")
	}
}
