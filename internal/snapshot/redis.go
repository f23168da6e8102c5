package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wattwise/wattsync/internal/device"
)

const pingTimeout = 5 * time.Second

// RedisConfig holds the connection settings for OpenRedis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// RedisStore keeps each house's snapshot under its own key.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
}

// NewRedisStore returns a store using rdb. Keys have the form
// "wattsync:house:{id}:devices".
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "wattsync"}
}

// Key returns the Redis key holding houseID's snapshot.
func (s *RedisStore) Key(houseID int) string {
	return fmt.Sprintf("%s:house:%d:devices", s.prefix, houseID)
}

// Load returns the stored snapshot for houseID.
func (s *RedisStore) Load(ctx context.Context, houseID int) ([]device.Device, error) {
	data, err := s.rdb.Get(ctx, s.Key(houseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot for house %d: %w", houseID, err)
	}
	return decode(data)
}

// Save overwrites the snapshot for houseID. Snapshots do not expire.
func (s *RedisStore) Save(ctx context.Context, houseID int, devices []device.Device) error {
	data, err := encode(devices)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.Key(houseID), data, 0).Err(); err != nil {
		return fmt.Errorf("saving snapshot for house %d: %w", houseID, err)
	}
	return nil
}

// Delete removes the snapshot for houseID.
func (s *RedisStore) Delete(ctx context.Context, houseID int) error {
	if err := s.rdb.Del(ctx, s.Key(houseID)).Err(); err != nil {
		return fmt.Errorf("deleting snapshot for house %d: %w", houseID, err)
	}
	return nil
}
