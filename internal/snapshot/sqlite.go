package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wattwise/wattsync/internal/device"
	"github.com/wattwise/wattsync/internal/infrastructure/database"
)

// SQLiteStore keeps snapshots in the house_snapshots table.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore returns a store backed by db. The house_snapshots
// migration must already be applied.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load returns the stored snapshot for houseID.
func (s *SQLiteStore) Load(ctx context.Context, houseID int) ([]device.Device, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT devices FROM house_snapshots WHERE house_id = ?", houseID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot for house %d: %w", houseID, err)
	}
	return decode([]byte(data))
}

// Save overwrites the snapshot for houseID.
func (s *SQLiteStore) Save(ctx context.Context, houseID int, devices []device.Device) error {
	data, err := encode(devices)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO house_snapshots (house_id, devices, device_count, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(house_id) DO UPDATE SET
			devices      = excluded.devices,
			device_count = excluded.device_count,
			updated_at   = excluded.updated_at`,
		houseID, string(data), len(devices), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving snapshot for house %d: %w", houseID, err)
	}
	return nil
}

// Delete removes the snapshot for houseID.
func (s *SQLiteStore) Delete(ctx context.Context, houseID int) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM house_snapshots WHERE house_id = ?", houseID); err != nil {
		return fmt.Errorf("deleting snapshot for house %d: %w", houseID, err)
	}
	return nil
}

// UpdatedAt returns when the snapshot for houseID was last written.
func (s *SQLiteStore) UpdatedAt(ctx context.Context, houseID int) (time.Time, error) {
	var at string
	err := s.db.QueryRowContext(ctx,
		"SELECT updated_at FROM house_snapshots WHERE house_id = ?", houseID,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading snapshot time for house %d: %w", houseID, err)
	}
	return time.Parse(time.RFC3339Nano, at)
}
