package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wattwise/wattsync/internal/device"
)

// ErrNotFound is returned by Load when no snapshot exists for a house.
var ErrNotFound = errors.New("snapshot: not found")

// Store keeps one device list per house. Save overwrites; there is no
// partial update at this layer.
type Store interface {
	Load(ctx context.Context, houseID int) ([]device.Device, error)
	Save(ctx context.Context, houseID int, devices []device.Device) error
	Delete(ctx context.Context, houseID int) error
}

// encode serializes devices for storage, dropping transient state.
func encode(devices []device.Device) ([]byte, error) {
	stored := make([]device.Device, len(devices))
	for i := range devices {
		stored[i] = devices[i].Persistable()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// decode parses a stored snapshot and recomputes derived fields.
func decode(data []byte) ([]device.Device, error) {
	var devices []device.Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	out := device.NormalizeAll(devices)
	for i := range out {
		out[i].IsUpdating = false
	}
	return out, nil
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[int][]byte
	saves int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[int][]byte)}
}

// Load returns the stored snapshot for houseID.
func (m *MemoryStore) Load(_ context.Context, houseID int) ([]device.Device, error) {
	m.mu.RLock()
	data, ok := m.data[houseID]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Save overwrites the snapshot for houseID.
func (m *MemoryStore) Save(_ context.Context, houseID int, devices []device.Device) error {
	data, err := encode(devices)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.data[houseID] = data
	m.saves++
	m.mu.Unlock()
	return nil
}

// Delete removes the snapshot for houseID.
func (m *MemoryStore) Delete(_ context.Context, houseID int) error {
	m.mu.Lock()
	delete(m.data, houseID)
	m.mu.Unlock()
	return nil
}

// Saves reports how many times Save has succeeded.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
