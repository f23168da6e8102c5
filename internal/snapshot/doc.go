// Package snapshot persists the last known device list of each house.
//
// A snapshot is written whole every time the synchronizer applies a
// backend snapshot or a live event, and read once when a session starts so
// callers see the previous state before the backend answers. Three Store
// implementations share one JSON encoding:
//
//   - SQLiteStore: a row per house in the agent's database (default)
//   - RedisStore: a key per house, for agents sharing a Redis instance
//   - MemoryStore: process-local, for tests and ephemeral runs
//
// Transient fields (IsUpdating) are never stored.
package snapshot
