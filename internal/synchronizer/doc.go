// Package synchronizer keeps a live local view of one house's devices.
//
// It combines three parts around one cache:
//
//   - Load fetches the device list and replaces the cache.
//   - A Subscriber holds the backend's event stream open, applying INIT
//     events as replacements and DEVICE_UPDATE (or unnamed) events as
//     field-by-field merges, and reopens it a fixed delay after any drop.
//   - Toggle flips a device optimistically and reconciles with the
//     backend's answer.
//
// Every applied snapshot or live event is also written whole to a durable
// snapshot.Store, and Start hydrates from that store before anything else
// so callers see the last known state immediately.
//
// # Conflicting writes
//
// Each cache entry carries the source of its last write and a revision that
// changes on every authoritative (snapshot, live or confirmed) write. A
// toggle remembers the revision it flipped against; when the backend
// answers, the confirmation or revert is applied only if the revision is
// unchanged. A live event that lands mid-flight therefore always wins over
// the stale correction, while live events among themselves apply in
// arrival order.
//
// # Lifecycle
//
//	s, _ := synchronizer.New(synchronizer.Options{Backend: client, Store: store})
//	s.Subscribe(func(ev synchronizer.Event) { ... })
//	_ = s.Start(ctx, houseID, token) // hydrate + open live channel
//	_ = s.Load(ctx)                  // authoritative snapshot
//	msg, err := s.Toggle(ctx, deviceID)
//	s.Stop()                         // logout or house switch
//
// Stop closes the channel, cancels the retry and settle timers and discards
// the cache. Responses that arrive afterwards are dropped.
package synchronizer
