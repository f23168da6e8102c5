package synchronizer

import (
	"github.com/wattwise/wattsync/internal/device"
)

// Source tags the kind of write that last set a cache entry.
type Source int

// Write sources.
const (
	// SourceStored is a device hydrated from the durable store.
	SourceStored Source = iota
	// SourceSnapshot is a device from a snapshot fetch.
	SourceSnapshot
	// SourceLive is a device from an INIT or UPDATE event.
	SourceLive
	// SourceOptimistic is a speculative toggle awaiting the backend.
	SourceOptimistic
	// SourceConfirmed is a device confirmed by a command response.
	SourceConfirmed
)

func (s Source) String() string {
	switch s {
	case SourceStored:
		return "stored"
	case SourceSnapshot:
		return "snapshot"
	case SourceLive:
		return "live"
	case SourceOptimistic:
		return "optimistic"
	case SourceConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

type entry struct {
	// shown is what callers see, including optimistic flips.
	shown device.Device
	// authoritative is the last state the backend vouched for.
	authoritative device.Device
	source        Source
	// flippedFrom is the source an optimistic flip replaced.
	flippedFrom Source
	// revision changes on every authoritative write of the power state.
	// An optimistic correction only applies while it still matches.
	revision uint64
}

// Cache is the device working set of one house, in server order.
//
// Cache is not safe for concurrent use; the Synchronizer guards it.
type Cache struct {
	houseID int
	order   []int
	entries map[int]*entry
	seq     uint64
	seeded  bool
}

// NewCache returns an empty cache for houseID.
func NewCache(houseID int) *Cache {
	return &Cache{houseID: houseID, entries: make(map[int]*entry)}
}

// HouseID returns the house the cache belongs to.
func (c *Cache) HouseID() int {
	return c.houseID
}

// Len returns the number of cached devices.
func (c *Cache) Len() int {
	return len(c.order)
}

// Seeded reports whether any device list or device has been written,
// including an empty list.
func (c *Cache) Seeded() bool {
	return c.seeded
}

func (c *Cache) nextRevision() uint64 {
	c.seq++
	return c.seq
}

// Replace swaps the whole working set for devices. A device that was
// updating keeps its flag until its toggle settles.
func (c *Cache) Replace(devices []device.Device, src Source) []device.Device {
	entries := make(map[int]*entry, len(devices))
	order := make([]int, 0, len(devices))

	for _, d := range devices {
		d = device.Normalize(d)
		d.IsUpdating = false
		if _, dup := entries[d.DeviceID]; !dup {
			order = append(order, d.DeviceID)
		}

		shown := d
		if old, ok := c.entries[d.DeviceID]; ok {
			shown.IsUpdating = old.shown.IsUpdating
		}
		entries[d.DeviceID] = &entry{
			shown:         shown,
			authoritative: d,
			source:        src,
			revision:      c.nextRevision(),
		}
	}

	c.entries = entries
	c.order = order
	c.seeded = true
	return c.Devices()
}

// Merge overlays each record onto the authoritative state of its device,
// inserting unknown ids at the end. It returns the resulting devices in
// record order.
//
// A record without an on-flag leaves a pending optimistic flip in place:
// only the fields it carries are applied to the shown device.
func (c *Cache) Merge(records []device.Record, src Source) []device.Device {
	c.seeded = true
	changed := make([]device.Device, 0, len(records))
	for _, rec := range records {
		id := rec.ID()
		e, ok := c.entries[id]
		if !ok {
			e = &entry{}
			c.entries[id] = e
			c.order = append(c.order, id)
		}

		merged := rec.ApplyTo(e.authoritative)
		merged.IsUpdating = false
		e.authoritative = merged

		if rec.On == nil && e.source == SourceOptimistic {
			optimistic := merged
			optimistic.On = e.shown.On
			optimistic = device.Normalize(optimistic)
			optimistic.IsUpdating = e.shown.IsUpdating
			e.shown = optimistic
			e.flippedFrom = src
			changed = append(changed, e.shown)
			continue
		}

		updating := e.shown.IsUpdating
		e.shown = merged
		e.shown.IsUpdating = updating
		e.source = src
		if rec.On != nil || !ok {
			e.revision = c.nextRevision()
		}
		changed = append(changed, e.shown)
	}
	return changed
}

// Put writes one authoritative device, inserting it if unknown.
func (c *Cache) Put(d device.Device, src Source) device.Device {
	d = device.Normalize(d)
	d.IsUpdating = false
	c.seeded = true

	e, ok := c.entries[d.DeviceID]
	if !ok {
		e = &entry{}
		c.entries[d.DeviceID] = e
		c.order = append(c.order, d.DeviceID)
	}
	updating := e.shown.IsUpdating

	e.authoritative = d
	e.shown = d
	e.shown.IsUpdating = updating
	e.source = src
	e.revision = c.nextRevision()
	return e.shown
}

// Remove drops a device. It reports whether the device was cached.
func (c *Cache) Remove(id int) bool {
	if _, ok := c.entries[id]; !ok {
		return false
	}
	delete(c.entries, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the displayed state of a device.
func (c *Cache) Get(id int) (device.Device, bool) {
	e, ok := c.entries[id]
	if !ok {
		return device.Device{}, false
	}
	return e.shown, true
}

// Source returns the kind of write that last set a device.
func (c *Cache) Source(id int) (Source, bool) {
	e, ok := c.entries[id]
	if !ok {
		return 0, false
	}
	return e.source, true
}

// Flip optimistically inverts a device's power state and marks it
// updating. The returned revision identifies the authoritative state the
// flip was made against.
func (c *Cache) Flip(id int) (device.Device, uint64, bool) {
	e, ok := c.entries[id]
	if !ok {
		return device.Device{}, 0, false
	}
	e.shown.On = !e.shown.On
	e.shown = device.Normalize(e.shown)
	e.shown.IsUpdating = true
	if e.source != SourceOptimistic {
		e.flippedFrom = e.source
	}
	e.source = SourceOptimistic
	return e.shown, e.revision, true
}

// Confirm records a successful toggle made against revision rev. With a
// server device it becomes the authoritative state; without one the flip
// is kept. If another write of the power state happened since the flip,
// Confirm changes nothing and returns false.
func (c *Cache) Confirm(id int, rev uint64, server *device.Device) (device.Device, bool) {
	e, ok := c.entries[id]
	if !ok || e.revision != rev {
		return device.Device{}, false
	}

	confirmed := e.shown
	if server != nil {
		confirmed = device.Normalize(*server)
	}
	confirmed.IsUpdating = false

	e.authoritative = confirmed
	e.shown = confirmed
	e.shown.IsUpdating = true
	e.source = SourceConfirmed
	e.revision = c.nextRevision()
	return e.shown, true
}

// Revert undoes a failed toggle made against revision rev and clears the
// updating flag. When a newer write of the power state exists only the
// flag is cleared. It reports false for unknown devices.
func (c *Cache) Revert(id int, rev uint64) (device.Device, bool) {
	e, ok := c.entries[id]
	if !ok {
		return device.Device{}, false
	}
	if e.revision == rev {
		e.shown = e.authoritative
		e.source = e.flippedFrom
	}
	e.shown.IsUpdating = false
	return e.shown, true
}

// SetUpdating sets a device's transient updating flag.
func (c *Cache) SetUpdating(id int, updating bool) (device.Device, bool) {
	e, ok := c.entries[id]
	if !ok {
		return device.Device{}, false
	}
	e.shown.IsUpdating = updating
	return e.shown, true
}

// Devices returns the displayed devices in server order.
func (c *Cache) Devices() []device.Device {
	out := make([]device.Device, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].shown)
	}
	return out
}

// Authoritative returns the last backend-vouched state of every device in
// server order, suitable for durable storage.
func (c *Cache) Authoritative() []device.Device {
	out := make([]device.Device, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id].authoritative.Persistable())
	}
	return out
}
