// Package conntable implements the fixed-capacity active-connection table:
// a slab of slots addressed by (index, generation) handles, replacing the
// C original's raw self_ptr back-pointer so a stale handle can never be
// mistaken for a live one after its slot is reused.
package conntable

import "github.com/WhileEndless/go-reverse-proxy/internal/connection"

// DefaultMaxConnections is the table's capacity when none is configured
// (config.Limits.MaxConnections's documented default).
const DefaultMaxConnections = 256

// Handle addresses one slot. Generation increments every time the slot is
// reused, so a Handle captured before a Deactivate/Activate cycle compares
// unequal to the slot's current occupant and is safely rejected by Get.
type Handle struct {
	Index      int
	Generation uint32
}

type slot struct {
	conn *connection.Connection
	gen  uint32
}

// Table is the fixed-capacity slab of Connection slots. It is not safe for
// concurrent use — the dispatcher is single-threaded and owns it
// exclusively.
type Table struct {
	slots []slot
	count int
}

// New returns an empty Table sized for DefaultMaxConnections slots.
func New() *Table {
	return NewWithCapacity(DefaultMaxConnections)
}

// NewWithCapacity returns an empty Table sized for capacity slots, as set
// by config.Limits.MaxConnections.
func NewWithCapacity(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultMaxConnections
	}
	return &Table{slots: make([]slot, capacity)}
}

// Len reports how many slots are currently occupied.
func (t *Table) Len() int {
	return t.count
}

// Cap reports the table's fixed capacity.
func (t *Table) Cap() int {
	return len(t.slots)
}

// Full reports whether the table has no free slot, mirroring the C
// original's accept_client-at-capacity check.
func (t *Table) Full() bool {
	return t.count >= len(t.slots)
}

// Activate linear-scans for a free slot and places conn in it, returning
// the Handle the caller must keep to address it later, and false if the
// table is at capacity.
func (t *Table) Activate(conn *connection.Connection) (Handle, bool) {
	for i := range t.slots {
		if t.slots[i].conn == nil {
			t.slots[i].conn = conn
			t.count++
			conn.SelfRef = i
			conn.Gen = t.slots[i].gen
			return Handle{Index: i, Generation: t.slots[i].gen}, true
		}
	}
	return Handle{}, false
}

// Deactivate clears the slot a Connection occupies and bumps its
// generation so any previously issued Handle for this slot is invalidated.
func (t *Table) Deactivate(conn *connection.Connection) {
	if conn.SelfRef < 0 || conn.SelfRef >= len(t.slots) {
		return
	}
	i := conn.SelfRef
	if t.slots[i].conn != conn {
		return
	}
	t.slots[i].conn = nil
	t.slots[i].gen++
	t.count--
	conn.SelfRef = -1
}

// Get resolves a Handle to its Connection, returning false if the slot is
// empty or has since been reused (generation mismatch).
func (t *Table) Get(h Handle) (*connection.Connection, bool) {
	if h.Index < 0 || h.Index >= len(t.slots) {
		return nil, false
	}
	s := t.slots[h.Index]
	if s.conn == nil || s.gen != h.Generation {
		return nil, false
	}
	return s.conn, true
}

// FreeAll walks every occupied slot and invokes fn(conn) for it, then
// deactivates the slot. Used only at shutdown to force every in-flight
// Connection through CLOSE_CONN.
func (t *Table) FreeAll(fn func(*connection.Connection)) {
	for i := range t.slots {
		if t.slots[i].conn == nil {
			continue
		}
		conn := t.slots[i].conn
		fn(conn)
		t.slots[i].conn = nil
		t.slots[i].gen++
		t.count--
	}
}
