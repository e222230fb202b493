package sensor

import (
	"sort"
	"sync"
)

// Table holds the most recent Reading per sensor. A single mutex guards the
// map and the pending flag; there is no lock-free read path.
type Table struct {
	mu       sync.Mutex
	readings map[string]Reading
	pending  bool
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		readings: make(map[string]Reading),
	}
}

// Lock acquires exclusive access and returns the live map. The caller must
// call Unlock when done and must not keep the map afterwards.
func (t *Table) Lock() map[string]Reading {
	t.mu.Lock()
	return t.readings
}

// Unlock releases access acquired with Lock.
func (t *Table) Unlock() {
	t.mu.Unlock()
}

// Put stores r as the latest reading for mac, replacing any previous one,
// and marks the table as changed.
func (t *Table) Put(mac string, r Reading) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readings[mac] = r
	t.pending = true
}

// Get returns the latest reading for mac.
func (t *Table) Get(mac string) (Reading, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.readings[mac]
	return r, ok
}

// Snapshot returns a copy of the table taken under the lock.
func (t *Table) Snapshot() map[string]Reading {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Reading, len(t.readings))
	for k, v := range t.readings {
		out[k] = v
	}
	return out
}

// Sorted returns a snapshot ordered by display name, then MAC.
func (t *Table) Sorted() []Reading {
	snap := t.Snapshot()
	out := make([]Reading, 0, len(snap))
	for _, r := range snap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].MAC < out[j].MAC
	})
	return out
}

// Len returns the number of sensors with a reading.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.readings)
}

// Delete forgets the reading for mac.
func (t *Table) Delete(mac string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.readings[mac]; ok {
		delete(t.readings, mac)
		t.pending = true
	}
}

// HasPendingChanges reports whether anything was written since the previous
// call, and clears the flag.
func (t *Table) HasPendingChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.pending
	t.pending = false
	return p
}
