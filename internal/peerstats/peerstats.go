// Package peerstats is the process-wide chunkserver-to-chunkserver
// stats table (C5): outstanding read/write op counters and a
// time-boxed defective flag per peer address, consulted by C6/C7/C8
// before choosing a peer to forward a write or pull a read from.
package peerstats

import (
	"sync"
	"time"
)

// defectiveTimeout is how long mark_defective's flag stays set without
// being refreshed (spec.md §4.5).
const defectiveTimeout = 2000 * time.Millisecond

type entry struct {
	reads, writes  int
	defectiveUntil time.Time
}

func (e *entry) isDefective(now time.Time) bool {
	return !e.defectiveUntil.IsZero() && now.Before(e.defectiveUntil)
}

// Table is the mutex-protected peer_address -> ChunkserverStatsEntry
// map. One Table is shared process-wide.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New constructs an empty Table. now defaults to time.Now; tests may
// override it for deterministic defective-timeout assertions.
func New(now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{entries: make(map[string]*entry), now: now}
}

func (t *Table) entryFor(addr string) *entry {
	e, ok := t.entries[addr]
	if !ok {
		e = &entry{}
		t.entries[addr] = e
	}
	return e
}

// RegisterReadOp/RegisterWriteOp increment the outstanding-op counters
// for addr; Unregister* decrement them. Counters never go negative.
func (t *Table) RegisterReadOp(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryFor(addr).reads++
}

func (t *Table) UnregisterReadOp(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[addr]; ok && e.reads > 0 {
		e.reads--
	}
}

func (t *Table) RegisterWriteOp(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryFor(addr).writes++
}

func (t *Table) UnregisterWriteOp(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[addr]; ok && e.writes > 0 {
		e.writes--
	}
}

// MarkDefective sets addr's defective flag for defectiveTimeout.
func (t *Table) MarkDefective(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entryFor(addr).defectiveUntil = t.now().Add(defectiveTimeout)
}

// MarkWorking clears addr's defective flag early, before
// defectiveTimeout would otherwise have elapsed on its own (spec.md
// §8: "a defective flag is observable for exactly 2000 ms after
// mark_defective unless cleared by mark_working"). A peer with no
// flag set is left alone.
func (t *Table) MarkWorking(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return
	}
	e.defectiveUntil = time.Time{}
}

// IsDefective reports whether addr is currently flagged defective (the
// flag is set and the 2000 ms timeout has not yet elapsed).
func (t *Table) IsDefective(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[addr]
	if !ok {
		return false
	}
	return e.isDefective(t.now())
}

// PeerSnapshot is one peer's counters and defective state at the
// moment Snapshot was called.
type PeerSnapshot struct {
	Addr      string
	Reads     int
	Writes    int
	Defective bool
}

// Snapshot returns a point-in-time copy of every known peer's counters,
// for C10's chart rollup and defective-flag sweep.
func (t *Table) Snapshot() []PeerSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	out := make([]PeerSnapshot, 0, len(t.entries))
	for addr, e := range t.entries {
		out = append(out, PeerSnapshot{
			Addr:      addr,
			Reads:     e.reads,
			Writes:    e.writes,
			Defective: e.isDefective(now),
		})
	}
	return out
}

// AllPendingDefective marks every peer with at least one outstanding
// read or write defective at once, used when a connection or session
// carrying those ops dies (spec.md §4.5).
func (t *Table) AllPendingDefective() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, e := range t.entries {
		if e.reads > 0 || e.writes > 0 {
			e.defectiveUntil = now.Add(defectiveTimeout)
		}
	}
}
