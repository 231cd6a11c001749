// Package diskstore is the HDD space manager (C2): it owns the per-disk
// directory trees and the cache of open chunk files, and presents the
// open/close/read/prefetch/write/create/delete operations consumed by
// job workers. It builds on chunkformat for the on-disk layout and
// never itself speaks the wire protocol.
package diskstore

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"chunkserver/internal/chunkformat"
	"chunkserver/internal/logging"
)

// DiskEntry is one configured disk root: its capacity, scan state, and
// per-disk I/O error accounting (spec.md §4.2).
type DiskEntry struct {
	Root string

	mu           sync.Mutex
	usedBytes    int64
	totalBytes   int64
	scanDone     bool
	damaged      bool
	errorTimes   []time.Time
}

func newDiskEntry(root string, totalBytes int64) *DiskEntry {
	return &DiskEntry{Root: root, totalBytes: totalBytes}
}

// Damaged reports whether this disk has been marked unusable after
// accumulating ≥3 IO errors within the 60s window.
func (d *DiskEntry) Damaged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.damaged
}

// FreeBytes returns the disk's current free-space estimate, used by
// create_chunk to pick the disk with most free space. A disk configured
// with unknown capacity (totalBytes <= 0) reports math.MaxInt64 so it is
// never starved out by disks with a known, smaller capacity.
func (d *DiskEntry) FreeBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.totalBytes <= 0 {
		return math.MaxInt64
	}
	return d.totalBytes - d.usedBytes
}

const (
	ioErrorWindow    = 60 * time.Second
	ioErrorThreshold = 3
)

// recordIOError appends a timestamped I/O failure and marks the disk
// damaged once ioErrorThreshold errors have landed within ioErrorWindow.
// Returns true the instant the disk transitions to damaged, so the
// caller can report the disk's chunks lost to the master exactly once.
func (d *DiskEntry) recordIOError(now time.Time) (justDamaged bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.damaged {
		return false
	}
	cutoff := now.Add(-ioErrorWindow)
	kept := d.errorTimes[:0]
	for _, t := range d.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.errorTimes = append(kept, now)
	if len(d.errorTimes) >= ioErrorThreshold {
		d.damaged = true
		return true
	}
	return false
}

// ChunkKey identifies a chunk part independent of version, the unit the
// open-fd cache and the in-memory index are keyed on.
type ChunkKey struct {
	ID       uint64
	PartType chunkformat.PartType
}

// ChunkEntry is the in-memory record for one on-disk chunk part
// (spec.md §3).
type ChunkEntry struct {
	Key        ChunkKey
	Version    uint32
	Disk       *DiskEntry
	Path       string
	LastAccess time.Time
	refcount   int
}

// Store is the HDD space manager. One Store instance governs all
// configured disk roots for this chunkserver process.
type Store struct {
	logger *slog.Logger

	disks []*DiskEntry

	mu         sync.Mutex
	index      map[ChunkKey]*ChunkEntry
	fdCache    *fdCache
	crcFailure CRCFailureFunc

	now func() time.Time
}

// Config configures a Store.
type Config struct {
	DiskRoots []string
	// DiskCapacities gives the total byte capacity per root, same
	// length/order as DiskRoots. A missing or zero entry means
	// "unknown", and FreeBytes-based disk selection treats it as
	// always having room.
	DiskCapacities []int64
	// MaxOpenFDs bounds the open-file LRU (spec.md §4.2: ≤1024).
	MaxOpenFDs int
	Logger     *slog.Logger
	Now        func() time.Time
}

// New constructs a Store over the given disk roots. It does not scan;
// call ScanDisk or ScanAll to populate the index from disk.
func New(cfg Config) *Store {
	if cfg.MaxOpenFDs <= 0 {
		cfg.MaxOpenFDs = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	disks := make([]*DiskEntry, len(cfg.DiskRoots))
	for i, root := range cfg.DiskRoots {
		var capacity int64
		if i < len(cfg.DiskCapacities) {
			capacity = cfg.DiskCapacities[i]
		}
		disks[i] = newDiskEntry(root, capacity)
	}
	return &Store{
		logger:  logging.Default(cfg.Logger).With("component", "diskstore"),
		disks:   disks,
		index:   make(map[ChunkKey]*ChunkEntry),
		fdCache: newFDCache(cfg.MaxOpenFDs),
		now:     cfg.Now,
	}
}

// Disks returns the configured disk entries, for tests and C10's
// chart rollup.
func (s *Store) Disks() []*DiskEntry { return s.disks }
