package diskstore

import (
	"fmt"
	"os"
	"path/filepath"

	"chunkserver/internal/chunkformat"
)

// CreatorState is the ChunkFileCreator state machine of spec.md §4.2:
// Fresh -> Created -> Open -> Committed, or Open -> Aborted if Close is
// called (or the creator is dropped) without Commit.
type CreatorState int

const (
	StateFresh CreatorState = iota
	StateCreated
	StateOpen
	StateCommitted
	StateAborted
)

// ChunkFileCreator builds exactly one new chunk file. Store.CreateChunk
// refuses a (chunk_id, part_type) that is already in the index, i.e.
// one that has a committed chunk. It holds no slot for creators that
// are still uncommitted: a second creator for the same key is refused
// only when it targets the same version on the same disk (the
// exclusive create of the temp file fails); otherwise both proceed.
type ChunkFileCreator struct {
	store *Store
	key   ChunkKey

	state   CreatorState
	disk    *DiskEntry
	tmpPath string
	finalPath string
	version int
	file    *os.File
}

// tmpSuffix marks a chunk file that is still being written; ChunkFileCreator
// is the only writer of files with this suffix, and a disk scan never
// indexes them.
const tmpSuffix = ".creating"

// CreateChunk allocates a path for a brand-new (id, version, part_type)
// on the disk with the most free space, writes the header and an empty
// CRC table, and returns a creator pinned for exclusive write. Fails
// with ErrExists if the key is already tracked in the index, and
// ErrNoDisk if every configured disk is damaged.
func (s *Store) CreateChunk(chunkID uint64, version uint32, pt chunkformat.PartType) (*ChunkFileCreator, error) {
	key := ChunkKey{ID: chunkID, PartType: pt}

	s.mu.Lock()
	if _, exists := s.index[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: chunk %d part %s", ErrExists, chunkID, pt)
	}
	s.mu.Unlock()

	disk := s.pickDiskForCreate()
	if disk == nil {
		return nil, ErrNoDisk
	}

	finalName := chunkformat.Filename(chunkID, version, pt)
	tmpPath := finalName + tmpSuffix

	c := &ChunkFileCreator{
		store:     s,
		key:       key,
		state:     StateFresh,
		disk:      disk,
		tmpPath:   filepath.Join(disk.Root, tmpPath),
		finalPath: filepath.Join(disk.Root, finalName),
		version:   int(version),
	}

	if err := c.create(pt, chunkID, version); err != nil {
		return nil, err
	}
	return c, nil
}

// pickDiskForCreate returns the non-damaged disk with the most free
// space, or nil if none is usable.
func (s *Store) pickDiskForCreate() *DiskEntry {
	var best *DiskEntry
	var bestFree int64 = -1
	for _, d := range s.disks {
		if d.Damaged() {
			continue
		}
		free := d.FreeBytes()
		if free > bestFree {
			best = d
			bestFree = free
		}
	}
	return best
}

func (c *ChunkFileCreator) create(pt chunkformat.PartType, chunkID uint64, version uint32) error {
	if c.state != StateFresh {
		return ErrCreatorState
	}
	c.state = StateCreated

	f, err := os.OpenFile(c.tmpPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		c.state = StateAborted
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	c.file = f

	if err := f.Truncate(chunkformat.DataOffset(pt)); err != nil {
		_ = f.Close()
		_ = os.Remove(c.tmpPath)
		c.state = StateAborted
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}

	h := chunkformat.Header{Signature: chunkformat.SignatureCurrent, ChunkID: chunkID, Version: version, PartType: pt}
	if err := chunkformat.WriteHeader(f, h); err != nil {
		_ = f.Close()
		_ = os.Remove(c.tmpPath)
		c.state = StateAborted
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}

	c.state = StateOpen
	return nil
}

// Write overwrites one block's region of the chunk being created. It
// must be called while the creator is Open.
func (c *ChunkFileCreator) Write(blockIndex, offsetInBlock, size int, data []byte) error {
	if c.state != StateOpen {
		return ErrCreatorState
	}
	if _, err := chunkformat.WriteBlock(c.file, c.key.PartType, blockIndex, offsetInBlock, size, data); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	return nil
}

// Commit finalizes the chunk: closes the fd and atomically renames the
// temp file into its canonical name, publishing it to opens and scans.
// After Commit the creator is spent; further calls return
// ErrCreatorState.
func (c *ChunkFileCreator) Commit() error {
	if c.state != StateOpen {
		return ErrCreatorState
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	if err := os.Rename(c.tmpPath, c.finalPath); err != nil {
		c.state = StateAborted
		return fmt.Errorf("%w: %v", ErrIOError, err)
	}
	c.state = StateCommitted

	entry := &ChunkEntry{
		Key:        c.key,
		Version:    uint32(c.version),
		Disk:       c.disk,
		Path:       c.finalPath,
		LastAccess: c.store.now(),
	}
	c.store.mu.Lock()
	c.store.index[c.key] = entry
	c.store.mu.Unlock()
	return nil
}

// Close aborts an in-progress creator: the destructor-equivalent for
// the Open -> Aborted transition (spec.md §4.2). Calling Close after a
// successful Commit is a no-op. Safe to call multiple times.
func (c *ChunkFileCreator) Close() error {
	if c.state != StateOpen {
		return nil
	}
	c.state = StateAborted
	if c.file != nil {
		_ = c.file.Close()
	}
	return os.Remove(c.tmpPath)
}

// State exposes the creator's current lifecycle state, for tests.
func (c *ChunkFileCreator) State() CreatorState { return c.state }
