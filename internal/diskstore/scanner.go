package diskstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"chunkserver/internal/chunkformat"
)

// ScanDisk walks one disk root, registers every well-formed chunk file
// in the in-memory index, and moves aside any file whose header
// disagrees with its filename (spec.md §4.2: "entries with mismatched
// headers are moved aside"). It returns the count of chunks indexed.
func (s *Store) ScanDisk(ctx context.Context, disk *DiskEntry) (int, error) {
	entries, err := os.ReadDir(disk.Root)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		select {
		case <-ctx.Done():
			return indexed, ctx.Err()
		default:
		}

		name := entry.Name()
		path := filepath.Join(disk.Root, name)

		id, version, pt, perr := chunkformat.ParseFilename(name)
		if perr != nil {
			// Not a chunk filename at all; ignore (scratch/lock files
			// and anything else a disk root may contain).
			continue
		}

		h, herr := chunkformat.ReadHeader(path)
		if herr != nil {
			s.quarantine(path, herr)
			continue
		}
		if h.ChunkID != id || h.Version != version {
			s.quarantine(path, chunkformat.ErrFilenameMismatch)
			continue
		}

		key := ChunkKey{ID: id, PartType: pt}
		s.mu.Lock()
		s.index[key] = &ChunkEntry{
			Key:        key,
			Version:    version,
			Disk:       disk,
			Path:       path,
			LastAccess: s.now(),
		}
		s.mu.Unlock()
		indexed++
	}

	disk.mu.Lock()
	disk.scanDone = true
	disk.mu.Unlock()

	return indexed, nil
}

// quarantine renames a corrupted chunk file aside so it stops being
// considered for opens, logging the reason. Best-effort: a rename
// failure is logged but does not abort the scan.
func (s *Store) quarantine(path string, cause error) {
	quarantined := path + ".quarantined"
	if err := os.Rename(path, quarantined); err != nil {
		s.logger.Warn("failed to quarantine corrupted chunk file", "path", path, "cause", cause, "error", err)
		return
	}
	s.logger.Warn("quarantined corrupted chunk file", "path", path, "quarantined", quarantined, "cause", cause)
}

// ScanAll scans every configured disk, throttled to one directory
// (i.e. one disk root) per tick so a restart does not stall live
// traffic (spec.md §4.2).
func (s *Store) ScanAll(ctx context.Context, throttle time.Duration) error {
	for i, disk := range s.disks {
		if i > 0 && throttle > 0 {
			select {
			case <-time.After(throttle):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if _, err := s.ScanDisk(ctx, disk); err != nil {
			s.logger.Error("disk scan failed", "disk", disk.Root, "error", err)
		}
	}
	return nil
}
